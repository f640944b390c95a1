package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"mailspool/internal/models"
)

// Claim is an exclusive hold on one due record for the duration of a
// single delivery attempt. The row lock taken by ClaimOneDue is held
// until exactly one of Complete, Fail or Release is called; concurrent
// claimants skip locked rows, concurrent cancellations wait on them.
type Claim struct {
	email *models.ScheduledEmail

	tx pgx.Tx
}

// Record is the claimed scheduled email.
func (c *Claim) Record() *models.ScheduledEmail { return c.email }

// Complete deletes the record and commits. Called after a successful
// send.
func (c *Claim) Complete(ctx context.Context) error {
	if _, err := c.tx.Exec(ctx,
		`DELETE FROM scheduled_emails WHERE id=$1`, c.email.ID,
	); err != nil {
		c.tx.Rollback(ctx)
		return storageErr("claim complete", err)
	}
	if err := c.tx.Commit(ctx); err != nil {
		return storageErr("claim complete", err)
	}
	return nil
}

// Fail bumps the attempts counter and commits, keeping the record due
// for a later pass. Records at or above the claim's attempts cap stop
// being selected.
func (c *Claim) Fail(ctx context.Context) error {
	if _, err := c.tx.Exec(ctx,
		`UPDATE scheduled_emails SET attempts = attempts + 1 WHERE id=$1`,
		c.email.ID,
	); err != nil {
		c.tx.Rollback(ctx)
		return storageErr("claim fail", err)
	}
	if err := c.tx.Commit(ctx); err != nil {
		return storageErr("claim fail", err)
	}
	return nil
}

// Release abandons the attempt without touching the record, used on
// shutdown with a send still in flight.
func (c *Claim) Release(ctx context.Context) {
	c.tx.Rollback(ctx)
}

// ClaimOneDue locks and returns the oldest record whose scheduled time
// has passed, or (nil, nil) when nothing is due. Rows already claimed by
// a concurrent worker are skipped rather than waited on, and rows that
// have exhausted maxAttempts are left quarantined in place.
func (s *Store) ClaimOneDue(ctx context.Context, now time.Time, maxAttempts int) (*Claim, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("claim", err)
	}

	var (
		rec     models.ScheduledEmail
		address *string
	)
	err = tx.QueryRow(ctx,
		`SELECT id, scheduled_at, kind, address, attempts, data, created_at
		 FROM scheduled_emails
		 WHERE scheduled_at <= $1 AND attempts < $2
		 ORDER BY scheduled_at, id
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
		now, maxAttempts,
	).Scan(&rec.ID, &rec.ScheduledAt, &rec.Kind, &address, &rec.Attempts, &rec.Data, &rec.CreatedAt)
	if err != nil {
		tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storageErr("claim", err)
	}
	if address != nil {
		rec.Address = *address
	}

	rows, err := tx.Query(ctx,
		`SELECT user_id FROM scheduled_email_users
		 WHERE scheduled_email_id=$1
		 ORDER BY user_id`,
		rec.ID,
	)
	if err != nil {
		tx.Rollback(ctx)
		return nil, storageErr("claim", err)
	}
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			rows.Close()
			tx.Rollback(ctx)
			return nil, storageErr("claim", err)
		}
		rec.UserIDs = append(rec.UserIDs, uid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		tx.Rollback(ctx)
		return nil, storageErr("claim", err)
	}

	return &Claim{email: &rec, tx: tx}, nil
}
