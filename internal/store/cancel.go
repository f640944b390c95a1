package store

import (
	"context"

	"mailspool/internal/models"
)

// CancelForUser removes userID from the recipient set of every pending
// record, optionally restricted to one kind (empty kind means all). Any
// record left with no recipients is deleted in the same transaction, so
// an orphan never persists past the commit.
//
// The affected records are locked FOR UPDATE first, so a cancellation
// racing a worker's in-flight claim waits for that attempt to resolve
// rather than mutating the recipient set underneath it.
func (s *Store) CancelForUser(ctx context.Context, userID int64, kind models.Kind) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return storageErr("cancel for user", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT se.id
		 FROM scheduled_emails se
		 JOIN scheduled_email_users seu ON seu.scheduled_email_id = se.id
		 WHERE seu.user_id=$1 AND ($2 = '' OR se.kind=$2)
		 FOR UPDATE OF se`,
		userID, string(kind),
	)
	if err != nil {
		return storageErr("cancel for user", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return storageErr("cancel for user", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return storageErr("cancel for user", err)
	}

	if len(ids) == 0 {
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM scheduled_email_users
		 WHERE user_id=$1 AND scheduled_email_id = ANY($2)`,
		userID, ids,
	); err != nil {
		return storageErr("cancel for user", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM scheduled_emails se
		 WHERE se.id = ANY($1)
		   AND se.address IS NULL
		   AND NOT EXISTS (
		       SELECT 1 FROM scheduled_email_users
		       WHERE scheduled_email_id = se.id
		   )`,
		ids,
	); err != nil {
		return storageErr("cancel for user", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("cancel for user", err)
	}
	return nil
}

// CancelForBareAddress retracts pending records addressed to a bare
// address, used for pre-account flows where no user id exists yet. The
// DELETE itself takes the row locks, so it queues behind any in-flight
// claim the same way CancelForUser does.
func (s *Store) CancelForBareAddress(ctx context.Context, address string, kind models.Kind) error {
	if _, err := s.Pool.Exec(ctx,
		`DELETE FROM scheduled_emails
		 WHERE address=$1 AND ($2 = '' OR kind=$2)`,
		address, string(kind),
	); err != nil {
		return storageErr("cancel for address", err)
	}
	return nil
}
