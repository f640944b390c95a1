package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailspool/internal/models"
)

// StorageError wraps any persistence failure surfaced by the store so
// callers can classify it without inspecting driver errors.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err originated in the store.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// Recipients names who a scheduled email is for. Exactly one form is
// populated: user ids for account holders, a bare address for
// pre-account flows.
type Recipients struct {
	UserIDs []int64
	Address string
}

func (r Recipients) Validate() error {
	hasUsers := len(r.UserIDs) > 0
	hasAddress := r.Address != ""
	if hasUsers == hasAddress {
		return fmt.Errorf("recipients: exactly one of user ids or bare address required")
	}
	return nil
}

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, conn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, conn)
	if err != nil {
		return nil, storageErr("connect", err)
	}

	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

// Schedule creates one scheduled email record. The record and its
// recipient links are written in a single transaction so a crash can
// never leave a record with zero recipients behind.
func (s *Store) Schedule(
	ctx context.Context,
	kind models.Kind,
	recipients Recipients,
	deliverAfter time.Time,
	payload *models.Payload,
) (int64, error) {

	if err := recipients.Validate(); err != nil {
		return 0, err
	}
	if err := payload.Validate(kind); err != nil {
		return 0, err
	}

	data, err := models.EncodePayload(payload)
	if err != nil {
		return 0, err
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, storageErr("schedule", err)
	}
	defer tx.Rollback(ctx)

	var address any
	if recipients.Address != "" {
		address = recipients.Address
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO scheduled_emails
		 (scheduled_at, kind, address, attempts, data, created_at)
		 VALUES ($1,$2,$3,0,$4,NOW())
		 RETURNING id`,
		deliverAfter,
		kind,
		address,
		data,
	).Scan(&id)
	if err != nil {
		return 0, storageErr("schedule", err)
	}

	for _, uid := range recipients.UserIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO scheduled_email_users (scheduled_email_id, user_id)
			 VALUES ($1,$2)
			 ON CONFLICT DO NOTHING`,
			id, uid,
		); err != nil {
			return 0, storageErr("schedule", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, storageErr("schedule", err)
	}

	return id, nil
}

// Delete removes a record wholesale. Deleting an id that is already gone
// is not an error.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.Pool.Exec(ctx,
		`DELETE FROM scheduled_emails WHERE id=$1`, id,
	); err != nil {
		return storageErr("delete", err)
	}
	return nil
}
