package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrUserNotFound  = errors.New("directory: user not found")
	ErrRealmNotFound = errors.New("directory: realm not found")
)

// PostgresDirectory reads the users/realms tables maintained by the rest
// of the system.
type PostgresDirectory struct {
	Pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{Pool: pool}
}

func (d *PostgresDirectory) Users(ctx context.Context, ids []int64) ([]User, error) {
	rows, err := d.Pool.Query(ctx,
		`SELECT id, realm_id, email, full_name, language
		 FROM users
		 WHERE id = ANY($1)
		 ORDER BY id`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("directory: users query: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.RealmID, &u.Email, &u.FullName, &u.Language); err != nil {
			return nil, fmt.Errorf("directory: users scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: users query: %w", err)
	}

	if len(users) != len(ids) {
		return nil, fmt.Errorf("%w: resolved %d of %d ids", ErrUserNotFound, len(users), len(ids))
	}
	return users, nil
}

func (d *PostgresDirectory) Realm(ctx context.Context, id int64) (Realm, error) {
	var r Realm
	err := d.Pool.QueryRow(ctx,
		`SELECT id, name, url, default_language FROM realms WHERE id=$1`,
		id,
	).Scan(&r.ID, &r.Name, &r.URL, &r.DefaultLanguage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Realm{}, fmt.Errorf("%w: id %d", ErrRealmNotFound, id)
		}
		return Realm{}, fmt.Errorf("directory: realm query: %w", err)
	}
	return r, nil
}
