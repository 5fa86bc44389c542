// Package user reads the user directory. Users are provisioned out-of-band;
// this package never writes user rows.
package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flowmessage/chat-app/internal/store"
)

// User is a directory entry. ImagePath carries the raw avatar bytes, keeping
// the original column name on the wire.
type User struct {
	UserID    int64  `json:"UserID"`
	FirstName string `json:"FirstName"`
	LastName  string `json:"LastName"`
	ImagePath []byte `json:"ImagePath"`
}

// Store reads users from the relational store.
type Store struct {
	db *store.DB
}

// NewStore creates a user store on top of the persistence gateway.
func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

// List returns all users ordered by id.
func (s *Store) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, first_name, last_name, avatar FROM users ORDER BY user_id`,
	)
	if err != nil {
		return nil, store.Storage("query users", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.UserID, &u.FirstName, &u.LastName, &u.ImagePath); err != nil {
			return nil, store.Storage("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Storage("scan users", err)
	}
	return users, nil
}

// Get returns a single user by id.
func (s *Store) Get(ctx context.Context, id int64) (*User, error) {
	u := &User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, first_name, last_name, avatar FROM users WHERE user_id = $1`, id,
	).Scan(&u.UserID, &u.FirstName, &u.LastName, &u.ImagePath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, store.Storage("query user", err)
	}
	return u, nil
}
