package chat

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flowmessage/chat-app/internal/store"
)

// Resolver maps an unordered pair of users to their single chat, creating it
// lazily on first contact.
type Resolver struct {
	db *store.DB
}

// NewResolver creates a resolver on top of the persistence gateway.
func NewResolver(db *store.DB) *Resolver {
	return &Resolver{db: db}
}

// normalizePair orders two distinct user ids as (min, max), the canonical
// identity of a chat.
func normalizePair(a, b int64) (int64, int64, error) {
	if a <= 0 || b <= 0 {
		return 0, 0, store.Invalid("user ids must be positive, got (%d, %d)", a, b)
	}
	if a == b {
		return 0, 0, store.Invalid("a chat requires two distinct users, got %d twice", a)
	}
	if a < b {
		return a, b, nil
	}
	return b, a, nil
}

// Resolve returns the chat id for the pair (a, b), order-independent. If no
// such chat exists it creates the chat row and both participant rows in one
// transaction. Concurrent first-contact resolves converge on the same row:
// the insert is ON CONFLICT DO NOTHING against the unique (user_min,
// user_max) constraint, and the loser of the race re-reads the winner's row.
func (r *Resolver) Resolve(ctx context.Context, a, b int64) (int64, error) {
	lo, hi, err := normalizePair(a, b)
	if err != nil {
		return 0, err
	}

	var chatID int64
	err = r.db.Transact(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO chats (user_min, user_max) VALUES ($1, $2)
			 ON CONFLICT (user_min, user_max) DO NOTHING`,
			lo, hi,
		)
		if err != nil {
			return fmt.Errorf("insert chat: %w", err)
		}

		if err := tx.QueryRowContext(ctx,
			`SELECT chat_id FROM chats WHERE user_min = $1 AND user_max = $2`,
			lo, hi,
		).Scan(&chatID); err != nil {
			return fmt.Errorf("select chat: %w", err)
		}

		created, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if created == 0 {
			return nil
		}

		// Participant rows are created atomically with the chat.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2), ($1, $3)`,
			chatID, lo, hi,
		); err != nil {
			return fmt.Errorf("insert participants: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, store.Storage("resolve chat", err)
	}
	return chatID, nil
}
