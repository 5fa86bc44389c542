// Package storetest opens throwaway SQLite databases carrying the chat
// schema, so store-backed packages can run their tests against a real
// database/sql driver without a PostgreSQL instance.
package storetest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/flowmessage/chat-app/internal/store"
)

// schema mirrors the PostgreSQL migrations in SQLite dialect. The queries in
// the store-backed packages are written portably ($n placeholders,
// RETURNING, ON CONFLICT), so only the DDL differs between the two engines.
const schema = `
CREATE TABLE users (
    user_id    INTEGER PRIMARY KEY AUTOINCREMENT,
    first_name TEXT NOT NULL,
    last_name  TEXT NOT NULL,
    avatar     BLOB
);

CREATE TABLE chats (
    chat_id  INTEGER PRIMARY KEY AUTOINCREMENT,
    user_min INTEGER NOT NULL REFERENCES users (user_id),
    user_max INTEGER NOT NULL REFERENCES users (user_id),
    UNIQUE (user_min, user_max),
    CHECK (user_min < user_max)
);

CREATE TABLE chat_participants (
    chat_id INTEGER NOT NULL REFERENCES chats (chat_id),
    user_id INTEGER NOT NULL REFERENCES users (user_id),
    PRIMARY KEY (chat_id, user_id)
);

CREATE TABLE messages (
    message_id INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id    INTEGER NOT NULL REFERENCES chats (chat_id),
    sender_id  INTEGER NOT NULL REFERENCES users (user_id),
    content    TEXT NOT NULL,
    sent_at    TIMESTAMP NOT NULL
);

CREATE INDEX messages_chat_sent_idx ON messages (chat_id, sent_at, message_id);

CREATE TABLE files (
    file_id      INTEGER PRIMARY KEY AUTOINCREMENT,
    file_name    TEXT NOT NULL,
    content      BLOB NOT NULL,
    size_bytes   INTEGER NOT NULL,
    content_type TEXT NOT NULL DEFAULT ''
);

CREATE TABLE chat_attachments (
    message_id INTEGER NOT NULL REFERENCES messages (message_id),
    file_id    INTEGER NOT NULL REFERENCES files (file_id),
    PRIMARY KEY (message_id, file_id)
);
`

// Open creates a file-backed SQLite database in a per-test temp directory
// with the chat schema applied. The busy timeout keeps concurrent
// transactions in tests serialized instead of failing.
func Open(t *testing.T) *store.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("apply test schema: %v", err)
	}
	return store.NewDB(db)
}

// SeedUser inserts a user row and returns its id.
func SeedUser(t *testing.T, db *store.DB, first, last string, avatar []byte) int64 {
	t.Helper()

	var id int64
	err := db.QueryRowContext(context.Background(),
		`INSERT INTO users (first_name, last_name, avatar) VALUES ($1, $2, $3) RETURNING user_id`,
		first, last, avatar,
	).Scan(&id)
	if err != nil {
		t.Fatalf("seed user %s %s: %v", first, last, err)
	}
	return id
}
