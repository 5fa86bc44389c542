package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flowmessage/chat-app/internal/store"
)

// Store owns all write access to messages, files and attachment links, and
// reconstructs chat history for readers.
type Store struct {
	db *store.DB
}

// NewStore creates a message store on top of the persistence gateway.
func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

// Append persists one message, server-stamping its send time, together with
// its optional attachment as a single transaction: message row, file row and
// link row all commit or none do. The sender must be a participant of the
// chat. The returned message is fully hydrated.
func (s *Store) Append(ctx context.Context, chatID, senderID int64, content string, att *NewAttachment) (*Message, error) {
	if err := ValidateContent(content); err != nil {
		return nil, err
	}
	if att != nil {
		if err := validateAttachment(att); err != nil {
			return nil, err
		}
	}

	msg := &Message{
		ChatID:      chatID,
		SenderID:    senderID,
		Content:     content,
		Attachments: []Attachment{},
	}

	err := s.db.Transact(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM chats WHERE chat_id = $1`, chatID,
		).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("chat %d: %w", chatID, store.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check chat: %w", err)
		}

		err = tx.QueryRowContext(ctx,
			`SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2`,
			chatID, senderID,
		).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Invalid("user %d is not a participant of chat %d", senderID, chatID)
		}
		if err != nil {
			return fmt.Errorf("check participant: %w", err)
		}

		msg.SentDate = time.Now().UTC()
		if err := tx.QueryRowContext(ctx,
			`INSERT INTO messages (chat_id, sender_id, content, sent_at)
			 VALUES ($1, $2, $3, $4) RETURNING message_id`,
			chatID, senderID, content, msg.SentDate,
		).Scan(&msg.MessageID); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		if att != nil {
			var fileID int64
			if err := tx.QueryRowContext(ctx,
				`INSERT INTO files (file_name, content, size_bytes, content_type)
				 VALUES ($1, $2, $3, $4) RETURNING file_id`,
				att.FileName, att.Content, int64(len(att.Content)), att.ContentType,
			).Scan(&fileID); err != nil {
				return fmt.Errorf("insert file: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chat_attachments (message_id, file_id) VALUES ($1, $2)`,
				msg.MessageID, fileID,
			); err != nil {
				return fmt.Errorf("insert attachment link: %w", err)
			}
			msg.Attachments = append(msg.Attachments, Attachment{FileID: fileID, FileName: att.FileName})
		}

		if err := tx.QueryRowContext(ctx,
			`SELECT first_name, last_name FROM users WHERE user_id = $1`, senderID,
		).Scan(&msg.FirstName, &msg.LastName); err != nil {
			return fmt.Errorf("hydrate sender: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, store.Storage("append message", err)
	}
	return msg, nil
}

// History returns all messages of the chat ordered by send time ascending,
// with attachments grouped under their message. A chat with no messages
// yields an empty slice, not an error.
func (s *Store) History(ctx context.Context, chatID int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.message_id, m.chat_id, m.sender_id, u.first_name, u.last_name,
		       m.content, m.sent_at, f.file_id, f.file_name
		FROM messages m
		JOIN users u ON u.user_id = m.sender_id
		LEFT JOIN chat_attachments ca ON ca.message_id = m.message_id
		LEFT JOIN files f ON f.file_id = ca.file_id
		WHERE m.chat_id = $1
		ORDER BY m.sent_at, m.message_id`,
		chatID,
	)
	if err != nil {
		return nil, store.Storage("query history", err)
	}
	defer rows.Close()

	history, err := groupHistoryRows(rows)
	if err != nil {
		return nil, store.Storage("scan history", err)
	}
	return history, nil
}

// groupHistoryRows folds the one-row-per-attachment join result into one
// entry per message. Rows arrive ordered by (sent_at, message_id), so
// attachment rows for a message are contiguous.
func groupHistoryRows(rows *sql.Rows) ([]Message, error) {
	history := []Message{}
	for rows.Next() {
		var (
			m        Message
			fileID   sql.NullInt64
			fileName sql.NullString
		)
		if err := rows.Scan(
			&m.MessageID, &m.ChatID, &m.SenderID, &m.FirstName, &m.LastName,
			&m.Content, &m.SentDate, &fileID, &fileName,
		); err != nil {
			return nil, err
		}

		if n := len(history); n > 0 && history[n-1].MessageID == m.MessageID {
			if fileID.Valid {
				history[n-1].Attachments = append(history[n-1].Attachments,
					Attachment{FileID: fileID.Int64, FileName: fileName.String})
			}
			continue
		}

		m.Attachments = []Attachment{}
		if fileID.Valid {
			m.Attachments = append(m.Attachments, Attachment{FileID: fileID.Int64, FileName: fileName.String})
		}
		history = append(history, m)
	}
	return history, rows.Err()
}

// Participants returns the user ids belonging to the chat.
func (s *Store) Participants(ctx context.Context, chatID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM chat_participants WHERE chat_id = $1 ORDER BY user_id`,
		chatID,
	)
	if err != nil {
		return nil, store.Storage("query participants", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, store.Storage("scan participants", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Storage("scan participants", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("chat %d: %w", chatID, store.ErrNotFound)
	}
	return ids, nil
}

// File fetches a stored file by id for download.
func (s *Store) File(ctx context.Context, fileID int64) (*StoredFile, error) {
	f := &StoredFile{}
	err := s.db.QueryRowContext(ctx,
		`SELECT file_id, file_name, content, size_bytes, content_type
		 FROM files WHERE file_id = $1`,
		fileID,
	).Scan(&f.FileID, &f.FileName, &f.Content, &f.Size, &f.ContentType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %d: %w", fileID, store.ErrNotFound)
	}
	if err != nil {
		return nil, store.Storage("query file", err)
	}
	return f, nil
}
