// Package chat owns the durable chat model: resolving a pair of users to
// their single chat, appending messages with optional attachments, and
// reconstructing ordered history.
package chat

import "time"

// Attachment is the metadata of a file linked to a message. The bytes are
// fetched separately through the files endpoint.
type Attachment struct {
	FileID   int64  `json:"FileId"`
	FileName string `json:"FileName"`
}

// Message is a fully hydrated persisted message: sender display name and
// attachment metadata are denormalized so callers never need to re-query.
type Message struct {
	MessageID   int64        `json:"MessageId"`
	ChatID      int64        `json:"ChatId"`
	SenderID    int64        `json:"SenderId"`
	FirstName   string       `json:"FirstName"`
	LastName    string       `json:"LastName"`
	Content     string       `json:"Content"`
	SentDate    time.Time    `json:"SentDate"`
	Attachments []Attachment `json:"Attachments"`
}

// SenderName returns the display name used by chat threads.
func (m *Message) SenderName() string {
	return m.FirstName + " " + m.LastName
}

// NewAttachment is a file submitted together with a message. ContentType may
// be empty; it is sniffed from the bytes when the file is served.
type NewAttachment struct {
	FileName    string
	Content     []byte
	ContentType string
}

// StoredFile is a downloadable file row.
type StoredFile struct {
	FileID      int64
	FileName    string
	Content     []byte
	Size        int64
	ContentType string
}
