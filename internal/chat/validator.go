package chat

import (
	"strings"
	"unicode/utf8"

	"github.com/flowmessage/chat-app/internal/store"
)

const (
	MaxContentBytes = 4096    // max message payload size
	MaxContentChars = 2000    // max character count
	MaxFileBytes    = 10 << 20 // 10MB attachment cap
)

// ValidateContent checks that a message body meets content requirements.
func ValidateContent(text string) error {
	if strings.TrimSpace(text) == "" {
		return store.Invalid("message content is empty")
	}
	if len(text) > MaxContentBytes {
		return store.Invalid("message exceeds %d byte limit", MaxContentBytes)
	}
	if utf8.RuneCountInString(text) > MaxContentChars {
		return store.Invalid("message exceeds %d character limit", MaxContentChars)
	}
	if !utf8.ValidString(text) {
		return store.Invalid("message contains invalid UTF-8")
	}
	return nil
}

func validateAttachment(att *NewAttachment) error {
	if att.FileName == "" {
		return store.Invalid("attachment file name is empty")
	}
	if len(att.Content) == 0 {
		return store.Invalid("attachment %q is empty", att.FileName)
	}
	if len(att.Content) > MaxFileBytes {
		return store.Invalid("attachment %q exceeds %d byte limit", att.FileName, MaxFileBytes)
	}
	return nil
}
