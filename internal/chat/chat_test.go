package chat_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/flowmessage/chat-app/internal/chat"
	"github.com/flowmessage/chat-app/internal/store"
	"github.com/flowmessage/chat-app/internal/store/storetest"
)

func TestResolveIsIdempotent(t *testing.T) {
	db := storetest.Open(t)
	alice := storetest.SeedUser(t, db, "Alice", "Anders", nil)
	bob := storetest.SeedUser(t, db, "Bob", "Baker", nil)

	r := chat.NewResolver(db)
	ctx := context.Background()

	first, err := r.Resolve(ctx, alice, bob)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := r.Resolve(ctx, alice, bob)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if first != second {
		t.Fatalf("resolve not idempotent: got %d then %d", first, second)
	}
}

func TestResolveIsOrderIndependent(t *testing.T) {
	db := storetest.Open(t)
	alice := storetest.SeedUser(t, db, "Alice", "Anders", nil)
	bob := storetest.SeedUser(t, db, "Bob", "Baker", nil)

	r := chat.NewResolver(db)
	ctx := context.Background()

	ab, err := r.Resolve(ctx, alice, bob)
	if err != nil {
		t.Fatalf("resolve(a,b): %v", err)
	}
	ba, err := r.Resolve(ctx, bob, alice)
	if err != nil {
		t.Fatalf("resolve(b,a): %v", err)
	}
	if ab != ba {
		t.Fatalf("pair not order-independent: got %d and %d", ab, ba)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&count); err != nil {
		t.Fatalf("count chats: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 chat row, got %d", count)
	}

	var participants int
	if err := db.QueryRow(`SELECT COUNT(*) FROM chat_participants WHERE chat_id = $1`, ab).Scan(&participants); err != nil {
		t.Fatalf("count participants: %v", err)
	}
	if participants != 2 {
		t.Fatalf("expected 2 participant rows, got %d", participants)
	}
}

func TestResolveConcurrentFirstContact(t *testing.T) {
	db := storetest.Open(t)
	alice := storetest.SeedUser(t, db, "Alice", "Anders", nil)
	bob := storetest.SeedUser(t, db, "Bob", "Baker", nil)

	r := chat.NewResolver(db)

	const racers = 4
	ids := make([]int64, racers)
	errs := make([]error, racers)

	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := alice, bob
			if i%2 == 1 {
				a, b = b, a
			}
			ids[i], errs[i] = r.Resolve(context.Background(), a, b)
		}(i)
	}
	wg.Wait()

	for i := 0; i < racers; i++ {
		if errs[i] != nil {
			t.Fatalf("racer %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("racer %d got chat %d, racer 0 got %d", i, ids[i], ids[0])
		}
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&count); err != nil {
		t.Fatalf("count chats: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 chat row after race, got %d", count)
	}
}

func TestResolveRejectsSameUser(t *testing.T) {
	db := storetest.Open(t)
	alice := storetest.SeedUser(t, db, "Alice", "Anders", nil)

	r := chat.NewResolver(db)
	if _, err := r.Resolve(context.Background(), alice, alice); !store.IsValidation(err) {
		t.Fatalf("expected ValidationError for identical users, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), 0, alice); !store.IsValidation(err) {
		t.Fatalf("expected ValidationError for zero id, got %v", err)
	}
}

func TestAppendAndHistory(t *testing.T) {
	db := storetest.Open(t)
	alice := storetest.SeedUser(t, db, "Alice", "Anders", nil)
	bob := storetest.SeedUser(t, db, "Bob", "Baker", nil)

	ctx := context.Background()
	chatID, err := chat.NewResolver(db).Resolve(ctx, alice, bob)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	s := chat.NewStore(db)
	msg, err := s.Append(ctx, chatID, alice, "hello", nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if msg.MessageID == 0 {
		t.Fatal("expected a server-assigned message id")
	}
	if msg.FirstName != "Alice" || msg.LastName != "Anders" {
		t.Errorf("sender not hydrated: got %q %q", msg.FirstName, msg.LastName)
	}
	if msg.SentDate.IsZero() {
		t.Error("expected a server-assigned send time")
	}
	if len(msg.Attachments) != 0 {
		t.Errorf("expected no attachments, got %d", len(msg.Attachments))
	}

	history, err := s.History(ctx, chatID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 message, got %d", len(history))
	}
	if history[0].MessageID != msg.MessageID || history[0].Content != "hello" {
		t.Fatalf("history mismatch: %+v", history[0])
	}
}

func TestAppendWithAttachmentIsAtomic(t *testing.T) {
	db := storetest.Open(t)
	alice := storetest.SeedUser(t, db, "Alice", "Anders", nil)
	bob := storetest.SeedUser(t, db, "Bob", "Baker", nil)

	ctx := context.Background()
	chatID, err := chat.NewResolver(db).Resolve(ctx, alice, bob)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	s := chat.NewStore(db)
	msg, err := s.Append(ctx, chatID, bob, "see attached", &chat.NewAttachment{
		FileName: "report.pdf",
		Content:  []byte("%PDF-1.7 fake"),
	})
	if err != nil {
		t.Fatalf("append with attachment: %v", err)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(msg.Attachments))
	}
	if msg.Attachments[0].FileID == 0 || msg.Attachments[0].FileName != "report.pdf" {
		t.Fatalf("attachment metadata mismatch: %+v", msg.Attachments[0])
	}

	history, err := s.History(ctx, chatID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || len(history[0].Attachments) != 1 {
		t.Fatalf("attachment not grouped under message: %+v", history)
	}

	f, err := s.File(ctx, msg.Attachments[0].FileID)
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if string(f.Content) != "%PDF-1.7 fake" || f.Size != int64(len(f.Content)) {
		t.Fatalf("stored file mismatch: name=%q size=%d", f.FileName, f.Size)
	}
}

func TestAppendFailureLeavesNothingBehind(t *testing.T) {
	db := storetest.Open(t)
	alice := storetest.SeedUser(t, db, "Alice", "Anders", nil)
	bob := storetest.SeedUser(t, db, "Bob", "Baker", nil)
	mallory := storetest.SeedUser(t, db, "Mallory", "Moss", nil)

	ctx := context.Background()
	chatID, err := chat.NewResolver(db).Resolve(ctx, alice, bob)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	s := chat.NewStore(db)

	// Non-participant sender is rejected inside the transaction.
	if _, err := s.Append(ctx, chatID, mallory, "let me in", &chat.NewAttachment{
		FileName: "x.bin", Content: []byte{1, 2, 3},
	}); !store.IsValidation(err) {
		t.Fatalf("expected ValidationError for non-participant, got %v", err)
	}

	// Unknown chat surfaces as not-found.
	if _, err := s.Append(ctx, 9999, alice, "hi", nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown chat, got %v", err)
	}

	// Neither attempt may leave a message or file row behind.
	var messages, files int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&messages); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM files`).Scan(&files); err != nil {
		t.Fatalf("count files: %v", err)
	}
	if messages != 0 || files != 0 {
		t.Fatalf("failed append left rows: messages=%d files=%d", messages, files)
	}
}

func TestHistoryOrderingAndIdempotentRead(t *testing.T) {
	db := storetest.Open(t)
	alice := storetest.SeedUser(t, db, "Alice", "Anders", nil)
	bob := storetest.SeedUser(t, db, "Bob", "Baker", nil)

	ctx := context.Background()
	chatID, err := chat.NewResolver(db).Resolve(ctx, alice, bob)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	s := chat.NewStore(db)
	for i, text := range []string{"one", "two", "three"} {
		sender := alice
		if i%2 == 1 {
			sender = bob
		}
		if _, err := s.Append(ctx, chatID, sender, text, nil); err != nil {
			t.Fatalf("append %q: %v", text, err)
		}
	}

	first, err := s.History(ctx, chatID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(first))
	}
	for i := 1; i < len(first); i++ {
		if first[i].SentDate.Before(first[i-1].SentDate) {
			t.Fatalf("history not ascending at index %d", i)
		}
	}

	second, err := s.History(ctx, chatID)
	if err != nil {
		t.Fatalf("second history: %v", err)
	}
	for i := range first {
		if first[i].MessageID != second[i].MessageID {
			t.Fatalf("repeated read differs at index %d", i)
		}
	}
}

func TestHistoryEmptyChat(t *testing.T) {
	db := storetest.Open(t)
	alice := storetest.SeedUser(t, db, "Alice", "Anders", nil)
	bob := storetest.SeedUser(t, db, "Bob", "Baker", nil)

	ctx := context.Background()
	chatID, err := chat.NewResolver(db).Resolve(ctx, alice, bob)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	history, err := chat.NewStore(db).History(ctx, chatID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if history == nil {
		t.Fatal("expected non-nil empty history")
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d messages", len(history))
	}
}

func TestValidateContent(t *testing.T) {
	if err := chat.ValidateContent("hello"); err != nil {
		t.Fatalf("valid content rejected: %v", err)
	}
	if err := chat.ValidateContent(""); !store.IsValidation(err) {
		t.Fatalf("empty content: expected ValidationError, got %v", err)
	}
	if err := chat.ValidateContent(strings.Repeat("x", chat.MaxContentBytes+1)); !store.IsValidation(err) {
		t.Fatalf("oversized content: expected ValidationError, got %v", err)
	}
	if err := chat.ValidateContent(string([]byte{0xff, 0xfe})); !store.IsValidation(err) {
		t.Fatalf("invalid UTF-8: expected ValidationError, got %v", err)
	}
}
