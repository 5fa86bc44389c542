package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/flowmessage/chat-app/internal/chat"
	"github.com/flowmessage/chat-app/internal/presence"
	"github.com/flowmessage/chat-app/internal/store"
)

type fakeParticipants map[int64][]int64

func (f fakeParticipants) Participants(_ context.Context, chatID int64) ([]int64, error) {
	ids, ok := f[chatID]
	if !ok {
		return nil, fmt.Errorf("chat %d: %w", chatID, store.ErrNotFound)
	}
	return ids, nil
}

type fakeConn struct {
	id   string
	sent [][]byte
	fail bool
}

func (f *fakeConn) SessionID() string { return f.id }

func (f *fakeConn) Send(data []byte) error {
	if f.fail {
		return errors.New("broken pipe")
	}
	f.sent = append(f.sent, data)
	return nil
}

func TestRouteDeliversToPresentParticipantsOnly(t *testing.T) {
	registry := presence.NewRegistry()
	sender := &fakeConn{id: "c1"}
	recipient := &fakeConn{id: "c2"}
	outsider := &fakeConn{id: "c9"}
	registry.Connect(1, sender)
	registry.Connect(2, recipient)
	registry.Connect(9, outsider)
	// User 3 is a participant but offline.

	router := NewRouter(fakeParticipants{5: {1, 2, 3}}, registry)

	msg := &chat.Message{MessageID: 10, ChatID: 5, SenderID: 1, Content: "hi"}
	delivered, err := router.Route(context.Background(), msg)
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	if !reflect.DeepEqual(delivered, []int64{1, 2}) {
		t.Fatalf("expected delivery to [1 2], got %v", delivered)
	}
	if len(outsider.sent) != 0 {
		t.Fatal("message leaked to a user outside the chat")
	}
	if len(recipient.sent) != 1 {
		t.Fatalf("expected 1 push to recipient, got %d", len(recipient.sent))
	}

	var pushed struct {
		Type    string       `json:"type"`
		Message chat.Message `json:"message"`
	}
	if err := json.Unmarshal(recipient.sent[0], &pushed); err != nil {
		t.Fatalf("decode push: %v", err)
	}
	if pushed.Type != "newMessage" || pushed.Message.MessageID != 10 {
		t.Fatalf("unexpected push payload: %+v", pushed)
	}
}

func TestRoutePushFailureIsNotFatal(t *testing.T) {
	registry := presence.NewRegistry()
	registry.Connect(1, &fakeConn{id: "c1", fail: true})
	healthy := &fakeConn{id: "c2"}
	registry.Connect(2, healthy)

	router := NewRouter(fakeParticipants{5: {1, 2}}, registry)

	delivered, err := router.Route(context.Background(), &chat.Message{MessageID: 1, ChatID: 5, SenderID: 2})
	if err != nil {
		t.Fatalf("push failure must not surface: %v", err)
	}
	if !reflect.DeepEqual(delivered, []int64{2}) {
		t.Fatalf("expected delivery to [2], got %v", delivered)
	}
	if len(healthy.sent) != 1 {
		t.Fatal("healthy participant missed the message")
	}
}

func TestRouteUnknownChat(t *testing.T) {
	router := NewRouter(fakeParticipants{}, presence.NewRegistry())

	_, err := router.Route(context.Background(), &chat.Message{MessageID: 1, ChatID: 404})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRouteNoOneOnline(t *testing.T) {
	router := NewRouter(fakeParticipants{5: {1, 2}}, presence.NewRegistry())

	delivered, err := router.Route(context.Background(), &chat.Message{MessageID: 1, ChatID: 5})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(delivered) != 0 {
		t.Fatalf("expected no deliveries, got %v", delivered)
	}
}
