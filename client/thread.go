package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/flowmessage/chat-app/internal/chat"
	"github.com/flowmessage/chat-app/internal/protocol"
)

// SlotState is the lifecycle state of one message slot in an open thread.
type SlotState int

const (
	// SlotPending is an optimistic send awaiting server confirmation.
	SlotPending SlotState = iota
	// SlotConfirmed is a message the server has durably stored.
	SlotConfirmed
	// SlotFailed is a send the server rejected or that never completed. It
	// stays visible until retried or discarded.
	SlotFailed
)

// Slot is one rendered message position in a thread. Pending and failed
// slots are identified by TempID; confirmed slots carry the server's message.
type Slot struct {
	State   SlotState
	TempID  int64
	Message chat.Message
}

// SendFunc submits a message to the server and returns the stored message.
// (*API).PostMessage satisfies this signature.
type SendFunc func(ctx context.Context, chatID, senderID int64, content string, upload *Upload) (*chat.Message, error)

// Thread is the client-side controller for the one conversation currently on
// screen. It keeps the ordered slot list consistent across optimistic sends,
// server confirmations, real-time pushes, and chat switches, and tracks the
// presence snapshot. All methods are goroutine-safe: pushes arrive on the
// WebSocket read loop while sends run on the caller's goroutine.
type Thread struct {
	mu     sync.Mutex
	selfID int64
	chatID int64
	slots  []*Slot
	online map[int64]bool
	send   SendFunc
}

// NewThread creates a thread controller for the given user. No chat is open
// until Switch is called.
func NewThread(selfID int64, send SendFunc) *Thread {
	return &Thread{
		selfID: selfID,
		online: make(map[int64]bool),
		send:   send,
	}
}

// Bind subscribes the thread to a connection's newMessage and onlineUsers
// events.
func (t *Thread) Bind(conn *Conn) {
	conn.On(protocol.TypeNewMessage, func(raw json.RawMessage) {
		var msg protocol.NewMessageMsg
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Message == nil {
			return
		}
		t.HandleNewMessage(*msg.Message)
	})
	conn.On(protocol.TypeOnlineUsers, func(raw json.RawMessage) {
		var msg protocol.OnlineUsersMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		t.HandleOnlineUsers(msg.UserIDs)
	})
}

// Switch opens a different chat, replacing all slot state with the fetched
// history. Pending and failed slots of the previous chat are dropped; their
// sends, if any succeeded, are in that chat's history.
func (t *Thread) Switch(chatID int64, history []chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.chatID = chatID
	t.slots = make([]*Slot, 0, len(history))
	for _, msg := range history {
		t.slots = append(t.slots, &Slot{State: SlotConfirmed, Message: msg})
	}
}

// ChatID returns the currently open chat, or 0 if none.
func (t *Thread) ChatID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chatID
}

// Send stages content as a pending slot at the end of the thread, submits it,
// and patches the same slot in place on confirmation. On failure the slot
// flips to SlotFailed and the temp id is returned with the error so the
// caller can offer retry or discard.
func (t *Thread) Send(ctx context.Context, content string, upload *Upload) (int64, error) {
	t.mu.Lock()
	chatID := t.chatID
	slot := &Slot{
		State:  SlotPending,
		TempID: time.Now().UnixNano(),
		Message: chat.Message{
			ChatID:   chatID,
			SenderID: t.selfID,
			Content:  content,
			SentDate: time.Now(),
		},
	}
	t.slots = append(t.slots, slot)
	t.mu.Unlock()

	return slot.TempID, t.submit(ctx, slot, upload)
}

// submit runs the server round trip for a pending slot and resolves its
// state. The slot pointer is stable, so confirmation patches in place and
// the thread's visual order never changes.
func (t *Thread) submit(ctx context.Context, slot *Slot, upload *Upload) error {
	msg, err := t.send(ctx, slot.Message.ChatID, t.selfID, slot.Message.Content, upload)

	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		slot.State = SlotFailed
		return err
	}
	slot.State = SlotConfirmed
	slot.Message = *msg
	return nil
}

// Retry resubmits a failed slot, flipping it back to pending for the
// duration of the round trip. Retrying an unknown or non-failed temp id is a
// no-op.
func (t *Thread) Retry(ctx context.Context, tempID int64, upload *Upload) error {
	t.mu.Lock()
	slot := t.findLocked(tempID)
	if slot == nil || slot.State != SlotFailed {
		t.mu.Unlock()
		return nil
	}
	slot.State = SlotPending
	t.mu.Unlock()

	return t.submit(ctx, slot, upload)
}

// Discard removes a failed slot from the thread. Confirmed and pending slots
// cannot be discarded.
func (t *Thread) Discard(tempID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, slot := range t.slots {
		if slot.TempID == tempID && slot.State == SlotFailed {
			t.slots = append(t.slots[:i], t.slots[i+1:]...)
			return true
		}
	}
	return false
}

// HandleNewMessage appends a pushed message to the thread. Pushes for other
// chats are ignored, and the sender's own echo is suppressed because the
// send path already confirmed that slot from the POST response.
func (t *Thread) HandleNewMessage(msg chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.ChatID != t.chatID {
		return
	}
	if msg.SenderID == t.selfID {
		return
	}
	t.slots = append(t.slots, &Slot{State: SlotConfirmed, Message: msg})
}

// HandleOnlineUsers replaces the presence snapshot.
func (t *Thread) HandleOnlineUsers(userIDs []int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.online = make(map[int64]bool, len(userIDs))
	for _, id := range userIDs {
		t.online[id] = true
	}
}

// IsOnline reports whether a user appeared in the latest presence snapshot.
func (t *Thread) IsOnline(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online[userID]
}

// Slots returns a copy of the current slot list in display order.
func (t *Thread) Slots() []Slot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Slot, len(t.slots))
	for i, slot := range t.slots {
		out[i] = *slot
	}
	return out
}

func (t *Thread) findLocked(tempID int64) *Slot {
	for _, slot := range t.slots {
		if slot.TempID == tempID {
			return slot
		}
	}
	return nil
}
