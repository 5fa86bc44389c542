package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowmessage/chat-app/internal/chat"
)

// scriptedSender returns canned results per call, simulating the server side
// of the send round trip.
type scriptedSender struct {
	calls   int
	results []func(chatID, senderID int64, content string) (*chat.Message, error)
}

func (s *scriptedSender) send(ctx context.Context, chatID, senderID int64, content string, upload *Upload) (*chat.Message, error) {
	if s.calls >= len(s.results) {
		return nil, errors.New("unexpected send")
	}
	r := s.results[s.calls]
	s.calls++
	return r(chatID, senderID, content)
}

func confirmed(id int64) func(chatID, senderID int64, content string) (*chat.Message, error) {
	return func(chatID, senderID int64, content string) (*chat.Message, error) {
		return &chat.Message{
			MessageID:   id,
			ChatID:      chatID,
			SenderID:    senderID,
			Content:     content,
			SentDate:    time.Now().UTC(),
			Attachments: []chat.Attachment{},
		}, nil
	}
}

func rejected(msg string) func(chatID, senderID int64, content string) (*chat.Message, error) {
	return func(int64, int64, string) (*chat.Message, error) {
		return nil, errors.New(msg)
	}
}

func historyMsg(id, chatID, senderID int64, content string) chat.Message {
	return chat.Message{
		MessageID: id,
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		SentDate:  time.Now().UTC(),
	}
}

func TestSendConfirmsInPlace(t *testing.T) {
	sender := &scriptedSender{results: []func(int64, int64, string) (*chat.Message, error){
		confirmed(41),
	}}
	th := NewThread(1, sender.send)
	th.Switch(7, []chat.Message{historyMsg(40, 7, 2, "hi")})

	tempID, err := th.Send(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if tempID == 0 {
		t.Fatal("expected a temp id")
	}

	slots := th.Slots()
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2", len(slots))
	}
	got := slots[1]
	if got.State != SlotConfirmed {
		t.Errorf("state = %v, want confirmed", got.State)
	}
	if got.Message.MessageID != 41 || got.Message.SenderID != 1 {
		t.Errorf("confirmed message = %+v", got.Message)
	}
	// Confirmation must patch the slot in place, not reorder the thread.
	if slots[0].Message.MessageID != 40 {
		t.Errorf("history message moved: %+v", slots[0])
	}
}

func TestFailedSendStaysVisibleAndRetries(t *testing.T) {
	sender := &scriptedSender{results: []func(int64, int64, string) (*chat.Message, error){
		rejected("storage down"),
		confirmed(50),
	}}
	th := NewThread(1, sender.send)
	th.Switch(7, nil)

	tempID, err := th.Send(context.Background(), "first try", nil)
	if err == nil {
		t.Fatal("expected send error")
	}

	slots := th.Slots()
	if len(slots) != 1 || slots[0].State != SlotFailed {
		t.Fatalf("after failure slots = %+v, want one failed", slots)
	}
	if slots[0].Message.Content != "first try" {
		t.Errorf("failed slot lost its content: %q", slots[0].Message.Content)
	}

	if err := th.Retry(context.Background(), tempID, nil); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	slots = th.Slots()
	if slots[0].State != SlotConfirmed || slots[0].Message.MessageID != 50 {
		t.Errorf("after retry slot = %+v, want confirmed id 50", slots[0])
	}
}

func TestDiscardRemovesOnlyFailedSlots(t *testing.T) {
	sender := &scriptedSender{results: []func(int64, int64, string) (*chat.Message, error){
		rejected("nope"),
		confirmed(60),
	}}
	th := NewThread(1, sender.send)
	th.Switch(7, nil)

	failedID, _ := th.Send(context.Background(), "doomed", nil)
	okID, err := th.Send(context.Background(), "fine", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if th.Discard(okID) {
		t.Error("discarded a confirmed slot")
	}
	if !th.Discard(failedID) {
		t.Error("failed slot was not discarded")
	}

	slots := th.Slots()
	if len(slots) != 1 || slots[0].Message.MessageID != 60 {
		t.Errorf("slots after discard = %+v, want only the confirmed one", slots)
	}
}

func TestRetryUnknownTempIDIsNoop(t *testing.T) {
	sender := &scriptedSender{}
	th := NewThread(1, sender.send)
	th.Switch(7, nil)

	if err := th.Retry(context.Background(), 12345, nil); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if sender.calls != 0 {
		t.Errorf("sender called %d times, want 0", sender.calls)
	}
}

func TestPushAppendsAndSelfEchoIsSuppressed(t *testing.T) {
	sender := &scriptedSender{results: []func(int64, int64, string) (*chat.Message, error){
		confirmed(70),
	}}
	th := NewThread(1, sender.send)
	th.Switch(7, nil)

	if _, err := th.Send(context.Background(), "mine", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// The server routes to all participants including the sender; the echo
	// must not duplicate the already confirmed slot.
	th.HandleNewMessage(historyMsg(70, 7, 1, "mine"))
	// A push from the other participant is appended.
	th.HandleNewMessage(historyMsg(71, 7, 2, "theirs"))
	// A push for some other chat is ignored.
	th.HandleNewMessage(historyMsg(72, 9, 2, "elsewhere"))

	slots := th.Slots()
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2: %+v", len(slots), slots)
	}
	if slots[1].Message.MessageID != 71 || slots[1].State != SlotConfirmed {
		t.Errorf("pushed slot = %+v", slots[1])
	}
}

func TestSwitchDropsPreviousState(t *testing.T) {
	sender := &scriptedSender{results: []func(int64, int64, string) (*chat.Message, error){
		rejected("dead letter"),
	}}
	th := NewThread(1, sender.send)
	th.Switch(7, nil)
	_, _ = th.Send(context.Background(), "left behind", nil)

	th.Switch(9, []chat.Message{historyMsg(80, 9, 3, "fresh start")})

	if th.ChatID() != 9 {
		t.Errorf("chat id = %d, want 9", th.ChatID())
	}
	slots := th.Slots()
	if len(slots) != 1 || slots[0].Message.MessageID != 80 {
		t.Errorf("slots after switch = %+v, want only the new history", slots)
	}
}

func TestOnlineUsersSnapshotReplaces(t *testing.T) {
	th := NewThread(1, nil)

	th.HandleOnlineUsers([]int64{1, 2, 3})
	if !th.IsOnline(2) {
		t.Error("user 2 should be online")
	}

	th.HandleOnlineUsers([]int64{1, 3})
	if th.IsOnline(2) {
		t.Error("user 2 should have dropped out of the snapshot")
	}
	if !th.IsOnline(3) {
		t.Error("user 3 should still be online")
	}
}
