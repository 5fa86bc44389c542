// Package delivery pushes freshly persisted messages to the online
// participants of their chat. Delivery is best-effort: the message is
// already durable before routing starts, so push failures are logged and
// counted but never propagated back to the sender's request.
package delivery

import (
	"context"
	"log"

	"github.com/flowmessage/chat-app/internal/chat"
	"github.com/flowmessage/chat-app/internal/metrics"
	"github.com/flowmessage/chat-app/internal/presence"
	"github.com/flowmessage/chat-app/internal/protocol"
)

// ParticipantSource resolves a chat id to its participant set.
type ParticipantSource interface {
	Participants(ctx context.Context, chatID int64) ([]int64, error)
}

// Router fans a persisted message out to the chat's present participants.
type Router struct {
	participants ParticipantSource
	presence     *presence.Registry
}

// NewRouter creates a delivery router.
func NewRouter(participants ParticipantSource, registry *presence.Registry) *Router {
	return &Router{participants: participants, presence: registry}
}

// Route pushes msg to every currently present participant of its chat and
// returns the user ids that were delivered to. The sender is not excluded;
// clients suppress the self-echo. Participants without a live connection are
// skipped; they will see the message on their next history fetch.
func (r *Router) Route(ctx context.Context, msg *chat.Message) ([]int64, error) {
	ids, err := r.participants.Participants(ctx, msg.ChatID)
	if err != nil {
		return nil, err
	}

	payload, err := protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{Message: msg})
	if err != nil {
		return nil, err
	}

	delivered := make([]int64, 0, len(ids))
	for _, userID := range ids {
		conn, ok := r.presence.Lookup(userID)
		if !ok {
			metrics.DeliveriesTotal.WithLabelValues("offline").Inc()
			continue
		}
		if err := conn.Send(payload); err != nil {
			// Stale handle: the heartbeat will evict it. The message is
			// already persisted, so the recipient catches up from history.
			log.Printf("delivery: push message=%d to user=%d failed: %v", msg.MessageID, userID, err)
			metrics.DeliveriesTotal.WithLabelValues("failed").Inc()
			continue
		}
		metrics.DeliveriesTotal.WithLabelValues("delivered").Inc()
		delivered = append(delivered, userID)
	}
	return delivered, nil
}
