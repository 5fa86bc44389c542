// Package httpapi serves the REST surface of the chat server and mounts the
// WebSocket upgrade endpoint, so the whole process listens on one port.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowmessage/chat-app/internal/chat"
	"github.com/flowmessage/chat-app/internal/delivery"
	"github.com/flowmessage/chat-app/internal/metrics"
	"github.com/flowmessage/chat-app/internal/store"
	"github.com/flowmessage/chat-app/internal/user"
	"github.com/flowmessage/chat-app/internal/ws"
)

// maxUploadBytes caps the multipart memory buffer for message uploads.
const maxUploadBytes = 32 << 20

// Server wires the REST handlers to the domain services.
type Server struct {
	users          *user.Service
	resolver       *chat.Resolver
	messages       *chat.Store
	router         *delivery.Router
	gateway        *ws.Server
	storageTimeout time.Duration
	startedAt      time.Time
}

// NewServer creates the REST server. gateway may be nil in tests that
// exercise only the HTTP surface.
func NewServer(users *user.Service, resolver *chat.Resolver, messages *chat.Store, router *delivery.Router, gateway *ws.Server, storageTimeout time.Duration) *Server {
	return &Server{
		users:          users,
		resolver:       resolver,
		messages:       messages,
		router:         router,
		gateway:        gateway,
		storageTimeout: storageTimeout,
		startedAt:      time.Now(),
	}
}

// Routes builds the ServeMux for the full surface.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users", s.instrument("/users", s.handleListUsers))
	mux.HandleFunc("GET /users/{id}", s.instrument("/users/{id}", s.handleGetUser))
	mux.HandleFunc("GET /chats/{otherUserId}", s.instrument("/chats/{otherUserId}", s.handleGetChat))
	mux.HandleFunc("POST /messages", s.instrument("/messages", s.handleCreateMessage))
	mux.HandleFunc("GET /files/{fileId}", s.instrument("/files/{fileId}", s.handleGetFile))
	mux.HandleFunc("GET /avatars/{userId}", s.instrument("/avatars/{userId}", s.handleGetAvatar))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	if s.gateway != nil {
		mux.HandleFunc("GET /ws", s.gateway.HandleUpgrade)
	}
	return mux
}

// instrument records handler latency under the route label.
func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(metrics.HTTPDuration.WithLabelValues(route))
		defer timer.ObserveDuration()
		h(w, r)
	}
}

// storageCtx derives a bounded context for storage calls so a stalled query
// can never hold a request open indefinitely.
func (s *Server) storageCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.storageTimeout)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.storageCtx(r)
	defer cancel()

	users, err := s.users.List(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := s.storageCtx(r)
	defer cancel()

	u, err := s.users.Get(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// chatResponse is the payload of GET /chats/{otherUserId}: the resolved chat
// id plus its full ordered history.
type chatResponse struct {
	ChatID   int64          `json:"ChatId"`
	Messages []chat.Message `json:"Messages"`
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	otherID, err := pathID(r, "otherUserId")
	if err != nil {
		writeError(w, err)
		return
	}
	selfID, err := queryID(r, "userId")
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := s.storageCtx(r)
	defer cancel()

	// Both endpoints of the pair must exist before a chat is created for
	// them; unknown users are a 404, not a fresh chat.
	if _, err := s.users.Get(ctx, selfID); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.users.Get(ctx, otherID); err != nil {
		writeError(w, err)
		return
	}

	chatID, err := s.resolver.Resolve(ctx, selfID, otherID)
	if err != nil {
		writeError(w, err)
		return
	}

	history, err := s.messages.History(ctx, chatID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{ChatID: chatID, Messages: history})
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, store.Invalid("malformed multipart form: %v", err))
		return
	}

	chatID, err := formID(r, "chatId")
	if err != nil {
		writeError(w, err)
		return
	}
	senderID, err := formID(r, "senderId")
	if err != nil {
		writeError(w, err)
		return
	}
	content := r.FormValue("content")

	att, err := readAttachment(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := s.storageCtx(r)
	defer cancel()

	timer := prometheus.NewTimer(metrics.AppendLatency)
	msg, err := s.messages.Append(ctx, chatID, senderID, content, att)
	timer.ObserveDuration()
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.MessagesStored.Inc()

	// The message is durable at this point. Real-time fanout is best-effort
	// and must never fail the sender's request.
	if s.router != nil {
		if delivered, err := s.router.Route(ctx, msg); err != nil {
			log.Printf("httpapi: delivery for message %d failed: %v", msg.MessageID, err)
		} else {
			log.Printf("httpapi: message %d delivered to %v", msg.MessageID, delivered)
		}
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	fileID, err := pathID(r, "fileId")
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := s.storageCtx(r)
	defer cancel()

	f, err := s.messages.File(ctx, fileID)
	if err != nil {
		writeError(w, err)
		return
	}

	contentType := f.ContentType
	if contentType == "" {
		contentType = mimetype.Detect(f.Content).String()
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+f.FileName+`"`)
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(f.Content)
}

func (s *Server) handleGetAvatar(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := s.storageCtx(r)
	defer cancel()

	u, err := s.users.Get(ctx, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(u.ImagePath) == 0 {
		writeError(w, store.ErrNotFound)
		return
	}

	w.Header().Set("Content-Type", mimetype.Detect(u.ImagePath).String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(u.ImagePath)
}

// handleHealth responds with the server's health status as JSON, including
// the current connection count and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status: "ok",
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.gateway != nil {
		resp.Connections = s.gateway.Connections().Count()
		resp.Uptime = s.gateway.Uptime().Round(time.Second).String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// readAttachment extracts the optional uploaded file from the form. A
// missing file is not an error.
func readAttachment(r *http.Request) (*chat.NewAttachment, error) {
	file, header, err := r.FormFile("file")
	if err == http.ErrMissingFile {
		return nil, nil
	}
	if err != nil {
		return nil, store.Invalid("malformed file upload: %v", err)
	}
	defer file.Close()

	return buildAttachment(file, header.Filename)
}

// buildAttachment drains the upload and sniffs its content type. A read
// failure aborts the request; a partially read upload must never be stored
// as if it were complete.
func buildAttachment(file io.Reader, fileName string) (*chat.NewAttachment, error) {
	content, err := io.ReadAll(file)
	if err != nil {
		return nil, store.Storage("read upload", err)
	}
	return &chat.NewAttachment{
		FileName:    fileName,
		Content:     content,
		ContentType: mimetype.Detect(content).String(),
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request, name string) (int64, error) {
	return parseID(name, r.PathValue(name))
}

func queryID(r *http.Request, name string) (int64, error) {
	return parseID(name, r.URL.Query().Get(name))
}

func formID(r *http.Request, name string) (int64, error) {
	return parseID(name, r.FormValue(name))
}

func parseID(name, raw string) (int64, error) {
	if raw == "" {
		return 0, store.Invalid("missing %s", name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, store.Invalid("%s must be a positive integer, got %q", name, raw)
	}
	return id, nil
}
