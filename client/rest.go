package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/flowmessage/chat-app/internal/chat"
	"github.com/flowmessage/chat-app/internal/user"
)

// API is a thin wrapper around the server's REST surface.
type API struct {
	baseURL string
	http    *http.Client
}

// NewAPI creates a REST client for the given base URL, e.g.
// "http://localhost:8080". httpClient may be nil to use http.DefaultClient.
func NewAPI(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Chat is the response of the chat resolution endpoint: the stable chat id
// for a user pair plus its full ordered history.
type Chat struct {
	ChatID   int64          `json:"ChatId"`
	Messages []chat.Message `json:"Messages"`
}

// apiError is the decoded body of a non-2xx response.
type apiError struct {
	Error string `json:"error"`
}

// Users fetches the full user directory.
func (a *API) Users(ctx context.Context) ([]user.User, error) {
	var users []user.User
	if err := a.getJSON(ctx, "/users", &users); err != nil {
		return nil, err
	}
	return users, nil
}

// User fetches a single user by id.
func (a *API) User(ctx context.Context, id int64) (*user.User, error) {
	var u user.User
	if err := a.getJSON(ctx, fmt.Sprintf("/users/%d", id), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// OpenChat resolves the chat between selfID and otherID, creating it on first
// contact, and returns its id and history.
func (a *API) OpenChat(ctx context.Context, selfID, otherID int64) (*Chat, error) {
	var c Chat
	path := fmt.Sprintf("/chats/%d?userId=%d", otherID, selfID)
	if err := a.getJSON(ctx, path, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Upload describes an optional file attached to an outgoing message.
type Upload struct {
	FileName string
	Content  []byte
}

// PostMessage sends a message into a chat and returns the stored message as
// the server confirmed it, including its assigned id and timestamp. upload
// may be nil for a text-only message.
func (a *API) PostMessage(ctx context.Context, chatID, senderID int64, content string, upload *Upload) (*chat.Message, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("chatId", fmt.Sprint(chatID))
	_ = w.WriteField("senderId", fmt.Sprint(senderID))
	_ = w.WriteField("content", content)
	if upload != nil {
		fw, err := w.CreateFormFile("file", upload.FileName)
		if err != nil {
			return nil, fmt.Errorf("build upload: %w", err)
		}
		if _, err := fw.Write(upload.Content); err != nil {
			return nil, fmt.Errorf("build upload: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, decodeError(resp)
	}

	var msg chat.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}

// FileURL returns the download URL for a stored attachment.
func (a *API) FileURL(fileID int64) string {
	return fmt.Sprintf("%s/files/%d", a.baseURL, fileID)
}

// AvatarURL returns the URL of a user's avatar image.
func (a *API) AvatarURL(userID int64) string {
	return fmt.Sprintf("%s/avatars/%d", a.baseURL, userID)
}

func (a *API) getJSON(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// decodeError turns a non-2xx response into an error carrying the server's
// message when the body is well-formed.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var ae apiError
	if err := json.Unmarshal(body, &ae); err == nil && ae.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, ae.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
