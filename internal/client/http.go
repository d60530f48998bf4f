// Package client talks to the chat server: REST calls over HTTP and the
// realtime event stream over a websocket.
package client

import (
	"bytes"
	"chatterbox/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// UserHeader carries the id of the calling user.
const UserHeader = "X-User-ID"

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}

// UserMessage returns the server-provided message suitable for display.
func (e *APIError) UserMessage() string {
	if e.Message == "" {
		return http.StatusText(e.Status)
	}
	return e.Message
}

type HTTP struct {
	baseURL string
	userID  string
	client  *http.Client
}

func NewHTTP(baseURL, userID string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTP{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		userID:  userID,
		client:  client,
	}
}

func (h *HTTP) Contacts(ctx context.Context) ([]models.Contact, error) {
	var contacts []models.Contact
	if err := h.do(ctx, http.MethodGet, "/api/contacts", nil, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (h *HTTP) Chats(ctx context.Context) ([]models.Contact, error) {
	var chats []models.Contact
	if err := h.do(ctx, http.MethodGet, "/api/chats", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (h *HTTP) Messages(ctx context.Context, contactID string) ([]models.Message, error) {
	var msgs []models.Message
	if err := h.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(contactID), nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (h *HTTP) Send(ctx context.Context, contactID string, req models.SendRequest) (models.Message, error) {
	var msg models.Message
	if err := h.do(ctx, http.MethodPost, "/api/messages/send/"+url.PathEscape(contactID), req, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (h *HTTP) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(UserHeader, h.userID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var er models.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
			apiErr.Message = er.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
