// Package api is the typed REST client for the chat backend. It covers the
// six operations the sync engine depends on: listing and creating
// conversations, marking them read, deleting them, listing messages and
// sending a message. Everything else the backend offers (recipes, profiles,
// auth) is out of this client's scope.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/mvalente/tablechat/internal/chat"
)

// ErrAuthRequired is returned when the backend rejects a request as
// unauthenticated. Callers surface it as a distinct list-level error state.
var ErrAuthRequired = errors.New("authentication required")

// StatusError is a non-2xx response that is not an auth failure.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}

// Client talks to the chat backend over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the given base URL, e.g. "https://api.example.com".
func New(baseURL string) *Client {
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    8,
		IdleConnTimeout: 60 * time.Second,
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Transport: tr, Timeout: 15 * time.Second},
	}
}

// ListConversations fetches the full conversation list for the current user.
func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var resp struct {
		Conversations []wireConversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &resp); err != nil {
		return nil, err
	}
	convs := make([]chat.Conversation, 0, len(resp.Conversations))
	for _, w := range resp.Conversations {
		convs = append(convs, w.toDomain())
	}
	return convs, nil
}

// CreateConversation starts a conversation with the given participants.
func (c *Client) CreateConversation(ctx context.Context, participants []int64) (chat.Conversation, error) {
	req := map[string]any{"participants": participants}
	var resp struct {
		Conversation wireConversation `json:"conversation"`
	}
	if err := c.do(ctx, http.MethodPost, "/conversations", req, &resp); err != nil {
		return chat.Conversation{}, err
	}
	return resp.Conversation.toDomain(), nil
}

// MarkRead tells the backend the user has seen a conversation. Best effort;
// callers zero the local unread count regardless of the outcome.
func (c *Client) MarkRead(ctx context.Context, conversationID int64) error {
	req := map[string]any{"conversationId": conversationID}
	return c.do(ctx, http.MethodPatch, "/conversations", req, nil)
}

// DeleteConversation removes a conversation server-side.
func (c *Client) DeleteConversation(ctx context.Context, conversationID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/conversations/%d", conversationID), nil, nil)
}

// ListMessages fetches the ordered message history of one conversation.
// The response is an authoritative snapshot, not a delta.
func (c *Client) ListMessages(ctx context.Context, conversationID int64) ([]chat.Message, error) {
	var resp struct {
		Messages []WireMessage `json:"messages"`
	}
	path := fmt.Sprintf("/messages?conversationId=%d", conversationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	msgs := make([]chat.Message, 0, len(resp.Messages))
	for _, w := range resp.Messages {
		msgs = append(msgs, w.ToDomain())
	}
	return msgs, nil
}

// SendMessage posts a new message and returns the confirmed server record.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, body string) (chat.Message, error) {
	req := map[string]any{"conversationId": conversationID, "body": body}
	var resp struct {
		Message WireMessage `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/messages", req, &resp); err != nil {
		return chat.Message{}, err
	}
	return resp.Message.ToDomain(), nil
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var rd io.Reader
	if reqBody != nil {
		buf, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrAuthRequired
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	if respBody == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
