package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mansaraysaheedalpha/safespace-salone/internal/store"
	"go.uber.org/zap"
)

// Client talks to the SafeSpace server API. All calls bound their wait
// with the configured timeout; a timeout is a connectivity failure, not
// a rejection.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// CreateMessageRequest is the payload for creating a message.
type CreateMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Kind           string `json:"type"`
	Content        string `json:"content"`
	Duration       int    `json:"duration,omitempty"`
	ReplyToID      string `json:"reply_to_id,omitempty"`
	// ClientMsgID is the client-generated idempotency key (the temp id).
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

// PresenceInfo is a presence snapshot for one user.
type PresenceInfo struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
	LastSeen string `json:"last_seen"`
}

// New creates a server API client.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CreateMessage posts a message and returns the durable server record.
// A 4xx response yields a RejectedError; everything else is transient.
func (c *Client) CreateMessage(ctx context.Context, req CreateMessageRequest) (*store.Message, error) {
	var resp struct {
		Message WireMessage `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/messages", req, &resp); err != nil {
		return nil, err
	}
	m := resp.Message.ToStoreMessage()
	return m, nil
}

// DeleteMessage removes a message server-side.
func (c *Client) DeleteMessage(ctx context.Context, messageID, requesterID string) error {
	path := fmt.Sprintf("/api/messages/%s?requester_id=%s", url.PathEscape(messageID), url.QueryEscape(requesterID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// MarkRead records read receipts for all counterpart messages in a conversation.
func (c *Client) MarkRead(ctx context.Context, conversationID, readerID string) error {
	body := map[string]string{
		"conversation_id": conversationID,
		"reader_id":       readerID,
	}
	return c.do(ctx, http.MethodPost, "/api/messages/read", body, nil)
}

// FetchMessages retrieves the full message history of a conversation.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	var resp struct {
		Messages []WireMessage `json:"messages"`
	}
	path := "/api/messages?conversation_id=" + url.QueryEscape(conversationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	msgs := make([]store.Message, 0, len(resp.Messages))
	for i := range resp.Messages {
		msgs = append(msgs, *resp.Messages[i].ToStoreMessage())
	}
	return msgs, nil
}

// FetchConversations retrieves the conversations a user participates in.
func (c *Client) FetchConversations(ctx context.Context, userID, role string) ([]store.Conversation, error) {
	var resp struct {
		Conversations []WireConversation `json:"conversations"`
	}
	path := fmt.Sprintf("/api/conversations?user_id=%s&role=%s", url.QueryEscape(userID), url.QueryEscape(role))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	convs := make([]store.Conversation, 0, len(resp.Conversations))
	for i := range resp.Conversations {
		convs = append(convs, *resp.Conversations[i].ToStoreConversation())
	}
	return convs, nil
}

// Heartbeat reports the user's presence to the server.
func (c *Client) Heartbeat(ctx context.Context, userID string, online bool) error {
	body := map[string]any{
		"user_id":   userID,
		"is_online": online,
	}
	return c.do(ctx, http.MethodPost, "/api/presence", body, nil)
}

// FetchPresence retrieves the presence snapshot for a user.
func (c *Client) FetchPresence(ctx context.Context, userID string) (*PresenceInfo, error) {
	var info PresenceInfo
	path := "/api/presence?user_id=" + url.QueryEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Ping reports whether the server is reachable at all. Any HTTP
// response counts as reachable; only transport-level failures do not.
func (c *Client) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &RejectedError{StatusCode: resp.StatusCode, Reason: readErrorReason(resp.Body)}
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s %s: server error %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func readErrorReason(r io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
		return strings.TrimSpace(string(data))
	}
	return payload.Error
}
