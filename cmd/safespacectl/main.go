package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mansaraysaheedalpha/safespace-salone/internal/session"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/store"
	intsync "github.com/mansaraysaheedalpha/safespace-salone/internal/sync"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := newClient(session.SocketPath(sessionName))

	switch args[0] {
	case "status":
		cmdStatus(c, *jsonFlag)
	case "sync":
		cmdSync(c, *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: safespacectl send <conversation-id> <text>")
			os.Exit(1)
		}
		cmdSend(c, args[1], args[2], *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: safespacectl messages <conversation-id>")
			os.Exit(1)
		}
		cmdMessages(c, args[1], *jsonFlag)
	case "conversations":
		cmdConversations(c, *jsonFlag)
	case "delete":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: safespacectl delete <message-id>")
			os.Exit(1)
		}
		cmdDelete(c, args[1])
	case "retry":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: safespacectl retry <message-id>")
			os.Exit(1)
		}
		cmdRetry(c, args[1])
	case "read":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: safespacectl read <conversation-id>")
			os.Exit(1)
		}
		cmdRead(c, args[1])
	case "queue":
		sub := "count"
		if len(args) >= 2 {
			sub = args[1]
		}
		cmdQueue(c, sub, *jsonFlag)
	case "presence":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: safespacectl presence <user-id>")
			os.Exit(1)
		}
		cmdPresence(c, args[1], *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: safespacectl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                        Show daemon status")
	fmt.Fprintln(os.Stderr, "  sync                          Drain the pending queue now")
	fmt.Fprintln(os.Stderr, "  send <conversation> <text>    Send a text message")
	fmt.Fprintln(os.Stderr, "  messages <conversation>       List cached messages")
	fmt.Fprintln(os.Stderr, "  conversations                 List cached conversations")
	fmt.Fprintln(os.Stderr, "  delete <message-id>           Delete a message")
	fmt.Fprintln(os.Stderr, "  retry <message-id>            Retry a failed message")
	fmt.Fprintln(os.Stderr, "  read <conversation>           Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  queue [count|clear]           Inspect or clear offline data")
	fmt.Fprintln(os.Stderr, "  presence <user-id>            Show a user's presence")
}

// client talks to the daemon over its unix socket.
type client struct {
	http *http.Client
}

func newClient(socketPath string) *client {
	return &client{http: &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: 30 * time.Second,
	}}
}

// call performs a request and decodes the JSON response into out. Any
// transport or non-2xx failure terminates the process with an error.
func (c *client) call(method, path string, body, out any) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			fatal(err)
		}
	}
	req, err := http.NewRequest(method, "http://unix"+path, &buf)
	if err != nil {
		fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		fatal(fmt.Errorf("cannot reach daemon: %w (is safespaced running?)", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			fatal(fmt.Errorf("%s", e.Error))
		}
		fatal(fmt.Errorf("daemon returned %s", resp.Status))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			fatal(err)
		}
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func cmdStatus(c *client, jsonOut bool) {
	var resp struct {
		Session    string `json:"session"`
		UserID     string `json:"user_id"`
		Role       string `json:"role"`
		Online     bool   `json:"online"`
		QueueDepth int    `json:"queue_depth"`
		Storage    string `json:"storage"`
	}
	c.call(http.MethodGet, "/v1/status", nil, &resp)
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Session:  %s\n", resp.Session)
	fmt.Printf("User:     %s (%s)\n", resp.UserID, resp.Role)
	fmt.Printf("Online:   %v\n", resp.Online)
	fmt.Printf("Queued:   %d\n", resp.QueueDepth)
	fmt.Printf("Storage:  %s\n", resp.Storage)
}

func cmdSync(c *client, jsonOut bool) {
	var res intsync.Result
	c.call(http.MethodPost, "/v1/sync", nil, &res)
	if jsonOut {
		outputJSON(res)
		return
	}
	if res.Skipped {
		fmt.Println("A sync is already running.")
		return
	}
	fmt.Printf("Synced: %d  Failed: %d  Still pending: %d\n", res.Synced, res.Failed, res.Pending)
}

func cmdSend(c *client, conversationID, text string, jsonOut bool) {
	var resp struct {
		Message store.Message `json:"message"`
	}
	c.call(http.MethodPost, "/v1/messages", map[string]string{
		"conversation_id": conversationID,
		"type":            "text",
		"content":         text,
	}, &resp)
	if jsonOut {
		outputJSON(resp.Message)
		return
	}
	fmt.Printf("Accepted %s (%s)\n", resp.Message.ID, resp.Message.Status)
}

func cmdMessages(c *client, conversationID string, jsonOut bool) {
	var resp struct {
		Messages     []store.Message `json:"messages"`
		PendingCount int             `json:"pending_count"`
	}
	c.call(http.MethodGet, "/v1/conversations/"+conversationID+"/messages?refresh=1", nil, &resp)
	if jsonOut {
		outputJSON(resp)
		return
	}
	for _, m := range resp.Messages {
		ts := time.UnixMilli(m.CreatedAt).Format("15:04")
		body := m.Content
		if m.Kind == "voice" {
			body = fmt.Sprintf("[voice %ds] %s", m.Duration, m.Content)
		}
		fmt.Printf("%s  %-12s %-8s %s\n", ts, m.SenderID, m.Status, body)
	}
	if resp.PendingCount > 0 {
		fmt.Printf("(%d message(s) waiting to send)\n", resp.PendingCount)
	}
}

func cmdConversations(c *client, jsonOut bool) {
	var resp struct {
		Conversations []store.Conversation `json:"conversations"`
	}
	c.call(http.MethodGet, "/v1/conversations?refresh=1", nil, &resp)
	if jsonOut {
		outputJSON(resp.Conversations)
		return
	}
	for _, conv := range resp.Conversations {
		fmt.Printf("%-36s  %-10s %-8s %s\n", conv.ID, conv.Urgency, conv.Status, conv.Topic)
	}
}

func cmdDelete(c *client, messageID string) {
	c.call(http.MethodDelete, "/v1/messages/"+messageID, nil, nil)
	fmt.Println("Deleted.")
}

func cmdRetry(c *client, messageID string) {
	c.call(http.MethodPost, "/v1/messages/"+messageID+"/retry", nil, nil)
	fmt.Println("Retrying.")
}

func cmdRead(c *client, conversationID string) {
	c.call(http.MethodPost, "/v1/conversations/"+conversationID+"/read", nil, nil)
	fmt.Println("Marked read.")
}

func cmdQueue(c *client, sub string, jsonOut bool) {
	switch sub {
	case "count":
		var resp map[string]int
		c.call(http.MethodGet, "/v1/queue/count", nil, &resp)
		if jsonOut {
			outputJSON(resp)
			return
		}
		fmt.Printf("%d message(s) queued\n", resp["count"])
	case "clear":
		c.call(http.MethodPost, "/v1/queue/clear", nil, nil)
		fmt.Println("Offline data cleared.")
	default:
		fmt.Fprintln(os.Stderr, "usage: safespacectl queue [count|clear]")
		os.Exit(1)
	}
}

func cmdPresence(c *client, userID string, jsonOut bool) {
	var resp struct {
		UserID   string `json:"user_id"`
		IsOnline bool   `json:"is_online"`
		LastSeen string `json:"last_seen"`
	}
	c.call(http.MethodGet, "/v1/presence/"+userID, nil, &resp)
	if jsonOut {
		outputJSON(resp)
		return
	}
	if resp.IsOnline {
		fmt.Printf("%s is online\n", resp.UserID)
	} else if resp.LastSeen != "" {
		fmt.Printf("%s last seen %s\n", resp.UserID, resp.LastSeen)
	} else {
		fmt.Printf("%s is offline\n", resp.UserID)
	}
}
