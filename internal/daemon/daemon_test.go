package daemon

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mansaraysaheedalpha/safespace-salone/internal/api"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/bus"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/connectivity"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/lock"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/metrics"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/pipeline"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/presence"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/store"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/swbridge"
	intsync "github.com/mansaraysaheedalpha/safespace-salone/internal/sync"
	"github.com/mansaraysaheedalpha/safespace-salone/internal/transport"
)

// socketClient returns an HTTP client that dials the given unix socket.
func socketClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: 5 * time.Second,
	}
}

func TestDaemonLifecycle(t *testing.T) {
	// Use a short path to avoid macOS 104-char Unix socket limit.
	tmpDir, err := os.MkdirTemp("/tmp", "safespace-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	sessionDir := filepath.Join(tmpDir, "test")
	socketPath := filepath.Join(sessionDir, "d.sock")
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		t.Fatal(err)
	}

	lk, err := lock.Acquire(sessionDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(filepath.Join(sessionDir, "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	logger := zap.NewNop()
	b := bus.New()
	m := metrics.New()
	client := transport.New("http://127.0.0.1:1", time.Second, logger)
	monitor := connectivity.NewMonitor(nil, time.Minute, b, logger)
	monitor.SetOnline(false)
	pipe := pipeline.New(db, client, monitor, b, m, "patient-1", time.Second, logger)
	coord := intsync.New(db, client, b, m, 3, time.Second, logger)
	tracker := presence.New(client, "patient-1", 15*time.Second, time.Minute, 5*time.Second, logger)

	handlers := &api.Handlers{
		Session:  "test",
		SelfID:   "patient-1",
		Role:     "patient",
		DB:       db,
		Pipe:     pipe,
		Drainer:  coord,
		Conn:     monitor,
		Fetcher:  client,
		Presence: tracker,
		Bridge:   swbridge.New(b, logger),
		Registry: m.Registry,
		Logger:   logger,
	}

	srv, err := NewServer(Params{SessionName: "test", SocketPath: socketPath}, logger, handlers)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	time.Sleep(50 * time.Millisecond)

	hc := socketClient(socketPath)

	// Status over the socket.
	resp, err := hc.Get("http://unix/v1/status")
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	var statusResp map[string]any
	json.NewDecoder(resp.Body).Decode(&statusResp)
	resp.Body.Close()
	if statusResp["session"] != "test" || statusResp["online"] != false {
		t.Fatalf("status = %v", statusResp)
	}

	// Send while offline parks the message.
	sendBody := `{"conversation_id":"c1","type":"text","content":"hello"}`
	resp, err = hc.Post("http://unix/v1/messages", "application/json",
		strings.NewReader(sendBody))
	if err != nil {
		t.Fatalf("send request: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("send code = %d", resp.StatusCode)
	}
	var sendResp struct {
		Message store.Message `json:"message"`
	}
	json.NewDecoder(resp.Body).Decode(&sendResp)
	resp.Body.Close()
	if !store.IsTempID(sendResp.Message.ID) {
		t.Fatalf("send returned id %q", sendResp.Message.ID)
	}

	resp, err = hc.Get("http://unix/v1/queue/count")
	if err != nil {
		t.Fatal(err)
	}
	var countResp map[string]int
	json.NewDecoder(resp.Body).Decode(&countResp)
	resp.Body.Close()
	if countResp["count"] != 1 {
		t.Fatalf("queue count = %d", countResp["count"])
	}

	// Messages list shows the parked message.
	resp, err = hc.Get("http://unix/v1/conversations/c1/messages")
	if err != nil {
		t.Fatal(err)
	}
	var listResp struct {
		Messages     []store.Message `json:"messages"`
		PendingCount int             `json:"pending_count"`
	}
	json.NewDecoder(resp.Body).Decode(&listResp)
	resp.Body.Close()
	if len(listResp.Messages) != 1 || listResp.PendingCount != 1 {
		t.Fatalf("list = %+v", listResp)
	}

	// Metrics endpoint serves.
	resp, err = hc.Get("http://unix/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics code = %d", resp.StatusCode)
	}
}

func TestNewServerCleansStaleSocket(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "safespace-sock-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	socketPath := filepath.Join(tmpDir, "d.sock")

	// Leave a stale socket file behind.
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	l.Close()
	if err := os.WriteFile(socketPath, nil, 0600); err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(Params{SessionName: "t", SocketPath: socketPath}, zap.NewNop(), &api.Handlers{
		Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewServer over stale socket: %v", err)
	}

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("socket perms = %v", info.Mode().Perm())
	}
	srv.Stop(context.Background())
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Fatal("socket not removed on stop")
	}
}
