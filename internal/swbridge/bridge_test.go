package swbridge

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mansaraysaheedalpha/safespace-salone/internal/bus"
)

func TestRelaySyncSignal(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe("sw.", 4)
	defer unsub()

	br := New(b, zap.NewNop())
	br.Relay([]byte(`{"type":"SYNC_MESSAGES"}`))

	select {
	case evt := <-events:
		if evt.Kind != "sw.sync_requested" {
			t.Fatalf("kind = %q", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestRelayIgnoresUnknownAndMalformed(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe("sw.", 4)
	defer unsub()

	br := New(b, zap.NewNop())
	br.Relay([]byte(`{"type":"CACHE_UPDATED"}`))
	br.Relay([]byte(`garbage`))

	select {
	case evt := <-events:
		t.Fatalf("unexpected event %q", evt.Kind)
	default:
	}
}
