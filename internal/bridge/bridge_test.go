package bridge

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bigheads-mesh/bigheads/internal/config"
	"github.com/bigheads-mesh/bigheads/internal/transport"
)

type noopRadio struct{}

func (noopRadio) Scan(ctx context.Context, window time.Duration) ([]transport.Advertisement, error) {
	return nil, nil
}

func (noopRadio) Connect(ctx context.Context, ad transport.Advertisement, onNotify func([]byte)) (transport.Link, error) {
	return nil, nil
}

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.NodeID = "node-a"
	cfg.ScanIntervalSec = 0.05
	cfg.ScanWindowSec = 0.01
	cfg.AutosaveSec = 1

	b, err := New(cfg, filepath.Join(dir, "config.json"), filepath.Join(dir, "bigheads.db"), dir, noopRadio{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(b.Stop)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return b
}

func TestDispatchSendTextRoundTripsIntoHistory(t *testing.T) {
	b := newTestBridge(t)

	if err := b.Dispatch("send_text", map[string]any{"to": "*", "text": "hello there"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rows, err := b.Store.GetChatMessages("broadcast", 10)
		if err != nil {
			t.Fatalf("GetChatMessages: %v", err)
		}
		if len(rows) == 1 && rows[0].Payload == `"hello there"` {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected dispatched send_text to be saved to broadcast history")
}

func TestDispatchUnknownActionEmitsToast(t *testing.T) {
	b := newTestBridge(t)

	if err := b.Dispatch("not_a_real_action", nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	// The transport scan loop publishes "peers" snapshots on the same
	// channel every cycle, so skip those while waiting for the toast.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-b.Events():
			if evt.Type != "toast" {
				continue
			}
			if !strings.Contains(evt.Text, "not_a_real_action") {
				t.Fatalf("expected the toast to name the unknown action, got %+v", evt)
			}
			return
		case <-deadline:
			t.Fatal("expected a toast event for an unknown action")
		}
	}
}

func TestStatusReportsNodeIDAndUptime(t *testing.T) {
	b := newTestBridge(t)
	st := b.Status()
	if st.NodeID != "node-a" {
		t.Fatalf("unexpected node id: %s", st.NodeID)
	}
	if st.UptimeSeconds < 0 {
		t.Fatalf("unexpected negative uptime: %d", st.UptimeSeconds)
	}
}
