package transport

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeLink struct {
	addr      string
	mu        sync.Mutex
	writes    [][]byte
	failWrite bool
	closed    bool
}

func (f *fakeLink) Address() string { return f.addr }

func (f *fakeLink) Write(ctx context.Context, packet []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite {
		return errWriteFailed
	}
	f.writes = append(f.writes, packet)
	return nil
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var errWriteFailed = &writeError{}

type writeError struct{}

func (e *writeError) Error() string { return "write failed" }

type fakeRadio struct {
	mu    sync.Mutex
	ads   []Advertisement
	links map[string]*fakeLink
}

func newFakeRadio(ads []Advertisement) *fakeRadio {
	return &fakeRadio{ads: ads, links: make(map[string]*fakeLink)}
}

func (r *fakeRadio) Scan(ctx context.Context, window time.Duration) ([]Advertisement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Advertisement, len(r.ads))
	copy(out, r.ads)
	return out, nil
}

func (r *fakeRadio) Connect(ctx context.Context, ad Advertisement, onNotify func([]byte)) (Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link := &fakeLink{addr: ad.Address}
	r.links[ad.Address] = link
	return link, nil
}

func TestManagerConnectsUpToMaxConnections(t *testing.T) {
	ads := []Advertisement{
		{Address: "aa", Name: "n1"},
		{Address: "bb", Name: "n2"},
		{Address: "cc", Name: "n3"},
	}
	radio := newFakeRadio(ads)

	var mu sync.Mutex
	var lastPeers map[string]Peer
	mgr := New(radio, 10*time.Millisecond, time.Millisecond, 2, nil, func(peers map[string]Peer) {
		mu.Lock()
		lastPeers = peers
		mu.Unlock()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)
	waitFor(t, func() bool { return len(mgr.ConnectedAddresses()) == 2 })
	cancel()
	mgr.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(lastPeers) == 0 {
		t.Fatal("expected peers callback to have fired")
	}
}

func TestSendToAllDisconnectsOnWriteFailure(t *testing.T) {
	ads := []Advertisement{{Address: "aa", Name: "n1"}}
	radio := newFakeRadio(ads)
	mgr := New(radio, 10*time.Millisecond, time.Millisecond, 5, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)
	waitFor(t, func() bool { return len(mgr.ConnectedAddresses()) == 1 })

	radio.mu.Lock()
	radio.links["aa"].failWrite = true
	radio.mu.Unlock()

	mgr.SendToAll(context.Background(), []byte("hello"))
	waitFor(t, func() bool { return len(mgr.ConnectedAddresses()) == 0 })

	cancel()
	mgr.Stop()
}

func TestSendToUnknownAddressReturnsFalse(t *testing.T) {
	radio := newFakeRadio(nil)
	mgr := New(radio, time.Second, time.Millisecond, 1, nil, nil, nil)
	if mgr.SendTo(context.Background(), "ghost", []byte("hi")) {
		t.Fatal("expected SendTo to report false for unknown address")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
