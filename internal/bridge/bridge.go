// Package bridge coordinates a BigHeads node's subsystems — store,
// crypto, transport, mesh — behind a single goroutine-safe facade. It
// owns startup/shutdown ordering, serializes mutating actions onto one
// dispatcher goroutine, and fans mesh/transport events out to a
// buffered channel for the UI (in-process or, via internal/adminapi, a
// websocket client) to drain.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bigheads-mesh/bigheads/internal/config"
	"github.com/bigheads-mesh/bigheads/internal/crypto"
	"github.com/bigheads-mesh/bigheads/internal/mesh"
	"github.com/bigheads-mesh/bigheads/internal/store"
	"github.com/bigheads-mesh/bigheads/internal/transport"
)

// PeerInfo is one entry of a "peers" Event, generalizing the original's
// per-address connection snapshot with the node id learned for that
// address (if any).
type PeerInfo struct {
	Address   string    `json:"address"`
	Name      string    `json:"name"`
	Connected bool      `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	NodeID    string    `json:"node_id,omitempty"`
}

// Event is the shape pushed onto the UI event channel. Which fields are
// populated depends on Type: "message"/"typing"/"reaction" carry Env,
// "peers" carries Peers, "toast" carries Text, "history"/"search_results"
// carry ChatID+Rows.
type Event struct {
	Type     string          `json:"type"`
	ChatID   string          `json:"chat_id,omitempty"`
	Text     string          `json:"text,omitempty"`
	Envelope *mesh.Envelope  `json:"env,omitempty"`
	Peers    map[string]PeerInfo `json:"peers,omitempty"`
	Rows     []store.Message `json:"rows,omitempty"`
}

type dispatchJob struct {
	action string
	args   map[string]any
}

// Bridge owns every long-lived subsystem for one node and is the single
// entry point cmd/bigheads and internal/adminapi both drive.
type Bridge struct {
	cfg     *config.AppConfig
	cfgPath string

	Store     *store.Store
	Crypto    *crypto.Manager
	Transport *transport.Manager
	Mesh      *mesh.Engine

	events chan Event
	jobs   chan dispatchJob
	log    *slog.Logger

	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires Store/Crypto/Transport/Mesh for cfg and returns an unstarted
// Bridge. radio is the BLE GATT implementation (nil-able only in tests
// that never call Start).
func New(cfg *config.AppConfig, cfgPath, dbPath, exportDir string, radio transport.Radio, log *slog.Logger) (*Bridge, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bridge")

	st, err := store.Open(dbPath, cfg.SeenLRULimit)
	if err != nil {
		return nil, fmt.Errorf("bridge: open store: %w", err)
	}

	b := &Bridge{
		cfg:     cfg,
		cfgPath: cfgPath,
		Store:   st,
		Crypto:  crypto.NewManager(cfg.GroupPassphrase),
		events:  make(chan Event, 256),
		jobs:    make(chan dispatchJob, 64),
		log:     log,
	}

	scanInterval := time.Duration(cfg.ScanIntervalSec * float64(time.Second))
	scanWindow := time.Duration(cfg.ScanWindowSec * float64(time.Second))
	b.Transport = transport.New(radio, scanInterval, scanWindow, cfg.MaxConnections, nil, b.onPeersChanged, log)
	b.Mesh = mesh.New(cfg.NodeID, st, b.Crypto, b.Transport, b.onMeshEvent, cfg.PacketSizeLimit, cfg.TTLDefault, cfg.MaxInlineFileBytes, exportDir, log)
	b.Transport.SetOnPacket(b.Mesh.HandleBLEPacket)

	return b, nil
}

// Events returns the channel UI consumers drain. Never closed while the
// bridge is running; draining stops making sense once Stop returns.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// Start brings up transport and mesh and launches the autosave loop.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.startedAt = time.Now()

	b.Transport.Start(b.ctx)
	if err := b.Mesh.Start(b.ctx); err != nil {
		return fmt.Errorf("bridge: start mesh: %w", err)
	}

	b.wg.Add(2)
	go b.autosaveLoop()
	go b.dispatcherLoop()

	b.log.Info("bridge started", "node_id", b.cfg.NodeID)
	return nil
}

// Stop persists config, drains in-flight work, and tears every subsystem
// down in the reverse order Start brought them up.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()

	if err := b.cfg.Save(b.cfgPath); err != nil {
		b.log.Warn("save config on shutdown failed", "error", err)
	}
	b.Mesh.Stop()
	b.Transport.Stop()
	if err := b.Store.Close(); err != nil {
		b.log.Warn("close store failed", "error", err)
	}
	b.log.Info("bridge stopped")
}

func (b *Bridge) autosaveLoop() {
	defer b.wg.Done()
	interval := time.Duration(b.cfg.AutosaveSec) * time.Second
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if err := b.cfg.Save(b.cfgPath); err != nil {
				b.log.Warn("autosave config failed", "error", err)
			}
		}
	}
}

func (b *Bridge) onPeersChanged(peers map[string]transport.Peer) {
	out := make(map[string]PeerInfo, len(peers))
	for addr, p := range peers {
		out[addr] = PeerInfo{
			Address:   p.Address,
			Name:      p.Name,
			Connected: p.State == transport.PeerConnected,
			LastSeen:  p.LastSeen,
			NodeID:    b.Mesh.NodeForAddr(addr),
		}
	}
	b.emit(Event{Type: "peers", Peers: out})
}

// onMeshEvent narrows the engine's UIEvent stream to what the original
// bridge surfaced: visible message types, typing-is-true toasts, and a
// reaction toast — everything else (peer_hello, typing=false) stays
// internal to the mesh engine.
func (b *Bridge) onMeshEvent(evt mesh.UIEvent) {
	switch evt.Type {
	case "message":
		if evt.Envelope == nil {
			return
		}
		switch evt.Envelope.Type {
		case "text", "image", "file", "system":
			b.emit(Event{Type: "message", Envelope: evt.Envelope})
		}
	case "typing":
		if evt.Envelope == nil {
			return
		}
		var payload struct {
			Typing bool `json:"typing"`
		}
		if json.Unmarshal(evt.Envelope.Payload, &payload) == nil && payload.Typing {
			b.emit(Event{Type: "toast", Text: fmt.Sprintf("%s is typing...", evt.Envelope.From)})
		}
	case "reaction":
		if evt.Envelope != nil {
			b.emit(Event{Type: "toast", Text: fmt.Sprintf("Reaction from %s", evt.Envelope.From)})
		}
	}
}

func (b *Bridge) emit(evt Event) {
	select {
	case b.events <- evt:
	default:
		b.log.Warn("event channel full, dropping event", "type", evt.Type)
	}
}

// Dispatch enqueues a mutating action to run on the dispatcher
// goroutine, returning immediately. Failures surface later as a "toast"
// event, matching the original's fire-and-forget RuntimeBridge.call.
func (b *Bridge) Dispatch(action string, args map[string]any) error {
	select {
	case b.jobs <- dispatchJob{action: action, args: args}:
		return nil
	default:
		return fmt.Errorf("bridge: action queue full")
	}
}

func (b *Bridge) dispatcherLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case job := <-b.jobs:
			b.runJob(job)
		}
	}
}

func (b *Bridge) runJob(job dispatchJob) {
	var err error
	switch job.action {
	case "send_text":
		to, _ := job.args["to"].(string)
		text, _ := job.args["text"].(string)
		_, err = b.Mesh.SendText(to, text, nil)

	case "send_file":
		to, _ := job.args["to"].(string)
		path, _ := job.args["path"].(string)
		asImage, _ := job.args["as_image"].(bool)
		_, err = b.Mesh.SendFile(to, path, asImage)

	case "typing":
		chatID, _ := job.args["chat_id"].(string)
		to, _ := job.args["to"].(string)
		isTyping, _ := job.args["is_typing"].(bool)
		err = b.Mesh.SendTyping(chatID, to, isTyping)

	case "reaction":
		to, _ := job.args["to"].(string)
		msgID, _ := job.args["msg_id"].(string)
		reaction, _ := job.args["reaction"].(string)
		err = b.Mesh.SendReaction(to, msgID, reaction)

	case "reload_config":
		b.Crypto.UpdateGroupPassphrase(b.cfg.GroupPassphrase)

	case "clear_history":
		err = b.Store.ClearHistory()

	default:
		err = fmt.Errorf("unknown action %q", job.action)
	}

	if err != nil {
		b.log.Warn("dispatch action failed", "action", job.action, "error", err)
		b.emit(Event{Type: "toast", Text: fmt.Sprintf("%s failed: %s", job.action, err)})
	}
}

// Status is a snapshot of node health for internal/adminapi's
// GET /status.
type Status struct {
	NodeID          string `json:"node_id"`
	ConnectedPeers  int    `json:"connected_peers"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
}

// Status returns a point-in-time snapshot; safe to call concurrently
// with Dispatch since it only reads already-synchronized state.
func (b *Bridge) Status() Status {
	return Status{
		NodeID:         b.cfg.NodeID,
		ConnectedPeers: len(b.Transport.ConnectedAddresses()),
		UptimeSeconds:  int64(time.Since(b.startedAt).Seconds()),
	}
}
