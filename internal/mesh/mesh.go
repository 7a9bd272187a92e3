// Package mesh implements BigHeads' application-level flooding protocol
// on top of an abstract transport: envelope construction, encryption
// dispatch, fragmentation/reassembly, duplicate suppression, routing-hint
// learning, forwarding, outbox retries, and the NN handshake that
// upgrades a chat to a private session.
package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bigheads-mesh/bigheads/internal/crypto"
	"github.com/bigheads-mesh/bigheads/internal/ids"
	"github.com/bigheads-mesh/bigheads/internal/store"
	"github.com/bigheads-mesh/bigheads/internal/transport"
)

const helloInterval = 15 * time.Second

// ErrSelfAddressed is returned when a send is addressed to this node's
// own id; the protocol has no use for a self-addressed envelope and the
// original leaves the case undefined, so this engine short-circuits it.
var ErrSelfAddressed = errors.New("mesh: cannot address a message to self")

// visibleTypes are the envelope types saved to history and surfaced to
// the UI when this node is the sender or the recipient.
var visibleTypes = map[string]bool{"text": true, "file": true, "image": true, "system": true}

// Envelope is the wire shape carried inside a "mesh" frame.
type Envelope struct {
	MsgID     string          `json:"msg_id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	TTL       int             `json:"ttl"`
	Hop       int             `json:"hop"`
	Timestamp float64         `json:"timestamp"`
	Type      string          `json:"type"`
	Enc       string          `json:"enc,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	ReplyTo   *string         `json:"reply_to,omitempty"`
}

// UIEvent is pushed to the runtime bridge for every locally relevant
// happening: a new message, a peer's hello beacon, a reaction, or a
// typing indicator.
type UIEvent struct {
	Type      string    `json:"type"`
	NodeID    string    `json:"node_id,omitempty"`
	Timestamp float64   `json:"timestamp,omitempty"`
	Envelope  *Envelope `json:"env,omitempty"`
}

type meshFrame struct {
	Kind string   `json:"kind"`
	Env  Envelope `json:"env"`
}

type fragFrame struct {
	Kind    string `json:"kind"`
	FrameID string `json:"frame_id"`
	Idx     int    `json:"idx"`
	Total   int    `json:"total"`
	Data    string `json:"data"`
}

type fragMeta struct {
	total   int
	frameID string
}

// Engine owns protocol state: known chat sessions, in-progress
// handshakes, the address<->node mapping learned from connected links,
// and in-flight fragment reassembly.
type Engine struct {
	nodeID          string
	store           *store.Store
	crypto          *crypto.Manager
	transport       *transport.Manager
	onUIEvent       func(UIEvent)
	packetSizeLimit int
	defaultTTL      int
	maxFileBytes    int
	exportDir       string
	log             *slog.Logger

	mu           sync.RWMutex
	chatSessions map[string]crypto.ChatSession
	pendingNoise map[string][32]byte
	nodeToAddr   map[string]string

	fragMu       sync.Mutex
	fragments    map[string]map[int]string
	fragmentMeta map[string]fragMeta

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Engine. onUIEvent may be nil (events are dropped).
func New(nodeID string, st *store.Store, cm *crypto.Manager, tm *transport.Manager, onUIEvent func(UIEvent), packetSizeLimit, defaultTTL, maxFileBytes int, exportDir string, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if onUIEvent == nil {
		onUIEvent = func(UIEvent) {}
	}
	return &Engine{
		nodeID:          nodeID,
		store:           st,
		crypto:          cm,
		transport:       tm,
		onUIEvent:       onUIEvent,
		packetSizeLimit: packetSizeLimit,
		defaultTTL:      defaultTTL,
		maxFileBytes:    maxFileBytes,
		exportDir:       exportDir,
		log:             log.With("component", "mesh"),
		chatSessions:    make(map[string]crypto.ChatSession),
		pendingNoise:    make(map[string][32]byte),
		nodeToAddr:      make(map[string]string),
		fragments:       make(map[string]map[int]string),
		fragmentMeta:    make(map[string]fragMeta),
	}
}

// Start loads durable chat sessions and launches the hello beacon loop.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.loadSessions(); err != nil {
		return fmt.Errorf("mesh: load sessions: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(1)
	go e.helloLoop(ctx)
	return nil
}

// Stop cancels the hello loop and waits for it to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Engine) loadSessions() error {
	contacts, err := e.store.ListContacts()
	if err != nil {
		return err
	}
	for _, c := range contacts {
		raw, err := e.store.GetChatKey(c.NodeID)
		if err != nil || raw == nil {
			continue
		}
		var session crypto.ChatSession
		if err := json.Unmarshal(raw, &session); err != nil {
			e.log.Warn("discarding unreadable chat key", "chat_id", c.NodeID, "error", err)
			continue
		}
		e.setSession(c.NodeID, session)
	}
	return nil
}

func (e *Engine) helloLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(helloInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			encrypted := true
			if _, err := e.sendSystem("*", map[string]any{"kind": "hello", "node_id": e.nodeID, "ts": ids.Now()}, &encrypted); err != nil {
				e.log.Debug("hello send failed", "error", err)
			}
		}
	}
}

// HandleBLEPacket is wired as the transport manager's onPacket
// callback: it reassembles fragments, unwraps mesh frames, and hands
// the resulting envelope to the receive pipeline.
func (e *Engine) HandleBLEPacket(address string, raw []byte) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if !ids.SafeJSONUnmarshal(raw, &probe) {
		return
	}

	packet := raw
	if probe.Kind == "frag" {
		var frag fragFrame
		if !ids.SafeJSONUnmarshal(raw, &frag) {
			return
		}
		assembled := e.collectFragment(frag, address)
		if assembled == nil {
			return
		}
		packet = assembled
		if !ids.SafeJSONUnmarshal(packet, &probe) {
			return
		}
	}
	if probe.Kind != "mesh" {
		return
	}

	var outer meshFrame
	if !ids.SafeJSONUnmarshal(packet, &outer) {
		return
	}
	e.processEnvelope(outer.Env, address)
}

func (e *Engine) collectFragment(frag fragFrame, address string) []byte {
	if frag.FrameID == "" || frag.Total <= 0 || frag.Idx < 0 || frag.Idx >= frag.Total {
		return nil
	}
	key := address + ":" + frag.FrameID

	e.fragMu.Lock()
	if e.fragments[key] == nil {
		e.fragments[key] = make(map[int]string)
	}
	e.fragments[key][frag.Idx] = frag.Data
	e.fragmentMeta[key] = fragMeta{total: frag.Total, frameID: frag.FrameID}
	complete := len(e.fragments[key]) >= frag.Total
	var joined string
	if complete {
		var sb strings.Builder
		for i := 0; i < frag.Total; i++ {
			sb.WriteString(e.fragments[key][i])
		}
		joined = sb.String()
		delete(e.fragments, key)
		delete(e.fragmentMeta, key)
	}
	e.fragMu.Unlock()

	if !complete {
		return nil
	}
	raw, err := ids.FromB64(joined)
	if err != nil {
		e.log.Warn("fragment reassembly produced invalid base64", "frame_id", frag.FrameID, "error", err)
		return nil
	}
	return raw
}

func (e *Engine) processEnvelope(env Envelope, incomingAddr string) {
	if env.MsgID == "" || env.From == "" {
		return
	}

	isNew, err := e.store.CheckAndMarkSeen(env.MsgID, ids.Now())
	if err != nil {
		e.log.Warn("check and mark seen failed", "error", err)
		return
	}
	if !isNew {
		return
	}

	if incomingAddr != "" {
		e.mu.Lock()
		e.nodeToAddr[env.From] = incomingAddr
		e.mu.Unlock()
		if err := e.store.UpdateRoute(env.From, env.From, env.Hop+1, ids.Now()); err != nil {
			e.log.Warn("update route failed", "error", err)
		}
		if err := e.store.UpsertContact(env.From, ids.Now()); err != nil {
			e.log.Warn("upsert contact failed", "error", err)
		}
	}

	blocked, err := e.store.IsBlocked(env.From)
	if err != nil {
		e.log.Warn("blocked check failed", "error", err)
		return
	}
	if blocked {
		return
	}

	plain, ok := e.decryptEnvelope(env)
	if !ok {
		return
	}

	visible := plain.To == "*" || plain.To == e.nodeID
	if visible && visibleTypes[plain.Type] {
		chatID := plain.From
		if plain.To == "*" {
			chatID = "broadcast"
		}
		record := store.Envelope{
			MsgID: plain.MsgID, ChatID: chatID, From: plain.From, To: plain.To,
			Type: plain.Type, Payload: plain.Payload, Timestamp: plain.Timestamp, ReplyTo: plain.ReplyTo,
		}
		if err := e.store.SaveMessage(record, false); err != nil {
			e.log.Warn("save inbound message failed", "error", err)
		}
	}
	if visible {
		e.dispatchMessage(plain)
	}
	e.forwardIfNeeded(env, incomingAddr)
}

func (e *Engine) decryptEnvelope(env Envelope) (Envelope, bool) {
	enc := env.Enc
	if enc == "" {
		enc = "group"
	}
	switch enc {
	case "none":
		return env, true
	case "group":
		var payload crypto.AEADPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			e.log.Warn("decode group payload failed", "error", err)
			return Envelope{}, false
		}
		pt, err := e.crypto.DecryptGroup(payload, []byte(env.MsgID))
		if err != nil {
			e.log.Warn("group decrypt failed", "error", err)
			return Envelope{}, false
		}
		env.Payload = pt
		return env, true
	case "private":
		chatID := env.From
		if env.From == e.nodeID {
			chatID = env.To
		}
		session, ok := e.getSession(chatID)
		if !ok {
			e.log.Warn("no session for private chat", "chat_id", chatID)
			return Envelope{}, false
		}
		var payload crypto.AEADPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			e.log.Warn("decode private payload failed", "error", err)
			return Envelope{}, false
		}
		// The sender derives the per-message key with its own chat id for
		// this envelope, which is the recipient's node id (env.To).
		pt, err := e.crypto.DecryptPrivate(payload, env.To, env.MsgID, session, []byte(env.MsgID))
		if err != nil {
			e.log.Warn("private decrypt failed", "error", err)
			return Envelope{}, false
		}
		env.Payload = pt
		return env, true
	default:
		return Envelope{}, false
	}
}

func (e *Engine) dispatchMessage(env Envelope) {
	if env.Type == "system" {
		var payload map[string]any
		if json.Unmarshal(env.Payload, &payload) == nil {
			switch kind, _ := payload["kind"].(string); kind {
			case "hello":
				e.onUIEvent(UIEvent{Type: "peer_hello", NodeID: env.From, Timestamp: env.Timestamp})
				e.flushOutboxFor(env.From)
			case "noise_init":
				e.onNoiseInit(env, payload)
			case "noise_resp":
				e.onNoiseResp(env, payload)
			case "reaction":
				replyTo := ""
				if env.ReplyTo != nil {
					replyTo = *env.ReplyTo
				}
				reaction, _ := payload["reaction"].(string)
				if err := e.store.AddReaction(replyTo, env.From, reaction, ids.Now()); err != nil {
					e.log.Warn("add reaction failed", "error", err)
				}
				e.onUIEvent(UIEvent{Type: "reaction", Envelope: &env})
				return
			case "typing":
				chatID, _ := payload["chat_id"].(string)
				typing, _ := payload["typing"].(bool)
				if err := e.store.SetTyping(chatID, env.From, typing, ids.Now()); err != nil {
					e.log.Warn("set typing failed", "error", err)
				}
				e.onUIEvent(UIEvent{Type: "typing", Envelope: &env})
				return
			}
		}
	}
	e.onUIEvent(UIEvent{Type: "message", Envelope: &env})
}

func (e *Engine) forwardIfNeeded(env Envelope, incomingAddr string) {
	if env.TTL <= 0 {
		return
	}
	if env.To == e.nodeID {
		return
	}
	fwd := env
	fwd.TTL = env.TTL - 1
	fwd.Hop = env.Hop + 1
	if fwd.TTL <= 0 {
		return
	}
	e.sendEnvelopeRaw(fwd, incomingAddr)
}

// SendText sends a plaintext chat message to to ("*" for broadcast).
func (e *Engine) SendText(to, text string, replyTo *string) (Envelope, error) {
	return e.sendPayload(to, "text", text, replyTo, nil)
}

// SendTyping announces a typing indicator for chatID. Matching the
// original protocol, direct (non-broadcast) typing indicators are sent
// unencrypted; broadcast ones ride the group channel.
func (e *Engine) SendTyping(chatID, to string, isTyping bool) error {
	encrypted := to == "*"
	_, err := e.sendPayload(to, "system", map[string]any{"kind": "typing", "chat_id": chatID, "typing": isTyping}, nil, &encrypted)
	return err
}

// SendReaction attaches a reaction to msgID and sends it to to.
func (e *Engine) SendReaction(to, msgID, reaction string) error {
	replyTo := msgID
	_, err := e.sendPayload(to, "system", map[string]any{"kind": "reaction", "reaction": reaction}, &replyTo, nil)
	return err
}

func (e *Engine) sendSystem(to string, payload map[string]any, encrypted *bool) (Envelope, error) {
	return e.sendPayload(to, "system", payload, nil, encrypted)
}

// SendFile splits a file into chunks of max(64, 2*packetSizeLimit) bytes
// and sends one envelope per chunk (the framing layer fragments any
// envelope larger than a packet), returning every envelope sent.
func (e *Engine) SendFile(to, filePath string, asImage bool) ([]Envelope, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("mesh: read file: %w", err)
	}
	if len(data) > e.maxFileBytes {
		return nil, fmt.Errorf("mesh: file too large (%d bytes), limit is %d", len(data), e.maxFileBytes)
	}

	chunkPayloadBytes := max(64, e.packetSizeLimit*2)
	parts := ids.ChunkBytes(data, chunkPayloadBytes)
	msgType := "file"
	if asImage {
		msgType = "image"
	}
	envelopes := make([]Envelope, 0, len(parts))
	name := filepath.Base(filePath)
	for i, part := range parts {
		payload := map[string]any{
			"name":        name,
			"mime":        msgType,
			"chunk_index": i,
			"chunk_total": len(parts),
			"data":        ids.ToB64(part),
		}
		env, err := e.sendPayload(to, msgType, payload, nil, nil)
		if err != nil {
			return envelopes, err
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}

// StartPrivateChat initiates the NN handshake with peerNodeID.
func (e *Engine) StartPrivateChat(peerNodeID string) error {
	pubB64, priv, err := e.crypto.StartNoiseNN()
	if err != nil {
		return fmt.Errorf("mesh: start handshake: %w", err)
	}
	e.mu.Lock()
	e.pendingNoise[peerNodeID] = priv
	e.mu.Unlock()

	encrypted := false
	_, err = e.sendSystem(peerNodeID, map[string]any{"kind": "noise_init", "pub": pubB64}, &encrypted)
	return err
}

func (e *Engine) onNoiseInit(env Envelope, payload map[string]any) {
	initPub, _ := payload["pub"].(string)
	if initPub == "" {
		return
	}
	respPubB64, session, err := e.crypto.RespondNoiseNN(initPub)
	if err != nil {
		e.log.Warn("respond to handshake failed", "from", env.From, "error", err)
		return
	}
	chatID := env.From
	e.setSession(chatID, session)
	if keyJSON, err := json.Marshal(session); err == nil {
		if err := e.store.SetChatKey(chatID, keyJSON, ids.Now()); err != nil {
			e.log.Warn("persist chat key failed", "error", err)
		}
	}
	encrypted := false
	if _, err := e.sendSystem(chatID, map[string]any{"kind": "noise_resp", "pub": respPubB64}, &encrypted); err != nil {
		e.log.Warn("send handshake response failed", "error", err)
	}
}

func (e *Engine) onNoiseResp(env Envelope, payload map[string]any) {
	chatID := env.From
	e.mu.Lock()
	priv, ok := e.pendingNoise[chatID]
	delete(e.pendingNoise, chatID)
	e.mu.Unlock()
	if !ok {
		return
	}
	respPub, _ := payload["pub"].(string)
	if respPub == "" {
		return
	}
	session, err := e.crypto.FinalizeNoiseNN(priv, respPub)
	if err != nil {
		e.log.Warn("finalize handshake failed", "from", env.From, "error", err)
		return
	}
	e.setSession(chatID, session)
	if keyJSON, err := json.Marshal(session); err == nil {
		if err := e.store.SetChatKey(chatID, keyJSON, ids.Now()); err != nil {
			e.log.Warn("persist chat key failed", "error", err)
		}
	}
}

func (e *Engine) sendPayload(to, msgType string, payload any, replyTo *string, encrypted *bool) (Envelope, error) {
	if to == e.nodeID {
		return Envelope{}, ErrSelfAddressed
	}
	env := Envelope{
		MsgID:     ids.NewMsgID(),
		From:      e.nodeID,
		To:        to,
		TTL:       e.defaultTTL,
		Hop:       0,
		Timestamp: ids.Now(),
		Type:      msgType,
		ReplyTo:   replyTo,
	}

	shouldEncrypt := true
	if encrypted != nil {
		shouldEncrypt = *encrypted
	}

	switch {
	case !shouldEncrypt:
		rawPayload, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("mesh: marshal payload: %w", err)
		}
		env.Enc = "none"
		env.Payload = rawPayload

	case to == "*":
		plaintext, err := marshalForEncryption(payload)
		if err != nil {
			return Envelope{}, err
		}
		ct, err := e.crypto.EncryptGroup(plaintext, []byte(env.MsgID))
		if err != nil {
			return Envelope{}, fmt.Errorf("mesh: encrypt group: %w", err)
		}
		ctJSON, err := json.Marshal(ct)
		if err != nil {
			return Envelope{}, fmt.Errorf("mesh: marshal group ciphertext: %w", err)
		}
		env.Enc = "group"
		env.Payload = ctJSON

	default:
		env.Enc = "private"
		session, ok := e.getSession(to)
		if !ok {
			if err := e.StartPrivateChat(to); err != nil {
				e.log.Warn("start private chat failed", "to", to, "error", err)
			}
			rawPayload, err := json.Marshal(payload)
			if err != nil {
				return Envelope{}, fmt.Errorf("mesh: marshal payload: %w", err)
			}
			env.Payload = rawPayload
			envJSON, err := ids.CompactJSON(env)
			if err != nil {
				return Envelope{}, fmt.Errorf("mesh: marshal queued envelope: %w", err)
			}
			if err := e.store.EnqueueOutbox(to, envJSON, ids.Now()); err != nil {
				e.log.Warn("enqueue outbox failed", "to", to, "error", err)
			}
			return env, nil
		}
		plaintext, err := marshalForEncryption(payload)
		if err != nil {
			return Envelope{}, err
		}
		ct, err := e.crypto.EncryptPrivate(plaintext, to, env.MsgID, session, []byte(env.MsgID))
		if err != nil {
			return Envelope{}, fmt.Errorf("mesh: encrypt private: %w", err)
		}
		ctJSON, err := json.Marshal(ct)
		if err != nil {
			return Envelope{}, fmt.Errorf("mesh: marshal private ciphertext: %w", err)
		}
		env.Payload = ctJSON
	}

	chatID := to
	if to == "*" {
		chatID = "broadcast"
	}
	record := store.Envelope{
		MsgID: env.MsgID, ChatID: chatID, From: env.From, To: env.To,
		Type: env.Type, Payload: payload, Timestamp: env.Timestamp, ReplyTo: env.ReplyTo,
	}
	if err := e.store.SaveMessage(record, true); err != nil {
		e.log.Warn("save outbound message failed", "error", err)
	}
	e.sendEnvelopeRaw(env, "")
	return env, nil
}

// marshalForEncryption mirrors the original's "wrap bare strings" rule:
// map/struct payloads are encrypted as-is, anything else is wrapped as
// {"text": payload} so the receiver always decrypts a JSON object.
func marshalForEncryption(payload any) ([]byte, error) {
	if s, ok := payload.(string); ok {
		return json.Marshal(map[string]string{"text": s})
	}
	return json.Marshal(payload)
}

func (e *Engine) sendEnvelopeRaw(env Envelope, excludeAddr string) {
	outer := meshFrame{Kind: "mesh", Env: env}
	raw, err := ids.CompactJSON(outer)
	if err != nil {
		e.log.Error("marshal mesh frame failed", "error", err)
		return
	}

	if len(raw) <= e.packetSizeLimit {
		e.sendFrame(raw, env, excludeAddr)
		return
	}

	frameID := ids.NewMsgID()
	b64 := ids.ToB64(raw)
	chunkLen := max(30, e.packetSizeLimit-140)
	chunks := ids.ChunkString(b64, chunkLen)
	for idx, chunk := range chunks {
		frag := fragFrame{Kind: "frag", FrameID: frameID, Idx: idx, Total: len(chunks), Data: chunk}
		fragRaw, err := ids.CompactJSON(frag)
		if err != nil {
			e.log.Error("marshal fragment failed", "error", err)
			continue
		}
		e.sendFrame(fragRaw, env, excludeAddr)
	}
}

func (e *Engine) sendFrame(frame []byte, env Envelope, excludeAddr string) {
	ctx := context.Background()
	to := env.To

	if to != "*" && to != e.nodeID {
		route, err := e.store.GetRoute(to)
		if err != nil {
			e.log.Warn("get route failed", "error", err)
		}
		viaNode := ""
		if route != nil {
			viaNode = route.ViaNode
		}
		addr := e.lookupAddr(viaNode)
		if addr == "" {
			addr = e.lookupAddr(to)
		}
		if addr != "" && addr != excludeAddr && e.transport.SendTo(ctx, addr, frame) {
			return
		}
		envJSON, err := ids.CompactJSON(env)
		if err != nil {
			e.log.Warn("marshal envelope for outbox failed", "error", err)
			return
		}
		if err := e.store.EnqueueOutbox(to, envJSON, ids.Now()); err != nil {
			e.log.Warn("enqueue outbox failed", "to", to, "error", err)
		}
		return
	}

	if excludeAddr != "" {
		for _, addr := range e.transport.ConnectedAddresses() {
			if addr == excludeAddr {
				continue
			}
			e.transport.SendTo(ctx, addr, frame)
		}
		return
	}
	e.transport.SendToAll(ctx, frame)
}

func (e *Engine) flushOutboxFor(nodeID string) {
	pending, err := e.store.DequeueOutboxFor(nodeID, 100)
	if err != nil {
		e.log.Warn("dequeue outbox failed", "node_id", nodeID, "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	deleteIDs := make([]uint, 0, len(pending))
	for _, row := range pending {
		var env Envelope
		if err := json.Unmarshal([]byte(row.EnvelopeJSON), &env); err == nil {
			e.sendEnvelopeRaw(env, "")
		}
		deleteIDs = append(deleteIDs, row.ID)
	}
	if err := e.store.DeleteOutboxIDs(deleteIDs); err != nil {
		e.log.Warn("delete outbox ids failed", "error", err)
	}
}

// SearchChat returns messages in chatID whose payload contains term
// (case-insensitive); an empty term returns the whole (bounded) history.
func (e *Engine) SearchChat(chatID, term string) ([]store.Message, error) {
	rows, err := e.store.GetChatMessages(chatID, 500)
	if err != nil {
		return nil, err
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return rows, nil
	}
	needle := strings.ToLower(term)
	out := make([]store.Message, 0, len(rows))
	for _, row := range rows {
		if strings.Contains(strings.ToLower(row.Payload), needle) {
			out = append(out, row)
		}
	}
	return out, nil
}

// ExportChat writes chatID's full history to exportDir as JSON or HTML
// and returns the written path.
func (e *Engine) ExportChat(chatID, format string) (string, error) {
	rows, err := e.store.ExportChatJSON(chatID)
	if err != nil {
		return "", err
	}
	ts := int64(ids.Now())

	if format != "html" {
		outPath := filepath.Join(e.exportDir, fmt.Sprintf("%s-%d.json", chatID, ts))
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return "", fmt.Errorf("mesh: marshal export: %w", err)
		}
		if err := os.WriteFile(outPath, data, 0o600); err != nil {
			return "", fmt.Errorf("mesh: write export: %w", err)
		}
		return outPath, nil
	}

	outPath := filepath.Join(e.exportDir, fmt.Sprintf("%s-%d.html", chatID, ts))
	var sb strings.Builder
	sb.WriteString("<html><body><h1>BigHeads Export</h1><ul>")
	for _, row := range rows {
		fmt.Fprintf(&sb, "<li><b>%s</b> [%.3f] : %s</li>", row.Sender, row.Timestamp, row.Payload)
	}
	sb.WriteString("</ul></body></html>")
	if err := os.WriteFile(outPath, []byte(sb.String()), 0o600); err != nil {
		return "", fmt.Errorf("mesh: write export: %w", err)
	}
	return outPath, nil
}

func (e *Engine) getSession(chatID string) (crypto.ChatSession, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.chatSessions[chatID]
	return s, ok
}

func (e *Engine) setSession(chatID string, session crypto.ChatSession) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chatSessions[chatID] = session
}

// NodeForAddr returns the node id last learned for a connected BLE
// address, or "" if none has been observed yet.
func (e *Engine) NodeForAddr(addr string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for node, a := range e.nodeToAddr {
		if a == addr {
			return node
		}
	}
	return ""
}

func (e *Engine) lookupAddr(nodeID string) string {
	if nodeID == "" {
		return ""
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nodeToAddr[nodeID]
}
