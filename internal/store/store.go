// Package store is BigHeads' durable persistence layer: messages,
// contacts, the seen-message LRU, routing hints, chat session keys, the
// per-recipient outbox, reactions, and typing state. All writes go
// through a single mutex, mirroring the single-writer discipline of the
// original's one aiosqlite connection.
package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Envelope is the minimal shape store needs from a mesh envelope; the
// mesh engine copies the fields of its own Envelope type into one of
// these before saving.
type Envelope struct {
	MsgID     string
	ChatID    string
	From      string
	To        string
	Type      string
	Payload   any
	Timestamp float64
	ReplyTo   *string
}

// Store wraps a gorm.DB and serializes every write behind mu, matching
// the single-connection aiosqlite discipline this layer is grounded on.
type Store struct {
	mu       sync.Mutex
	db       *gorm.DB
	seenLRU  int
}

// Open opens (and migrates) the sqlite database at path.
func Open(path string, seenLRU int) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.AutoMigrate(
		&Message{}, &Contact{}, &SeenMessage{}, &Route{},
		&ChatKey{}, &OutboxEntry{}, &Reaction{}, &TypingState{},
	); err != nil {
		return nil, fmt.Errorf("store: migrate database: %w", err)
	}
	if seenLRU <= 0 {
		seenLRU = 50000
	}
	return &Store{db: db, seenLRU: seenLRU}, nil
}

// Close releases the underlying sql.DB connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("store: underlying db: %w", err)
	}
	return sqlDB.Close()
}

// SaveMessage inserts or replaces a message row for a delivered or sent
// envelope. chat_id defaults to "broadcast" for to="*".
func (s *Store) SaveMessage(env Envelope, outgoing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chatID := env.ChatID
	if chatID == "" {
		if env.To == "*" {
			chatID = "broadcast"
		} else {
			chatID = env.To
		}
	}
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("store: marshal payload: %w", err)
	}
	row := Message{
		MsgID:     env.MsgID,
		ChatID:    chatID,
		Sender:    env.From,
		Recipient: env.To,
		MsgType:   env.Type,
		Payload:   string(payload),
		Timestamp: env.Timestamp,
		ReplyTo:   env.ReplyTo,
		Outgoing:  outgoing,
	}
	return s.db.Save(&row).Error
}

// GetChatMessages returns up to limit messages for chat_id in
// chronological order (oldest first), matching the original's
// fetch-DESC-then-reverse idiom.
func (s *Store) GetChatMessages(chatID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []Message
	err := s.db.Where("chat_id = ?", chatID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: get chat messages: %w", err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// CheckAndMarkSeen atomically tests and records msg_id against the seen
// LRU: it reports true only for the caller that actually inserts the
// row, so two callers racing on the same msg_id can never both observe
// "new." Duplicate suppression is the mesh's sole correctness
// mechanism, so check-then-act across two calls (a HasSeen followed by
// a separate MarkSeen) is not good enough — this does the insert itself
// under the single write mutex and reports whether it won, via
// INSERT ... ON CONFLICT DO NOTHING plus RowsAffected.
func (s *Store) CheckAndMarkSeen(msgID string, seenAt float64) (isNew bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "msg_id"}},
		DoNothing: true,
	}).Create(&SeenMessage{MsgID: msgID, SeenAt: seenAt})
	if tx.Error != nil {
		return false, fmt.Errorf("store: check and mark seen: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return false, nil
	}

	var keep []string
	if err := s.db.Model(&SeenMessage{}).
		Order("seen_at DESC").
		Limit(s.seenLRU).
		Pluck("msg_id", &keep).Error; err != nil {
		return true, fmt.Errorf("store: list seen for eviction: %w", err)
	}
	if len(keep) == 0 {
		return true, nil
	}
	if err := s.db.Where("msg_id NOT IN ?", keep).Delete(&SeenMessage{}).Error; err != nil {
		return true, fmt.Errorf("store: evict seen: %w", err)
	}
	return true, nil
}

// UpsertContact records that node_id was last seen at lastSeen, creating
// the contact row if it does not yet exist.
func (s *Store) UpsertContact(nodeID string, lastSeen float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Clauses(onConflictUpdate("node_id", "last_seen")).
		Create(&Contact{NodeID: nodeID, LastSeen: lastSeen}).Error
}

// ListContacts returns all known contacts, most recently seen first.
func (s *Store) ListContacts() ([]Contact, error) {
	var rows []Contact
	err := s.db.Order("COALESCE(last_seen, 0) DESC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: list contacts: %w", err)
	}
	return rows, nil
}

// SetBlocked sets or clears the blocked flag for node_id.
func (s *Store) SetBlocked(nodeID string, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Clauses(onConflictUpdate("node_id", "blocked")).
		Create(&Contact{NodeID: nodeID, Blocked: blocked}).Error
}

// IsBlocked reports whether node_id is currently blocked.
func (s *Store) IsBlocked(nodeID string) (bool, error) {
	var c Contact
	err := s.db.Where("node_id = ?", nodeID).First(&c).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, fmt.Errorf("store: is blocked: %w", err)
	}
	return c.Blocked, nil
}

// UpdateRoute records the best known next hop for target, last-writer-wins.
func (s *Store) UpdateRoute(target, via string, hops int, ts float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Clauses(onConflictUpdate("target_node", "via_node", "hops", "updated_at")).
		Create(&Route{TargetNode: target, ViaNode: via, Hops: hops, UpdatedAt: ts}).Error
}

// GetRoute returns the known route to target, if any.
func (s *Store) GetRoute(target string) (*Route, error) {
	var r Route
	err := s.db.Where("target_node = ?", target).First(&r).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get route: %w", err)
	}
	return &r, nil
}

// SetChatKey persists JSON-encoded session key material for chatID.
func (s *Store) SetChatKey(chatID string, keyJSON []byte, ts float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Clauses(onConflictUpdate("chat_id", "key_json", "updated_at")).
		Create(&ChatKey{ChatID: chatID, KeyJSON: string(keyJSON), UpdatedAt: ts}).Error
}

// GetChatKey returns the raw JSON session material for chatID, if any.
func (s *Store) GetChatKey(chatID string) ([]byte, error) {
	var row ChatKey
	err := s.db.Where("chat_id = ?", chatID).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get chat key: %w", err)
	}
	return []byte(row.KeyJSON), nil
}

// EnqueueOutbox appends an envelope destined for recipient to the
// per-recipient FIFO, to be retried once that node becomes reachable.
func (s *Store) EnqueueOutbox(recipient string, envelopeJSON []byte, ts float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Create(&OutboxEntry{
		Recipient:    recipient,
		EnvelopeJSON: string(envelopeJSON),
		CreatedAt:    ts,
	}).Error
}

// DequeueOutboxFor returns up to limit queued envelopes for recipient in
// FIFO order, without removing them.
func (s *Store) DequeueOutboxFor(recipient string, limit int) ([]OutboxEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []OutboxEntry
	err := s.db.Where("recipient = ?", recipient).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: dequeue outbox: %w", err)
	}
	return rows, nil
}

// DeleteOutboxIDs removes the given outbox rows, typically after a
// successful retry.
func (s *Store) DeleteOutboxIDs(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Where("id IN ?", ids).Delete(&OutboxEntry{}).Error
}

// AddReaction records a reaction to msg_id.
func (s *Store) AddReaction(msgID, reactor, reaction string, ts float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Create(&Reaction{MsgID: msgID, Reactor: reactor, Reaction: reaction, Timestamp: ts}).Error
}

// GetReactions returns reactions to msg_id in the order they arrived.
func (s *Store) GetReactions(msgID string) ([]Reaction, error) {
	var rows []Reaction
	err := s.db.Where("msg_id = ?", msgID).Order("timestamp ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: get reactions: %w", err)
	}
	return rows, nil
}

// SetTyping records the last-known typing indicator for chatID.
func (s *Store) SetTyping(chatID, nodeID string, isTyping bool, ts float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Clauses(onConflictUpdate("chat_id", "node_id", "is_typing", "updated_at")).
		Create(&TypingState{ChatID: chatID, NodeID: nodeID, IsTyping: isTyping, UpdatedAt: ts}).Error
}

// ExportChatJSON returns every message in chatID in chronological order,
// suitable for export_chat.
func (s *Store) ExportChatJSON(chatID string) ([]Message, error) {
	var rows []Message
	err := s.db.Where("chat_id = ?", chatID).Order("timestamp ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: export chat: %w", err)
	}
	return rows, nil
}

// ClearHistory deletes all messages, reactions, and typing state,
// leaving contacts, routing, and chat keys intact.
func (s *Store) ClearHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Where("1 = 1").Delete(&Message{}).Error; err != nil {
		return fmt.Errorf("store: clear messages: %w", err)
	}
	if err := s.db.Where("1 = 1").Delete(&Reaction{}).Error; err != nil {
		return fmt.Errorf("store: clear reactions: %w", err)
	}
	if err := s.db.Where("1 = 1").Delete(&TypingState{}).Error; err != nil {
		return fmt.Errorf("store: clear typing state: %w", err)
	}
	return nil
}
