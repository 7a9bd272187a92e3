package store

// Message is one row per user-visible envelope seen or sent.
type Message struct {
	MsgID     string  `gorm:"primaryKey;column:msg_id" json:"msg_id"`
	ChatID    string  `gorm:"column:chat_id;not null;index" json:"chat_id"`
	Sender    string  `gorm:"column:sender;not null" json:"sender"`
	Recipient string  `gorm:"column:recipient;not null" json:"recipient"`
	MsgType   string  `gorm:"column:msg_type;not null" json:"msg_type"`
	Payload   string  `gorm:"column:payload;not null" json:"payload"` // JSON-encoded
	Timestamp float64 `gorm:"column:timestamp;not null" json:"timestamp"`
	ReplyTo   *string `gorm:"column:reply_to" json:"reply_to,omitempty"`
	Outgoing  bool    `gorm:"column:outgoing;not null;default:false" json:"outgoing"`
}

func (Message) TableName() string { return "messages" }

// Contact is a known node, optionally aliased and/or blocked.
type Contact struct {
	NodeID   string  `gorm:"primaryKey;column:node_id" json:"node_id"`
	Alias    *string `gorm:"column:alias" json:"alias,omitempty"`
	LastSeen float64 `gorm:"column:last_seen" json:"last_seen"`
	Blocked  bool    `gorm:"column:blocked;not null;default:false" json:"blocked"`
}

func (Contact) TableName() string { return "contacts" }

// SeenMessage is the bounded LRU of processed msg_ids.
type SeenMessage struct {
	MsgID  string  `gorm:"primaryKey;column:msg_id" json:"msg_id"`
	SeenAt float64 `gorm:"column:seen_at;not null;index" json:"seen_at"`
}

func (SeenMessage) TableName() string { return "seen_messages" }

// Route is the best known next hop for a target node (last-writer-wins).
type Route struct {
	TargetNode string  `gorm:"primaryKey;column:target_node" json:"target_node"`
	ViaNode    string  `gorm:"column:via_node;not null" json:"via_node"`
	Hops       int     `gorm:"column:hops;not null" json:"hops"`
	UpdatedAt  float64 `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Route) TableName() string { return "routing" }

// ChatKey is the durable session material for a private chat.
type ChatKey struct {
	ChatID    string  `gorm:"primaryKey;column:chat_id" json:"chat_id"`
	KeyJSON   string  `gorm:"column:key_json;not null" json:"key_json"`
	UpdatedAt float64 `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (ChatKey) TableName() string { return "chat_keys" }

// OutboxEntry is a FIFO-ordered envelope awaiting a reachable next hop.
type OutboxEntry struct {
	ID           uint    `gorm:"primaryKey;column:id;autoIncrement" json:"id"`
	Recipient    string  `gorm:"column:recipient;not null;index" json:"recipient"`
	EnvelopeJSON string  `gorm:"column:envelope_json;not null" json:"envelope_json"`
	CreatedAt    float64 `gorm:"column:created_at;not null" json:"created_at"`
}

func (OutboxEntry) TableName() string { return "outbox" }

// Reaction records a reaction to a message.
type Reaction struct {
	ID        uint    `gorm:"primaryKey;column:id;autoIncrement" json:"id"`
	MsgID     string  `gorm:"column:msg_id;not null;index" json:"msg_id"`
	Reactor   string  `gorm:"column:reactor;not null" json:"reactor"`
	Reaction  string  `gorm:"column:reaction;not null" json:"reaction"`
	Timestamp float64 `gorm:"column:timestamp;not null" json:"timestamp"`
}

func (Reaction) TableName() string { return "reactions" }

// TypingState is the last-known typing indicator per chat.
type TypingState struct {
	ChatID    string  `gorm:"primaryKey;column:chat_id" json:"chat_id"`
	NodeID    string  `gorm:"column:node_id;not null" json:"node_id"`
	IsTyping  bool    `gorm:"column:is_typing;not null" json:"is_typing"`
	UpdatedAt float64 `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (TypingState) TableName() string { return "typing_state" }
