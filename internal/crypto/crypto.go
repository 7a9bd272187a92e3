// Package crypto implements BigHeads' envelope cryptography: a
// passphrase-derived group AEAD for broadcast messages, an NN-style
// X25519 handshake that establishes a private-chat session, and a
// per-message ephemeral ECDH+HKDF AEAD scheme for that session.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrNoSession names the condition of a private decrypt with no chat
	// session on file. The functions in this package take the session as
	// an argument and never return it themselves.
	ErrNoSession = errors.New("crypto: no session for chat")
)

// AEADPayload is the wire shape of an encrypted envelope payload.
// Salt and EphPub are only populated for enc="private".
type AEADPayload struct {
	Nonce  string `json:"nonce"`
	CT     string `json:"ct"`
	Salt   string `json:"salt,omitempty"`
	EphPub string `json:"eph_pub,omitempty"`
}

// ChatSession is the durable key material for a private chat: a local
// private key and the peer's static public key, both raw 32-byte X25519
// values established by the NN handshake.
type ChatSession struct {
	LocalPriv [32]byte `json:"-"`
	PeerPub   [32]byte `json:"-"`
}

// chatSessionJSON is ChatSession's base64 wire form for chat_keys storage.
type chatSessionJSON struct {
	LocalPrivB64 string `json:"local_priv_b64"`
	PeerPubB64   string `json:"peer_pub_b64"`
}

// MarshalJSON encodes the session as base64 strings, matching the
// original's chat_keys payload shape.
func (s ChatSession) MarshalJSON() ([]byte, error) {
	return json.Marshal(chatSessionJSON{
		LocalPrivB64: base64.StdEncoding.EncodeToString(s.LocalPriv[:]),
		PeerPubB64:   base64.StdEncoding.EncodeToString(s.PeerPub[:]),
	})
}

// UnmarshalJSON decodes a session from its base64 wire form.
func (s *ChatSession) UnmarshalJSON(data []byte) error {
	var raw chatSessionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	local, err := base64.StdEncoding.DecodeString(raw.LocalPrivB64)
	if err != nil || len(local) != 32 {
		return fmt.Errorf("crypto: invalid local_priv_b64")
	}
	peer, err := base64.StdEncoding.DecodeString(raw.PeerPubB64)
	if err != nil || len(peer) != 32 {
		return fmt.Errorf("crypto: invalid peer_pub_b64")
	}
	copy(s.LocalPriv[:], local)
	copy(s.PeerPub[:], peer)
	return nil
}

// Manager holds the current group passphrase and performs all envelope
// encryption/decryption. Safe for concurrent use; the passphrase can be
// rotated at any time via UpdateGroupPassphrase.
type Manager struct {
	mu         sync.RWMutex
	passphrase string
}

// NewManager constructs a Manager with the given initial group passphrase.
func NewManager(passphrase string) *Manager {
	return &Manager{passphrase: passphrase}
}

// UpdateGroupPassphrase replaces the group key immediately; ciphertext
// produced under the old passphrase can no longer be decrypted.
func (m *Manager) UpdateGroupPassphrase(passphrase string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passphrase = passphrase
}

func (m *Manager) groupKey() [32]byte {
	m.mu.RLock()
	passphrase := m.passphrase
	m.mu.RUnlock()

	seed := sha256.Sum256([]byte(passphrase))
	var key [32]byte
	hk := hkdf.New(sha256.New, seed[:], []byte("bigheads-group"), []byte("group-key"))
	if _, err := io.ReadFull(hk, key[:]); err != nil {
		panic(fmt.Sprintf("crypto: hkdf: %v", err))
	}
	return key
}

// EncryptGroup encrypts plaintext under the current group key with a
// fresh random nonce and the given AAD (the envelope msg_id bytes).
func (m *Manager) EncryptGroup(plaintext, aad []byte) (AEADPayload, error) {
	key := m.groupKey()
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return AEADPayload{}, fmt.Errorf("crypto: new aead: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return AEADPayload{}, fmt.Errorf("crypto: random nonce: %w", err)
	}
	ct := aead.Seal(nil, nonce, plaintext, aad)
	return AEADPayload{
		Nonce: base64.StdEncoding.EncodeToString(nonce),
		CT:    base64.StdEncoding.EncodeToString(ct),
	}, nil
}

// DecryptGroup reverses EncryptGroup.
func (m *Manager) DecryptGroup(payload AEADPayload, aad []byte) ([]byte, error) {
	key := m.groupKey()
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: new aead: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(payload.CT)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode ciphertext: %w", err)
	}
	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("crypto: group decrypt: %w", err)
	}
	return pt, nil
}

// StartNoiseNN generates the initiator's ephemeral keypair and returns
// its base64 public key (to send as noise_init) plus the raw private key
// to keep around until the response arrives.
func (m *Manager) StartNoiseNN() (pubB64 string, priv [32]byte, err error) {
	priv, pub, err := generateX25519Keypair()
	if err != nil {
		return "", [32]byte{}, err
	}
	return base64.StdEncoding.EncodeToString(pub[:]), priv, nil
}

// RespondNoiseNN processes an initiator's public key, returning the
// responder's public key (to send as noise_resp) and the resulting
// session, keyed on the initiator as peer.
func (m *Manager) RespondNoiseNN(initiatorPubB64 string) (respPubB64 string, session ChatSession, err error) {
	initiatorPub, err := decode32(initiatorPubB64)
	if err != nil {
		return "", ChatSession{}, fmt.Errorf("crypto: decode initiator pub: %w", err)
	}
	responderPriv, responderPub, err := generateX25519Keypair()
	if err != nil {
		return "", ChatSession{}, err
	}
	session = ChatSession{LocalPriv: responderPriv, PeerPub: initiatorPub}
	return base64.StdEncoding.EncodeToString(responderPub[:]), session, nil
}

// FinalizeNoiseNN is called by the initiator upon receiving the
// responder's public key; it stores the session from the initiator's own
// ephemeral private key and the responder's public key.
func (m *Manager) FinalizeNoiseNN(initiatorPriv [32]byte, responderPubB64 string) (ChatSession, error) {
	responderPub, err := decode32(responderPubB64)
	if err != nil {
		return ChatSession{}, fmt.Errorf("crypto: decode responder pub: %w", err)
	}
	return ChatSession{LocalPriv: initiatorPriv, PeerPub: responderPub}, nil
}

// EncryptPrivate encrypts plaintext for a private chat using a fresh
// per-message ephemeral ECDH with the session's peer public key, HKDF-
// deriving the AEAD key from the shared secret, a random salt, and an
// info string scoped to (chat_id, msg_id).
func (m *Manager) EncryptPrivate(plaintext []byte, chatID, msgID string, session ChatSession, aad []byte) (AEADPayload, error) {
	ephPriv, ephPub, err := generateX25519Keypair()
	if err != nil {
		return AEADPayload{}, err
	}
	shared, err := curve25519.X25519(ephPriv[:], session.PeerPub[:])
	if err != nil {
		return AEADPayload{}, fmt.Errorf("crypto: ecdh: %w", err)
	}
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return AEADPayload{}, fmt.Errorf("crypto: random salt: %w", err)
	}
	key, err := derivePrivateKey(shared, salt[:], chatID, msgID)
	if err != nil {
		return AEADPayload{}, err
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return AEADPayload{}, fmt.Errorf("crypto: new aead: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return AEADPayload{}, fmt.Errorf("crypto: random nonce: %w", err)
	}
	ct := aead.Seal(nil, nonce, plaintext, aad)
	return AEADPayload{
		Nonce:  base64.StdEncoding.EncodeToString(nonce),
		CT:     base64.StdEncoding.EncodeToString(ct),
		Salt:   base64.StdEncoding.EncodeToString(salt[:]),
		EphPub: base64.StdEncoding.EncodeToString(ephPub[:]),
	}, nil
}

// DecryptPrivate reverses EncryptPrivate using the receiver's session
// local private key and the sender's per-message ephemeral public key.
func (m *Manager) DecryptPrivate(payload AEADPayload, chatID, msgID string, session ChatSession, aad []byte) ([]byte, error) {
	ephPub, err := decode32(payload.EphPub)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode eph_pub: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(payload.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode salt: %w", err)
	}
	shared, err := curve25519.X25519(session.LocalPriv[:], ephPub[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: ecdh: %w", err)
	}
	key, err := derivePrivateKey(shared, salt, chatID, msgID)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: new aead: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(payload.CT)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode ciphertext: %w", err)
	}
	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("crypto: private decrypt: %w", err)
	}
	return pt, nil
}

func derivePrivateKey(shared, salt []byte, chatID, msgID string) ([32]byte, error) {
	var key [32]byte
	info := []byte(fmt.Sprintf("bigheads-private:%s:%s", chatID, msgID))
	hk := hkdf.New(sha256.New, shared, salt, info)
	if _, err := io.ReadFull(hk, key[:]); err != nil {
		return key, fmt.Errorf("crypto: hkdf: %w", err)
	}
	return key, nil
}

func generateX25519Keypair() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, fmt.Errorf("crypto: random private key: %w", err)
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pubBytes, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, fmt.Errorf("crypto: derive public key: %w", err)
	}
	copy(pub[:], pubBytes)
	return priv, pub, nil
}

func decode32(b64 string) ([32]byte, error) {
	var out [32]byte
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("crypto: expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
