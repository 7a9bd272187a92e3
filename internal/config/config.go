// Package config holds the on-disk runtime configuration for a BigHeads
// node and the fixed BLE identifiers the mesh interoperates on.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bigheads-mesh/bigheads/internal/ids"
)

const (
	// AppName is used for log prefixes and default storage roots.
	AppName = "bigheads"

	// ServiceUUID, WriteCharUUID, NotifyCharUUID are interop-critical and
	// must never change independently of a protocol version bump.
	ServiceUUID    = "4fdb7f0a-96e4-4ecf-8d2b-6f57494701a1"
	WriteCharUUID  = "4fdb7f0b-96e4-4ecf-8d2b-6f57494701a1"
	NotifyCharUUID = "4fdb7f0c-96e4-4ecf-8d2b-6f57494701a1"
)

// AppConfig is the JSON-serializable configuration recognized at
// $APP_DIR/config.json.
type AppConfig struct {
	NodeID             string  `json:"node_id"`
	TTLDefault         int     `json:"ttl_default"`
	ScanIntervalSec    float64 `json:"scan_interval_sec"`
	ScanWindowSec      float64 `json:"scan_window_sec"`
	MaxConnections     int     `json:"max_connections"`
	PacketSizeLimit    int     `json:"packet_size_limit"`
	SeenLRULimit       int     `json:"seen_lru_limit"`
	GroupPassphrase    string  `json:"group_passphrase"`
	AutoTheme          bool    `json:"auto_theme"`
	ThemeMode          string  `json:"theme_mode"` // system|light|dark
	AutosaveSec        int     `json:"autosave_sec"`
	MaxInlineFileBytes int     `json:"max_inline_file_bytes"`

	// AdminAPIListen/AdminToken configure the loopback control-plane
	// bridge (internal/adminapi). Not part of the original BLE mesh
	// contract, but recognized the same way as the rest of config.json.
	AdminAPIListen string `json:"admin_api_listen"`
	AdminToken     string `json:"admin_token"`
}

// Default returns a config with the spec's documented defaults and a
// freshly generated node id.
func Default() *AppConfig {
	return &AppConfig{
		NodeID:             ids.ShortNodeID(""),
		TTLDefault:         12,
		ScanIntervalSec:    7.0,
		ScanWindowSec:      4.0,
		MaxConnections:     8,
		PacketSizeLimit:    380,
		SeenLRULimit:       50000,
		GroupPassphrase:    "change-me",
		AutoTheme:          true,
		ThemeMode:          "system",
		AutosaveSec:        30,
		MaxInlineFileBytes: 2 * 1024 * 1024,
		AdminAPIListen:     "127.0.0.1:8787",
		AdminToken:         ids.NewMsgID(),
	}
}

// Load reads config.json from path, falling back to defaults (and
// persisting them) when the file is absent or unreadable.
func Load(path string) (*AppConfig, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		cfg := Default()
		if jsonErr := json.Unmarshal(raw, cfg); jsonErr == nil {
			return cfg, nil
		}
	}
	cfg := Default()
	if saveErr := cfg.Save(path); saveErr != nil {
		return nil, fmt.Errorf("save default config: %w", saveErr)
	}
	return cfg, nil
}

// Save persists the config as indented JSON.
func (c *AppConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	payload, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// StorageRoot resolves the per-user directory holding bigheads.db,
// config.json, and exports/.
func StorageRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	root := filepath.Join(home, "."+AppName)
	if err := os.MkdirAll(root, 0o700); err != nil {
		return "", fmt.Errorf("create storage root: %w", err)
	}
	return root, nil
}

// EnsureExportDir returns (creating if needed) the exports/ directory
// under root.
func EnsureExportDir(root string) (string, error) {
	dir := filepath.Join(root, "exports")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	return dir, nil
}

// DBPath returns the bigheads.db path under root.
func DBPath(root string) string {
	return filepath.Join(root, "bigheads.db")
}

// ConfigPath returns the config.json path under root.
func ConfigPath(root string) string {
	return filepath.Join(root, "config.json")
}
