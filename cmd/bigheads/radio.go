package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bigheads-mesh/bigheads/internal/transport"
)

// unavailableRadio is the default transport.Radio when no platform BLE
// stack is wired in: it reports no advertisements, so the transport
// manager's scan loop runs harmlessly idle. A real build swaps this for
// a Radio backed by the host's BLE central (e.g. bluez over D-Bus on
// Linux, CoreBluetooth on macOS) — that GATT binding is out of scope
// for this module, which only defines the Radio/Link boundary it plugs
// into (internal/transport).
type unavailableRadio struct {
	log *slog.Logger
	once bool
}

func newUnavailableRadio(log *slog.Logger) *unavailableRadio {
	return &unavailableRadio{log: log.With("component", "radio")}
}

func (r *unavailableRadio) Scan(ctx context.Context, window time.Duration) ([]transport.Advertisement, error) {
	if !r.once {
		r.once = true
		r.log.Warn("no BLE radio wired in; node will run store/crypto/mesh/adminapi but never see peers")
	}
	return nil, nil
}

func (r *unavailableRadio) Connect(ctx context.Context, ad transport.Advertisement, onNotify func([]byte)) (transport.Link, error) {
	return nil, errors.New("radio: no BLE backend available")
}
