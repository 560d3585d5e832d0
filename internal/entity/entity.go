// Package entity translates host-side controls into Voltalis client and
// coordinator calls.
package entity

import (
	"context"
	"errors"

	"github.com/dokzlo13/voltalisd/internal/voltalis"
)

// Manufacturer is reported in every device descriptor.
const Manufacturer = "Voltalis"

var (
	ErrUnknownEntity = errors.New("unknown entity")
	ErrInvalidValue  = errors.New("invalid value")
	ErrUnavailable   = errors.New("entity unavailable")
)

// Kind is the control type of an entity.
type Kind string

const (
	KindButton Kind = "button"
	KindNumber Kind = "number"
	KindSelect Kind = "select"
)

// DeviceInfo groups entities under one device on the host.
type DeviceInfo struct {
	Identifier   string `json:"identifier"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
}

// State is the rendered state of an entity.
type State struct {
	Value      any            `json:"value"`
	Available  bool           `json:"available"`
	Options    []string       `json:"options,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Entity is a single host-side control.
type Entity interface {
	ID() string
	Name() string
	Kind() Kind
	Device() DeviceInfo
	State() State
	// HandleAction applies a user action. Buttons ignore value.
	HandleAction(ctx context.Context, value string) error
}

// Updatable entities re-derive their state when a coordinator refreshes.
type Updatable interface {
	HandleUpdate()
}

// SessionClient is the part of the Voltalis client entities act on.
type SessionClient interface {
	Revoke()
	SetTokenLifetime(days *int) error
	TokenLifetime() *int
	Session() voltalis.SessionInfo
}

// ProgramSource is the program coordinator as seen by the program select.
type ProgramSource interface {
	Data() (map[int]voltalis.Program, bool)
	LastUpdateSuccess() bool
	SetProgram(ctx context.Context, newProgram, oldProgram *voltalis.Program) error
	RequestRefresh()
}

// DeviceSource is the device coordinator as seen by preset selects.
type DeviceSource interface {
	Device(id int) (voltalis.Device, bool)
	LastUpdateSuccess() bool
	SetPreset(ctx context.Context, device voltalis.Device, preset voltalis.Preset) error
	RequestRefresh()
}

var tokenDevice = DeviceInfo{
	Identifier:   "token",
	Name:         "Token revocation",
	Manufacturer: Manufacturer,
	Model:        "Revoke Token Button",
}
