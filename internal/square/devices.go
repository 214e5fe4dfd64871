package square

import (
	"context"

	"github.com/shoplight/pos-backend/internal/database"
	"github.com/shoplight/pos-backend/internal/models"
)

// DeviceSource decides which terminal device a checkout targets and lists
// the devices available to the user. Simulated sandbox devices live behind
// this interface so business logic never branches on the environment.
type DeviceSource interface {
	Devices(ctx context.Context, accessToken string) ([]models.Device, error)
	Resolve(requested string) (string, error)
}

// TerminalDevices is the production source: devices come from the vendor
// and a device id must be supplied explicitly.
type TerminalDevices struct {
	Client *Client
}

func (t *TerminalDevices) Devices(ctx context.Context, accessToken string) ([]models.Device, error) {
	return t.Client.ListDevices(ctx, accessToken)
}

func (t *TerminalDevices) Resolve(requested string) (string, error) {
	if requested == "" {
		return "", database.ErrDeviceRequired
	}
	return requested, nil
}

// Sandbox test device ids with deterministic behaviors.
// See: https://developer.squareup.com/docs/devtools/sandbox/testing#terminal-api-checkouts
const (
	SandboxDeviceSuccess  = "2b0b734b-b187-47f0-9d6f-288745210bdb"
	SandboxDeviceCanceled = "a6a0a0a0-0a0a-0a0a-0a0a-0a0a0a0a0a0a"
	SandboxDeviceFailed   = "b6b0b0b0-0b0b-0b0b-0b0b-0b0b0b0b0b0b"
	SandboxDeviceTimeout  = "c6c0c0c0-0c0c-0c0c-0c0c-0c0c0c0c0c0c"
)

// SandboxDevices serves the fixed simulator list and defaults a missing
// device id to the success simulator.
type SandboxDevices struct{}

func (SandboxDevices) Devices(ctx context.Context, accessToken string) ([]models.Device, error) {
	return []models.Device{
		{ID: SandboxDeviceSuccess, Name: "Simulator (success)", Status: "AVAILABLE"},
		{ID: SandboxDeviceCanceled, Name: "Simulator (canceled)", Status: "AVAILABLE"},
		{ID: SandboxDeviceFailed, Name: "Simulator (failed)", Status: "AVAILABLE"},
		{ID: SandboxDeviceTimeout, Name: "Simulator (timeout)", Status: "AVAILABLE"},
	}, nil
}

func (SandboxDevices) Resolve(requested string) (string, error) {
	if requested == "" {
		return SandboxDeviceSuccess, nil
	}
	return requested, nil
}
