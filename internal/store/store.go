package store

import (
	"errors"

	"homie-controller/internal/homie"
)

// ErrNotFound is returned when a requested device does not exist in
// the store.
var ErrNotFound = errors.New("not found")

// Store persists device snapshots so a restarted controller serves a
// warm model before the retained replay finishes.
type Store interface {
	SaveDevice(dev *homie.Device) error
	GetDevice(id string) (*homie.Device, error)
	DeleteDevice(id string) error
	ListDevices() ([]*homie.Device, error)

	Close() error
}
