package controller

import (
	"fmt"
	"log/slog"

	"homie-controller/internal/homie"
)

// DeviceStore is the slice of the persistence layer the persister
// needs. *store.BoltStore satisfies it.
type DeviceStore interface {
	SaveDevice(dev *homie.Device) error
	DeleteDevice(id string) error
	ListDevices() ([]*homie.Device, error)
}

// Persister mirrors the live model into a device store by following
// change events: every touched device snapshot is written through,
// removed devices are deleted. Restarting the controller then serves
// the last known model before the broker finishes its retained
// replay.
type Persister struct {
	ctrl        *Controller
	store       DeviceStore
	logger      *slog.Logger
	events      <-chan Event
	unsubscribe func()
	done        chan struct{}
}

// NewPersister creates a persister for the controller's event bus.
func NewPersister(ctrl *Controller, store DeviceStore, logger *slog.Logger) *Persister {
	return &Persister{
		ctrl:   ctrl,
		store:  store,
		logger: logger.With("component", "persister"),
	}
}

// Restore loads every persisted snapshot into the controller. Call
// before Start, before the transport connects.
func (p *Persister) Restore() error {
	devices, err := p.store.ListDevices()
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	p.ctrl.Restore(devices)
	if len(devices) > 0 {
		p.logger.Info("restored devices from store", "count", len(devices))
	}
	return nil
}

// Start subscribes to the event bus and begins writing through.
func (p *Persister) Start() {
	p.events, p.unsubscribe = p.ctrl.Events().Subscribe(256)
	p.done = make(chan struct{})
	go p.run()
}

// Stop unsubscribes and waits for the write-through loop to drain.
func (p *Persister) Stop() {
	if p.unsubscribe == nil {
		return
	}
	p.unsubscribe()
	<-p.done
}

func (p *Persister) run() {
	defer close(p.done)
	for event := range p.events {
		switch event.Type {
		case EventDeviceRemoved:
			if err := p.store.DeleteDevice(event.DeviceID); err != nil {
				p.logger.Error("delete device", "device", event.DeviceID, "err", err)
			}
		default:
			d, ok := p.ctrl.Device(event.DeviceID)
			if !ok {
				// Removed again between the event and now.
				continue
			}
			if err := p.store.SaveDevice(d); err != nil {
				p.logger.Error("save device", "device", event.DeviceID, "err", err)
			}
		}
	}
}
