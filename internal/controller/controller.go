package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"homie-controller/internal/homie"
	"homie-controller/internal/metrics"
)

var (
	// ErrUnknownEntity is returned when a set request names a device,
	// node or property the model has never seen.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrNotSettable is returned when a set request targets a property
	// that did not announce $settable true.
	ErrNotSettable = errors.New("property not settable")
)

// PublishRequest is an outbound MQTT publish the transport should
// perform on the controller's behalf. Set commands are never retained;
// confirmation comes from the device echoing the new value back on the
// property topic.
type PublishRequest struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
}

// Controller rebuilds the device model from the stream of topic
// updates the transport feeds it. All mutation goes through a single
// writer lock, so each update is atomic; readers get deep-copied
// snapshots.
type Controller struct {
	logger *slog.Logger
	base   string
	bus    *Bus

	mu      sync.RWMutex
	devices map[string]*homie.Device
}

// New creates a controller for the given base topic (no trailing
// slash), e.g. "homie".
func New(base string, bus *Bus, logger *slog.Logger) (*Controller, error) {
	if base == "" || strings.HasPrefix(base, "/") || strings.HasSuffix(base, "/") {
		return nil, fmt.Errorf("invalid base topic %q", base)
	}
	if strings.ContainsAny(base, "+#") {
		return nil, fmt.Errorf("invalid base topic %q", base)
	}
	return &Controller{
		logger:  logger.With("component", "controller"),
		base:    base,
		bus:     bus,
		devices: make(map[string]*homie.Device),
	}, nil
}

// Base returns the configured base topic.
func (c *Controller) Base() string {
	return c.base
}

// Events returns the change event bus.
func (c *Controller) Events() *Bus {
	return c.bus
}

// Devices returns a deep-copied snapshot of every known device. The
// snapshot is consistent and safe for the caller to keep or mutate.
func (c *Controller) Devices() map[string]*homie.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*homie.Device, len(c.devices))
	for id, d := range c.devices {
		out[id] = d.Copy()
	}
	return out
}

// Device returns a deep copy of one device.
func (c *Controller) Device(id string) (*homie.Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.devices[id]
	if !ok {
		return nil, false
	}
	return d.Copy(), true
}

// SetProperty validates a set request against the model and returns
// the publish the transport should perform. The local model is not
// touched: the new value only becomes visible once the device echoes
// it back.
func (c *Controller) SetProperty(deviceID, nodeID, propertyID, value string) (PublishRequest, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.devices[deviceID]
	if !ok {
		return PublishRequest{}, fmt.Errorf("device %q: %w", deviceID, ErrUnknownEntity)
	}
	n := d.Node(nodeID)
	if n == nil {
		return PublishRequest{}, fmt.Errorf("node %q/%q: %w", deviceID, nodeID, ErrUnknownEntity)
	}
	p := n.Properties[propertyID]
	if p == nil {
		return PublishRequest{}, fmt.Errorf("property %q/%q/%q: %w", deviceID, nodeID, propertyID, ErrUnknownEntity)
	}
	if !p.Settable {
		return PublishRequest{}, fmt.Errorf("property %q/%q/%q: %w", deviceID, nodeID, propertyID, ErrNotSettable)
	}

	return PublishRequest{
		Topic:   c.base + "/" + deviceID + "/" + nodeID + "/" + propertyID + "/set",
		Payload: value,
		QoS:     1,
	}, nil
}

// NotifyDeviceRemoved removes a device and its whole subtree from the
// model, emitting a removal event. Unknown devices are a no-op.
func (c *Controller) NotifyDeviceRemoved(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.devices[deviceID]; ok && d.Complete() {
		metrics.DevicesComplete.Dec()
	}
	if e, removed := c.removeDevice(deviceID); removed {
		c.bus.Publish(e)
	}
}

// removeDevice deletes a device under the write lock and returns the
// removal event for the caller to publish.
func (c *Controller) removeDevice(deviceID string) (Event, bool) {
	if _, ok := c.devices[deviceID]; !ok {
		return Event{}, false
	}
	delete(c.devices, deviceID)
	metrics.Devices.Set(float64(len(c.devices)))
	c.logger.Info("device removed", "device", deviceID)
	return Event{Type: EventDeviceRemoved, DeviceID: deviceID}, true
}

// Restore seeds the model from persisted snapshots. Existing devices
// are never overwritten and no events are emitted: the retained replay
// after connect re-announces everything anyway, restore only makes the
// read API warm from the start.
func (c *Controller) Restore(devices []*homie.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range devices {
		if d == nil || !homie.ValidID(d.ID) {
			continue
		}
		if _, exists := c.devices[d.ID]; exists {
			continue
		}
		normalize(d)
		c.devices[d.ID] = d
		if d.Complete() {
			metrics.DevicesComplete.Inc()
		}
	}
	metrics.Devices.Set(float64(len(c.devices)))
}

// normalize repairs nil maps on a device deserialized from storage.
func normalize(d *homie.Device) {
	if d.Nodes == nil {
		d.Nodes = make(map[string]*homie.Node)
	}
	for _, n := range d.Nodes {
		if n.Properties == nil {
			n.Properties = make(map[string]*homie.Property)
		}
	}
}
