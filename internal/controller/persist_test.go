package controller

import (
	"sync"
	"testing"
	"time"

	"homie-controller/internal/homie"
)

// memStore is an in-memory DeviceStore for tests.
type memStore struct {
	mu      sync.Mutex
	devices map[string]*homie.Device
}

func newMemStore() *memStore {
	return &memStore{devices: make(map[string]*homie.Device)}
}

func (m *memStore) SaveDevice(dev *homie.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[dev.ID] = dev
	return nil
}

func (m *memStore) DeleteDevice(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, id)
	return nil
}

func (m *memStore) ListDevices() ([]*homie.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*homie.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out, nil
}

func (m *memStore) get(id string) (*homie.Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	return d, ok
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPersisterWritesThrough(t *testing.T) {
	c := newTestController(t)
	ms := newMemStore()
	p := NewPersister(c, ms, newTestLogger())
	p.Start()
	defer p.Stop()

	mustApply(t, c, "homie/dev/$name", "Device", true)
	mustApply(t, c, "homie/dev/node/temp", "21", true)

	waitFor(t, func() bool {
		d, ok := ms.get("dev")
		return ok && d.Name == "Device" && d.Property("node", "temp") != nil
	})
}

func TestPersisterDeletesRemoved(t *testing.T) {
	c := newTestController(t)
	ms := newMemStore()
	p := NewPersister(c, ms, newTestLogger())
	p.Start()
	defer p.Stop()

	mustApply(t, c, "homie/dev/$name", "Device", true)
	waitFor(t, func() bool {
		_, ok := ms.get("dev")
		return ok
	})

	c.NotifyDeviceRemoved("dev")
	waitFor(t, func() bool {
		_, ok := ms.get("dev")
		return !ok
	})
}

func TestPersisterRestore(t *testing.T) {
	ms := newMemStore()
	stored := homie.NewDevice("stored")
	stored.Name = "Stored"
	if err := ms.SaveDevice(stored); err != nil {
		t.Fatal(err)
	}

	c := newTestController(t)
	p := NewPersister(c, ms, newTestLogger())
	if err := p.Restore(); err != nil {
		t.Fatal(err)
	}

	d, ok := c.Device("stored")
	if !ok {
		t.Fatal("restored device missing from controller")
	}
	if d.Name != "Stored" {
		t.Errorf("name = %q, want %q", d.Name, "Stored")
	}
}
