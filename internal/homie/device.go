package homie

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoValue is returned by typed value getters when the property has
// no value yet.
var ErrNoValue = errors.New("no value")

// Property is a single node property rebuilt from retained attribute
// topics and the bare value topic. Value always holds the raw wire
// string; the typed getters parse it on demand.
type Property struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Datatype Datatype `json:"datatype,omitempty"`
	Settable bool     `json:"settable"`
	Retained bool     `json:"retained"`
	Unit     string   `json:"unit,omitempty"`
	Format   string   `json:"format,omitempty"`
	Value    string   `json:"value,omitempty"`
}

// NewProperty returns a property with the Homie defaults: not settable,
// retained.
func NewProperty(id string) *Property {
	return &Property{ID: id, Retained: true}
}

// Complete reports whether the property has received its required
// attributes: a name and a datatype.
func (p *Property) Complete() bool {
	return p.Name != "" && p.Datatype != DatatypeNone
}

// IntValue parses the current value as a signed integer.
func (p *Property) IntValue() (int64, error) {
	if p.Value == "" {
		return 0, ErrNoValue
	}
	return ParseInt(p.Value)
}

// FloatValue parses the current value as a float.
func (p *Property) FloatValue() (float64, error) {
	if p.Value == "" {
		return 0, ErrNoValue
	}
	return ParseFloat(p.Value)
}

// BoolValue parses the current value as a boolean.
func (p *Property) BoolValue() (bool, error) {
	if p.Value == "" {
		return false, ErrNoValue
	}
	return ParseBool(p.Value)
}

// RGBValue parses the current value as an RGB color.
func (p *Property) RGBValue() (ColorRGB, error) {
	if p.Value == "" {
		return ColorRGB{}, ErrNoValue
	}
	return ParseColorRGB(p.Value)
}

// HSVValue parses the current value as an HSV color.
func (p *Property) HSVValue() (ColorHSV, error) {
	if p.Value == "" {
		return ColorHSV{}, ErrNoValue
	}
	return ParseColorHSV(p.Value)
}

// Copy returns an independent copy of the property.
func (p *Property) Copy() *Property {
	c := *p
	return &c
}

// Node is a named group of properties under a device.
type Node struct {
	ID         string               `json:"id"`
	Name       string               `json:"name,omitempty"`
	Type       string               `json:"type,omitempty"`
	Properties map[string]*Property `json:"properties,omitempty"`
}

func NewNode(id string) *Node {
	return &Node{ID: id, Properties: make(map[string]*Property)}
}

// Complete reports whether the node has a name, a type and at least one
// property, with every property complete.
func (n *Node) Complete() bool {
	if n.Name == "" || n.Type == "" || len(n.Properties) == 0 {
		return false
	}
	for _, p := range n.Properties {
		if !p.Complete() {
			return false
		}
	}
	return true
}

// Copy returns an independent deep copy of the node.
func (n *Node) Copy() *Node {
	c := *n
	c.Properties = make(map[string]*Property, len(n.Properties))
	for id, p := range n.Properties {
		c.Properties[id] = p.Copy()
	}
	return &c
}

// Device is the root entity of the rebuilt model. A device comes into
// existence the first time any recognized topic under its ID is seen,
// with state unknown and everything else unset; retained attribute
// replays then fill it in, in whatever order the broker delivers them.
type Device struct {
	ID              string           `json:"id"`
	HomieVersion    string           `json:"homie_version,omitempty"`
	Name            string           `json:"name,omitempty"`
	State           State            `json:"state"`
	Implementation  string           `json:"implementation,omitempty"`
	Extensions      []Extension      `json:"extensions,omitempty"`
	LocalIP         string           `json:"local_ip,omitempty"`
	MAC             string           `json:"mac,omitempty"`
	FirmwareName    string           `json:"firmware_name,omitempty"`
	FirmwareVersion string           `json:"firmware_version,omitempty"`
	StatsInterval   *time.Duration   `json:"stats_interval,omitempty"`
	StatsUptime     *time.Duration   `json:"stats_uptime,omitempty"`
	StatsSignal     *int64           `json:"stats_signal,omitempty"`
	StatsCPUTemp    *float64         `json:"stats_cputemp,omitempty"`
	StatsCPULoad    *int64           `json:"stats_cpuload,omitempty"`
	StatsBattery    *int64           `json:"stats_battery,omitempty"`
	StatsFreeheap   *uint64          `json:"stats_freeheap,omitempty"`
	StatsSupply     *float64         `json:"stats_supply,omitempty"`
	Nodes           map[string]*Node `json:"nodes,omitempty"`
}

func NewDevice(id string) *Device {
	return &Device{ID: id, State: StateUnknown, Nodes: make(map[string]*Node)}
}

// Complete reports whether the device has a name, a known state and
// only complete nodes. A device without nodes can still be complete.
func (d *Device) Complete() bool {
	if d.Name == "" || d.State == StateUnknown {
		return false
	}
	for _, n := range d.Nodes {
		if !n.Complete() {
			return false
		}
	}
	return true
}

// Node returns the node with the given ID, or nil.
func (d *Device) Node(id string) *Node {
	return d.Nodes[id]
}

// Property returns the property at node/property, or nil.
func (d *Device) Property(nodeID, propertyID string) *Property {
	n := d.Nodes[nodeID]
	if n == nil {
		return nil
	}
	return n.Properties[propertyID]
}

// Copy returns an independent deep copy of the device.
func (d *Device) Copy() *Device {
	c := *d
	c.StatsInterval = copyPtr(d.StatsInterval)
	c.StatsUptime = copyPtr(d.StatsUptime)
	c.StatsSignal = copyPtr(d.StatsSignal)
	c.StatsCPUTemp = copyPtr(d.StatsCPUTemp)
	c.StatsCPULoad = copyPtr(d.StatsCPULoad)
	c.StatsBattery = copyPtr(d.StatsBattery)
	c.StatsFreeheap = copyPtr(d.StatsFreeheap)
	c.StatsSupply = copyPtr(d.StatsSupply)
	if d.Extensions != nil {
		c.Extensions = make([]Extension, len(d.Extensions))
		for i, e := range d.Extensions {
			e.HomieVersions = append([]string(nil), e.HomieVersions...)
			c.Extensions[i] = e
		}
	}
	c.Nodes = make(map[string]*Node, len(d.Nodes))
	for id, n := range d.Nodes {
		c.Nodes[id] = n.Copy()
	}
	return &c
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// String renders a short human readable summary, used in logs.
func (d *Device) String() string {
	return fmt.Sprintf("%s (%q, state %s, %d nodes)", d.ID, d.Name, d.State, len(d.Nodes))
}
