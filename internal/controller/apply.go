package controller

import (
	"errors"
	"fmt"
	"strings"

	"homie-controller/internal/homie"
	"homie-controller/internal/metrics"
)

// ApplyUpdate feeds one (topic, payload, retained) tuple into the
// model. Topics outside the base prefix and topic shapes the
// convention does not define are ignored without error; malformed IDs
// and unparseable payloads discard the update and return a diagnostic.
// Each update is applied atomically and its change events are
// published in order before the next update is processed.
func (c *Controller) ApplyUpdate(topic, payload string, retained bool) error {
	rel, ok := strings.CutPrefix(topic, c.base+"/")
	if !ok || rel == "" {
		metrics.MessagesIgnored.Inc()
		return nil
	}
	parts := strings.Split(rel, "/")

	c.mu.Lock()
	defer c.mu.Unlock()

	completeBefore := false
	if d, known := c.devices[parts[0]]; known {
		completeBefore = d.Complete()
	}

	events, err := c.route(parts, payload, retained)
	if err != nil {
		metrics.ParseErrors.WithLabelValues(errorKind(err)).Inc()
		return err
	}
	if len(events) == 0 {
		metrics.MessagesIgnored.Inc()
		return nil
	}

	completeAfter := false
	if d, known := c.devices[parts[0]]; known {
		completeAfter = d.Complete()
	}
	switch {
	case completeAfter && !completeBefore:
		metrics.DevicesComplete.Inc()
	case completeBefore && !completeAfter:
		metrics.DevicesComplete.Dec()
	}

	for _, e := range events {
		c.bus.Publish(e)
	}
	return nil
}

// route dispatches on the topic shape relative to the base prefix.
// Handlers validate IDs and parse payloads before touching the model,
// so a failed update leaves no trace, not even implicitly created
// ancestors.
func (c *Controller) route(parts []string, payload string, retained bool) ([]Event, error) {
	deviceID := parts[0]
	if strings.HasPrefix(deviceID, "$") {
		// Base-level topics such as $broadcast.
		return nil, nil
	}
	if !homie.ValidID(deviceID) {
		return nil, fmt.Errorf("device id %q: %w", deviceID, homie.ErrInvalidID)
	}

	rest := parts[1:]
	switch len(rest) {
	case 1:
		if strings.HasPrefix(rest[0], "$") {
			return c.applyDeviceAttr(deviceID, rest[0], payload, retained)
		}
	case 2:
		switch rest[0] {
		case "$fw":
			return c.applyFirmware(deviceID, rest[1], payload)
		case "$stats":
			return c.applyStats(deviceID, rest[1], payload)
		}
		if strings.HasPrefix(rest[0], "$") {
			return nil, nil
		}
		if strings.HasPrefix(rest[1], "$") {
			return c.applyNodeAttr(deviceID, rest[0], rest[1], payload)
		}
		return c.applyPropertyValue(deviceID, rest[0], rest[1], payload, retained)
	case 3:
		if strings.HasPrefix(rest[0], "$") || strings.HasPrefix(rest[1], "$") {
			return nil, nil
		}
		if strings.HasPrefix(rest[2], "$") {
			return c.applyPropertyAttr(deviceID, rest[0], rest[1], rest[2], payload)
		}
		// dev/node/prop/set is the command topic, not state.
	}
	return nil, nil
}

func (c *Controller) applyDeviceAttr(deviceID, attr, payload string, retained bool) ([]Event, error) {
	if attr == "$homie" && payload == "" {
		// A retained $homie cleared by the broker means the device was
		// retracted; a live empty publish means nothing.
		if !retained {
			return nil, nil
		}
		if e, removed := c.removeDevice(deviceID); removed {
			return []Event{e}, nil
		}
		return nil, nil
	}

	var set func(*homie.Device)
	switch attr {
	case "$homie":
		set = func(d *homie.Device) { d.HomieVersion = payload }
	case "$name":
		set = func(d *homie.Device) { d.Name = payload }
	case "$state":
		state, err := homie.ParseState(payload)
		if err != nil {
			return nil, err
		}
		set = func(d *homie.Device) { d.State = state }
	case "$implementation":
		set = func(d *homie.Device) { d.Implementation = payload }
	case "$extensions":
		exts, err := homie.ParseExtensions(payload)
		if err != nil {
			return nil, err
		}
		set = func(d *homie.Device) { d.Extensions = exts }
	case "$nodes":
		return c.applyNodes(deviceID, payload)
	case "$localip":
		set = func(d *homie.Device) { d.LocalIP = payload }
	case "$mac":
		set = func(d *homie.Device) { d.MAC = payload }
	default:
		return nil, nil
	}

	d, events := c.ensureDevice(deviceID)
	set(d)
	c.logger.Debug("device attribute", "device", deviceID, "attr", attr, "payload", payload)
	return append(events, c.deviceUpdated(d)), nil
}

// applyNodes reconciles the node set against the comma-separated list
// announced on $nodes: missing nodes are created, nodes no longer
// listed are pruned with their properties. An empty payload clears all
// nodes.
func (c *Controller) applyNodes(deviceID, payload string) ([]Event, error) {
	var want []string
	if payload != "" {
		want = strings.Split(payload, ",")
		for _, id := range want {
			if !homie.ValidID(id) {
				return nil, fmt.Errorf("node id %q: %w", id, homie.ErrInvalidID)
			}
		}
	}

	d, events := c.ensureDevice(deviceID)
	keep := make(map[string]bool, len(want))
	for _, id := range want {
		keep[id] = true
	}
	for id := range d.Nodes {
		if !keep[id] {
			delete(d.Nodes, id)
			events = append(events, Event{Type: EventNodeRemoved, DeviceID: deviceID, NodeID: id})
		}
	}
	for _, id := range want {
		if d.Nodes[id] == nil {
			d.Nodes[id] = homie.NewNode(id)
			events = append(events, Event{Type: EventNodeAdded, DeviceID: deviceID, NodeID: id})
		}
	}
	return append(events, c.deviceUpdated(d)), nil
}

func (c *Controller) applyFirmware(deviceID, key, payload string) ([]Event, error) {
	var set func(*homie.Device)
	switch key {
	case "name":
		set = func(d *homie.Device) { d.FirmwareName = payload }
	case "version":
		set = func(d *homie.Device) { d.FirmwareVersion = payload }
	default:
		return nil, nil
	}
	d, events := c.ensureDevice(deviceID)
	set(d)
	return append(events, c.deviceUpdated(d)), nil
}

func (c *Controller) applyStats(deviceID, key, payload string) ([]Event, error) {
	set, err := statsSetter(key, payload)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, nil
	}
	d, events := c.ensureDevice(deviceID)
	set(d)
	return append(events, c.deviceUpdated(d)), nil
}

// statsSetter parses a $stats payload for the given key and returns
// the assignment to perform, or nil for keys outside the convention.
func statsSetter(key, payload string) (func(*homie.Device), error) {
	switch key {
	case "interval":
		v, err := homie.ParseSeconds(payload)
		if err != nil {
			return nil, err
		}
		return func(d *homie.Device) { d.StatsInterval = &v }, nil
	case "uptime":
		v, err := homie.ParseSeconds(payload)
		if err != nil {
			return nil, err
		}
		return func(d *homie.Device) { d.StatsUptime = &v }, nil
	case "signal":
		v, err := homie.ParseInt(payload)
		if err != nil {
			return nil, err
		}
		return func(d *homie.Device) { d.StatsSignal = &v }, nil
	case "cputemp":
		v, err := homie.ParseFloat(payload)
		if err != nil {
			return nil, err
		}
		return func(d *homie.Device) { d.StatsCPUTemp = &v }, nil
	case "cpuload":
		v, err := homie.ParseInt(payload)
		if err != nil {
			return nil, err
		}
		return func(d *homie.Device) { d.StatsCPULoad = &v }, nil
	case "battery":
		v, err := homie.ParseInt(payload)
		if err != nil {
			return nil, err
		}
		return func(d *homie.Device) { d.StatsBattery = &v }, nil
	case "freeheap":
		v, err := homie.ParseUint(payload)
		if err != nil {
			return nil, err
		}
		return func(d *homie.Device) { d.StatsFreeheap = &v }, nil
	case "supply":
		v, err := homie.ParseFloat(payload)
		if err != nil {
			return nil, err
		}
		return func(d *homie.Device) { d.StatsSupply = &v }, nil
	}
	return nil, nil
}

func (c *Controller) applyNodeAttr(deviceID, nodeID, attr, payload string) ([]Event, error) {
	switch attr {
	case "$name", "$type", "$properties":
	default:
		return nil, nil
	}
	if !homie.ValidID(nodeID) {
		return nil, fmt.Errorf("node id %q: %w", nodeID, homie.ErrInvalidID)
	}

	if attr == "$properties" {
		return c.applyProperties(deviceID, nodeID, payload)
	}

	d, events := c.ensureDevice(deviceID)
	n, nodeEvents := c.ensureNode(d, nodeID)
	events = append(events, nodeEvents...)
	switch attr {
	case "$name":
		n.Name = payload
	case "$type":
		n.Type = payload
	}
	return append(events, c.nodeUpdated(deviceID, n)), nil
}

// applyProperties reconciles a node's property set against the
// comma-separated $properties list, like applyNodes does for nodes.
func (c *Controller) applyProperties(deviceID, nodeID, payload string) ([]Event, error) {
	var want []string
	if payload != "" {
		want = strings.Split(payload, ",")
		for _, id := range want {
			if !homie.ValidID(id) {
				return nil, fmt.Errorf("property id %q: %w", id, homie.ErrInvalidID)
			}
		}
	}

	d, events := c.ensureDevice(deviceID)
	n, nodeEvents := c.ensureNode(d, nodeID)
	events = append(events, nodeEvents...)
	keep := make(map[string]bool, len(want))
	for _, id := range want {
		keep[id] = true
	}
	for id := range n.Properties {
		if !keep[id] {
			delete(n.Properties, id)
			events = append(events, Event{Type: EventPropertyRemoved, DeviceID: deviceID, NodeID: nodeID, PropertyID: id})
		}
	}
	for _, id := range want {
		if n.Properties[id] == nil {
			n.Properties[id] = homie.NewProperty(id)
			events = append(events, Event{Type: EventPropertyAdded, DeviceID: deviceID, NodeID: nodeID, PropertyID: id})
		}
	}
	return append(events, c.nodeUpdated(deviceID, n)), nil
}

func (c *Controller) applyPropertyAttr(deviceID, nodeID, propertyID, attr, payload string) ([]Event, error) {
	var set func(*homie.Property)
	switch attr {
	case "$name":
		set = func(p *homie.Property) { p.Name = payload }
	case "$datatype":
		dt, err := homie.ParseDatatype(payload)
		if err != nil {
			return nil, err
		}
		set = func(p *homie.Property) { p.Datatype = dt }
	case "$settable":
		v, err := homie.ParseBool(payload)
		if err != nil {
			return nil, err
		}
		set = func(p *homie.Property) { p.Settable = v }
	case "$retained":
		v, err := homie.ParseBool(payload)
		if err != nil {
			return nil, err
		}
		set = func(p *homie.Property) { p.Retained = v }
	case "$unit":
		set = func(p *homie.Property) { p.Unit = payload }
	case "$format":
		set = func(p *homie.Property) { p.Format = payload }
	default:
		return nil, nil
	}
	if !homie.ValidID(nodeID) {
		return nil, fmt.Errorf("node id %q: %w", nodeID, homie.ErrInvalidID)
	}
	if !homie.ValidID(propertyID) {
		return nil, fmt.Errorf("property id %q: %w", propertyID, homie.ErrInvalidID)
	}

	d, events := c.ensureDevice(deviceID)
	n, nodeEvents := c.ensureNode(d, nodeID)
	events = append(events, nodeEvents...)
	p, propEvents := c.ensureProperty(deviceID, n, propertyID)
	events = append(events, propEvents...)
	set(p)
	return append(events, Event{
		Type:       EventPropertyUpdated,
		DeviceID:   deviceID,
		NodeID:     nodeID,
		PropertyID: propertyID,
		Complete:   p.Complete(),
	}), nil
}

func (c *Controller) applyPropertyValue(deviceID, nodeID, propertyID, payload string, retained bool) ([]Event, error) {
	if !homie.ValidID(nodeID) {
		return nil, fmt.Errorf("node id %q: %w", nodeID, homie.ErrInvalidID)
	}
	if !homie.ValidID(propertyID) {
		return nil, fmt.Errorf("property id %q: %w", propertyID, homie.ErrInvalidID)
	}

	d, events := c.ensureDevice(deviceID)
	n, nodeEvents := c.ensureNode(d, nodeID)
	events = append(events, nodeEvents...)
	p, propEvents := c.ensureProperty(deviceID, n, propertyID)
	events = append(events, propEvents...)
	p.Value = payload
	return append(events, Event{
		Type:       EventPropertyValue,
		DeviceID:   deviceID,
		NodeID:     nodeID,
		PropertyID: propertyID,
		Value:      payload,
		Fresh:      !retained,
		Complete:   p.Complete(),
	}), nil
}

func (c *Controller) ensureDevice(id string) (*homie.Device, []Event) {
	if d, ok := c.devices[id]; ok {
		return d, nil
	}
	d := homie.NewDevice(id)
	c.devices[id] = d
	metrics.Devices.Set(float64(len(c.devices)))
	c.logger.Info("device discovered", "device", id)
	return d, []Event{{Type: EventDeviceAdded, DeviceID: id}}
}

func (c *Controller) ensureNode(d *homie.Device, id string) (*homie.Node, []Event) {
	if n := d.Nodes[id]; n != nil {
		return n, nil
	}
	n := homie.NewNode(id)
	d.Nodes[id] = n
	return n, []Event{{Type: EventNodeAdded, DeviceID: d.ID, NodeID: id}}
}

func (c *Controller) ensureProperty(deviceID string, n *homie.Node, id string) (*homie.Property, []Event) {
	if p := n.Properties[id]; p != nil {
		return p, nil
	}
	p := homie.NewProperty(id)
	n.Properties[id] = p
	return p, []Event{{Type: EventPropertyAdded, DeviceID: deviceID, NodeID: n.ID, PropertyID: id}}
}

func (c *Controller) deviceUpdated(d *homie.Device) Event {
	return Event{Type: EventDeviceUpdated, DeviceID: d.ID, Complete: d.Complete()}
}

func (c *Controller) nodeUpdated(deviceID string, n *homie.Node) Event {
	return Event{Type: EventNodeUpdated, DeviceID: deviceID, NodeID: n.ID, Complete: n.Complete()}
}

// errorKind buckets apply errors for the parse error counter.
func errorKind(err error) string {
	switch {
	case errors.Is(err, homie.ErrInvalidID):
		return "identifier"
	case errors.Is(err, homie.ErrInvalidState):
		return "state"
	case errors.Is(err, homie.ErrInvalidDatatype):
		return "datatype"
	case errors.Is(err, homie.ErrInvalidExtension):
		return "extension"
	case errors.Is(err, homie.ErrInvalidScalar):
		return "scalar"
	}
	return "other"
}
