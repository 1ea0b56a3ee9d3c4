//go:build !no_automation

package automation

import (
	"fmt"
	"time"

	"homie-controller/internal/homie"

	lua "github.com/yuin/gopher-lua"
)

// registerHomieModule registers the `homie` global table in a Lua state.
func registerHomieModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return homieOn(L, vm)
	}))

	mod.RawSetString("set", L.NewFunction(func(L *lua.LState) int {
		return homieSet(L, e)
	}))

	mod.RawSetString("get", L.NewFunction(func(L *lua.LState) int {
		return homieGet(L, e)
	}))

	mod.RawSetString("devices", L.NewFunction(func(L *lua.LState) int {
		return homieDevices(L, e)
	}))

	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return homieAfter(L, vm, e)
	}))

	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		return homieLog(L, e)
	}))

	L.SetGlobal("homie", mod)
}

const maxHandlersPerScript = 100

// homie.on(type, filter, callback)
func homieOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	filterTable := L.CheckTable(2)
	fn := L.CheckFunction(3)

	h := luaEventHandler{
		eventType: eventType,
		fn:        fn,
	}

	if v := filterTable.RawGetString("device"); v != lua.LNil {
		h.device = v.String()
	}
	if v := filterTable.RawGetString("node"); v != lua.LNil {
		h.node = v.String()
	}
	if v := filterTable.RawGetString("property"); v != lua.LNil {
		h.property = v.String()
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()

	return 0
}

// homie.set(device, node, property, value)
func homieSet(L *lua.LState, e *Engine) int {
	device := L.CheckString(1)
	node := L.CheckString(2)
	property := L.CheckString(3)
	value := luaToWire(L.CheckAny(4))

	if e.setter == nil {
		e.logger.Warn("homie.set without a transport", "device", device)
		return 0
	}
	if err := e.setter.SetProperty(device, node, property, value); err != nil {
		e.logger.Warn("homie.set", "device", device, "node", node, "property", property, "err", err)
	}
	return 0
}

// homie.get(device, node, property) — returns the current value typed
// per the property's datatype, or nil when unknown.
func homieGet(L *lua.LState, e *Engine) int {
	device := L.CheckString(1)
	node := L.CheckString(2)
	property := L.CheckString(3)

	dev, ok := e.ctrl.Device(device)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	p := dev.Property(node, property)
	if p == nil || p.Value == "" {
		L.Push(lua.LNil)
		return 1
	}

	L.Push(propertyToLua(p))
	return 1
}

// homie.devices() — returns a table of all known devices
func homieDevices(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	i := 0
	for _, dev := range e.ctrl.Devices() {
		i++
		d := L.NewTable()
		d.RawSetString("id", lua.LString(dev.ID))
		d.RawSetString("name", lua.LString(dev.Name))
		d.RawSetString("state", lua.LString(dev.State.String()))
		d.RawSetString("complete", lua.LBool(dev.Complete()))
		tbl.RawSetInt(i, d)
	}

	L.Push(tbl)
	return 1
}

// homie.after(seconds, callback) — delayed execution
func homieAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		// Send callback execution to the VM's command channel
		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{
				Fn:      fn,
				NRet:    0,
				Protect: true,
			}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full")
		}
	}()

	return 0
}

// homie.log(msg)
func homieLog(L *lua.LState, e *Engine) int {
	msg := L.CheckString(1)
	e.logger.Info("script log", "msg", msg)
	return 0
}

// propertyToLua converts a property's wire value per its datatype.
// Untyped and unparseable values fall back to the raw string.
func propertyToLua(p *homie.Property) lua.LValue {
	switch p.Datatype {
	case homie.DatatypeBoolean:
		if v, err := p.BoolValue(); err == nil {
			return lua.LBool(v)
		}
	case homie.DatatypeInteger:
		if v, err := p.IntValue(); err == nil {
			return lua.LNumber(v)
		}
	case homie.DatatypeFloat:
		if v, err := p.FloatValue(); err == nil {
			return lua.LNumber(v)
		}
	}
	return lua.LString(p.Value)
}

// luaToWire renders a Lua value as a wire payload string.
func luaToWire(v lua.LValue) string {
	switch val := v.(type) {
	case lua.LBool:
		if bool(val) {
			return "true"
		}
		return "false"
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return val.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
