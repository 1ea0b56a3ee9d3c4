//go:build no_automation

package main

import (
	"log/slog"

	"homie-controller/internal/controller"
	"homie-controller/internal/mqtt"
	"homie-controller/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *controller.Controller, _ *mqtt.Transport, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
