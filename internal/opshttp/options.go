package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-helmet/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// AllowPublic serves peers outside private, loopback and link-local
	// ranges. Off by default.
	AllowPublic  bool
	UseRecoverMW bool
	OnPanic      func()
}
