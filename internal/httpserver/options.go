package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-helmet/internal/health"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/log"
)

// Policy is implemented by *policy.Manager.
type Policy interface {
	httpmw.HelmetSource
	httpmw.PolicyInfo
}

type Options struct {
	Logger log.Logger
	Port   int

	// Policy supplies the helmet run on every response. Nil serves the
	// default feature set.
	Policy Policy
	// Aborts counts requests ended by a failing header step.
	Aborts httpmw.AbortCounter

	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions

	Health    health.Probe
	Readiness health.Probe

	// APIRoutes registers JSON endpoints such as /api/policy.
	APIRoutes func(chi.Router)
	// Site answers everything no other route matched.
	Site http.Handler
}
