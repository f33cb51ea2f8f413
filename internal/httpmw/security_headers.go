package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-helmet/internal/helmet"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/log"
)

// HelmetSource hands out the helmet to run for a request. *policy.Manager
// implements it; a *helmet.Helmet can be served with StaticHelmet.
type HelmetSource interface {
	Current() *helmet.Helmet
}

// StaticHelmet serves one helmet forever.
type StaticHelmet struct{ H *helmet.Helmet }

func (s StaticHelmet) Current() *helmet.Helmet { return s.H }

// AbortCounter is implemented by *metrics.ServerMetrics.
type AbortCounter interface {
	OnAbort(feature string)
}

type SecurityHeadersOptions struct {
	Logger  log.Logger
	Metrics AbortCounter
}

// SecurityHeaders runs the current helmet before next. The helmet is taken
// once per request, so a policy swap never changes headers halfway through
// one. A failing step ends the request with 500 and next is not called.
func SecurityHeaders(src HelmetSource, opts SecurityHeadersOptions) func(http.Handler) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := src.Current()
			if h == nil {
				next.ServeHTTP(w, r)
				return
			}

			span := trace.SpanFromContext(r.Context())
			if span.IsRecording() {
				span.SetAttributes(attribute.StringSlice("helmet.features", h.Features()))
			}

			h.ServeNextFeature(w, r, func(feature string, err error) {
				if err == nil {
					next.ServeHTTP(w, r)
					return
				}
				ctx := r.Context()
				opts.Logger.Error(ctx, err, "security header step failed",
					"feature", feature,
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
				)
				if opts.Metrics != nil {
					opts.Metrics.OnAbort(feature)
				}
				if span.IsRecording() {
					span.AddEvent("helmet.abort", trace.WithAttributes(attribute.String("helmet.feature", feature)))
					span.SetStatus(codes.Error, "security header step failed")
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			})
		})
	}
}

// PolicyInfo is implemented by *policy.Manager.
type PolicyInfo interface {
	PolicyHash() string
}

// PolicyHeaders exposes the first 12 characters of the active policy hash as
// X-Helmet-Policy and records the full hash on the span.
func PolicyHeaders(info PolicyInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if info != nil {
				if h := info.PolicyHash(); h != "" {
					short := h
					if len(short) > 12 {
						short = short[:12]
					}
					w.Header().Set("X-Helmet-Policy", short)
					if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
						span.SetAttributes(attribute.String("helmet.policy.sha256", h))
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
