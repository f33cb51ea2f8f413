package helmet

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// MiddlewareName is the fixed name of every composed middleware.
const MiddlewareName = "helmet"

var (
	// ErrUnknownFeature is returned when a Config key is not a registered feature.
	ErrUnknownFeature = errors.New("helmet: unknown feature")

	// ErrRequestAsConfig is returned when the composer is handed something
	// shaped like an HTTP request instead of a configuration. The usual cause
	// is passing the middleware's own arguments where a Config was expected.
	ErrRequestAsConfig = errors.New("helmet: configuration looks like an HTTP request, pass a Config to the composer and use the returned middleware")

	// ErrInvalidConfig is returned when the configuration is not a mapping of
	// feature names to settings.
	ErrInvalidConfig = errors.New("helmet: configuration must be a mapping of feature names")

	// ErrInvalidOptions is returned when a feature rejects its options.
	ErrInvalidOptions = errors.New("helmet: invalid options")

	// ErrResponseEnded may be returned by a step that wrote the response
	// itself. The chain stops and the continuation is not invoked.
	ErrResponseEnded = errors.New("helmet: response ended")
)

// Helmet is a composed middleware. It holds the selected feature steps in
// registry order and never changes after New returns, so one value can be
// shared by every request on a listener.
type Helmet struct {
	steps []Middleware
}

// New composes the features selected by cfg. A nil or empty cfg selects the
// defaults. Unknown names and invalid feature options fail here, never at
// request time.
func New(cfg Config) (*Helmet, error) {
	return compose(registry, cfg)
}

// Compose is New for callers holding an untyped configuration, such as a map
// decoded from JSON or YAML. It rejects request-shaped values and anything
// that is not a mapping.
func Compose(v any) (*Helmet, error) {
	switch c := v.(type) {
	case nil:
		return New(nil)
	case Config:
		return New(c)
	case *Config:
		if c == nil {
			return New(nil)
		}
		return New(*c)
	case map[string]Setting:
		return New(Config(c))
	case map[string]bool:
		m := make(map[string]any, len(c))
		for k, on := range c {
			m[k] = on
		}
		cfg, err := configFromMap(m)
		if err != nil {
			return nil, err
		}
		return New(cfg)
	case map[string]any:
		cfg, err := configFromMap(c)
		if err != nil {
			return nil, err
		}
		return New(cfg)
	case *http.Request, http.Request, http.ResponseWriter, http.Header:
		return nil, ErrRequestAsConfig
	default:
		return nil, fmt.Errorf("%w: got %T", ErrInvalidConfig, v)
	}
}

// Of builds a Helmet from explicit steps, in the order given, without the
// registry. Hosts use it to run their own steps with the same error handling.
func Of(steps ...Middleware) *Helmet {
	return &Helmet{steps: append([]Middleware(nil), steps...)}
}

func compose(reg []entry, cfg Config) (*Helmet, error) {
	if err := checkNames(reg, cfg); err != nil {
		return nil, err
	}

	steps := make([]Middleware, 0, len(reg))
	for _, e := range reg {
		s := cfg[e.name]
		if !s.enabled(e.enabled) {
			continue
		}
		m, err := e.build(s.opts)
		if err != nil {
			return nil, fmt.Errorf("helmet: %s: %w", e.name, err)
		}
		steps = append(steps, m)
	}
	return &Helmet{steps: steps}, nil
}

func checkNames(reg []entry, cfg Config) error {
	var unknown []string
	for name := range cfg {
		found := false
		for _, e := range reg {
			if e.name == name {
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("%w: %s", ErrUnknownFeature, strings.Join(unknown, ", "))
}

// Name returns MiddlewareName regardless of configuration.
func (h *Helmet) Name() string { return MiddlewareName }

// Features returns the names of the selected steps in execution order.
func (h *Helmet) Features() []string {
	out := make([]string, len(h.steps))
	for i, s := range h.steps {
		out[i] = s.Name()
	}
	return out
}

// Run applies each step in order and stops at the first error. It returns
// the failing step's name with the error unchanged.
func (h *Helmet) Run(w http.ResponseWriter, r *http.Request) (string, error) {
	for _, s := range h.steps {
		if err := s.Apply(w, r); err != nil {
			return s.Name(), err
		}
	}
	return "", nil
}

// Apply makes a Helmet usable as a step of another chain.
func (h *Helmet) Apply(w http.ResponseWriter, r *http.Request) error {
	_, err := h.Run(w, r)
	return err
}

// ServeNext runs the chain and then invokes next exactly once: with nil when
// every step succeeded, or with the first error. If a step ended the response
// next is not invoked.
func (h *Helmet) ServeNext(w http.ResponseWriter, r *http.Request, next func(error)) {
	h.ServeNextFeature(w, r, func(_ string, err error) { next(err) })
}

// ServeNextFeature is ServeNext that also passes the name of the failing
// feature, empty on success.
func (h *Helmet) ServeNextFeature(w http.ResponseWriter, r *http.Request, next func(feature string, err error)) {
	feature, err := h.Run(w, r)
	if errors.Is(err, ErrResponseEnded) {
		return
	}
	next(feature, err)
}

// Middleware adapts the chain to net/http. A step error is answered with 500
// and the downstream handler is skipped.
func (h *Helmet) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeNext(w, r, func(err error) {
			if err != nil {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
}
