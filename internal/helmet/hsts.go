package helmet

import (
	"net/http"
	"strconv"
)

// DefaultHSTSMaxAge is 180 days in seconds.
const DefaultHSTSMaxAge = 180 * 24 * 60 * 60

// HSTSOptions configures Strict-Transport-Security. Pointer fields
// distinguish "unset" from an explicit zero or false.
type HSTSOptions struct {
	MaxAge            *int  `yaml:"maxAge" validate:"omitempty,gte=0"`
	IncludeSubDomains *bool `yaml:"includeSubDomains"`
	Preload           bool  `yaml:"preload"`

	// SetIf, when non-nil, decides per request whether the header is sent.
	SetIf func(*http.Request) bool `yaml:"-" validate:"-"`
}

// HSTS tells browsers to keep using HTTPS for the site.
func HSTS(opts HSTSOptions) (Middleware, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	maxAge := DefaultHSTSMaxAge
	if opts.MaxAge != nil {
		maxAge = *opts.MaxAge
	}
	value := "max-age=" + strconv.Itoa(maxAge)
	if opts.IncludeSubDomains == nil || *opts.IncludeSubDomains {
		value += "; includeSubDomains"
	}
	if opts.Preload {
		value += "; preload"
	}

	setIf := opts.SetIf
	return headerSetter{name: FeatureHSTS, set: func(h http.Header, r *http.Request) {
		if setIf != nil && !setIf(r) {
			return
		}
		h.Set("Strict-Transport-Security", value)
	}}, nil
}
