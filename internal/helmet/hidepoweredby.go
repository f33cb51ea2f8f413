package helmet

import "net/http"

// HidePoweredByOptions configures HidePoweredBy.
type HidePoweredByOptions struct {
	// SetTo replaces the header with a decoy value instead of removing it.
	SetTo string `yaml:"setTo"`
}

// HidePoweredBy removes X-Powered-By, or overwrites it when SetTo is set.
func HidePoweredBy(opts HidePoweredByOptions) (Middleware, error) {
	if opts.SetTo != "" {
		return constant(FeatureHidePoweredBy, "X-Powered-By", opts.SetTo), nil
	}
	return headerSetter{name: FeatureHidePoweredBy, set: func(h http.Header, _ *http.Request) {
		h.Del("X-Powered-By")
	}}, nil
}
