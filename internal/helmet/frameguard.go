package helmet

import (
	"fmt"
	"strings"
)

// FrameguardOptions configures X-Frame-Options.
type FrameguardOptions struct {
	// Action is deny, sameorigin (default) or allow-from, case-insensitive.
	Action string `yaml:"action" validate:"omitempty,oneof=deny sameorigin allow-from"`

	// Domain is required with allow-from and ignored otherwise.
	Domain string `yaml:"domain" validate:"omitempty,url"`
}

// Frameguard mitigates clickjacking by restricting who may frame the site.
func Frameguard(opts FrameguardOptions) (Middleware, error) {
	opts.Action = strings.ToLower(strings.TrimSpace(opts.Action))
	if opts.Action == "" {
		opts.Action = "sameorigin"
	}
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	value := strings.ToUpper(opts.Action)
	if opts.Action == "allow-from" {
		if opts.Domain == "" {
			return nil, fmt.Errorf("%w: frameguard allow-from requires a domain", ErrInvalidOptions)
		}
		value = "ALLOW-FROM " + opts.Domain
	}
	return constant(FeatureFrameguard, "X-Frame-Options", value), nil
}
