package helmet

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultCSPDirectives is used when ContentSecurityPolicy is enabled without
// directives. Directives with no values are emitted bare.
var DefaultCSPDirectives = map[string][]string{
	"default-src":               {"'self'"},
	"base-uri":                  {"'self'"},
	"block-all-mixed-content":   nil,
	"font-src":                  {"'self'", "https:", "data:"},
	"frame-ancestors":           {"'self'"},
	"img-src":                   {"'self'", "data:"},
	"object-src":                {"'none'"},
	"script-src":                {"'self'"},
	"script-src-attr":           {"'none'"},
	"style-src":                 {"'self'", "https:", "'unsafe-inline'"},
	"upgrade-insecure-requests": nil,
}

// CSPOptions configures Content-Security-Policy. Directive names may be
// camelCased (defaultSrc) or dashed (default-src).
type CSPOptions struct {
	Directives map[string][]string `yaml:"directives"`
	ReportOnly bool                `yaml:"reportOnly"`
}

// ContentSecurityPolicy sets Content-Security-Policy, or the Report-Only
// variant, from a directive map.
func ContentSecurityPolicy(opts CSPOptions) (Middleware, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	directives := opts.Directives
	if len(directives) == 0 {
		directives = DefaultCSPDirectives
	}

	normalized := make(map[string][]string, len(directives))
	for name, values := range directives {
		key := dasherize(strings.TrimSpace(name))
		if key == "" {
			return nil, fmt.Errorf("%w: contentSecurityPolicy: empty directive name", ErrInvalidOptions)
		}
		if _, dup := normalized[key]; dup {
			return nil, fmt.Errorf("%w: contentSecurityPolicy: directive %s given twice", ErrInvalidOptions, key)
		}
		for _, v := range values {
			if strings.ContainsAny(v, ";,") {
				return nil, fmt.Errorf("%w: contentSecurityPolicy %s: value %q contains a separator", ErrInvalidOptions, key, v)
			}
		}
		normalized[key] = values
	}

	header := "Content-Security-Policy"
	if opts.ReportOnly {
		_, uri := normalized["report-uri"]
		_, to := normalized["report-to"]
		if !uri && !to {
			return nil, fmt.Errorf("%w: contentSecurityPolicy: reportOnly requires report-uri or report-to", ErrInvalidOptions)
		}
		header = "Content-Security-Policy-Report-Only"
	}

	return constant(FeatureContentSecurityPolicy, header, cspString(normalized)), nil
}

// cspString serializes directives with default-src first and the rest sorted.
func cspString(directives map[string][]string) string {
	names := make([]string, 0, len(directives))
	for name := range directives {
		if name != "default-src" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := directives["default-src"]; ok {
		names = append([]string{"default-src"}, names...)
	}

	parts := make([]string, 0, len(names))
	for _, name := range names {
		if values := directives[name]; len(values) > 0 {
			parts = append(parts, name+" "+strings.Join(values, " "))
		} else {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "; ")
}
