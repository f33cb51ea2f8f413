package helmet

import (
	"fmt"
	"sort"
	"strings"
)

// FeaturePolicyOptions configures Feature-Policy. Feature names may be given
// camelCased (syncXhr) or dashed (sync-xhr).
type FeaturePolicyOptions struct {
	Features map[string][]string `yaml:"features" validate:"required,min=1,dive,keys,min=1,endkeys,min=1"`
}

// FeaturePolicy restricts which browser features the page may use. Unlike
// the other features it has no usable default, so enabling it without
// features is a configuration error.
func FeaturePolicy(opts FeaturePolicyOptions) (Middleware, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(opts.Features))
	for name := range opts.Features {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		values := opts.Features[name]
		for _, v := range values {
			if strings.ContainsAny(v, ";,") {
				return nil, fmt.Errorf("%w: featurePolicy %s: value %q contains a separator", ErrInvalidOptions, name, v)
			}
		}
		parts = append(parts, dasherize(name)+" "+strings.Join(values, " "))
	}
	return constant(FeatureFeaturePolicy, "Feature-Policy", strings.Join(parts, "; ")), nil
}
