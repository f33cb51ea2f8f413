package helmet

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Feature names accepted as Config keys.
const (
	FeatureContentSecurityPolicy        = "contentSecurityPolicy"
	FeatureDNSPrefetchControl           = "dnsPrefetchControl"
	FeatureExpectCT                     = "expectCt"
	FeatureFeaturePolicy                = "featurePolicy"
	FeatureFrameguard                   = "frameguard"
	FeatureHidePoweredBy                = "hidePoweredBy"
	FeatureHSTS                         = "hsts"
	FeatureIENoOpen                     = "ieNoOpen"
	FeatureNoCache                      = "noCache"
	FeatureNoSniff                      = "noSniff"
	FeaturePermittedCrossDomainPolicies = "permittedCrossDomainPolicies"
	FeatureReferrerPolicy               = "referrerPolicy"
	FeatureXSSFilter                    = "xssFilter"
)

// factory builds a feature middleware from its raw options value.
type factory func(raw any) (Middleware, error)

type entry struct {
	name    string
	enabled bool
	build   factory
}

// registry is the fixed execution order of every feature.
var registry = []entry{
	{FeatureContentSecurityPolicy, false, factoryOf(ContentSecurityPolicy)},
	{FeatureDNSPrefetchControl, true, factoryOf(DNSPrefetchControl)},
	{FeatureExpectCT, false, factoryOf(ExpectCT)},
	{FeatureFeaturePolicy, false, factoryOf(FeaturePolicy)},
	{FeatureFrameguard, true, factoryOf(Frameguard)},
	{FeatureHidePoweredBy, true, factoryOf(HidePoweredBy)},
	{FeatureHSTS, true, factoryOf(HSTS)},
	{FeatureIENoOpen, true, factoryOf(IENoOpen)},
	{FeatureNoCache, false, factoryOf(NoCache)},
	{FeatureNoSniff, true, factoryOf(NoSniff)},
	{FeaturePermittedCrossDomainPolicies, false, factoryOf(PermittedCrossDomainPolicies)},
	{FeatureReferrerPolicy, false, factoryOf(ReferrerPolicy)},
	{FeatureXSSFilter, true, factoryOf(XSSFilter)},
}

// Features returns every known feature name in execution order.
func Features() []string {
	out := make([]string, len(registry))
	for i, e := range registry {
		out[i] = e.name
	}
	return out
}

// DefaultEnabled reports whether a feature runs when absent from a Config.
// Unknown names report false.
func DefaultEnabled(name string) bool {
	for _, e := range registry {
		if e.name == name {
			return e.enabled
		}
	}
	return false
}

// factoryOf adapts a typed constructor so it accepts options in any of the
// forms a Config can carry: nothing, the options struct, a pointer to it, a
// YAML node, or a string-keyed map decoded from JSON/YAML or built by hand.
func factoryOf[T any](fn func(T) (Middleware, error)) factory {
	return func(raw any) (Middleware, error) {
		var opts T
		switch v := raw.(type) {
		case nil:
		case T:
			opts = v
		case *T:
			if v != nil {
				opts = *v
			}
		case *yaml.Node:
			if err := decodeStrict(v, &opts); err != nil {
				return nil, err
			}
		case map[string]any, map[string]string, map[string][]string, map[string]bool, map[string]int:
			if err := decodeStrict(v, &opts); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unsupported options type %T", ErrInvalidOptions, raw)
		}
		return fn(opts)
	}
}

// decodeStrict re-encodes v and decodes it into dst, rejecting unknown keys.
func decodeStrict(v any, dst any) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}
