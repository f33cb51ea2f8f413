package helmet

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var referrerPolicies = map[string]bool{
	"":                                true,
	"no-referrer":                     true,
	"no-referrer-when-downgrade":      true,
	"same-origin":                     true,
	"origin":                          true,
	"strict-origin":                   true,
	"origin-when-cross-origin":        true,
	"strict-origin-when-cross-origin": true,
	"unsafe-url":                      true,
}

// PolicyList is one or more Referrer-Policy tokens. In YAML it may be a
// single string or a sequence.
type PolicyList []string

func (p *PolicyList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*p = PolicyList{node.Value}
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return err
	}
	*p = list
	return nil
}

// ReferrerPolicyOptions configures Referrer-Policy. An empty Policy means
// no-referrer.
type ReferrerPolicyOptions struct {
	Policy PolicyList `yaml:"policy" validate:"omitempty,unique"`
}

// ReferrerPolicy controls how much referrer information is sent.
func ReferrerPolicy(opts ReferrerPolicyOptions) (Middleware, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	policy := []string(opts.Policy)
	if len(policy) == 0 {
		policy = []string{"no-referrer"}
	}
	for _, p := range policy {
		if !referrerPolicies[p] {
			return nil, fmt.Errorf("%w: referrerPolicy: unknown policy %q", ErrInvalidOptions, p)
		}
	}
	return constant(FeatureReferrerPolicy, "Referrer-Policy", strings.Join(policy, ",")), nil
}
