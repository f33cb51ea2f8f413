package helmet

// PermittedCrossDomainPoliciesOptions configures X-Permitted-Cross-Domain-Policies.
type PermittedCrossDomainPoliciesOptions struct {
	// PermittedPolicies defaults to "none".
	PermittedPolicies string `yaml:"permittedPolicies" validate:"omitempty,oneof=none master-only by-content-type all"`
}

// PermittedCrossDomainPolicies restricts Adobe Flash and Acrobat cross-domain
// policy files.
func PermittedCrossDomainPolicies(opts PermittedCrossDomainPoliciesOptions) (Middleware, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	value := opts.PermittedPolicies
	if value == "" {
		value = "none"
	}
	return constant(FeaturePermittedCrossDomainPolicies, "X-Permitted-Cross-Domain-Policies", value), nil
}
