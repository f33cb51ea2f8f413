package helmet

// DNSPrefetchControlOptions configures X-DNS-Prefetch-Control.
type DNSPrefetchControlOptions struct {
	// Allow sets the header to "on" instead of "off".
	Allow bool `yaml:"allow"`
}

// DNSPrefetchControl controls browser DNS prefetching.
func DNSPrefetchControl(opts DNSPrefetchControlOptions) (Middleware, error) {
	value := "off"
	if opts.Allow {
		value = "on"
	}
	return constant(FeatureDNSPrefetchControl, "X-DNS-Prefetch-Control", value), nil
}
