package helmet

// NoSniffOptions is empty; noSniff takes no options.
type NoSniffOptions struct{}

// NoSniff sets X-Content-Type-Options: nosniff to stop MIME type sniffing.
func NoSniff(NoSniffOptions) (Middleware, error) {
	return constant(FeatureNoSniff, "X-Content-Type-Options", "nosniff"), nil
}
