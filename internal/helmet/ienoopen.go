package helmet

// IENoOpenOptions is empty; the feature takes no options.
type IENoOpenOptions struct{}

// IENoOpen sets X-Download-Options so old Internet Explorer will not open
// downloads in the site's context.
func IENoOpen(IENoOpenOptions) (Middleware, error) {
	return constant(FeatureIENoOpen, "X-Download-Options", "noopen"), nil
}
