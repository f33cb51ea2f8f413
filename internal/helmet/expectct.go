package helmet

import "strconv"

// ExpectCTOptions configures the Expect-CT header.
type ExpectCTOptions struct {
	MaxAge    int    `yaml:"maxAge" validate:"gte=0"`
	Enforce   bool   `yaml:"enforce"`
	ReportURI string `yaml:"reportUri" validate:"omitempty,url"`
}

// ExpectCT asks browsers to expect Certificate Transparency for the site.
func ExpectCT(opts ExpectCTOptions) (Middleware, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	value := "max-age=" + strconv.Itoa(opts.MaxAge)
	if opts.Enforce {
		value += ", enforce"
	}
	if opts.ReportURI != "" {
		value += `, report-uri="` + opts.ReportURI + `"`
	}
	return constant(FeatureExpectCT, "Expect-CT", value), nil
}
