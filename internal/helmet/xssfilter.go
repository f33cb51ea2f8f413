package helmet

import (
	"net/http"
	"regexp"
	"strconv"
)

// XSSFilterOptions configures X-XSS-Protection.
type XSSFilterOptions struct {
	// SetOnOldIE sends the filter header to IE < 9 too, where the filter
	// itself can introduce XSS.
	SetOnOldIE bool   `yaml:"setOnOldIE"`
	ReportURI  string `yaml:"reportUri" validate:"omitempty,uri"`
}

var msieVersion = regexp.MustCompile(`(?i)msie\s*(\d{1,2})`)

// XSSFilter enables the legacy browser XSS filter in blocking mode.
func XSSFilter(opts XSSFilterOptions) (Middleware, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	value := "1; mode=block"
	if opts.ReportURI != "" {
		value += "; report=" + opts.ReportURI
	}
	if opts.SetOnOldIE {
		return constant(FeatureXSSFilter, "X-XSS-Protection", value), nil
	}
	return headerSetter{name: FeatureXSSFilter, set: func(h http.Header, r *http.Request) {
		if isOldIE(r.UserAgent()) {
			h.Set("X-XSS-Protection", "0")
			return
		}
		h.Set("X-XSS-Protection", value)
	}}, nil
}

func isOldIE(ua string) bool {
	m := msieVersion.FindStringSubmatch(ua)
	if m == nil {
		return false
	}
	v, err := strconv.Atoi(m[1])
	return err == nil && v < 9
}
