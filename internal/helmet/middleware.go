package helmet

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Middleware is one step of a composed chain. Apply may read the request and
// mutate response headers. A non-nil error stops the chain; returning
// ErrResponseEnded means the step wrote the response itself.
type Middleware interface {
	Name() string
	Apply(w http.ResponseWriter, r *http.Request) error
}

// headerSetter is the Middleware every built-in feature returns.
// Header setters never fail at request time.
type headerSetter struct {
	name string
	set  func(h http.Header, r *http.Request)
}

func (m headerSetter) Name() string { return m.name }

func (m headerSetter) Apply(w http.ResponseWriter, r *http.Request) error {
	m.set(w.Header(), r)
	return nil
}

// constant returns a setter that writes a single fixed header value.
func constant(name, header, value string) headerSetter {
	return headerSetter{name: name, set: func(h http.Header, _ *http.Request) {
		h.Set(header, value)
	}}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateOptions runs struct tag validation and maps failures onto ErrInvalidOptions.
func validateOptions(opts any) error {
	if err := validate.Struct(opts); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

// dasherize turns camelCase option keys into header tokens: defaultSrc ->
// default-src. A run of capitals is one word, so reportURI -> report-uri.
// Keys that are already dashed pass through lowercased.
func dasherize(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, c := range rs {
		if isUpper(c) {
			if i > 0 && rs[i-1] != '-' && (!isUpper(rs[i-1]) || (i+1 < len(rs) && isLower(rs[i+1]))) {
				b.WriteByte('-')
			}
			b.WriteRune(c + ('a' - 'A'))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func isUpper(c rune) bool { return c >= 'A' && c <= 'Z' }
func isLower(c rune) bool { return c >= 'a' && c <= 'z' }
