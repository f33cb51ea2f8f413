package helmet

import "net/http"

// NoCacheOptions configures the cache-busting headers.
type NoCacheOptions struct {
	// NoETag also removes any ETag already on the response.
	NoETag bool `yaml:"noEtag"`
}

// NoCache asks browsers and intermediaries not to cache the response.
func NoCache(opts NoCacheOptions) (Middleware, error) {
	noETag := opts.NoETag
	return headerSetter{name: FeatureNoCache, set: func(h http.Header, _ *http.Request) {
		h.Set("Surrogate-Control", "no-store")
		h.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
		if noETag {
			h.Del("ETag")
		}
	}}, nil
}
