package sitehandler

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/keithlinneman/linnemanlabs-helmet/internal/log"
)

var ErrInvalidOptions = errors.New("sitehandler: invalid options")

type Options struct {
	Logger log.Logger

	// Site is the document root. Required.
	Site fs.FS
	// Fallback supplies NotFoundFile when Site has none. Optional.
	Fallback fs.FS

	NotFoundFile string // default "404.html"

	// Cache-Control by file type. Applied only when nothing upstream set
	// Cache-Control already, so a no-cache security policy wins.
	HTMLCacheControl  string // default "no-cache"
	AssetCacheControl string // default "public, max-age=31536000, immutable"
	OtherCacheControl string // default "public, max-age=3600"
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.NotFoundFile == "" {
		o.NotFoundFile = "404.html"
	}
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=31536000, immutable"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=3600"
	}
}

func (o *Options) validate() error {
	if o.Site == nil {
		return fmt.Errorf("%w: Site is nil", ErrInvalidOptions)
	}
	if !fs.ValidPath(o.NotFoundFile) {
		return fmt.Errorf("%w: NotFoundFile %q is not a relative slash path", ErrInvalidOptions, o.NotFoundFile)
	}
	return nil
}
