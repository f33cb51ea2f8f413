// Package webassets carries the site served when no site directory is
// configured.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed site
var embedded embed.FS

// SiteFS returns the embedded site rooted at its index.html.
func SiteFS() fs.FS {
	sub, err := fs.Sub(embedded, "site")
	if err != nil {
		panic(fmt.Errorf("webassets: site subfs: %w", err))
	}
	return sub
}
