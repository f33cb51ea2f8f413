package sitehandler

import (
	"io/fs"
	"path"
	"strings"
)

// resolvePath maps a URL path onto a file in fsys. A non-empty redirect
// means the caller should send the client to the canonical URL instead.
func resolvePath(urlPath string, fsys fs.FS) (file, redirect string, ok bool) {
	p := urlPath
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if strings.ContainsAny(p, "\x00\\") || hasDotSegments(p) {
		return "", "", false
	}

	dir := strings.HasSuffix(p, "/")
	clean := path.Clean(p)
	rel := strings.TrimPrefix(clean, "/")

	switch {
	case clean == "/":
		return found(fsys, "index.html")
	case dir:
		return found(fsys, rel+"/index.html")
	case path.Ext(clean) != "":
		return found(fsys, rel)
	}

	// extensionless path naming a directory: redirect to the slash form
	if existsFile(fsys, rel+"/index.html") {
		return "", clean + "/", true
	}
	return "", "", false
}

func found(fsys fs.FS, name string) (string, string, bool) {
	if existsFile(fsys, name) {
		return name, "", true
	}
	return "", "", false
}

func hasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

func existsFile(fsys fs.FS, name string) bool {
	if fsys == nil || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}
