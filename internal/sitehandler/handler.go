// Package sitehandler serves a static site from an fs.FS with pretty URLs,
// per-type cache policy and a themed 404 page.
package sitehandler

import (
	"context"
	"io/fs"
	"mime"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-helmet/internal/log"
)

type Handler struct {
	opts Options
}

func New(opts Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if !existsFile(opts.Site, "index.html") {
		opts.Logger.Warn(context.Background(), "site has no index.html, / will answer 404")
	}
	return &Handler{opts: opts}, nil
}

// RegisterRoutes makes the site the fallback for anything the router does
// not match. Register it after every other route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.NotFound(h.ServeHTTP)
	r.MethodNotAllowed(h.ServeHTTP)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		setDefault(w.Header(), "Cache-Control", "no-store")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	file, redirect, ok := resolvePath(r.URL.Path, h.opts.Site)
	if redirect != "" {
		http.Redirect(w, r, redirect, http.StatusPermanentRedirect)
		return
	}
	if !ok {
		h.serveNotFound(w, r)
		return
	}

	setDefault(w.Header(), "Cache-Control", cacheControlForFile(file, &h.opts))
	http.ServeFileFS(w, r, h.opts.Site, file)
}

func (h *Handler) serveNotFound(w http.ResponseWriter, r *http.Request) {
	setDefault(w.Header(), "Cache-Control", "no-store")

	for _, fsys := range []fs.FS{h.opts.Site, h.opts.Fallback} {
		if existsFile(fsys, h.opts.NotFoundFile) {
			if err := serveWithStatus(w, r, http.StatusNotFound, fsys, h.opts.NotFoundFile); err == nil {
				return
			}
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("404 page not found\n"))
}

// serveWithStatus writes a whole file under a fixed status. Nothing is written
// when the read fails.
func serveWithStatus(w http.ResponseWriter, r *http.Request, status int, fsys fs.FS, name string) error {
	body, err := fs.ReadFile(fsys, name)
	if err != nil {
		log.FromContext(r.Context()).Warn(r.Context(), "site file unreadable", "file", name, "error", err.Error())
		return err
	}
	ct := mime.TypeByExtension(path.Ext(name))
	if ct == "" {
		ct = http.DetectContentType(body)
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
	return nil
}
