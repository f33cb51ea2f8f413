// Package policyhttp publishes the active security header policy as JSON.
package policyhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-helmet/internal/helmet"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/log"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/policy"
)

// SnapshotProvider is implemented by *policy.Manager.
type SnapshotProvider interface {
	Snapshot() *policy.Snapshot
}

type API struct {
	policy SnapshotProvider
	logger log.Logger
	now    func() time.Time
}

func NewAPI(p SnapshotProvider, logger log.Logger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{policy: p, logger: logger, now: time.Now}
}

func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/api/policy", api.HandlePolicy)
	r.Get("/api/policy/registry", api.HandleRegistry)
}

// PolicyResponse describes the helmet serving requests right now.
type PolicyResponse struct {
	Name       string        `json:"name"`
	Source     policy.Source `json:"source"`
	SHA256     string        `json:"sha256,omitempty"`
	Signed     bool          `json:"signed"`
	Features   []string      `json:"features"`
	LoadedAt   time.Time     `json:"loaded_at"`
	ServerTime time.Time     `json:"server_time"`
}

// RegistryEntry is one known feature in execution order.
type RegistryEntry struct {
	Name           string `json:"name"`
	DefaultEnabled bool   `json:"default_enabled"`
	Active         bool   `json:"active"`
}

func (api *API) HandlePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap := api.policy.Snapshot()

	resp := PolicyResponse{
		Name:       snap.Helmet.Name(),
		Source:     snap.Meta.Source,
		SHA256:     snap.Meta.SHA256,
		Signed:     snap.Meta.Signed,
		Features:   snap.Helmet.Features(),
		LoadedAt:   snap.LoadedAt.UTC().Truncate(time.Second),
		ServerTime: api.now().UTC().Truncate(time.Second),
	}
	api.logger.Debug(ctx, "served policy", "source", string(resp.Source), "sha256", resp.SHA256)
	api.writeJSON(ctx, w, http.StatusOK, resp)
}

func (api *API) HandleRegistry(w http.ResponseWriter, r *http.Request) {
	active := make(map[string]bool)
	for _, f := range api.policy.Snapshot().Helmet.Features() {
		active[f] = true
	}

	all := helmet.Features()
	out := make([]RegistryEntry, len(all))
	for i, name := range all {
		out[i] = RegistryEntry{Name: name, DefaultEnabled: helmet.DefaultEnabled(name), Active: active[name]}
	}
	api.writeJSON(r.Context(), w, http.StatusOK, out)
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	// a noCache policy may already have set something stricter
	if h.Get("Cache-Control") == "" {
		h.Set("Cache-Control", "no-cache")
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
