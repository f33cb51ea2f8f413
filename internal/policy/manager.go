package policy

import (
	"sync/atomic"
	"time"

	"github.com/keithlinneman/linnemanlabs-helmet/internal/helmet"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/xerrors"
)

// Manager publishes the active policy. Reads are lock free.
type Manager struct {
	active   atomic.Pointer[Snapshot]
	fallback *Snapshot
}

func NewManager() *Manager { return &Manager{fallback: Default()} }

// Set installs s as the active policy. s is copied.
func (m *Manager) Set(s Snapshot) {
	cp := s
	if cp.LoadedAt.IsZero() {
		cp.LoadedAt = time.Now().UTC()
	}
	m.active.Store(&cp)
}

// Get returns the active snapshot and whether one was ever set.
func (m *Manager) Get() (*Snapshot, bool) {
	s := m.active.Load()
	return s, s != nil && s.Helmet != nil
}

// Snapshot returns the active snapshot, or the default policy if nothing
// has been set.
func (m *Manager) Snapshot() *Snapshot {
	if s, ok := m.Get(); ok {
		return s
	}
	return m.fallback
}

// Current returns the helmet requests should run. It implements
// httpmw.HelmetSource.
func (m *Manager) Current() *helmet.Helmet { return m.Snapshot().Helmet }

// PolicyHash is the SHA-256 of the active document, empty for defaults.
func (m *Manager) PolicyHash() string { return m.Snapshot().Meta.SHA256 }

func (m *Manager) Source() Source { return m.Snapshot().Meta.Source }

func (m *Manager) LoadedAt() time.Time {
	if s, ok := m.Get(); ok {
		return s.LoadedAt
	}
	return time.Time{}
}

// ReadyErr reports an error until a policy has been set.
func (m *Manager) ReadyErr() error {
	if _, ok := m.Get(); !ok {
		return xerrors.New("no active policy")
	}
	return nil
}
