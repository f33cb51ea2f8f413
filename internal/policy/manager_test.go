package policy

import (
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestManager_Empty(t *testing.T) {
	m := NewManager()
	if _, ok := m.Get(); ok {
		t.Fatal("empty manager reports a snapshot")
	}
	err := m.ReadyErr()
	if err == nil || err.Error() != "no active policy" {
		t.Errorf("ReadyErr before Set = %v", err)
	}
	var st interface{ StackPCs() []uintptr }
	if !errors.As(err, &st) {
		t.Error("ReadyErr carries no stack")
	}
	if m.Current() == nil {
		t.Fatal("Current must fall back to the default policy")
	}
	if m.Source() != SourceDefault || m.PolicyHash() != "" {
		t.Errorf("source=%s hash=%q", m.Source(), m.PolicyHash())
	}
	if !m.LoadedAt().IsZero() {
		t.Error("LoadedAt should be zero before Set")
	}

	rec := httptest.NewRecorder()
	if _, err := m.Current().Run(rec, httptest.NewRequest("GET", "/", nil)); err != nil {
		t.Fatal(err)
	}
	if rec.Header().Get("X-Frame-Options") != "SAMEORIGIN" {
		t.Errorf("default policy headers = %v", rec.Header())
	}
}

func TestManager_SetGet(t *testing.T) {
	m := NewManager()
	snap, err := Compose([]byte(docStrict), SourceS3)
	if err != nil {
		t.Fatal(err)
	}
	snap.LoadedAt = time.Time{}
	m.Set(*snap)

	got, ok := m.Get()
	if !ok {
		t.Fatal("Get after Set reported nothing")
	}
	if got == snap {
		t.Error("Set should store a copy")
	}
	if got.LoadedAt.IsZero() {
		t.Error("Set should stamp LoadedAt")
	}
	if m.ReadyErr() != nil {
		t.Errorf("ReadyErr = %v", m.ReadyErr())
	}
	if m.PolicyHash() != snap.Meta.SHA256 || m.Source() != SourceS3 {
		t.Errorf("hash=%s source=%s", m.PolicyHash(), m.Source())
	}
	if m.Current() != snap.Helmet {
		t.Error("Current should return the installed helmet")
	}

	rec := httptest.NewRecorder()
	_, _ = m.Current().Run(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Errorf("X-Frame-Options = %q", rec.Header().Get("X-Frame-Options"))
	}
}

func TestManager_ConcurrentSwap(t *testing.T) {
	m := NewManager()
	a, _ := Compose([]byte(docStrict), SourceS3)
	b, _ := Compose([]byte(docLoose), SourceS3)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if j%2 == 0 {
					m.Set(*a)
				} else {
					m.Set(*b)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				h := m.Current()
				rec := httptest.NewRecorder()
				if _, err := h.Run(rec, httptest.NewRequest("GET", "/", nil)); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
