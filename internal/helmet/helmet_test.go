package helmet

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// spy registry

type spyStep struct {
	name string
	err  error
	log  *[]string
}

func (s spyStep) Name() string { return s.name }

func (s spyStep) Apply(w http.ResponseWriter, _ *http.Request) error {
	*s.log = append(*s.log, s.name)
	w.Header().Add("X-Step", s.name)
	return s.err
}

type spyRegistry struct {
	entries []entry
	calls   map[string]int
	opts    map[string]any
	applied []string
	errs    map[string]error
}

func newSpyRegistry(defs ...struct {
	name    string
	enabled bool
}) *spyRegistry {
	sr := &spyRegistry{
		calls: make(map[string]int),
		opts:  make(map[string]any),
		errs:  make(map[string]error),
	}
	for _, d := range defs {
		name := d.name
		sr.entries = append(sr.entries, entry{
			name:    name,
			enabled: d.enabled,
			build: func(raw any) (Middleware, error) {
				sr.calls[name]++
				sr.opts[name] = raw
				return spyStep{name: name, err: sr.errs[name], log: &sr.applied}, nil
			},
		})
	}
	return sr
}

type def = struct {
	name    string
	enabled bool
}

// a, b, c on by default; d, e off
func fiveFeatures() *spyRegistry {
	return newSpyRegistry(
		def{"a", true},
		def{"b", true},
		def{"c", true},
		def{"d", false},
		def{"e", false},
	)
}

func serve(t *testing.T, h *Helmet) (*httptest.ResponseRecorder, []error) {
	t.Helper()
	rec := httptest.NewRecorder()
	var got []error
	h.ServeNext(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody), func(err error) {
		got = append(got, err)
	})
	return rec, got
}

// Defaults

func TestCompose_EmptyConfigSelectsDefaults(t *testing.T) {
	for _, cfg := range []Config{nil, {}} {
		sr := fiveFeatures()
		h, err := compose(sr.entries, cfg)
		if err != nil {
			t.Fatalf("compose: %v", err)
		}
		if diff := cmp.Diff([]string{"a", "b", "c"}, h.Features()); diff != "" {
			t.Errorf("features mismatch (-want +got):\n%s", diff)
		}
		for _, name := range []string{"a", "b", "c"} {
			if sr.calls[name] != 1 {
				t.Errorf("factory %s called %d times, want 1", name, sr.calls[name])
			}
			if sr.opts[name] != nil {
				t.Errorf("factory %s got options %v, want none", name, sr.opts[name])
			}
		}
		if sr.calls["d"] != 0 || sr.calls["e"] != 0 {
			t.Errorf("non-default factories called: d=%d e=%d", sr.calls["d"], sr.calls["e"])
		}
	}
}

func TestCompose_OffExcludesDefault(t *testing.T) {
	sr := fiveFeatures()
	h, err := compose(sr.entries, Config{"b": Off()})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "c"}, h.Features()); diff != "" {
		t.Errorf("features mismatch (-want +got):\n%s", diff)
	}
	if sr.calls["b"] != 0 {
		t.Errorf("factory b called %d times, want 0", sr.calls["b"])
	}
}

func TestCompose_OnIncludesNonDefault(t *testing.T) {
	sr := fiveFeatures()
	h, err := compose(sr.entries, Config{"e": On()})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c", "e"}, h.Features()); diff != "" {
		t.Errorf("features mismatch (-want +got):\n%s", diff)
	}
	if sr.opts["e"] != nil {
		t.Errorf("On() passed options %v", sr.opts["e"])
	}
}

func TestCompose_WithPassesOptionsThrough(t *testing.T) {
	sr := fiveFeatures()
	opts := &struct{ X int }{X: 7}
	if _, err := compose(sr.entries, Config{"d": With(opts), "a": With(opts)}); err != nil {
		t.Fatalf("compose: %v", err)
	}
	if sr.opts["d"] != opts {
		t.Errorf("d got %v, want the same options value", sr.opts["d"])
	}
	if sr.opts["a"] != opts {
		t.Errorf("a got %v, want the same options value", sr.opts["a"])
	}
	if sr.calls["d"] != 1 || sr.calls["a"] != 1 {
		t.Errorf("calls = %v", sr.calls)
	}
}

func TestCompose_ZeroSettingIsDefault(t *testing.T) {
	sr := fiveFeatures()
	h, err := compose(sr.entries, Config{"a": {}, "d": {}})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, h.Features()); diff != "" {
		t.Errorf("features mismatch (-want +got):\n%s", diff)
	}
}

// Ordering

func TestServeNext_RegistryOrder(t *testing.T) {
	sr := fiveFeatures()
	// map order is random; run enough times that insertion order can't leak
	for i := 0; i < 20; i++ {
		sr.applied = nil
		h, err := compose(sr.entries, Config{"e": On(), "d": On(), "a": Off()})
		if err != nil {
			t.Fatalf("compose: %v", err)
		}
		rec, errs := serve(t, h)
		if diff := cmp.Diff([]string{"b", "c", "d", "e"}, sr.applied); diff != "" {
			t.Fatalf("execution order (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"b", "c", "d", "e"}, rec.Header().Values("X-Step")); diff != "" {
			t.Fatalf("header order (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]error{nil}, errs, cmp.Comparer(func(a, b error) bool { return a == b })); diff != "" {
			t.Fatalf("continuation (-want +got):\n%s", diff)
		}
	}
}

// Short-circuit

func TestServeNext_ErrorShortCircuits(t *testing.T) {
	sr := fiveFeatures()
	boom := errors.New("boom")
	sr.errs["b"] = boom

	h, err := compose(sr.entries, nil)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	_, errs := serve(t, h)

	if diff := cmp.Diff([]string{"a", "b"}, sr.applied); diff != "" {
		t.Errorf("applied (-want +got):\n%s", diff)
	}
	if len(errs) != 1 {
		t.Fatalf("continuation called %d times, want 1", len(errs))
	}
	if errs[0] != boom {
		t.Errorf("continuation got %v, want the step error unchanged", errs[0])
	}
}

func TestRun_ReportsFailingStep(t *testing.T) {
	sr := fiveFeatures()
	sr.errs["c"] = errors.New("nope")
	h, _ := compose(sr.entries, nil)

	name, err := h.Run(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if name != "c" || err == nil {
		t.Errorf("Run = (%q, %v), want (c, error)", name, err)
	}
}

func TestServeNextFeature_NamesFailingStep(t *testing.T) {
	sr := fiveFeatures()
	boom := errors.New("boom")
	sr.errs["b"] = boom
	h, _ := compose(sr.entries, nil)

	type call struct {
		feature string
		err     error
	}
	var calls []call
	h.ServeNextFeature(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody), func(feature string, err error) {
		calls = append(calls, call{feature, err})
	})
	if len(calls) != 1 || calls[0].feature != "b" || calls[0].err != boom {
		t.Errorf("continuation = %+v, want one call (b, boom)", calls)
	}

	sr.errs["b"] = nil
	ok, _ := compose(sr.entries, nil)
	calls = nil
	ok.ServeNextFeature(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody), func(feature string, err error) {
		calls = append(calls, call{feature, err})
	})
	if len(calls) != 1 || calls[0].feature != "" || calls[0].err != nil {
		t.Errorf("continuation = %+v, want one successful call", calls)
	}
}

func TestServeNext_ResponseEndedSkipsContinuation(t *testing.T) {
	sr := fiveFeatures()
	sr.errs["a"] = ErrResponseEnded
	h, _ := compose(sr.entries, nil)

	_, errs := serve(t, h)
	if len(errs) != 0 {
		t.Errorf("continuation called %d times, want 0", len(errs))
	}
	if diff := cmp.Diff([]string{"a"}, sr.applied); diff != "" {
		t.Errorf("applied (-want +got):\n%s", diff)
	}
}

func TestServeNext_EmptyChainCallsContinuationOnce(t *testing.T) {
	sr := newSpyRegistry(def{"only", false})
	h, err := compose(sr.entries, nil)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	_, errs := serve(t, h)
	if len(errs) != 1 || errs[0] != nil {
		t.Errorf("continuation = %v, want one nil call", errs)
	}
}

func TestOf_RunsStepsAsGiven(t *testing.T) {
	var applied []string
	boom := errors.New("boom")
	h := Of(
		spyStep{name: "x", log: &applied},
		spyStep{name: "y", err: boom, log: &applied},
		spyStep{name: "z", log: &applied},
	)

	name, err := h.Run(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if name != "y" || err != boom {
		t.Errorf("Run = (%q, %v), want (y, boom)", name, err)
	}
	if diff := cmp.Diff([]string{"x", "y"}, applied); diff != "" {
		t.Errorf("applied (-want +got):\n%s", diff)
	}
	if h.Name() != MiddlewareName {
		t.Errorf("Name = %q", h.Name())
	}
}

// Configuration errors

func TestCompose_UnknownFeature(t *testing.T) {
	sr := fiveFeatures()
	_, err := compose(sr.entries, Config{"a": On(), "zzz": On(), "yyy": Off()})
	if !errors.Is(err, ErrUnknownFeature) {
		t.Fatalf("err = %v, want ErrUnknownFeature", err)
	}
	if got := err.Error(); got != "helmet: unknown feature: yyy, zzz" {
		t.Errorf("message = %q", got)
	}
	for name, n := range sr.calls {
		if n != 0 {
			t.Errorf("factory %s called before the config was rejected", name)
		}
	}
}

func TestCompose_FactoryErrorSurfaces(t *testing.T) {
	_, err := New(Config{FeatureFrameguard: With(FrameguardOptions{Action: "sideways"})})
	if !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("err = %v, want ErrInvalidOptions", err)
	}
}

func TestComposeAny_RequestLike(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	cases := map[string]any{
		"request pointer": req,
		"request value":   *req,
		"response writer": httptest.NewRecorder(),
		"header":          http.Header{},
		"request-shaped map": map[string]any{
			"method":  "GET",
			"url":     "/",
			"headers": map[string]any{},
		},
	}
	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Compose(v)
			if !errors.Is(err, ErrRequestAsConfig) {
				t.Errorf("err = %v, want ErrRequestAsConfig", err)
			}
		})
	}
}

func TestComposeAny_NotAMapping(t *testing.T) {
	for _, v := range []any{42, "frameguard", []string{"hsts"}, true} {
		if _, err := Compose(v); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Compose(%#v) err = %v, want ErrInvalidConfig", v, err)
		}
	}
}

func TestComposeAny_Map(t *testing.T) {
	h, err := Compose(map[string]any{
		FeatureFrameguard:     false,
		FeatureReferrerPolicy: map[string]any{"policy": "same-origin"},
		FeatureNoSniff:        nil,
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	want := []string{
		FeatureDNSPrefetchControl,
		FeatureHidePoweredBy,
		FeatureHSTS,
		FeatureIENoOpen,
		FeatureNoSniff,
		FeatureReferrerPolicy,
		FeatureXSSFilter,
	}
	if diff := cmp.Diff(want, h.Features()); diff != "" {
		t.Errorf("features (-want +got):\n%s", diff)
	}
}

func TestComposeAny_BoolMap(t *testing.T) {
	h, err := Compose(map[string]bool{
		FeatureHSTS:           false,
		FeatureReferrerPolicy: true,
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	want := []string{
		FeatureDNSPrefetchControl,
		FeatureFrameguard,
		FeatureHidePoweredBy,
		FeatureIENoOpen,
		FeatureNoSniff,
		FeatureReferrerPolicy,
		FeatureXSSFilter,
	}
	if diff := cmp.Diff(want, h.Features()); diff != "" {
		t.Errorf("features (-want +got):\n%s", diff)
	}

	if _, err := Compose(map[string]bool{"bogus": true}); !errors.Is(err, ErrUnknownFeature) {
		t.Errorf("unknown err = %v, want ErrUnknownFeature", err)
	}
	if _, err := Compose(map[string]bool{"method": true, "url": true}); !errors.Is(err, ErrRequestAsConfig) {
		t.Errorf("request-like err = %v, want ErrRequestAsConfig", err)
	}
}

func TestComposeAny_TypedOptionsMap(t *testing.T) {
	h, err := Compose(map[string]any{
		FeatureFrameguard: map[string]string{"action": "deny"},
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	rec := httptest.NewRecorder()
	if _, err := h.Run(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

func TestComposeAny_NilAndPointer(t *testing.T) {
	a, err := Compose(nil)
	if err != nil {
		t.Fatalf("Compose(nil): %v", err)
	}
	cfg := Config{FeatureHSTS: Off()}
	b, err := Compose(&cfg)
	if err != nil {
		t.Fatalf("Compose(&cfg): %v", err)
	}
	if len(b.Features()) != len(a.Features())-1 {
		t.Errorf("features = %v vs %v", b.Features(), a.Features())
	}
}

// Naming

func TestName_Constant(t *testing.T) {
	base, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if base.Name() != MiddlewareName || MiddlewareName != "helmet" {
		t.Fatalf("Name() = %q", base.Name())
	}
	configs := []Config{
		{FeatureHSTS: Off()},
		{FeatureNoCache: On(), FeatureReferrerPolicy: On()},
		{FeatureFrameguard: With(FrameguardOptions{Action: "deny"})},
	}
	for _, cfg := range configs {
		h, err := New(cfg)
		if err != nil {
			t.Fatalf("New(%v): %v", cfg, err)
		}
		if h.Name() != base.Name() {
			t.Errorf("Name() = %q, want %q", h.Name(), base.Name())
		}
	}
}

func TestRegistry_Order(t *testing.T) {
	want := []string{
		"contentSecurityPolicy",
		"dnsPrefetchControl",
		"expectCt",
		"featurePolicy",
		"frameguard",
		"hidePoweredBy",
		"hsts",
		"ieNoOpen",
		"noCache",
		"noSniff",
		"permittedCrossDomainPolicies",
		"referrerPolicy",
		"xssFilter",
	}
	if diff := cmp.Diff(want, Features()); diff != "" {
		t.Errorf("registry (-want +got):\n%s", diff)
	}
	for _, name := range []string{"dnsPrefetchControl", "frameguard", "hidePoweredBy", "hsts", "ieNoOpen", "noSniff", "xssFilter"} {
		if !DefaultEnabled(name) {
			t.Errorf("%s should be enabled by default", name)
		}
	}
	if DefaultEnabled("contentSecurityPolicy") || DefaultEnabled("nope") {
		t.Error("unexpected default-enabled feature")
	}
}

// End to end

func defaultHeaders(t *testing.T) http.Header {
	t.Helper()
	h, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec, _ := serve(t, h)
	return rec.Header()
}

func TestEndToEnd_Defaults(t *testing.T) {
	got := defaultHeaders(t)
	want := http.Header{
		"X-Dns-Prefetch-Control":    {"off"},
		"X-Frame-Options":           {"SAMEORIGIN"},
		"Strict-Transport-Security": {"max-age=15552000; includeSubDomains"},
		"X-Download-Options":        {"noopen"},
		"X-Content-Type-Options":    {"nosniff"},
		"X-Xss-Protection":          {"1; mode=block"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("default headers (-want +got):\n%s", diff)
	}
}

func TestEndToEnd_FrameguardOff(t *testing.T) {
	h, err := New(Config{FeatureFrameguard: Off()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec, _ := serve(t, h)

	want := defaultHeaders(t)
	want.Del("X-Frame-Options")
	if diff := cmp.Diff(want, rec.Header()); diff != "" {
		t.Errorf("headers (-want +got):\n%s", diff)
	}
}

func TestEndToEnd_ReferrerPolicyWithOptions(t *testing.T) {
	h, err := New(Config{FeatureReferrerPolicy: With(ReferrerPolicyOptions{Policy: PolicyList{"same-origin"}})})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec, _ := serve(t, h)

	want := defaultHeaders(t)
	want.Set("Referrer-Policy", "same-origin")
	if diff := cmp.Diff(want, rec.Header()); diff != "" {
		t.Errorf("headers (-want +got):\n%s", diff)
	}
}

func TestMiddleware_CallsNextAndSetsHeaders(t *testing.T) {
	h, _ := New(nil)
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})
	rec := httptest.NewRecorder()
	h.Middleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if !called {
		t.Fatal("next not called")
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Frame-Options") != "SAMEORIGIN" {
		t.Error("X-Frame-Options missing")
	}
}

func TestMiddleware_ErrorIs500(t *testing.T) {
	sr := newSpyRegistry(def{"bad", true})
	sr.errs["bad"] = errors.New("bad step")
	h, _ := compose(sr.entries, nil)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next should not be called")
	})
	rec := httptest.NewRecorder()
	h.Middleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

// Concurrency

func TestHelmet_ConcurrentUse(t *testing.T) {
	h, err := New(Config{FeatureNoCache: On(), FeatureContentSecurityPolicy: On()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			if err := h.Apply(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody)); err != nil {
				t.Errorf("Apply: %v", err)
			}
			if rec.Header().Get("Pragma") != "no-cache" {
				t.Error("Pragma missing")
			}
		}()
	}
	wg.Wait()
}
