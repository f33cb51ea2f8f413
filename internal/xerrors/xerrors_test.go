package xerrors

import (
	"errors"
	"io/fs"
	"runtime"
	"strings"
	"testing"
)

func frames(pcs []uintptr) []string {
	var out []string
	it := runtime.CallersFrames(pcs)
	for {
		fr, more := it.Next()
		out = append(out, fr.Function)
		if !more {
			return out
		}
	}
}

func funcAt(pc uintptr) string {
	fr, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return fr.Function
}

// New / Newf

func TestNew(t *testing.T) {
	err := New("policy missing")
	if err.Error() != "policy missing" {
		t.Errorf("Error() = %q", err.Error())
	}
	s, ok := err.(*stacked)
	if !ok {
		t.Fatalf("New returned %T", err)
	}
	if got := frames(s.StackPCs()); !strings.HasSuffix(got[0], "TestNew") {
		t.Errorf("first frame = %q, want the caller", got[0])
	}
}

func TestNewf(t *testing.T) {
	err := Newf("hash %s: size %d", "abc", 3)
	if err.Error() != "hash abc: size 3" {
		t.Errorf("Error() = %q", err.Error())
	}
}

// WithStack / EnsureTrace

func TestWithStack(t *testing.T) {
	if WithStack(nil) != nil {
		t.Error("WithStack(nil) != nil")
	}
	base := errors.New("base")
	err := WithStack(base)
	if !errors.Is(err, base) || err.Error() != "base" {
		t.Errorf("WithStack lost the original: %v", err)
	}
}

func TestEnsureTrace(t *testing.T) {
	if EnsureTrace(nil) != nil {
		t.Error("EnsureTrace(nil) != nil")
	}

	plain := errors.New("plain")
	traced := EnsureTrace(plain)
	if _, ok := traced.(*stacked); !ok {
		t.Fatalf("plain error not stacked: %T", traced)
	}
	if again := EnsureTrace(traced); again != traced {
		t.Error("EnsureTrace stacked twice")
	}

	// a stack deeper in the chain counts
	outer := Wrap(New("inner"), "outer")
	if EnsureTrace(outer) != outer {
		t.Error("EnsureTrace ignored a stack inside the chain")
	}
}

// Wrap / Wrapf

func TestWrap(t *testing.T) {
	if Wrap(nil, "x") != nil || Wrapf(nil, "x %d", 1) != nil {
		t.Error("wrapping nil should return nil")
	}

	err := Wrap(fs.ErrNotExist, "read policy")
	if err.Error() != "read policy: "+fs.ErrNotExist.Error() {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("errors.Is does not see through Wrap")
	}
	w := err.(*wrapped)
	if fn := funcAt(w.PC()); !strings.HasSuffix(fn, "TestWrap") {
		t.Errorf("PC points at %q", fn)
	}
}

func TestWrapf_Chain(t *testing.T) {
	root := errors.New("timeout")
	err := Wrapf(Wrapf(root, "get %s", "/param"), "poll %d", 3)
	if err.Error() != "poll 3: get /param: timeout" {
		t.Errorf("Error() = %q", err.Error())
	}
	var w *wrapped
	if !errors.As(err, &w) {
		t.Fatal("errors.As failed")
	}
	if errors.Unwrap(errors.Unwrap(err)) != root {
		t.Error("chain does not end at root")
	}
}
