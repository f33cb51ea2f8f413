// Package prof runs continuous profiling against a Pyroscope server.
package prof

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/linnemanlabs-helmet/internal/log"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/version"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	AuthToken     string
	TenantID      string
	Tags          map[string]string
	// Build adds version and commit tags. Tags given explicitly win.
	Build                version.Info
	ProfileMutexFraction int
	BlockProfileRate     int
}

var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
	pyroscope.ProfileBlockCount,
	pyroscope.ProfileBlockDuration,
}

// Start begins profiling and returns a stop func that is safe to call more
// than once. With profiling disabled both the stop func and the error are
// no-ops.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	noop := func() {}

	if !opts.Enabled {
		L.Info(ctx, "pyroscope disabled")
		return noop, nil
	}
	if opts.ServerAddress == "" {
		err := xerrors.New("pyroscope enabled without a server address")
		L.Error(ctx, err, "pyroscope options")
		return noop, err
	}

	app := opts.AppName
	if app == "" {
		app = version.AppName
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: app,
		ServerAddress:   opts.ServerAddress,
		AuthToken:       opts.AuthToken,
		TenantID:        opts.TenantID,
		Tags:            buildTags(opts.Build, opts.Tags),
		Logger:          pyroLogger{ctx: ctx, L: L.With("component", "pyroscope")},
		ProfileTypes:    profileTypes,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "server_address", opts.ServerAddress, "app_name", app)
		return noop, xerrors.Wrap(err, "start pyroscope")
	}
	L.Info(ctx, "pyroscope started", "server_address", opts.ServerAddress, "app_name", app)

	var once sync.Once
	return func() {
		once.Do(func() {
			profiler.Stop()
			L.Info(context.Background(), "pyroscope stopped", "server_address", opts.ServerAddress)
		})
	}, nil
}

func buildTags(b version.Info, extra map[string]string) map[string]string {
	tags := make(map[string]string, len(extra)+2)
	if b.Version != "" {
		tags["version"] = b.Version
	}
	if b.Commit != "" {
		c := b.Commit
		if len(c) > 12 {
			c = c[:12]
		}
		tags["commit"] = c
	}
	for k, v := range extra {
		tags[k] = v
	}
	return tags
}

// pyroLogger routes the profiler's own messages into the app logger.
type pyroLogger struct {
	ctx context.Context
	L   log.Logger
}

func (p pyroLogger) Infof(format string, args ...any)  { p.L.Debug(p.ctx, fmt.Sprintf(format, args...)) }
func (p pyroLogger) Debugf(format string, args ...any) { p.L.Debug(p.ctx, fmt.Sprintf(format, args...)) }
func (p pyroLogger) Errorf(format string, args ...any) { p.L.Warn(p.ctx, fmt.Sprintf(format, args...)) }
