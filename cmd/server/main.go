package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/keithlinneman/linnemanlabs-helmet/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/health"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/policy"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/policyhttp"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/sitehandler"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/webassets"

	"github.com/keithlinneman/linnemanlabs-helmet/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/log"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/prof"
	v "github.com/keithlinneman/linnemanlabs-helmet/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// flags not given on the command line come from HELMET_* (a .env file is loaded first)
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Validate already checked both levels
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StackLevel)
	lg, err := log.New(log.Options{
		App:        vi.AppName,
		Version:    vi.Version,
		Level:      lvl,
		StackLevel: stackLvl,
		JSON:       conf.LogJSON,
		ErrorLinks: conf.ErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"site_dir", conf.SiteDir,
		"policy_file", conf.PolicyFile,
		"policy_ssm_param", conf.PolicySSMParam,
		"policy_s3_bucket", conf.PolicyS3Bucket,
		"policy_s3_prefix", conf.PolicyS3Prefix,
		"policy_signing_key_arn", conf.PolicySigningKeyARN,
		"enable_policy_updates", conf.EnablePolicyUpdates,
		"trusted_hops", conf.TrustedHops,
	)

	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Build:         vi,
		Tags:          map[string]string{"component": "server"},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Insecure is true because we only export to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Component: "server",
		Build:     vi,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.New()
	m.SetBuildInfo("server", vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	mgr := policy.NewManager()
	loader, err := loadInitialPolicy(ctx, L, conf, mgr)
	if err != nil {
		L.Error(ctx, err, "failed to load initial policy")
		os.Exit(1)
	}
	recordPolicy(m, mgr.Snapshot())

	if loader != nil && conf.EnablePolicyUpdates {
		watcher := policy.NewWatcher(policy.WatcherOptions{
			Logger:       L,
			Loader:       loader,
			Manager:      mgr,
			PollInterval: conf.PolicyPollInterval,
			Metrics:      m,
			OnSwap: func(snap *policy.Snapshot) {
				recordPolicy(m, snap)
			},
		})
		go func() { _ = watcher.Run(ctx) }()
	}

	// a site directory shadows the embedded pages, which still serve the 404
	var site, fallback fs.FS = webassets.SiteFS(), nil
	if conf.SiteDir != "" {
		site, fallback = os.DirFS(conf.SiteDir), webassets.SiteFS()
	}
	siteHandler, err := sitehandler.New(sitehandler.Options{
		Logger:   L,
		Site:     site,
		Fallback: fallback,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create site handler")
		os.Exit(1)
	}

	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.CheckFunc(func(ctx context.Context) error {
			return mgr.ReadyErr()
		}),
	)

	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// logged once per visitor until it is evicted
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Policy:       mgr,
		Aborts:       m,
		UseRecoverMW: true,
		OnPanic:      m.IncHTTPPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    policyhttp.NewAPI(mgr, L).RegisterRoutes,
		Site:         siteHandler,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// the ops listener rejects public peers, the security group is the first line
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHTTPPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// worst case systemd kills the process after its start timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	// restore default handling so the second signal below is ours to catch
	stop()

	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	L.Info(bg, "shutdown gate closed, draining", "drain_delay", conf.DrainDelay.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainDelay):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "site http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	stopProf()

	L.Info(bg, "shutdown complete")
}

func notifySystemd() error {
	// set by systemd for Type=notify units
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
