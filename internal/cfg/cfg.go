// Package cfg holds the server configuration. Every field is a flag; any
// flag not given on the command line can come from PREFIX_FLAG_NAME in the
// environment.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-helmet/internal/log"
)

// EnvPrefix is prepended to upper-cased flag names to form env var names.
const EnvPrefix = "HELMET_"

type App struct {
	LogJSON    bool
	LogLevel   string
	StackLevel string
	ErrorLinks int

	HTTPPort    int
	AdminPort   int
	EnablePprof bool
	DrainDelay  time.Duration

	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string

	SiteDir string

	PolicyFile          string
	PolicySSMParam      string
	PolicyS3Bucket      string
	PolicyS3Prefix      string
	PolicySigningKeyARN string
	EnablePolicyUpdates bool
	PolicyPollInterval  time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
	TrustedHops    int
}

// Register binds all config fields to fs with defaults inline.
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StackLevel, "stack-level", "error", "lowest level that gets a stack trace (debug|info|warn|error)")
	fs.IntVar(&c.ErrorLinks, "error-links", 5, "max wrapped errors described per error log, 0 disables (0..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "site listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "serve pprof on the admin port")
	fs.DurationVar(&c.DrainDelay, "drain-delay", 15*time.Second, "how long to fail readiness before shutting listeners down")

	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "export OTLP traces to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "push profiles to pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) for pyro-server")

	fs.StringVar(&c.SiteDir, "site-dir", "", "directory to serve as the site, embedded default page when empty")

	fs.StringVar(&c.PolicyFile, "policy-file", "", "local YAML header policy; takes precedence over S3")
	fs.StringVar(&c.PolicySSMParam, "policy-ssm-param", "", "ssm parameter holding the sha256 of the active policy")
	fs.StringVar(&c.PolicyS3Bucket, "policy-s3-bucket", "", "s3 bucket holding policy documents")
	fs.StringVar(&c.PolicyS3Prefix, "policy-s3-prefix", "helmet/policies", "s3 key prefix for policy documents")
	fs.StringVar(&c.PolicySigningKeyARN, "policy-signing-key-arn", "", "KMS key ARN policy signatures are verified against")
	fs.BoolVar(&c.EnablePolicyUpdates, "enable-policy-updates", false, "poll SSM for a new policy and swap it in")
	fs.DurationVar(&c.PolicyPollInterval, "policy-poll-interval", 30*time.Second, "how often to poll SSM for a new policy")

	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 10, "per-IP requests per second on the site listener")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 40, "per-IP burst on the site listener")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "X-Forwarded-For entries appended by trusted proxies (0..5)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from the
// environment. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate reports every invalid field at once.
func Validate(c App) error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		add("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort)
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		add("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort)
	}
	if c.AdminPort == c.HTTPPort {
		add("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort)
	}
	if c.DrainDelay < 0 {
		add("DRAIN_DELAY must not be negative (got %s)", c.DrainDelay)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL: %w", err))
	}
	if _, err := log.ParseLevel(c.StackLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid STACK_LEVEL: %w", err))
	}
	if c.ErrorLinks < 0 || c.ErrorLinks > 64 {
		add("ERROR_LINKS must be 0..64 (got %d)", c.ErrorLinks)
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		add("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample)
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			add("OTLP_ENDPOINT required when ENABLE_TRACING=true")
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			add("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err)
		}
	}
	if c.EnablePyroscope {
		if u, err := url.Parse(c.PyroServer); c.PyroServer == "" || err != nil || u.Scheme == "" || u.Host == "" {
			add("PYRO_SERVER must be a URL when ENABLE_PYROSCOPE=true (got %q)", c.PyroServer)
		}
		if c.PyroTenantID == "" {
			add("PYRO_TENANT required when ENABLE_PYROSCOPE=true")
		}
	}

	if c.SiteDir != "" {
		if st, err := os.Stat(c.SiteDir); err != nil || !st.IsDir() {
			add("SITE_DIR %q is not a directory", c.SiteDir)
		}
	}

	if c.EnablePolicyUpdates {
		if c.PolicyFile != "" {
			add("POLICY_FILE and ENABLE_POLICY_UPDATES are mutually exclusive")
		}
		if c.PolicySSMParam == "" {
			add("POLICY_SSM_PARAM is required when ENABLE_POLICY_UPDATES=true")
		}
		if c.PolicyS3Bucket == "" {
			add("POLICY_S3_BUCKET is required when ENABLE_POLICY_UPDATES=true")
		}
		if c.PolicyS3Prefix == "" {
			add("POLICY_S3_PREFIX is required when ENABLE_POLICY_UPDATES=true")
		}
		if c.PolicyPollInterval < 5*time.Second {
			add("POLICY_POLL_INTERVAL must be at least 5s (got %s)", c.PolicyPollInterval)
		}
	}
	if (c.PolicySSMParam == "") != (c.PolicyS3Bucket == "") {
		add("POLICY_SSM_PARAM and POLICY_S3_BUCKET must be set together")
	}

	if c.RateLimitRPS <= 0 {
		add("RATE_LIMIT_RPS must be positive (got %g)", c.RateLimitRPS)
	}
	if c.RateLimitBurst < 1 {
		add("RATE_LIMIT_BURST must be at least 1 (got %d)", c.RateLimitBurst)
	}
	if c.TrustedHops < 0 || c.TrustedHops > 5 {
		add("TRUSTED_HOPS must be 0..5 (got %d)", c.TrustedHops)
	}

	return errors.Join(errs...)
}

// RemoteSource reports whether the policy should come from SSM and S3.
func (c App) RemoteSource() bool {
	return c.PolicyFile == "" && c.PolicySSMParam != "" && c.PolicyS3Bucket != ""
}
