package main

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/keithlinneman/linnemanlabs-helmet/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/helmet"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/log"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/policy"
)

// loadInitialPolicy fills mgr from the policy file, else from S3, else with
// the default features. The returned loader is nil unless the policy comes
// from S3.
func loadInitialPolicy(ctx context.Context, L log.Logger, conf cfg.App, mgr *policy.Manager) (*policy.Loader, error) {
	if conf.PolicyFile != "" {
		snap, err := policy.LoadFile(conf.PolicyFile)
		if err != nil {
			// a broken local policy is an operator error, refuse to start
			return nil, err
		}
		mgr.Set(*snap)
		L.Info(ctx, "loaded policy file",
			"path", conf.PolicyFile,
			"policy_hash", snap.Meta.SHA256,
			"features", snap.Meta.Features,
		)
		return nil, nil
	}

	if !conf.RemoteSource() {
		mgr.Set(*policy.Default())
		L.Info(ctx, "no policy configured, using default features", "features", mgr.Current().Features())
		return nil, nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	var verifier policy.SignatureVerifier
	if conf.PolicySigningKeyARN != "" {
		verifier = cryptoutil.NewKMSVerifier(kms.NewFromConfig(awsCfg), conf.PolicySigningKeyARN)
	}

	loader, err := policy.NewLoader(ctx, policy.LoaderOptions{
		Logger:    L,
		SSMParam:  conf.PolicySSMParam,
		S3Bucket:  conf.PolicyS3Bucket,
		S3Prefix:  conf.PolicyS3Prefix,
		Verifier:  verifier,
		AWSConfig: &awsCfg,
	})
	if err != nil {
		return nil, err
	}

	if err := loader.LoadIntoManager(ctx, mgr); err != nil {
		// serve the defaults, the watcher retries if enabled
		L.Error(ctx, err, "failed to load policy from S3, falling back to defaults")
		mgr.Set(*policy.Default())
		return loader, nil
	}
	L.Info(ctx, "loaded policy from S3",
		"policy_hash", mgr.PolicyHash(),
		"signed", verifier != nil,
		"features", mgr.Current().Features(),
	)
	return loader, nil
}

func recordPolicy(m *metrics.ServerMetrics, snap *policy.Snapshot) {
	m.SetPolicy(snap.Meta.SHA256, string(snap.Meta.Source), snap.Helmet.Features(), helmet.Features(), snap.LoadedAt)
}
