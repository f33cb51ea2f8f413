package policy

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-helmet/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/log"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/xerrors"
)

// MaxPolicySize bounds a policy document and its signature.
const MaxPolicySize = 256 << 10

type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// SignatureVerifier checks a detached signature over a policy document.
// *cryptoutil.KMSVerifier implements it.
type SignatureVerifier interface {
	VerifySignature(ctx context.Context, message, signature []byte) error
}

type LoaderOptions struct {
	Logger log.Logger

	// SSM parameter holding the SHA-256 of the active policy document.
	SSMParam string

	// Documents live at s3://{S3Bucket}/{S3Prefix}/{sha256}.yaml with the
	// signature next to them as {sha256}.yaml.sig.
	S3Bucket string
	S3Prefix string

	// Verifier is optional. When set, unsigned or badly signed documents
	// are rejected.
	Verifier SignatureVerifier

	// AWSConfig is used to build clients that are not supplied. Nil loads
	// the default config chain.
	AWSConfig *aws.Config
	SSMClient SSMAPI
	S3Client  S3API
}

type Loader struct {
	opts   LoaderOptions
	ssm    SSMAPI
	s3     S3API
	logger log.Logger
}

func NewLoader(ctx context.Context, opts LoaderOptions) (*Loader, error) {
	if opts.SSMParam == "" {
		return nil, xerrors.New("SSMParam is required")
	}
	if opts.S3Bucket == "" {
		return nil, xerrors.New("S3Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	if opts.SSMClient == nil || opts.S3Client == nil {
		var awsCfg aws.Config
		if opts.AWSConfig != nil {
			awsCfg = *opts.AWSConfig
		} else {
			var err error
			awsCfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, xerrors.Wrap(err, "load AWS config")
			}
		}
		if opts.SSMClient == nil {
			opts.SSMClient = ssm.NewFromConfig(awsCfg)
		}
		if opts.S3Client == nil {
			opts.S3Client = s3.NewFromConfig(awsCfg)
		}
	}

	return &Loader{
		opts:   opts,
		ssm:    opts.SSMClient,
		s3:     opts.S3Client,
		logger: opts.Logger,
	}, nil
}

// FetchCurrentHash reads the active policy hash from SSM.
func (l *Loader) FetchCurrentHash(ctx context.Context) (string, error) {
	out, err := l.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(l.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", l.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", l.opts.SSMParam)
	}
	hash, err := cryptoutil.ParseSHA256(*out.Parameter.Value)
	if err != nil {
		return "", xerrors.Wrapf(err, "SSM parameter %s", l.opts.SSMParam)
	}
	return hash, nil
}

func (l *Loader) s3Key(hash, ext string) string {
	if l.opts.S3Prefix != "" {
		return fmt.Sprintf("%s/%s%s", l.opts.S3Prefix, hash, ext)
	}
	return hash + ext
}

// Load resolves the current hash and loads that policy.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	hash, err := l.FetchCurrentHash(ctx)
	if err != nil {
		return nil, err
	}
	return l.LoadHash(ctx, hash)
}

// LoadHash downloads, verifies and composes the policy with the given hash.
func (l *Loader) LoadHash(ctx context.Context, hash string) (*Snapshot, error) {
	key := l.s3Key(hash, ".yaml")
	l.logger.Info(ctx, "downloading policy",
		"bucket", l.opts.S3Bucket,
		"key", key,
	)

	data, err := l.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if actual := cryptoutil.SHA256Hex(data); !cryptoutil.HashEqual(actual, hash) {
		return nil, xerrors.Newf("checksum mismatch: expected %s, got %s", hash, actual)
	}

	signed := false
	if l.opts.Verifier != nil {
		raw, err := l.get(ctx, l.s3Key(hash, ".yaml.sig"))
		if err != nil {
			return nil, xerrors.Wrap(err, "fetch policy signature")
		}
		sig, err := cryptoutil.DecodeSignature(raw)
		if err != nil {
			return nil, err
		}
		if err := l.opts.Verifier.VerifySignature(ctx, data, sig); err != nil {
			return nil, xerrors.Wrapf(err, "verify policy %s", hash)
		}
		signed = true
	}

	snap, err := Compose(data, SourceS3)
	if err != nil {
		return nil, xerrors.Wrapf(err, "policy %s", hash)
	}
	snap.Meta.Signed = signed
	snap.LoadedAt = time.Now().UTC()

	l.logger.Info(ctx, "loaded policy",
		"sha256", hash,
		"bytes", len(data),
		"signed", signed,
		"features", snap.Meta.Features,
	)
	return snap, nil
}

// get reads a whole object, failing if it exceeds MaxPolicySize.
func (l *Loader) get(ctx context.Context, key string) ([]byte, error) {
	out, err := l.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.opts.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get S3 object s3://%s/%s", l.opts.S3Bucket, key)
	}
	defer out.Body.Close()

	if out.ContentLength != nil && *out.ContentLength > MaxPolicySize {
		return nil, xerrors.Newf("s3://%s/%s is %d bytes, limit is %d", l.opts.S3Bucket, key, *out.ContentLength, MaxPolicySize)
	}
	data, err := io.ReadAll(io.LimitReader(out.Body, MaxPolicySize+1))
	if err != nil {
		return nil, xerrors.Wrapf(err, "read s3://%s/%s", l.opts.S3Bucket, key)
	}
	if len(data) > MaxPolicySize {
		return nil, xerrors.Newf("s3://%s/%s exceeds %d bytes", l.opts.S3Bucket, key, MaxPolicySize)
	}
	return data, nil
}

// LoadIntoManager loads the current policy and installs it.
func (l *Loader) LoadIntoManager(ctx context.Context, mgr *Manager) error {
	snap, err := l.Load(ctx)
	if err != nil {
		return err
	}
	mgr.Set(*snap)
	return nil
}
