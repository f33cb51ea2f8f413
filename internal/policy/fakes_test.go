package policy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/linnemanlabs-helmet/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/log"
)

const (
	testSSMParam = "/helmet/policy/sha256"
	testBucket   = "policy-bucket"
	testPrefix   = "helmet/policies"
)

const (
	docStrict = "frameguard:\n  action: deny\nnoCache: true\nxssFilter: false\n"
	docLoose  = "hsts: false\nreferrerPolicy:\n  policy: [no-referrer, strict-origin]\n"
)

type fakeSSM struct {
	mu    sync.Mutex
	value *string
	err   error
	calls int
}

func ssmWithValue(v string) *fakeSSM { return &fakeSSM{value: aws.String(v)} }

func (f *fakeSSM) set(v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = aws.String(v)
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: in.Name, Value: f.value}}, nil
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	// hideLength leaves ContentLength unset like a chunked response
	hideLength bool
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	out := &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}
	if !f.hideLength {
		out.ContentLength = aws.Int64(int64(len(data)))
	}
	return out, nil
}

// putPolicy stores doc under its content hash and returns the hash.
func putPolicy(s *fakeS3, doc string) string {
	hash := cryptoutil.SHA256Hex([]byte(doc))
	s.put(testPrefix+"/"+hash+".yaml", []byte(doc))
	return hash
}

type fakeVerifier struct {
	good []byte
	err  error
}

func (v *fakeVerifier) VerifySignature(_ context.Context, _, sig []byte) error {
	if v.err != nil {
		return v.err
	}
	if !bytes.Equal(sig, v.good) {
		return errors.New("signature mismatch")
	}
	return nil
}

func newTestLoader(ssmc *fakeSSM, s3c *fakeS3, verifier SignatureVerifier) *Loader {
	l, err := NewLoader(context.Background(), LoaderOptions{
		Logger:    log.Nop(),
		SSMParam:  testSSMParam,
		S3Bucket:  testBucket,
		S3Prefix:  testPrefix,
		Verifier:  verifier,
		SSMClient: ssmc,
		S3Client:  s3c,
	})
	if err != nil {
		panic(err)
	}
	return l
}
