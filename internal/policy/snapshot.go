package policy

import (
	"time"

	"github.com/keithlinneman/linnemanlabs-helmet/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/helmet"
	"github.com/keithlinneman/linnemanlabs-helmet/internal/xerrors"
)

type Source string

const (
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceS3      Source = "s3"
)

type Meta struct {
	Source   Source   `json:"source"`
	SHA256   string   `json:"sha256,omitempty"`
	Features []string `json:"features"`
	Signed   bool     `json:"signed"`
}

// Snapshot is one composed policy. Helmet is shared by every request that
// observed this snapshot and is never mutated.
type Snapshot struct {
	Helmet   *helmet.Helmet
	Meta     Meta
	LoadedAt time.Time
}

// Compose parses a policy document and builds its snapshot. The SHA-256 of
// data is recorded as the policy identity.
func Compose(data []byte, src Source) (*Snapshot, error) {
	cfg, err := helmet.Parse(data)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse policy")
	}
	h, err := helmet.New(cfg)
	if err != nil {
		return nil, xerrors.Wrap(err, "compose policy")
	}
	return newSnapshot(h, src, cryptoutil.SHA256Hex(data)), nil
}

// Default is the snapshot used when no policy document is configured.
func Default() *Snapshot {
	h, err := helmet.New(nil)
	if err != nil {
		// the default registry always composes
		panic(err)
	}
	return newSnapshot(h, SourceDefault, "")
}

func newSnapshot(h *helmet.Helmet, src Source, sha string) *Snapshot {
	return &Snapshot{
		Helmet: h,
		Meta: Meta{
			Source:   src,
			SHA256:   sha,
			Features: h.Features(),
		},
		LoadedAt: time.Now().UTC(),
	}
}
