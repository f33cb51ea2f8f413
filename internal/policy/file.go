package policy

import (
	"os"

	"github.com/keithlinneman/linnemanlabs-helmet/internal/xerrors"
)

// LoadFile reads and composes a policy document from disk.
func LoadFile(path string) (*Snapshot, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "stat policy %s", path)
	}
	if fi.Size() > MaxPolicySize {
		return nil, xerrors.Newf("policy %s is %d bytes, limit is %d", path, fi.Size(), MaxPolicySize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read policy %s", path)
	}
	snap, err := Compose(data, SourceFile)
	if err != nil {
		return nil, xerrors.Wrapf(err, "policy %s", path)
	}
	return snap, nil
}
