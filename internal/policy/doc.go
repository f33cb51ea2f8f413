// Package policy owns the active security header policy.
//
// A policy is a YAML document mapping helmet feature names to true, false or
// an options mapping. It is composed into an immutable *helmet.Helmet once,
// when it is loaded, and published through a [Manager] so request handling
// never parses or validates configuration.
//
// The components are:
//   - [Snapshot]: a composed helmet with the identity of the document it came from
//   - [Manager]: holds the active snapshot behind an atomic pointer
//   - [LoadFile]: reads a policy from disk
//   - [Loader]: resolves the current policy hash from SSM and downloads the
//     document (and its detached KMS signature) from S3
//   - [Watcher]: polls SSM and swaps a new policy in when the hash changes
//
// A document that fails to download, verify, parse or compose never replaces
// the active policy.
package policy
