// Package cryptoutil verifies the integrity and origin of header policy
// documents: SHA-256 content addressing with constant-time comparison, and
// detached signatures checked against an AWS KMS asymmetric key.
package cryptoutil
