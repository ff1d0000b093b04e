// Package reference decomposes and rebuilds container image references in the
// four-field form {registry, bucket, repository, tag} used by the transfer
// pipeline. Bucket is the organizational segment between registry and
// repository ("library" for official images).
package reference

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultRegistry is assumed when a reference carries no registry segment.
	DefaultRegistry = "docker.io"
	// DefaultBucket is assumed when a reference carries no namespace segment.
	DefaultBucket = "library"
	// DefaultTag is assumed when a reference carries no tag.
	DefaultTag = "latest"
)

var (
	ErrEmptyName         = errors.New("empty image name")
	ErrUnsupportedFormat = errors.New("unsupported image reference format")
)

// Ref is a fully decomposed image reference. Zero identity beyond value
// equality; construct a fresh one per Parse call.
type Ref struct {
	Registry   string
	Bucket     string
	Repository string
	Tag        string
}

// Parse splits a free-form image reference into its four fields.
//
// Supported forms:
//
//	name[:tag]                    -> (docker.io, library, name, tag)
//	library/name[:tag]            -> (docker.io, library, name, tag)
//	registry/name[:tag]           -> (registry, library, name, tag)
//	registry/bucket/name[:tag]    -> (registry, bucket, name, tag)
//
// The two-segment form is ambiguous: "a/b" cannot distinguish a registry from
// a namespace. The literal token "library" is treated as the namespace
// shortcut; any other first segment is assumed to be a registry. Tests pin
// this behavior; do not "fix" it without changing them.
func Parse(raw string) (Ref, error) {
	if raw == "" {
		return Ref{}, ErrEmptyName
	}

	// The tag is everything after the last colon. No colon means "latest".
	name := raw
	tag := DefaultTag
	if i := strings.LastIndex(raw, ":"); i >= 0 {
		name = raw[:i]
		if t := raw[i+1:]; t != "" {
			tag = t
		}
	}

	parts := strings.Split(name, "/")

	var ref Ref
	switch len(parts) {
	case 1:
		ref = Ref{Registry: DefaultRegistry, Bucket: DefaultBucket, Repository: parts[0], Tag: tag}
	case 2:
		if parts[0] == DefaultBucket {
			ref = Ref{Registry: DefaultRegistry, Bucket: DefaultBucket, Repository: parts[1], Tag: tag}
		} else {
			ref = Ref{Registry: parts[0], Bucket: DefaultBucket, Repository: parts[1], Tag: tag}
		}
	case 3:
		ref = Ref{Registry: parts[0], Bucket: parts[1], Repository: parts[2], Tag: tag}
	default:
		return Ref{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}

	if ref.Repository == "" {
		return Ref{}, fmt.Errorf("%w: %q", ErrEmptyName, raw)
	}
	return ref, nil
}

// SourceString rebuilds the minimal canonical source reference: the registry
// is omitted when it is the default hub and the bucket is "library"; the
// bucket alone is omitted when it is "library" on a non-default registry.
func (r Ref) SourceString() string {
	switch {
	case r.Registry == DefaultRegistry && r.Bucket == DefaultBucket:
		return fmt.Sprintf("%s:%s", r.Repository, r.Tag)
	case r.Bucket == DefaultBucket:
		return fmt.Sprintf("%s/%s:%s", r.Registry, r.Repository, r.Tag)
	default:
		return fmt.Sprintf("%s/%s/%s:%s", r.Registry, r.Bucket, r.Repository, r.Tag)
	}
}

// TargetString rebuilds the reference under a new registry domain. The target
// form is never elided: a missing or "library" bucket is still emitted
// literally, so the pushed namespace is always explicit.
func (r Ref) TargetString(domain string) string {
	return BuildTarget(domain, r.Bucket, r.Repository, r.Tag)
}

// BuildTarget builds a fully explicit reference under the given domain.
func BuildTarget(domain, bucket, repository, tag string) string {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return fmt.Sprintf("%s/%s/%s:%s", domain, bucket, repository, tag)
}
