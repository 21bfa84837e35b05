package schema

import "github.com/cockroachdb/errors"

var (
	// ErrSchemaViolation means the live schema and the profile disagree.
	// It is never retried.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrUnsupportedVersion means no profile supports the server.
	ErrUnsupportedVersion = errors.New("unsupported server version")

	// ErrMissingCapability means a required server setting is off.
	ErrMissingCapability = errors.New("missing required capability")
)
