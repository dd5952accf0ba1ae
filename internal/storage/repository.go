package storage

import (
	"context"
	"errors"

	"mediagate/internal/models"
)

// ErrCredentialNotFound is returned when no row matches the supplied
// identifier exactly.
var ErrCredentialNotFound = errors.New("credential not found")

// Repository is the credential store consumed by the login path. Lookups are
// exact-match by identifier; the caller compares secrets.
type Repository interface {
	LookupCredential(ctx context.Context, identifier string) (models.Credential, error)
	Close(ctx context.Context) error
}
