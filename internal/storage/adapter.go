// Package storage defines the persistence ports for delegations and the
// content object catalog. Implementations must provide atomic
// read-modify-write per (subject, grantee) key; backends live in subpackages
// so a durable store can be substituted without touching authorization logic.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/evanrel/capshare/pkg/types"
)

var (
	// ErrNotFound indicates no record exists for the requested key.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates an object with the same ID is already registered.
	ErrDuplicate = errors.New("duplicate object")
)

// DelegationStore holds the authoritative set of active and revoked
// delegations, keyed by (subjectID, grantee).
type DelegationStore interface {
	// Put inserts or replaces the delegation for its (subjectID, grantee)
	// key. Last write wins: a re-issued delegation supersedes the prior one
	// entirely, including any revocation of the prior grant.
	Put(ctx context.Context, d types.Delegation) error

	// Get returns the current delegation for the key, or ErrNotFound.
	Get(ctx context.Context, subjectID, grantee string) (types.Delegation, error)

	// Revoke marks the current delegation revoked. The returned bool reports
	// whether a record existed; revoking an already-revoked delegation is not
	// an error and still reports true.
	Revoke(ctx context.Context, subjectID, grantee string) (bool, error)

	// ListActive returns all non-revoked delegations for the subject whose
	// expiry is after now, ordered by IssuedAt ascending.
	ListActive(ctx context.Context, subjectID string, now time.Time) ([]types.Delegation, error)
}

// ObjectCatalog holds the registered content objects.
type ObjectCatalog interface {
	// PutObject registers a new object. Returns ErrDuplicate if the ID is
	// already registered.
	PutObject(ctx context.Context, obj types.ContentObject) error

	// GetObject returns the object with the given ID, or ErrNotFound.
	GetObject(ctx context.Context, id string) (types.ContentObject, error)

	// ListByOwner returns all objects owned by the identity, ordered by
	// UploadedAt ascending.
	ListByOwner(ctx context.Context, owner string) ([]types.ContentObject, error)
}
