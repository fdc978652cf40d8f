// Package authority implements the capability authority: issuance,
// verification, and revocation of delegations. This is the trust boundary;
// every capability-gated operation passes through Verify.
package authority

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evanrel/capshare/internal/storage"
	"github.com/evanrel/capshare/pkg/proof"
	"github.com/evanrel/capshare/pkg/types"
)

// Authority issues signed delegation proofs and evaluates them against live
// delegation state. Proof claims are used only to locate the matching record;
// the stored record decides, which is what makes revocation effective against
// proofs that are already in circulation.
type Authority struct {
	store  storage.DelegationStore
	did    string
	key    ed25519.PrivateKey
	pub    ed25519.PublicKey
	now    func() time.Time
	logger *slog.Logger
}

// Config configures an Authority.
type Config struct {
	// Store holds delegation state.
	Store storage.DelegationStore

	// DID is the authority's issuer identity, embedded in proofs.
	DID string

	// PrivateKey signs issued proofs.
	PrivateKey ed25519.PrivateKey

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// New creates an Authority.
func New(cfg Config) (*Authority, error) {
	if cfg.Store == nil {
		return nil, errors.New("delegation store is required")
	}
	if cfg.DID == "" {
		return nil, errors.New("issuer DID is required")
	}
	if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes", ed25519.PrivateKeySize)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Authority{
		store:  cfg.Store,
		did:    cfg.DID,
		key:    cfg.PrivateKey,
		pub:    cfg.PrivateKey.Public().(ed25519.PublicKey),
		now:    cfg.Now,
		logger: cfg.Logger,
	}, nil
}

// DID returns the authority's issuer DID.
func (a *Authority) DID() string {
	return a.did
}

// Issue mints a delegation from the object owner to grantee and returns the
// encoded signed proof alongside the stored record.
//
// ownerClaim is the caller's claimed identity and currentOwner the object's
// actual owner; they must match. The delegation is fully committed before the
// proof is returned, so a returned proof always has a live record behind it.
func (a *Authority) Issue(ctx context.Context, ownerClaim, subjectID, currentOwner, grantee string, caps []types.Capability, ttl time.Duration) (string, types.Delegation, error) {
	if ownerClaim != currentOwner {
		return "", types.Delegation{}, types.NewError(types.ErrCodeNotAuthorized,
			fmt.Sprintf("identity %s is not the owner of %s", ownerClaim, subjectID))
	}
	if grantee == "" {
		return "", types.Delegation{}, types.NewError(types.ErrCodeInvalidRequest, "grantee is required")
	}
	if ttl <= 0 {
		return "", types.Delegation{}, types.NewError(types.ErrCodeInvalidRequest,
			fmt.Sprintf("ttl must be positive, got %s", ttl))
	}

	normalized, err := types.NormalizeCapabilities(caps)
	if err != nil {
		return "", types.Delegation{}, types.NewError(types.ErrCodeInvalidRequest, err.Error())
	}

	now := a.now().UTC().Truncate(time.Second)
	d := types.Delegation{
		SubjectID:    subjectID,
		Granter:      ownerClaim,
		Grantee:      grantee,
		Capabilities: normalized,
		IssuedAt:     now,
		ExpiresAt:    now.Add(ttl),
		Revoked:      false,
	}

	encoded, err := proof.Sign(proof.NewRecord(d, a.did), a.key)
	if err != nil {
		return "", types.Delegation{}, fmt.Errorf("sign proof: %w", err)
	}

	// Commit before returning the proof: either the delegation is fully
	// recorded or the caller gets an error and no proof.
	if err := a.store.Put(ctx, d); err != nil {
		return "", types.Delegation{}, fmt.Errorf("store delegation: %w", err)
	}

	a.logger.Debug("issued delegation",
		"subject", subjectID, "grantee", grantee,
		"capabilities", normalized, "expiresAt", d.ExpiresAt)

	return encoded, d, nil
}

// Verify evaluates an encoded proof for an operation on subjectID. The
// returned error is reserved for store I/O failures; every authorization
// outcome, including denial, is in the Decision.
//
// Checks run in a fixed order, each with its own denial reason: proof parses
// and its signature verifies, proof subject matches the requested subject, a
// live delegation exists for (subjectID, grantee), it is not revoked, not
// expired, and grants the required capability.
func (a *Authority) Verify(ctx context.Context, encodedProof, subjectID string, required types.Capability) (Decision, error) {
	rec, err := proof.Parse(encodedProof, a.pub)
	if err != nil {
		a.logger.Debug("rejected proof", "subject", subjectID, "error", err)
		return denied(ReasonMalformedProof), nil
	}
	if rec.Issuer != a.did {
		return denied(ReasonMalformedProof), nil
	}

	// A proof issued for one object must not open another, even when the
	// grantee holds identical delegations on both.
	if rec.SubjectID != subjectID {
		return denied(ReasonSubjectMismatch), nil
	}

	d, err := a.store.Get(ctx, subjectID, rec.Grantee)
	if errors.Is(err, storage.ErrNotFound) {
		return denied(ReasonNotFound), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("load delegation: %w", err)
	}

	if d.Revoked {
		return denied(ReasonRevoked), nil
	}
	if !a.now().Before(d.ExpiresAt) {
		return denied(ReasonExpired), nil
	}
	if !d.HasCapability(required) {
		return denied(ReasonCapabilityNotGranted), nil
	}

	return granted(d.Grantee), nil
}

// Revoke marks the delegation for (subjectID, grantee) revoked. Only the
// object's owner may revoke. The bool reports whether a delegation existed;
// revoking twice is not an error.
func (a *Authority) Revoke(ctx context.Context, ownerClaim, subjectID, currentOwner, grantee string) (bool, error) {
	if ownerClaim != currentOwner {
		return false, types.NewError(types.ErrCodeNotAuthorized,
			fmt.Sprintf("identity %s is not the owner of %s", ownerClaim, subjectID))
	}

	existed, err := a.store.Revoke(ctx, subjectID, grantee)
	if err != nil {
		return false, fmt.Errorf("revoke delegation: %w", err)
	}

	if existed {
		a.logger.Info("revoked delegation", "subject", subjectID, "grantee", grantee)
	}
	return existed, nil
}

// ListActive returns the live delegations for a subject at the current time.
func (a *Authority) ListActive(ctx context.Context, subjectID string) ([]types.Delegation, error) {
	return a.store.ListActive(ctx, subjectID, a.now())
}
