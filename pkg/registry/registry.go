// Package registry implements the content object catalog and mediates every
// capability-gated operation. It is the only component that talks to the
// blob storage collaborator; the authority decides, the registry enforces.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evanrel/capshare/internal/storage"
	"github.com/evanrel/capshare/internal/storage/blob"
	"github.com/evanrel/capshare/pkg/authority"
	"github.com/evanrel/capshare/pkg/types"
)

// BlobStore is the external storage collaborator contract: store raw bytes,
// fetch them back, and produce a retrieval URL without fetching.
type BlobStore interface {
	Store(ctx context.Context, data []byte, filename string) (blob.StoredObject, error)
	Retrieve(ctx context.Context, id string) (data []byte, contentType string, err error)
	Locate(id string) string
}

// Registry owns the ContentObject catalog.
type Registry struct {
	catalog   storage.ObjectCatalog
	authority *authority.Authority
	blobs     BlobStore
	baseURL   string
	logger    *slog.Logger
}

// Config configures a Registry.
type Config struct {
	Catalog   storage.ObjectCatalog
	Authority *authority.Authority
	Blobs     BlobStore
	// BaseURL is the public prefix for share links.
	BaseURL string
	Logger  *slog.Logger
}

// New creates a Registry.
func New(cfg Config) (*Registry, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("object catalog is required")
	}
	if cfg.Authority == nil {
		return nil, errors.New("authority is required")
	}
	if cfg.Blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Registry{
		catalog:   cfg.Catalog,
		authority: cfg.Authority,
		blobs:     cfg.Blobs,
		baseURL:   cfg.BaseURL,
		logger:    cfg.Logger,
	}, nil
}

// UploadResult describes a newly registered object.
type UploadResult struct {
	Object types.ContentObject `json:"object"`
	URL    string              `json:"url"`
}

// Upload stores the bytes with the storage collaborator and registers the
// resulting object under owner. The content identifier comes from the blob
// store; re-uploading identical bytes yields DUPLICATE_OBJECT since the
// object is already registered.
func (r *Registry) Upload(ctx context.Context, owner string, data []byte, filename string) (UploadResult, error) {
	if owner == "" {
		return UploadResult{}, types.NewError(types.ErrCodeInvalidRequest, "owner is required")
	}
	if len(data) == 0 {
		return UploadResult{}, types.NewError(types.ErrCodeInvalidRequest, "upload is empty")
	}

	stored, err := r.blobs.Store(ctx, data, filename)
	if err != nil {
		return UploadResult{}, err
	}

	obj := types.ContentObject{
		ID:         stored.ID,
		Owner:      owner,
		Filename:   filename,
		UploadedAt: stored.StoredAt,
	}

	if err := r.catalog.PutObject(ctx, obj); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return UploadResult{}, types.NewError(types.ErrCodeDuplicateObject,
				fmt.Sprintf("object %s is already registered", obj.ID))
		}
		return UploadResult{}, fmt.Errorf("register object: %w", err)
	}

	r.logger.Info("registered object", "id", obj.ID, "owner", owner, "filename", filename)

	return UploadResult{Object: obj, URL: r.blobs.Locate(obj.ID)}, nil
}

// ShareResult carries the proof a grantee needs to access a shared object.
type ShareResult struct {
	Proof     string    `json:"proof"`
	ExpiresAt time.Time `json:"expiresAt"`
	ShareURL  string    `json:"shareUrl"`
}

// Share delegates capabilities on subjectID from owner to grantee for
// ttlDays. Issue failures (not the owner, empty capabilities, bad TTL)
// surface unchanged.
func (r *Registry) Share(ctx context.Context, owner, subjectID, grantee string, caps []types.Capability, ttlDays int) (ShareResult, error) {
	obj, err := r.getObject(ctx, subjectID)
	if err != nil {
		return ShareResult{}, err
	}

	encoded, d, err := r.authority.Issue(ctx, owner, subjectID, obj.Owner, grantee, caps,
		time.Duration(ttlDays)*24*time.Hour)
	if err != nil {
		return ShareResult{}, err
	}

	return ShareResult{
		Proof:     encoded,
		ExpiresAt: d.ExpiresAt,
		ShareURL:  fmt.Sprintf("%s/api/objects/%s?proof=%s", r.baseURL, subjectID, encoded),
	}, nil
}

// AccessGrant is what a permitted caller needs to perform the fetch itself:
// the registry authorizes retrieval, it does not stream bytes for views.
type AccessGrant struct {
	Owner      string    `json:"owner"`
	Filename   string    `json:"filename"`
	UploadedAt time.Time `json:"uploadedAt"`
	Grantee    string    `json:"grantee"`
	URL        string    `json:"url"`
}

// AccessResult is the outcome of an access attempt. Grant is set only when
// the decision granted access.
type AccessResult struct {
	Decision authority.Decision
	Grant    *AccessGrant
}

// Access verifies the proof for the given capability on subjectID. Access is
// strictly proof-driven; owners enumerate their own objects via ListByOwner.
func (r *Registry) Access(ctx context.Context, subjectID, encodedProof string, capability types.Capability) (AccessResult, error) {
	obj, err := r.getObject(ctx, subjectID)
	if err != nil {
		return AccessResult{}, err
	}

	dec, err := r.authority.Verify(ctx, encodedProof, subjectID, capability)
	if err != nil {
		return AccessResult{}, err
	}
	if !dec.Granted {
		r.logger.Debug("access denied", "subject", subjectID, "reason", dec.Reason)
		return AccessResult{Decision: dec}, nil
	}

	return AccessResult{
		Decision: dec,
		Grant: &AccessGrant{
			Owner:      obj.Owner,
			Filename:   obj.Filename,
			UploadedAt: obj.UploadedAt,
			Grantee:    dec.Grantee,
			URL:        r.blobs.Locate(subjectID),
		},
	}, nil
}

// DownloadResult carries the object bytes for a permitted download.
type DownloadResult struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Download verifies the proof for the download capability and, when granted,
// fetches the bytes from the storage collaborator.
func (r *Registry) Download(ctx context.Context, subjectID, encodedProof string) (DownloadResult, authority.Decision, error) {
	res, err := r.Access(ctx, subjectID, encodedProof, types.CapabilityDownload)
	if err != nil {
		return DownloadResult{}, authority.Decision{}, err
	}
	if !res.Decision.Granted {
		return DownloadResult{}, res.Decision, nil
	}

	data, contentType, err := r.blobs.Retrieve(ctx, subjectID)
	if errors.Is(err, storage.ErrNotFound) {
		// Registered but missing from the collaborator: an upstream fault,
		// not an authorization outcome.
		return DownloadResult{}, authority.Decision{}, types.NewError(types.ErrCodeStorageFailure,
			fmt.Sprintf("object %s is registered but its content is unavailable", subjectID))
	}
	if err != nil {
		return DownloadResult{}, authority.Decision{}, err
	}

	return DownloadResult{
		Data:        data,
		ContentType: contentType,
		Filename:    res.Grant.Filename,
	}, res.Decision, nil
}

// Revoke withdraws the delegation for (subjectID, grantee). Only the owner
// may revoke; the bool reports whether a delegation existed.
func (r *Registry) Revoke(ctx context.Context, owner, subjectID, grantee string) (bool, error) {
	obj, err := r.getObject(ctx, subjectID)
	if err != nil {
		return false, err
	}
	return r.authority.Revoke(ctx, owner, subjectID, obj.Owner, grantee)
}

// DelegationSummary is the owner-facing view of an active delegation.
type DelegationSummary struct {
	Grantee      string             `json:"grantee"`
	Capabilities []types.Capability `json:"capabilities"`
	ExpiresAt    time.Time          `json:"expiresAt"`
}

// ObjectSummary is an owned object with its live delegations.
type ObjectSummary struct {
	Object      types.ContentObject `json:"object"`
	URL         string              `json:"url"`
	Delegations []DelegationSummary `json:"delegations"`
}

// ListByOwner enumerates the identity's objects with their active
// delegations. Delegations are fetched per object concurrently; results keep
// catalog order.
func (r *Registry) ListByOwner(ctx context.Context, owner string) ([]ObjectSummary, error) {
	if owner == "" {
		return nil, types.NewError(types.ErrCodeInvalidRequest, "owner is required")
	}

	objs, err := r.catalog.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}

	summaries := make([]ObjectSummary, len(objs))
	g, gctx := errgroup.WithContext(ctx)
	for i, obj := range objs {
		g.Go(func() error {
			active, err := r.authority.ListActive(gctx, obj.ID)
			if err != nil {
				return fmt.Errorf("list delegations for %s: %w", obj.ID, err)
			}
			summaries[i] = ObjectSummary{
				Object:      obj,
				URL:         r.blobs.Locate(obj.ID),
				Delegations: summarize(active),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return summaries, nil
}

// ListDelegations returns the active delegations on subjectID. Owner-only.
func (r *Registry) ListDelegations(ctx context.Context, subjectID, owner string) ([]DelegationSummary, error) {
	obj, err := r.getObject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if obj.Owner != owner {
		return nil, types.NewError(types.ErrCodeNotAuthorized,
			fmt.Sprintf("identity %s is not the owner of %s", owner, subjectID))
	}

	active, err := r.authority.ListActive(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return summarize(active), nil
}

func (r *Registry) getObject(ctx context.Context, subjectID string) (types.ContentObject, error) {
	obj, err := r.catalog.GetObject(ctx, subjectID)
	if errors.Is(err, storage.ErrNotFound) {
		return types.ContentObject{}, types.NewError(types.ErrCodeNotFound,
			fmt.Sprintf("object %s is not registered", subjectID))
	}
	if err != nil {
		return types.ContentObject{}, fmt.Errorf("load object %s: %w", subjectID, err)
	}
	return obj, nil
}

func summarize(active []types.Delegation) []DelegationSummary {
	summaries := make([]DelegationSummary, len(active))
	for i, d := range active {
		summaries[i] = DelegationSummary{
			Grantee:      d.Grantee,
			Capabilities: d.Capabilities,
			ExpiresAt:    d.ExpiresAt,
		}
	}
	return summaries
}
