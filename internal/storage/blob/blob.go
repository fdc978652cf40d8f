// Package blob implements the content-addressed blob store collaborator.
//
// Bytes are addressed by CIDv1 (raw codec, SHA2-256) and kept in an injected
// go-datastore, so the in-process MapDatastore used by default can be swapped
// for a persistent mount without touching callers. The store knows nothing
// about authorization; the registry gates every retrieval.
package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"

	"github.com/evanrel/capshare/internal/storage"
	"github.com/evanrel/capshare/pkg/types"
)

// blobCacheSize bounds the retrieve cache. Content-addressed blobs are
// immutable, so entries never need a TTL.
const blobCacheSize = 1024

// StoredObject describes the result of storing bytes.
type StoredObject struct {
	ID          string
	ContentType string
	StoredAt    time.Time
}

type meta struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

// Store is a content-addressed blob store over a datastore.Datastore.
type Store struct {
	ds      datastore.Datastore
	baseURL string
	logger  *slog.Logger

	mu sync.Mutex // serializes multi-key writes in Put

	// cache holds fetched blobs by CID, LRU-evicted to bound memory.
	cache *lru.Cache[string, []byte]
}

// NewStore creates a blob store backed by the given datastore. baseURL is the
// public prefix used by Locate.
func NewStore(ds datastore.Datastore, baseURL string, logger *slog.Logger) (*Store, error) {
	cache, err := lru.New[string, []byte](blobCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create blob cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		ds:      ds,
		baseURL: baseURL,
		logger:  logger,
		cache:   cache,
	}, nil
}

// ComputeCID computes the content identifier for data: CIDv1, raw codec,
// SHA2-256 multihash.
func ComputeCID(data []byte) (string, error) {
	hash, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(uint64(multicodec.Raw), hash).String(), nil
}

// Store persists data and its metadata, returning the content identifier.
// Storing the same bytes twice yields the same ID and is harmless.
func (s *Store) Store(ctx context.Context, data []byte, filename string) (StoredObject, error) {
	id, err := ComputeCID(data)
	if err != nil {
		return StoredObject{}, types.NewError(types.ErrCodeStorageFailure,
			fmt.Sprintf("compute content ID: %v", err))
	}

	contentType := http.DetectContentType(data)

	metaBytes, err := json.Marshal(meta{Filename: filename, ContentType: contentType})
	if err != nil {
		return StoredObject{}, types.NewError(types.ErrCodeStorageFailure,
			fmt.Sprintf("marshal blob metadata: %v", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ds.Put(ctx, blobKey(id), data); err != nil {
		return StoredObject{}, types.NewError(types.ErrCodeStorageFailure,
			fmt.Sprintf("store blob %s: %v", id, err))
	}
	if err := s.ds.Put(ctx, metaKey(id), metaBytes); err != nil {
		return StoredObject{}, types.NewError(types.ErrCodeStorageFailure,
			fmt.Sprintf("store blob metadata %s: %v", id, err))
	}

	s.logger.Debug("stored blob", "cid", id, "size", len(data), "contentType", contentType)

	return StoredObject{
		ID:          id,
		ContentType: contentType,
		StoredAt:    time.Now().UTC(),
	}, nil
}

// Retrieve returns the blob bytes and content type for a CID.
// Returns storage.ErrNotFound when the blob is unknown.
func (s *Store) Retrieve(ctx context.Context, id string) ([]byte, string, error) {
	data, ok := s.cache.Get(id)
	if !ok {
		var err error
		data, err = s.ds.Get(ctx, blobKey(id))
		if errors.Is(err, datastore.ErrNotFound) {
			return nil, "", storage.ErrNotFound
		}
		if err != nil {
			return nil, "", types.NewError(types.ErrCodeStorageFailure,
				fmt.Sprintf("fetch blob %s: %v", id, err))
		}
		s.cache.Add(id, data)
	}

	contentType := "application/octet-stream"
	if metaBytes, err := s.ds.Get(ctx, metaKey(id)); err == nil {
		var m meta
		if err := json.Unmarshal(metaBytes, &m); err == nil && m.ContentType != "" {
			contentType = m.ContentType
		}
	}

	return data, contentType, nil
}

// Locate returns a retrievable URL for the blob, without fetching bytes.
func (s *Store) Locate(id string) string {
	return fmt.Sprintf("%s/blobs/%s", s.baseURL, id)
}

func blobKey(id string) datastore.Key {
	return datastore.NewKey("/blobs/" + id)
}

func metaKey(id string) datastore.Key {
	return datastore.NewKey("/meta/" + id)
}
