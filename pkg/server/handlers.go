// Package server is the HTTP glue over the object registry: thin
// request/response adaptation, no authorization logic of its own.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/evanrel/capshare/pkg/authority"
	"github.com/evanrel/capshare/pkg/registry"
	"github.com/evanrel/capshare/pkg/types"
)

// Handler serves the capshare HTTP API.
type Handler struct {
	registry  *registry.Registry
	logger    *slog.Logger
	maxUpload int64
}

// New creates a Handler.
func New(opts ...Option) (*Handler, error) {
	cfg := applyOptions(opts...)
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Handler{
		registry:  cfg.Registry,
		logger:    cfg.Logger,
		maxUpload: cfg.MaxUploadBytes,
	}, nil
}

// Routes returns the API mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/objects", h.handleUpload)
	mux.HandleFunc("POST /api/objects/{id}/shares", h.handleShare)
	mux.HandleFunc("GET /api/objects/{id}/shares", h.handleListDelegations)
	mux.HandleFunc("GET /api/objects/{id}", h.handleAccess)
	mux.HandleFunc("POST /api/objects/{id}/revoke", h.handleRevoke)
	mux.HandleFunc("GET /api/owners/{owner}/objects", h.handleListByOwner)
	return mux
}

// handleUpload handles POST /api/objects (multipart: owner, file).
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		http.Error(w, "malformed multipart request", http.StatusBadRequest)
		return
	}

	owner := r.FormValue("owner")
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read upload", http.StatusBadRequest)
		return
	}

	res, err := h.registry.Upload(r.Context(), owner, data, uploadFilename(header))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, res)
}

type shareRequest struct {
	Owner        string   `json:"owner"`
	Grantee      string   `json:"grantee"`
	Capabilities []string `json:"capabilities"`
	TTLDays      int      `json:"ttlDays"`
}

// handleShare handles POST /api/objects/{id}/shares.
func (h *Handler) handleShare(w http.ResponseWriter, r *http.Request) {
	subjectID := r.PathValue("id")

	var req shareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed share request", http.StatusBadRequest)
		return
	}

	caps := make([]types.Capability, 0, len(req.Capabilities))
	for _, c := range req.Capabilities {
		parsed, err := types.ParseCapability(c)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		caps = append(caps, parsed)
	}

	res, err := h.registry.Share(r.Context(), req.Owner, subjectID, req.Grantee, caps, req.TTLDays)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

// handleAccess handles GET /api/objects/{id}?proof=...&action=view|download.
func (h *Handler) handleAccess(w http.ResponseWriter, r *http.Request) {
	subjectID := r.PathValue("id")
	encodedProof := r.URL.Query().Get("proof")

	action := r.URL.Query().Get("action")
	if action == "" {
		action = string(types.CapabilityView)
	}

	switch types.Capability(action) {
	case types.CapabilityView:
		res, err := h.registry.Access(r.Context(), subjectID, encodedProof, types.CapabilityView)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if !res.Decision.Granted {
			h.writeDenied(w, res.Decision.Reason)
			return
		}
		h.writeJSON(w, http.StatusOK, res.Grant)

	case types.CapabilityDownload:
		res, dec, err := h.registry.Download(r.Context(), subjectID, encodedProof)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if !dec.Granted {
			h.writeDenied(w, dec.Reason)
			return
		}
		w.Header().Set("Content-Type", res.ContentType)
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", res.Filename))
		w.Write(res.Data)

	default:
		http.Error(w, fmt.Sprintf("unknown action %q", action), http.StatusBadRequest)
	}
}

type revokeRequest struct {
	Owner   string `json:"owner"`
	Grantee string `json:"grantee"`
}

type revokeResponse struct {
	Revoked bool `json:"revoked"`
}

// handleRevoke handles POST /api/objects/{id}/revoke.
func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	subjectID := r.PathValue("id")

	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed revoke request", http.StatusBadRequest)
		return
	}

	existed, err := h.registry.Revoke(r.Context(), req.Owner, subjectID, req.Grantee)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, revokeResponse{Revoked: existed})
}

// handleListByOwner handles GET /api/owners/{owner}/objects.
func (h *Handler) handleListByOwner(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")

	summaries, err := h.registry.ListByOwner(r.Context(), owner)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if summaries == nil {
		summaries = []registry.ObjectSummary{}
	}

	h.writeJSON(w, http.StatusOK, summaries)
}

// handleListDelegations handles GET /api/objects/{id}/shares?owner=...
func (h *Handler) handleListDelegations(w http.ResponseWriter, r *http.Request) {
	subjectID := r.PathValue("id")
	owner := r.URL.Query().Get("owner")

	summaries, err := h.registry.ListDelegations(r.Context(), subjectID, owner)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if summaries == nil {
		summaries = []registry.DelegationSummary{}
	}

	h.writeJSON(w, http.StatusOK, summaries)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeDenied reports a verification denial. The reason is already minimal
// and user-facing, so it goes out verbatim.
func (h *Handler) writeDenied(w http.ResponseWriter, reason authority.Reason) {
	h.writeJSON(w, http.StatusForbidden, errorResponse{Error: string(reason)})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case types.IsCode(err, types.ErrCodeInvalidRequest):
		status = http.StatusBadRequest
	case types.IsCode(err, types.ErrCodeNotAuthorized):
		status = http.StatusForbidden
	case types.IsCode(err, types.ErrCodeNotFound):
		status = http.StatusNotFound
	case types.IsCode(err, types.ErrCodeDuplicateObject):
		status = http.StatusConflict
	default:
		h.logger.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var typed *types.Error
	errors.As(err, &typed)
	h.writeJSON(w, status, errorResponse{Error: typed.Message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}

func uploadFilename(header *multipart.FileHeader) string {
	if header != nil && header.Filename != "" {
		return header.Filename
	}
	return "untitled"
}
