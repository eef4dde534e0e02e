// Package handlers implements the per-endpoint request/response glue for
// the upload, chunk, completion, missing-chunks, and abort operations,
// translating HTTP into pkg/service calls.
package handlers

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/haulfs/haulfs/internal/api/httpio"
	"github.com/haulfs/haulfs/internal/api/middleware"
	"github.com/haulfs/haulfs/pkg/apierr"
	"github.com/haulfs/haulfs/pkg/service"
	"github.com/haulfs/haulfs/pkg/upload"
)

// UploadsHandler serves the upload lifecycle endpoints.
type UploadsHandler struct {
	svc *service.Service
}

// NewUploadsHandler constructs a handler bound to svc.
func NewUploadsHandler(svc *service.Service) *UploadsHandler {
	return &UploadsHandler{svc: svc}
}

type initRequestBody struct {
	FileName       string `json:"file_name"`
	SizeBytes      int64  `json:"size_bytes"`
	ChunkSizeBytes int64  `json:"chunk_size_bytes"`
	ChecksumSHA256 string `json:"checksum_sha256,omitempty"`
}

type uploadResponseBody struct {
	ID             string `json:"id"`
	Owner          string `json:"owner"`
	FileName       string `json:"file_name"`
	SizeBytes      int64  `json:"size_bytes"`
	ChunkSizeBytes int64  `json:"chunk_size_bytes"`
	TotalChunks    int32  `json:"total_chunks"`
	Status         string `json:"status"`
}

func renderUpload(u *upload.Upload) uploadResponseBody {
	return uploadResponseBody{
		ID:             u.ID,
		Owner:          u.Owner,
		FileName:       u.FileName,
		SizeBytes:      u.SizeBytes,
		ChunkSizeBytes: u.ChunkSizeBytes,
		TotalChunks:    u.TotalChunks,
		Status:         string(u.Status),
	}
}

func decodeHexChecksum(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, apierr.New(apierr.Validation, "checksum_sha256 must be hex-encoded")
	}
	if len(b) != sha256.Size {
		return nil, apierr.New(apierr.Validation, "checksum_sha256 must be 32 bytes")
	}
	return b, nil
}

// Init handles POST /v1/uploads.
func (h *UploadsHandler) Init(w http.ResponseWriter, r *http.Request) {
	var body initRequestBody
	if err := httpio.DecodeJSON(r, &body); err != nil {
		httpio.WriteError(w, r, err)
		return
	}
	sum, err := decodeHexChecksum(body.ChecksumSHA256)
	if err != nil {
		httpio.WriteError(w, r, err)
		return
	}

	p := middleware.GetPrincipal(r.Context())
	req := service.InitRequest{
		Owner:              p.ID,
		FileName:           body.FileName,
		SizeBytes:          body.SizeBytes,
		ChunkSizeBytes:     body.ChunkSizeBytes,
		FileChecksumSHA256: sum,
		IdempotencyKey:     idempotencyKey(r),
	}

	u, err := h.svc.Init(r.Context(), req)
	if err != nil {
		httpio.WriteError(w, r, err)
		return
	}
	httpio.WriteJSON(w, http.StatusCreated, renderUpload(u))
}

// AcceptChunk handles PUT /v1/uploads/{id}/chunks/{index}.
func (h *UploadsHandler) AcceptChunk(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.ParseInt(chi.URLParam(r, "index"), 10, 32)
	if err != nil {
		httpio.WriteError(w, r, apierr.New(apierr.Validation, "chunk index must be an integer"))
		return
	}

	sum, err := decodeExpectedChecksum(r)
	if err != nil {
		httpio.WriteError(w, r, err)
		return
	}

	p := middleware.GetPrincipal(r.Context())
	req := service.ChunkRequest{
		UploadID:       chi.URLParam(r, "id"),
		Principal:      p.ID,
		Index:          int32(idx),
		Body:           r.Body,
		ExpectedSHA256: sum,
		IdempotencyKey: idempotencyKey(r),
	}

	c, err := h.svc.AcceptChunk(r.Context(), req)
	if err != nil {
		httpio.WriteError(w, r, err)
		return
	}
	httpio.WriteJSON(w, http.StatusOK, map[string]any{
		"upload_id": req.UploadID,
		"index":     c.Index,
		"status":    string(c.Status),
	})
}

// decodeExpectedChecksum reads the per-chunk checksum from the
// X-Chunk-Checksum-SHA256 header, base64 or hex encoded.
func decodeExpectedChecksum(r *http.Request) ([]byte, error) {
	v := r.Header.Get("X-Chunk-Checksum-SHA256")
	if v == "" {
		return nil, apierr.New(apierr.Validation, "X-Chunk-Checksum-SHA256 header is required")
	}
	if b, err := hex.DecodeString(v); err == nil && len(b) == sha256.Size {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(v); err == nil && len(b) == sha256.Size {
		return b, nil
	}
	return nil, apierr.New(apierr.Validation, "X-Chunk-Checksum-SHA256 must be hex or base64 of 32 bytes")
}

// MissingChunks handles GET /v1/uploads/{id}/missing-chunks.
func (h *UploadsHandler) MissingChunks(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	missing, err := h.svc.MissingChunks(r.Context(), chi.URLParam(r, "id"), p.ID)
	if err != nil {
		httpio.WriteError(w, r, err)
		return
	}
	httpio.WriteJSON(w, http.StatusOK, map[string]any{"missing_chunks": missing})
}

type completeRequestBody struct {
	ChecksumSHA256 string `json:"checksum_sha256,omitempty"`
}

// Complete handles POST /v1/uploads/{id}/complete.
func (h *UploadsHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var body completeRequestBody
	if err := httpio.DecodeJSON(r, &body); err != nil {
		httpio.WriteError(w, r, err)
		return
	}
	sum, err := decodeHexChecksum(body.ChecksumSHA256)
	if err != nil {
		httpio.WriteError(w, r, err)
		return
	}

	p := middleware.GetPrincipal(r.Context())
	req := service.CompleteRequest{
		UploadID:           chi.URLParam(r, "id"),
		Principal:          p.ID,
		FileChecksumSHA256: sum,
		IdempotencyKey:     idempotencyKey(r),
	}

	u, err := h.svc.Complete(r.Context(), req)
	if err != nil {
		httpio.WriteError(w, r, err)
		return
	}
	httpio.WriteJSON(w, http.StatusOK, renderUpload(u))
}

// Abort handles DELETE /v1/uploads/{id}.
func (h *UploadsHandler) Abort(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if err := h.svc.Abort(r.Context(), chi.URLParam(r, "id"), p.ID); err != nil {
		httpio.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func idempotencyKey(r *http.Request) string {
	return r.Header.Get("Idempotency-Key")
}
