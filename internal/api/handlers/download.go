package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/haulfs/haulfs/internal/api/httpio"
	"github.com/haulfs/haulfs/internal/api/middleware"
	"github.com/haulfs/haulfs/pkg/apierr"
	"github.com/haulfs/haulfs/pkg/chunkmath"
	"github.com/haulfs/haulfs/pkg/download"
	"github.com/haulfs/haulfs/pkg/metrics"
)

// DownloadHandler serves GET /v1/uploads/{id}/download.
type DownloadHandler struct {
	assembler *download.Assembler
	metrics   *metrics.Metrics
}

// NewDownloadHandler constructs a handler bound to assembler.
func NewDownloadHandler(assembler *download.Assembler, m *metrics.Metrics) *DownloadHandler {
	return &DownloadHandler{assembler: assembler, metrics: m}
}

// Download streams the completed upload's bytes, honoring a single-range
// Range header.
func (h *DownloadHandler) Download(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "id")
	p := middleware.GetPrincipal(r.Context())

	rng, err := parseRangeHeader(r.Header.Get("Range"))
	if err != nil {
		httpio.WriteError(w, r, err)
		return
	}

	stream, err := h.assembler.Open(r.Context(), uploadID, p.ID, rng)
	if err != nil {
		httpio.WriteError(w, r, err)
		return
	}
	defer stream.Body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", stream.FileName))
	w.Header().Set("Accept-Ranges", "bytes")
	if stream.Ranged {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", stream.Range.Start, stream.Range.End, stream.TotalSize))
		w.Header().Set("Content-Length", strconv.FormatInt(stream.Range.Length(), 10))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.Header().Set("Content-Length", strconv.FormatInt(stream.TotalSize, 10))
		w.WriteHeader(http.StatusOK)
	}

	n, copyErr := io.Copy(w, stream.Body)
	if h.metrics != nil {
		outcome := "success"
		if copyErr != nil {
			outcome = "error"
		}
		h.metrics.RecordDownload(outcome, n)
	}
}

// parseRangeHeader parses a single-range "bytes=start-end" header, nil if
// absent. Multi-range requests are rejected as unsatisfiable: the
// download assembler only models one contiguous range per request.
func parseRangeHeader(v string) (*chunkmath.ByteRange, error) {
	if v == "" {
		return nil, nil
	}
	if strings.Contains(v, ",") {
		return nil, apierr.New(apierr.Range, "multi-range requests are not supported")
	}
	v = strings.TrimPrefix(v, "bytes=")
	parts := strings.SplitN(v, "-", 2)
	if len(parts) != 2 {
		return nil, apierr.New(apierr.Range, "malformed Range header")
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, apierr.New(apierr.Range, "malformed Range start")
	}
	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, apierr.New(apierr.Range, "malformed Range end")
	}
	return &chunkmath.ByteRange{Start: start, End: end}, nil
}
