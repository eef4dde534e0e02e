package cliclient

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

// MissingChunks returns the indexes of chunks uploadID still needs.
func (c *Client) MissingChunks(ctx context.Context, uploadID string) ([]int32, error) {
	var result struct {
		MissingChunks []int32 `json:"missing_chunks"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/uploads/%s/missing-chunks", uploadID), nil, &result); err != nil {
		return nil, err
	}
	return result.MissingChunks, nil
}

// Abort cancels uploadID and releases its reserved storage.
func (c *Client) Abort(ctx context.Context, uploadID string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/uploads/%s", uploadID), nil, nil)
}

// CleanupReport mirrors pkg/maintenance.Report.
type CleanupReport struct {
	AbortedUploads int  `json:"aborted_uploads"`
	GCIdempotency  int  `json:"gc_idempotency"`
	BlobsScanned   int  `json:"blobs_scanned"`
	OrphanBlobs    int  `json:"orphan_blobs"`
	OrphanDryRun   bool `json:"orphan_dry_run"`
	Errors         int  `json:"errors"`
}

// Headers implements output.TableRenderer.
func (r *CleanupReport) Headers() []string {
	return []string{"ABORTED", "GC_IDEMPOTENCY", "BLOBS_SCANNED", "ORPHAN_BLOBS", "ERRORS"}
}

// Rows implements output.TableRenderer.
func (r *CleanupReport) Rows() [][]string {
	return [][]string{{
		strconv.Itoa(r.AbortedUploads), strconv.Itoa(r.GCIdempotency), strconv.Itoa(r.BlobsScanned), strconv.Itoa(r.OrphanBlobs), strconv.Itoa(r.Errors),
	}}
}

// Cleanup triggers one synchronous maintenance sweep.
func (c *Client) Cleanup(ctx context.Context) (*CleanupReport, error) {
	var report CleanupReport
	if err := c.do(ctx, http.MethodPost, "/admin/cleanup", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
