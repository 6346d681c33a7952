// Package publish defines the narrow contracts to the external storage
// network and the ENS update service, plus thin HTTP clients for both.
// The upload protocol and the on-chain transaction logic live on the
// other side of these interfaces.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// UploadResult reports a completed archive upload.
type UploadResult struct {
	// ContentCID is the content address the network verified the archive
	// against.
	ContentCID string `json:"content_cid"`
	Provider   string `json:"provider"`
	DealID     string `json:"deal_id"`
}

// Uploader accepts a CAR file and its expected root CID. The network
// rejects the archive when the two disagree.
type Uploader interface {
	Upload(ctx context.Context, carPath, rootCID string) (UploadResult, error)
}

// ENS records content addresses under names and reads them back for
// independent verification.
type ENS interface {
	SetContentHash(ctx context.Context, name, contentCID string) (txHash string, err error)
	ResolveContentHash(ctx context.Context, name string) (string, error)
}

// HTTPUploader posts archives to the storage gateway service.
type HTTPUploader struct {
	baseURL string
	client  *http.Client
}

// NewHTTPUploader constructs an HTTPUploader.
func NewHTTPUploader(baseURL string, timeout time.Duration) *HTTPUploader {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPUploader{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

// Upload streams the CAR file to the gateway, declaring the expected root.
func (u *HTTPUploader) Upload(ctx context.Context, carPath, rootCID string) (UploadResult, error) {
	f, err := os.Open(carPath)
	if err != nil {
		return UploadResult{}, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/v1/uploads", f)
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", "application/vnd.ipld.car")
	req.Header.Set("X-Root-Cid", rootCID)

	resp, err := u.client.Do(req)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return UploadResult{}, fmt.Errorf("upload rejected: %s: %s", resp.Status, bytes.TrimSpace(body))
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return UploadResult{}, fmt.Errorf("decode upload response: %w", err)
	}
	if result.ContentCID == "" {
		return UploadResult{}, fmt.Errorf("upload response missing content cid")
	}
	return result, nil
}

// HTTPENS talks to the naming service that drives the on-chain update.
type HTTPENS struct {
	baseURL string
	client  *http.Client
}

// NewHTTPENS constructs an HTTPENS client.
func NewHTTPENS(baseURL string, timeout time.Duration) *HTTPENS {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPENS{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

// SetContentHash asks the naming service to record contentCID under name.
func (e *HTTPENS) SetContentHash(ctx context.Context, name, contentCID string) (string, error) {
	payload, err := json.Marshal(map[string]string{"name": name, "content_cid": contentCID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/contenthash", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("set contenthash: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("set contenthash rejected: %s: %s", resp.Status, bytes.TrimSpace(body))
	}

	var result struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode contenthash response: %w", err)
	}
	if result.TxHash == "" {
		return "", fmt.Errorf("contenthash response missing tx hash")
	}
	return result.TxHash, nil
}

// ResolveContentHash reads the currently recorded content address.
func (e *HTTPENS) ResolveContentHash(ctx context.Context, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/v1/contenthash/"+name, nil)
	if err != nil {
		return "", err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve contenthash: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("resolve contenthash: %s", resp.Status)
	}
	var result struct {
		ContentCID string `json:"content_cid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode resolve response: %w", err)
	}
	return result.ContentCID, nil
}
