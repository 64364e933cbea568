package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pesio-ai/be-po-approvals/internal/errors"
)

// EvidenceClient is a client for the evidence file store
type EvidenceClient struct {
	client *resty.Client
}

// UploadEvidenceResponse is the store's answer to an upload
type UploadEvidenceResponse struct {
	URI string `json:"uri"`
}

// NewEvidenceClient creates a new evidence store client
func NewEvidenceClient(baseURL string, timeout time.Duration) *EvidenceClient {
	return &EvidenceClient{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

// Upload stores one file under the order and returns its stable URI. Every
// failure is reported as a StorageFailure.
func (c *EvidenceClient) Upload(ctx context.Context, orderID, filename string, r io.Reader) (string, error) {
	var out UploadEvidenceResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("orderID", orderID).
		SetFileReader("file", filename, r).
		SetResult(&out).
		Post("/api/v1/evidence/{orderID}")
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeStorageFailure, "evidence upload failed")
	}

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
	default:
		return "", errors.New(errors.ErrCodeStorageFailure,
			fmt.Sprintf("evidence store returned status %d", resp.StatusCode()))
	}
	if out.URI == "" {
		return "", errors.New(errors.ErrCodeStorageFailure, "evidence store returned no uri")
	}
	return out.URI, nil
}
