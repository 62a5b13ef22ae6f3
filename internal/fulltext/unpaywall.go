package fulltext

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/helixir/interaction-discovery-service/internal/domain"
)

const defaultUnpaywallBaseURL = "https://api.unpaywall.org/v2"

// UnpaywallConfig holds Unpaywall resolver configuration.
type UnpaywallConfig struct {
	// BaseURL is the Unpaywall API base URL.
	BaseURL string
	// Email identifies the caller as required by the Unpaywall usage policy.
	Email string
	// Timeout bounds a single lookup. Default: 15 seconds.
	Timeout time.Duration
}

// UnpaywallResolver resolves a DOI to an open-access PDF URL via the
// Unpaywall API.
type UnpaywallResolver struct {
	httpClient *http.Client
	baseURL    string
	email      string
}

// NewUnpaywallResolver creates a resolver with the given configuration.
func NewUnpaywallResolver(cfg UnpaywallConfig) *UnpaywallResolver {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultUnpaywallBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &UnpaywallResolver{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		email:      cfg.Email,
	}
}

// unpaywallResponse is the subset of the Unpaywall record the resolver reads.
type unpaywallResponse struct {
	BestOALocation *unpaywallLocation `json:"best_oa_location"`
}

// unpaywallLocation is a single open-access location in an Unpaywall record.
type unpaywallLocation struct {
	URLForPDF string `json:"url_for_pdf"`
}

// ResolvePDFURL looks up the best open-access PDF URL for a DOI.
//
// A missing record or a record without a PDF location means the paper is
// paywalled and maps to domain.ErrNotAvailable; lookup failures map to
// domain.ErrTransient so the candidate can be skipped without failing the job.
func (r *UnpaywallResolver) ResolvePDFURL(ctx context.Context, doi string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s?email=%s", r.baseURL, url.PathEscape(doi), url.QueryEscape(r.email))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%w: unpaywall: invalid request for DOI %s: %w", domain.ErrTransient, doi, err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: unpaywall lookup failed for DOI %s: %w", domain.ErrTransient, doi, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: DOI %s not indexed by Unpaywall", domain.ErrNotAvailable, doi)
	default:
		return "", domain.NewExternalAPIError("unpaywall", resp.StatusCode, "lookup failed", domain.ErrTransient)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: unpaywall: read response: %w", domain.ErrTransient, err)
	}

	var record unpaywallResponse
	if err := json.Unmarshal(body, &record); err != nil {
		return "", fmt.Errorf("%w: unpaywall: decode response: %w", domain.ErrTransient, err)
	}

	if record.BestOALocation == nil || record.BestOALocation.URLForPDF == "" {
		return "", fmt.Errorf("%w: no open-access PDF location for DOI %s", domain.ErrNotAvailable, doi)
	}

	return record.BestOALocation.URLForPDF, nil
}
