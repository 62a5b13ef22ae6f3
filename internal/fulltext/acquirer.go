// Package fulltext acquires the full text of papers by DOI.
//
// Acquisition runs a fallback chain: arXiv-registered DOIs are fetched
// straight from arxiv.org, everything else is resolved through Unpaywall and
// downloaded through a web unlocker proxy when configured, falling back to a
// direct fetch. The downloaded artifact must carry the %PDF- signature before
// it is piped through an external converter into plain text.
//
// All failures are typed per candidate: domain.ErrNotAvailable for paywalled
// or unusable documents, domain.ErrTransient for network trouble. Callers
// skip the candidate and move on; acquisition never fails a whole run.
package fulltext

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/interaction-discovery-service/internal/domain"
	"github.com/helixir/interaction-discovery-service/internal/observability"
)

// Chain stage labels used in metrics and log lines.
const (
	StageArxiv     = "arxiv"
	StageUnpaywall = "unpaywall"
	StageProxy     = "proxy"
	StageDirect    = "direct"
	StageConvert   = "convert"
)

// arxivDOIPrefix marks DOIs registered by arXiv via DataCite.
const arxivDOIPrefix = "10.48550/arxiv."

// defaultArxivPDFBase is where arXiv serves rendered PDFs.
const defaultArxivPDFBase = "https://arxiv.org/pdf/"

// pdfMagic is the required file signature for a usable artifact.
var pdfMagic = []byte("%PDF-")

// artifactNameSanitizer strips characters that are unsafe in file names.
var artifactNameSanitizer = regexp.MustCompile(`[\\/*?:"<>|]`)

// Config holds every knob of the acquisition chain. It mirrors the service
// configuration so the package stays free of infrastructure imports.
type Config struct {
	// UnpaywallBaseURL is the Unpaywall API base URL.
	UnpaywallBaseURL string
	// UnpaywallEmail identifies the caller to Unpaywall.
	UnpaywallEmail string
	// UnpaywallTimeout bounds a single Unpaywall lookup.
	UnpaywallTimeout time.Duration
	// ProxyURL is the web unlocker endpoint; empty disables the proxy stage.
	ProxyURL string
	// ProxyZone is the unlocker zone name.
	ProxyZone string
	// ProxyAPIKey authenticates unlocker requests; empty disables the proxy stage.
	ProxyAPIKey string
	// ProxyTimeout bounds a proxied download.
	ProxyTimeout time.Duration
	// DirectTimeout bounds a direct download.
	DirectTimeout time.Duration
	// MaxDownloadSize is the PDF size cap in bytes.
	MaxDownloadSize int64
	// ArtifactDir is where downloaded PDFs are written.
	ArtifactDir string
	// KeepArtifacts retains PDFs after conversion instead of deleting them.
	KeepArtifacts bool
	// ConverterCommand is the external PDF-to-text binary.
	ConverterCommand string
	// ConverterTimeout bounds a single conversion.
	ConverterTimeout time.Duration
	// AllowPrivateNetworks disables SSRF checks; tests only.
	AllowPrivateNetworks bool
}

// Acquirer resolves DOIs to plain text through the fallback chain.
type Acquirer struct {
	resolver      *UnpaywallResolver
	downloader    *Downloader
	converter     Converter
	arxivPDFBase  string
	artifactDir   string
	keepArtifacts bool
	logger        zerolog.Logger
	metrics       *observability.Metrics
}

// New creates an Acquirer and its artifact directory.
func New(cfg Config, logger zerolog.Logger, metrics *observability.Metrics) (*Acquirer, error) {
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = filepath.Join(os.TempDir(), "discovery-pdfs")
	}
	if err := os.MkdirAll(cfg.ArtifactDir, 0o755); err != nil {
		return nil, fmt.Errorf("fulltext: create artifact dir: %w", err)
	}

	return &Acquirer{
		resolver: NewUnpaywallResolver(UnpaywallConfig{
			BaseURL: cfg.UnpaywallBaseURL,
			Email:   cfg.UnpaywallEmail,
			Timeout: cfg.UnpaywallTimeout,
		}),
		downloader: NewDownloader(DownloaderConfig{
			ProxyURL:             cfg.ProxyURL,
			ProxyZone:            cfg.ProxyZone,
			ProxyAPIKey:          cfg.ProxyAPIKey,
			ProxyTimeout:         cfg.ProxyTimeout,
			DirectTimeout:        cfg.DirectTimeout,
			MaxSize:              cfg.MaxDownloadSize,
			AllowPrivateNetworks: cfg.AllowPrivateNetworks,
		}),
		converter:     NewCommandConverter(cfg.ConverterCommand, cfg.ConverterTimeout),
		arxivPDFBase:  defaultArxivPDFBase,
		artifactDir:   cfg.ArtifactDir,
		keepArtifacts: cfg.KeepArtifacts,
		logger:        logger.With().Str("component", "fulltext").Logger(),
		metrics:       metrics,
	}, nil
}

// Acquire resolves a DOI to the paper's plain text.
//
// arXiv DOIs try the derived arxiv.org URL first and fall back to the
// Unpaywall chain when the fetch fails. Whichever stage produces bytes wins;
// those bytes are then signature-checked and converted, with no second
// download attempt.
func (a *Acquirer) Acquire(ctx context.Context, doi string) (*domain.FullText, error) {
	doi = strings.TrimSpace(doi)
	if doi == "" {
		return nil, domain.ErrNoIdentifier
	}

	var (
		content   []byte
		sourceURL string
	)

	if arxivURL, ok := arxivPDFURL(a.arxivPDFBase, doi); ok {
		data, err := a.fetchDirect(ctx, StageArxiv, arxivURL)
		if err == nil {
			content, sourceURL = data, arxivURL
		} else {
			a.logger.Debug().Str("doi", doi).Err(err).Msg("arxiv fast path failed, falling back to unpaywall")
		}
	}

	if content == nil {
		pdfURL, err := a.resolvePDFURL(ctx, doi)
		if err != nil {
			return nil, err
		}

		if a.downloader.HasProxy() {
			data, err := a.fetchViaProxy(ctx, pdfURL)
			if err == nil {
				content, sourceURL = data, pdfURL
			} else {
				a.logger.Debug().Str("doi", doi).Err(err).Msg("proxy fetch failed, trying direct download")
			}
		}

		if content == nil {
			data, err := a.fetchDirect(ctx, StageDirect, pdfURL)
			if err != nil {
				return nil, classifyFetchError(err)
			}
			content, sourceURL = data, pdfURL
		}
	}

	text, err := a.convert(ctx, doi, content)
	if err != nil {
		return nil, err
	}

	return &domain.FullText{
		DOI:         doi,
		Text:        text,
		SourceURL:   sourceURL,
		RetrievedAt: time.Now().UTC(),
	}, nil
}

// resolvePDFURL wraps the Unpaywall lookup with metrics.
func (a *Acquirer) resolvePDFURL(ctx context.Context, doi string) (string, error) {
	start := time.Now()
	pdfURL, err := a.resolver.ResolvePDFURL(ctx, doi)
	a.metrics.RecordFullTextAttempt(StageUnpaywall, time.Since(start).Seconds())
	if err != nil {
		a.metrics.RecordFullTextFailure(StageUnpaywall, failureType(err))
		return "", err
	}
	return pdfURL, nil
}

// fetchDirect wraps a direct download with metrics. stage distinguishes the
// arXiv fast path from the post-Unpaywall direct fallback.
func (a *Acquirer) fetchDirect(ctx context.Context, stage, url string) ([]byte, error) {
	start := time.Now()
	data, err := a.downloader.FetchDirect(ctx, url)
	a.metrics.RecordFullTextAttempt(stage, time.Since(start).Seconds())
	if err != nil {
		a.metrics.RecordFullTextFailure(stage, failureType(err))
		return nil, err
	}
	return data, nil
}

// fetchViaProxy wraps a proxied download with metrics.
func (a *Acquirer) fetchViaProxy(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	data, err := a.downloader.FetchViaProxy(ctx, url)
	a.metrics.RecordFullTextAttempt(StageProxy, time.Since(start).Seconds())
	if err != nil {
		a.metrics.RecordFullTextFailure(StageProxy, failureType(err))
		return nil, err
	}
	return data, nil
}

// convert writes the artifact, validates the PDF signature, and runs the
// external converter. The artifact is removed afterwards unless KeepArtifacts
// is set; an artifact failing the signature check is always removed.
func (a *Acquirer) convert(ctx context.Context, doi string, content []byte) (string, error) {
	pdfPath := filepath.Join(a.artifactDir, artifactNameSanitizer.ReplaceAllString(doi, "_")+".pdf")
	if err := os.WriteFile(pdfPath, content, 0o644); err != nil {
		return "", fmt.Errorf("%w: write artifact: %w", domain.ErrTransient, err)
	}

	if err := validatePDFSignature(pdfPath); err != nil {
		a.metrics.RecordFullTextFailure(StageConvert, "not_pdf")
		return "", err
	}

	start := time.Now()
	text, err := a.converter.Convert(ctx, pdfPath)
	a.metrics.RecordFullTextAttempt(StageConvert, time.Since(start).Seconds())

	if !a.keepArtifacts {
		if rmErr := os.Remove(pdfPath); rmErr != nil {
			a.logger.Warn().Str("path", pdfPath).Err(rmErr).Msg("failed to remove artifact")
		}
	}

	if err != nil {
		a.metrics.RecordFullTextFailure(StageConvert, "convert_failed")
		return "", fmt.Errorf("%w: %w", domain.ErrNotAvailable, err)
	}
	if strings.TrimSpace(text) == "" {
		a.metrics.RecordFullTextFailure(StageConvert, "empty_text")
		return "", fmt.Errorf("%w: conversion produced no text for DOI %s", domain.ErrNotAvailable, doi)
	}

	return text, nil
}

// ArxivPDFURL derives the direct PDF URL for arXiv-registered DOIs
// (10.48550/arXiv.<id>). Returns false for any other DOI.
func ArxivPDFURL(doi string) (string, bool) {
	return arxivPDFURL(defaultArxivPDFBase, doi)
}

func arxivPDFURL(base, doi string) (string, bool) {
	if len(doi) <= len(arxivDOIPrefix) {
		return "", false
	}
	if !strings.EqualFold(doi[:len(arxivDOIPrefix)], arxivDOIPrefix) {
		return "", false
	}
	arxivID := doi[len(arxivDOIPrefix):]
	return base + arxivID + ".pdf", true
}

// validatePDFSignature checks the %PDF- magic bytes. A mismatch usually means
// the publisher served an HTML interstitial instead of the document; the
// artifact is deleted and the paper reported as unavailable.
func validatePDFSignature(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open artifact: %w", domain.ErrTransient, err)
	}
	header := make([]byte, len(pdfMagic))
	_, readErr := f.Read(header)
	_ = f.Close()

	if readErr != nil || string(header) != string(pdfMagic) {
		_ = os.Remove(path)
		return fmt.Errorf("%w: downloaded file is not a PDF (likely paywalled)", domain.ErrNotAvailable)
	}
	return nil
}

// classifyFetchError maps downloader sentinels onto domain error categories.
// Access refusals, oversized files, and SSRF rejections are permanent for the
// candidate; everything else is transient network trouble.
func classifyFetchError(err error) error {
	switch {
	case errors.Is(err, ErrPaywalled), errors.Is(err, ErrTooLarge), errors.Is(err, ErrSSRF):
		return fmt.Errorf("%w: %w", domain.ErrNotAvailable, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
}

// failureType labels a download failure for metrics.
func failureType(err error) string {
	switch {
	case errors.Is(err, ErrPaywalled):
		return "paywalled"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrSSRF):
		return "ssrf"
	case errors.Is(err, domain.ErrNotAvailable):
		return "not_available"
	default:
		return "network"
	}
}
