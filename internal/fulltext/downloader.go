package fulltext

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sentinel errors for PDF download operations.
var (
	// ErrFetchFailed is returned when a download fails due to network or HTTP errors.
	ErrFetchFailed = errors.New("fulltext: download failed")
	// ErrPaywalled is returned when the publisher refuses access (401, 402, 403, 451).
	ErrPaywalled = errors.New("fulltext: access denied by publisher")
	// ErrTooLarge is returned when the file exceeds the maximum allowed size.
	ErrTooLarge = errors.New("fulltext: file exceeds maximum size")
	// ErrSSRF is returned when the URL resolves to a private/internal network address.
	ErrSSRF = errors.New("fulltext: request to private network denied")
)

// defaultUserAgent mimics a browser; several publishers refuse obviously
// programmatic clients even for open-access PDFs.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// DownloaderConfig holds downloader configuration.
type DownloaderConfig struct {
	// ProxyURL is the web unlocker request endpoint. Empty disables the proxy stage.
	ProxyURL string
	// ProxyZone is the unlocker zone name sent with each proxy request.
	ProxyZone string
	// ProxyAPIKey authenticates proxy requests. Empty disables the proxy stage.
	ProxyAPIKey string
	// ProxyTimeout bounds a single proxied download. Default: 60 seconds.
	ProxyTimeout time.Duration
	// DirectTimeout bounds a single direct download. Default: 30 seconds.
	DirectTimeout time.Duration
	// MaxSize is the maximum file size in bytes. Default: 50MB.
	MaxSize int64
	// UserAgent is the User-Agent header for direct downloads.
	UserAgent string
	// AllowPrivateNetworks disables SSRF private-IP checks. This MUST only be
	// set to true in test environments. Production code must never set this.
	AllowPrivateNetworks bool
}

// Downloader fetches PDF bytes either directly or through a web unlocker
// proxy. Direct fetches follow redirects with SSRF validation at every hop;
// proxy fetches go to the fixed configured endpoint only.
type Downloader struct {
	directClient         *http.Client
	proxyClient          *http.Client
	proxyURL             string
	proxyZone            string
	proxyAPIKey          string
	maxSize              int64
	userAgent            string
	allowPrivateNetworks bool // For testing only; never enable in production.
}

// NewDownloader creates a new Downloader with the given configuration.
func NewDownloader(cfg DownloaderConfig) *Downloader {
	if cfg.ProxyTimeout == 0 {
		cfg.ProxyTimeout = 60 * time.Second
	}
	if cfg.DirectTimeout == 0 {
		cfg.DirectTimeout = 30 * time.Second
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 50 * 1024 * 1024 // 50MB
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	d := &Downloader{
		proxyURL:             cfg.ProxyURL,
		proxyZone:            cfg.ProxyZone,
		proxyAPIKey:          cfg.ProxyAPIKey,
		maxSize:              cfg.MaxSize,
		userAgent:            cfg.UserAgent,
		allowPrivateNetworks: cfg.AllowPrivateNetworks,
	}

	d.directClient = &http.Client{
		Timeout: cfg.DirectTimeout,
		// Validate each redirect URL against private IP checks to prevent
		// SSRF via open redirects that land on internal network addresses.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("%w: too many redirects", ErrSSRF)
			}
			if !d.allowPrivateNetworks {
				if err := validateURLNotPrivate(req.URL.String()); err != nil {
					return err
				}
			}
			return nil
		},
	}

	// The proxy endpoint is fixed configuration, not caller data, so it
	// needs no SSRF validation.
	d.proxyClient = &http.Client{
		Timeout: cfg.ProxyTimeout,
	}

	return d
}

// HasProxy reports whether the unlocker proxy stage is configured.
func (d *Downloader) HasProxy() bool {
	return d.proxyURL != "" && d.proxyAPIKey != ""
}

// FetchDirect downloads the document at url with a browser-like User-Agent.
// Returns ErrPaywalled for access-refusal statuses, ErrTooLarge when the body
// exceeds MaxSize, ErrSSRF when the URL resolves to a private address, and
// ErrFetchFailed for other network or HTTP failures.
func (d *Downloader) FetchDirect(ctx context.Context, rawURL string) ([]byte, error) {
	if !d.allowPrivateNetworks {
		if err := validateURLNotPrivate(rawURL); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %w", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "application/pdf, */*;q=0.8")

	resp, err := d.directClient.Do(req)
	if err != nil {
		// Redirect validation errors come back wrapped in *url.Error.
		if errors.Is(err, ErrSSRF) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkFetchStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	return d.readLimited(resp.Body)
}

// proxyRequest is the web unlocker request body. format "raw" returns the
// target response bytes unmodified.
type proxyRequest struct {
	Zone   string `json:"zone"`
	URL    string `json:"url"`
	Format string `json:"format"`
}

// FetchViaProxy downloads the document at url through the web unlocker
// endpoint. The unlocker fetches the target server-side and relays the raw
// response body.
func (d *Downloader) FetchViaProxy(ctx context.Context, rawURL string) ([]byte, error) {
	if !d.HasProxy() {
		return nil, fmt.Errorf("%w: proxy not configured", ErrFetchFailed)
	}

	body, err := json.Marshal(proxyRequest{
		Zone:   d.proxyZone,
		URL:    rawURL,
		Format: "raw",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal proxy request: %w", ErrFetchFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.proxyURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid proxy URL: %w", ErrFetchFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.proxyAPIKey)

	resp, err := d.proxyClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkFetchStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	return d.readLimited(resp.Body)
}

// readLimited reads the response body with the size cap. One extra byte is
// requested to detect oversized files.
func (d *Downloader) readLimited(body io.Reader) ([]byte, error) {
	content, err := io.ReadAll(io.LimitReader(body, d.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrFetchFailed, err)
	}
	if int64(len(content)) > d.maxSize {
		return nil, fmt.Errorf("%w: exceeded %d bytes", ErrTooLarge, d.maxSize)
	}
	return content, nil
}

// checkFetchStatus maps HTTP statuses to sentinel errors.
func checkFetchStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized,
		status == http.StatusPaymentRequired,
		status == http.StatusForbidden,
		status == http.StatusUnavailableForLegalReasons:
		return fmt.Errorf("%w: HTTP %d", ErrPaywalled, status)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrFetchFailed, status)
	}
}

// isPrivateIP returns true if the IP address is in a private, loopback, or
// otherwise non-routable range. Covers both IPv4 and IPv6 private ranges.
func isPrivateIP(ip net.IP) bool {
	// IPv4 private ranges.
	privateRanges := []struct{ start, end net.IP }{
		{net.ParseIP("10.0.0.0"), net.ParseIP("10.255.255.255")},
		{net.ParseIP("172.16.0.0"), net.ParseIP("172.31.255.255")},
		{net.ParseIP("192.168.0.0"), net.ParseIP("192.168.255.255")},
		{net.ParseIP("169.254.0.0"), net.ParseIP("169.254.255.255")},
		// IPv6 Unique Local Addresses (fc00::/7).
		{net.ParseIP("fc00::"), net.ParseIP("fdff:ffff:ffff:ffff:ffff:ffff:ffff:ffff")},
		// IPv6 link-local (fe80::/10).
		{net.ParseIP("fe80::"), net.ParseIP("febf:ffff:ffff:ffff:ffff:ffff:ffff:ffff")},
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, r := range privateRanges {
		if bytesInRange(ip.To16(), r.start.To16(), r.end.To16()) {
			return true
		}
	}
	return false
}

func bytesInRange(ip, lo, hi []byte) bool {
	for i := range ip {
		if ip[i] < lo[i] {
			return false
		}
		if ip[i] > hi[i] {
			return false
		}
	}
	return true
}

// validateURLNotPrivate resolves the hostname and rejects private IPs.
func validateURLNotPrivate(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSSRF, err)
	}

	// Reject non-HTTP(S) schemes to prevent file://, gopher://, etc.
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		// allowed
	default:
		return fmt.Errorf("%w: scheme %q is not allowed", ErrSSRF, parsed.Scheme)
	}

	host := parsed.Hostname()
	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("%w: DNS lookup failed for %s: %w", ErrFetchFailed, host, err)
	}
	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip != nil && isPrivateIP(ip) {
			return fmt.Errorf("%w: %s resolves to private address %s", ErrSSRF, host, ipStr)
		}
	}
	return nil
}
