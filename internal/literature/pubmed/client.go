// Package pubmed implements the two-phase NCBI E-utilities search protocol
// used to find candidate papers: esearch resolves a query to PMIDs, efetch
// hydrates those PMIDs into article metadata.
package pubmed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/interaction-discovery-service/internal/domain"
	"github.com/helixir/interaction-discovery-service/internal/literature"
)

const (
	// DefaultBaseURL is the NCBI E-utilities endpoint.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is NCBI's permitted rate without an API key.
	DefaultRateLimit = 3.0

	// KeyedRateLimit is NCBI's permitted rate with an API key.
	KeyedRateLimit = 10.0

	// DefaultMaxResults is the number of PMIDs requested per search round.
	DefaultMaxResults = 100

	// MaxResultsLimit is the ceiling esearch accepts for retmax.
	MaxResultsLimit = 10000

	// DefaultTool is the tool name reported to NCBI.
	DefaultTool = "interaction-discovery-service"

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 10 << 20

	sourceName = "PubMed"

	searchPath = "/esearch.fcgi"
	fetchPath  = "/efetch.fcgi"
)

// Config holds PubMed client configuration.
type Config struct {
	// BaseURL is the E-utilities base URL (no trailing slash).
	BaseURL string

	// APIKey raises the permitted request rate. Sent as a query parameter.
	APIKey string

	// Email identifies the caller to NCBI per the E-utilities usage policy.
	Email string

	// Tool identifies the client software to NCBI.
	Tool string

	// SearchTimeout bounds the esearch phase.
	SearchTimeout time.Duration

	// FetchTimeout bounds the efetch phase, which returns much larger payloads.
	FetchTimeout time.Duration

	// RateLimit is requests per second. Zero selects the NCBI default for
	// the configured key state.
	RateLimit float64

	// BurstSize is the rate limiter burst. Zero matches the rate.
	BurstSize int

	// MaxRetries is passed through to the shared HTTP client.
	MaxRetries int
}

// applyDefaults fills in zero values.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Tool == "" {
		c.Tool = DefaultTool
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = 30 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 60 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
		if c.APIKey != "" {
			c.RateLimit = KeyedRateLimit
		}
	}
	if c.BurstSize <= 0 {
		c.BurstSize = int(c.RateLimit)
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// Client searches PubMed for candidate papers.
type Client struct {
	config     Config
	httpClient *literature.HTTPClient
}

// New creates a PubMed client with its own rate-limited HTTP client.
func New(config Config) *Client {
	config.applyDefaults()

	httpClient := literature.NewHTTPClient(literature.HTTPClientConfig{
		// The efetch phase is the slower of the two; per-phase deadlines
		// are applied through the request context.
		Timeout:    config.FetchTimeout,
		RateLimit:  config.RateLimit,
		BurstSize:  config.BurstSize,
		MaxRetries: config.MaxRetries,
	})

	return &Client{
		config:     config,
		httpClient: httpClient,
	}
}

// NewWithHTTPClient creates a PubMed client with a custom HTTP client.
// Primarily useful for testing.
func NewWithHTTPClient(config Config, httpClient *literature.HTTPClient) *Client {
	config.applyDefaults()
	return &Client{
		config:     config,
		httpClient: httpClient,
	}
}

// Name returns the source name.
func (c *Client) Name() string {
	return sourceName
}

// Search runs the two-phase protocol and returns candidate papers in the
// order PubMed ranked them. An empty result is not an error: queries that
// match nothing return a nil slice.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]domain.CandidatePaper, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewValidationError("query", "must not be empty")
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if maxResults > MaxResultsLimit {
		maxResults = MaxResultsLimit
	}

	pmids, err := c.searchIDs(ctx, query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("esearch failed: %w", err)
	}
	if len(pmids) == 0 {
		return nil, nil
	}

	papers, err := c.fetchArticles(ctx, pmids)
	if err != nil {
		return nil, fmt.Errorf("efetch failed: %w", err)
	}
	return papers, nil
}

// searchIDs runs the esearch phase and returns matching PMIDs.
func (c *Client) searchIDs(ctx context.Context, query string, maxResults int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.SearchTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", query)
	params.Set("retmax", strconv.Itoa(maxResults))
	params.Set("retmode", "xml")
	c.setIdentity(params)

	data, err := c.get(ctx, c.config.BaseURL+searchPath+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var result ESearchResult
	if err := xml.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	// An unmatched phrase is an empty result, not a failure.
	if len(result.IDList.IDs) == 0 {
		return nil, nil
	}

	return result.IDList.IDs, nil
}

// fetchArticles runs the efetch phase for the given PMIDs.
func (c *Client) fetchArticles(ctx context.Context, pmids []string) ([]domain.CandidatePaper, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(pmids, ","))
	params.Set("retmode", "xml")
	c.setIdentity(params)

	data, err := c.get(ctx, c.config.BaseURL+fetchPath+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var articleSet PubmedArticleSet
	if err := xml.Unmarshal(data, &articleSet); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	papers := make([]domain.CandidatePaper, 0, len(articleSet.Articles))
	for _, article := range articleSet.Articles {
		papers = append(papers, articleToCandidate(article))
	}
	return papers, nil
}

// get performs a GET through the shared HTTP client and reads the body.
func (c *Client) get(ctx context.Context, requestURL string) ([]byte, error) {
	resp, err := c.httpClient.Get(ctx, requestURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode,
			strings.TrimSpace(string(body)), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

// setIdentity attaches the identification parameters NCBI asks clients to send.
func (c *Client) setIdentity(params url.Values) {
	params.Set("tool", c.config.Tool)
	if c.config.Email != "" {
		params.Set("email", c.config.Email)
	}
	if c.config.APIKey != "" {
		params.Set("api_key", c.config.APIKey)
	}
}

// articleToCandidate maps a PubMed article record to a candidate paper.
func articleToCandidate(article PubmedArticle) domain.CandidatePaper {
	citation := article.MedlineCitation

	return domain.CandidatePaper{
		Title:           strings.TrimSpace(citation.Article.ArticleTitle),
		Abstract:        extractAbstract(citation.Article.Abstract),
		Authors:         extractAuthors(citation.Article.AuthorList),
		Journal:         citation.Article.Journal.Title,
		JournalAbbrev:   citation.Article.Journal.ISOAbbreviation,
		PublicationDate: formatPubDate(citation.Article.Journal.JournalIssue.PubDate),
		DOI:             extractDOI(article),
		PMID:            citation.PMID.Value,
		PMCID:           extractPMCID(article),
		Keywords:        extractKeywords(citation),
	}
}

// extractDOI prefers a valid ELocationID, falling back to the ArticleIdList.
func extractDOI(article PubmedArticle) string {
	for _, loc := range article.MedlineCitation.Article.ELocationIDs {
		if loc.EIdType == "doi" && loc.ValidYN != "N" {
			return strings.TrimSpace(loc.Value)
		}
	}
	for _, id := range article.PubmedData.ArticleIdList.ArticleIds {
		if id.IdType == "doi" {
			return strings.TrimSpace(id.Value)
		}
	}
	return ""
}

// extractPMCID returns the PubMed Central identifier when one exists.
func extractPMCID(article PubmedArticle) string {
	for _, id := range article.PubmedData.ArticleIdList.ArticleIds {
		if id.IdType == "pmc" {
			return strings.TrimSpace(id.Value)
		}
	}
	return ""
}

// extractAbstract concatenates abstract sections into a single string,
// prefixing labeled sections with their label.
func extractAbstract(abstract *Abstract) string {
	if abstract == nil || len(abstract.Sections) == 0 {
		return ""
	}

	// Single unlabeled section is the common case.
	if len(abstract.Sections) == 1 && abstract.Sections[0].Label == "" {
		return strings.TrimSpace(abstract.Sections[0].Value)
	}

	parts := make([]string, 0, len(abstract.Sections))
	for _, section := range abstract.Sections {
		text := strings.TrimSpace(section.Value)
		if text == "" {
			continue
		}
		if section.Label != "" {
			parts = append(parts, section.Label+": "+text)
		} else {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// extractAuthors returns author names as "ForeName LastName", using the
// collective name for group authorship.
func extractAuthors(authorList *AuthorList) []string {
	if authorList == nil || len(authorList.Authors) == 0 {
		return nil
	}

	authors := make([]string, 0, len(authorList.Authors))
	for _, a := range authorList.Authors {
		if a.ValidYN == "N" {
			continue
		}

		var name string
		if a.CollectiveName != "" {
			name = a.CollectiveName
		} else {
			nameParts := make([]string, 0, 2)
			if a.ForeName != "" {
				nameParts = append(nameParts, a.ForeName)
			}
			if a.LastName != "" {
				nameParts = append(nameParts, a.LastName)
			}
			name = strings.Join(nameParts, " ")
		}

		if name == "" {
			continue
		}
		authors = append(authors, name)
	}
	return authors
}

// extractKeywords merges author-supplied keywords with MeSH descriptors,
// keywords first, dropping case-insensitive duplicates.
func extractKeywords(citation MedlineCitation) []string {
	var keywords []string
	seen := make(map[string]struct{})

	add := func(value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		key := strings.ToLower(value)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		keywords = append(keywords, value)
	}

	if citation.KeywordList != nil {
		for _, kw := range citation.KeywordList.Keywords {
			add(kw.Value)
		}
	}
	if citation.MeshHeadingList != nil {
		for _, mh := range citation.MeshHeadingList.MeshHeadings {
			add(mh.DescriptorName.Value)
		}
	}
	return keywords
}

// formatPubDate joins the populated date components with "-". PubMed month
// values may be names ("Aug") or numbers; they pass through unchanged.
// Records without a structured date fall back to the free-form MedlineDate.
func formatPubDate(date PubDate) string {
	if date.Year == "" {
		return strings.TrimSpace(date.MedlineDate)
	}

	parts := []string{date.Year}
	if date.Month != "" {
		parts = append(parts, date.Month)
		if date.Day != "" {
			parts = append(parts, date.Day)
		}
	}
	return strings.Join(parts, "-")
}
