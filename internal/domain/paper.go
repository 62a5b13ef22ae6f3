package domain

import (
	"strings"
	"time"
)

// CandidatePaper is a literature search result that has not yet been
// classified for relevance. It is immutable once fetched from the search
// boundary and is consumed from the candidate queue exactly once.
type CandidatePaper struct {
	Title           string
	Abstract        string
	Authors         []string
	Journal         string
	JournalAbbrev   string
	PublicationDate string
	DOI             string
	PMID            string
	PMCID           string
	Keywords        []string
}

// Identifier returns the paper's dedupe identifier. The checked-identifier
// set is keyed on the DOI; papers without a DOI are filtered out before
// classification.
func (p CandidatePaper) Identifier() string {
	return strings.ToLower(strings.TrimSpace(p.DOI))
}

// HasDOI returns true if the paper carries a non-empty DOI.
func (p CandidatePaper) HasDOI() bool {
	return strings.TrimSpace(p.DOI) != ""
}

// CitationText renders a short human-readable citation for log lines.
func (p CandidatePaper) CitationText() string {
	var sb strings.Builder
	sb.WriteString(p.Title)
	if p.JournalAbbrev != "" {
		sb.WriteString(" (")
		sb.WriteString(p.JournalAbbrev)
		sb.WriteString(")")
	} else if p.Journal != "" {
		sb.WriteString(" (")
		sb.WriteString(p.Journal)
		sb.WriteString(")")
	}
	return sb.String()
}

// FullText is the result of a successful full-text acquisition.
type FullText struct {
	DOI         string
	Text        string
	SourceURL   string
	RetrievedAt time.Time
}
