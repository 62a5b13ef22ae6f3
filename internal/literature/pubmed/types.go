package pubmed

import "encoding/xml"

// ESearchResult is the response from the esearch endpoint.
type ESearchResult struct {
	XMLName   xml.Name   `xml:"eSearchResult"`
	Count     string     `xml:"Count"`
	RetMax    string     `xml:"RetMax"`
	RetStart  string     `xml:"RetStart"`
	IDList    IDList     `xml:"IdList"`
	ErrorList *ErrorList `xml:"ErrorList"`
}

// IDList contains the PMIDs returned by a search.
type IDList struct {
	IDs []string `xml:"Id"`
}

// ErrorList contains search errors such as unmatched phrases.
type ErrorList struct {
	PhraseNotFound []string `xml:"PhraseNotFound"`
	FieldNotFound  []string `xml:"FieldNotFound"`
}

// PubmedArticleSet is the response from the efetch endpoint.
type PubmedArticleSet struct {
	XMLName  xml.Name        `xml:"PubmedArticleSet"`
	Articles []PubmedArticle `xml:"PubmedArticle"`
}

// PubmedArticle is a single article record.
type PubmedArticle struct {
	MedlineCitation MedlineCitation `xml:"MedlineCitation"`
	PubmedData      PubmedData      `xml:"PubmedData"`
}

// MedlineCitation contains the citation data for an article.
type MedlineCitation struct {
	PMID            PMID             `xml:"PMID"`
	Article         Article          `xml:"Article"`
	MeshHeadingList *MeshHeadingList `xml:"MeshHeadingList"`
	KeywordList     *KeywordList     `xml:"KeywordList"`
}

// PMID is the PubMed identifier.
type PMID struct {
	Value string `xml:",chardata"`
}

// Article contains the article metadata.
type Article struct {
	Journal      Journal       `xml:"Journal"`
	ArticleTitle string        `xml:"ArticleTitle"`
	Abstract     *Abstract     `xml:"Abstract"`
	AuthorList   *AuthorList   `xml:"AuthorList"`
	ELocationIDs []ELocationID `xml:"ELocationID"`
}

// Journal contains journal information.
type Journal struct {
	Title           string       `xml:"Title"`
	ISOAbbreviation string       `xml:"ISOAbbreviation"`
	JournalIssue    JournalIssue `xml:"JournalIssue"`
}

// JournalIssue contains issue details including the publication date.
type JournalIssue struct {
	PubDate PubDate `xml:"PubDate"`
}

// PubDate is the publication date. Either the structured Year/Month/Day
// fields or the free-form MedlineDate is populated, not both.
type PubDate struct {
	Year        string `xml:"Year"`
	Month       string `xml:"Month"`
	Day         string `xml:"Day"`
	MedlineDate string `xml:"MedlineDate"`
}

// ELocationID is an electronic location identifier such as a DOI.
type ELocationID struct {
	EIdType string `xml:"EIdType,attr"`
	ValidYN string `xml:"ValidYN,attr"`
	Value   string `xml:",chardata"`
}

// Abstract contains the article abstract, possibly in labeled sections.
type Abstract struct {
	Sections []AbstractText `xml:"AbstractText"`
}

// AbstractText is one section of an abstract. Structured abstracts carry
// a Label attribute (BACKGROUND, METHODS, RESULTS, ...).
type AbstractText struct {
	Label string `xml:"Label,attr"`
	Value string `xml:",chardata"`
}

// AuthorList contains the article authors.
type AuthorList struct {
	Authors []Author `xml:"Author"`
}

// Author is a single author. Collective names are used for group
// authorship where no individual name exists.
type Author struct {
	ValidYN        string `xml:"ValidYN,attr"`
	LastName       string `xml:"LastName"`
	ForeName       string `xml:"ForeName"`
	Initials       string `xml:"Initials"`
	CollectiveName string `xml:"CollectiveName"`
}

// MeshHeadingList contains the MeSH descriptors assigned to an article.
type MeshHeadingList struct {
	MeshHeadings []MeshHeading `xml:"MeshHeading"`
}

// MeshHeading is a single MeSH descriptor.
type MeshHeading struct {
	DescriptorName DescriptorName `xml:"DescriptorName"`
}

// DescriptorName is the name of a MeSH descriptor.
type DescriptorName struct {
	Value string `xml:",chardata"`
}

// KeywordList contains author-supplied keywords.
type KeywordList struct {
	Keywords []Keyword `xml:"Keyword"`
}

// Keyword is a single author-supplied keyword.
type Keyword struct {
	Value string `xml:",chardata"`
}

// PubmedData contains supplementary data including alternate identifiers.
type PubmedData struct {
	ArticleIdList ArticleIdList `xml:"ArticleIdList"`
}

// ArticleIdList contains the article identifiers (doi, pmc, pubmed).
type ArticleIdList struct {
	ArticleIds []ArticleId `xml:"ArticleId"`
}

// ArticleId is a single identifier with its type.
type ArticleId struct {
	IdType string `xml:"IdType,attr"`
	Value  string `xml:",chardata"`
}
