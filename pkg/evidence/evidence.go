package evidence

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"aerogate/pkg/models"
)

// ErrNoCitations is the text of the structural zero-citation failure. An
// answer for R1 and above must never leave the system without it resolving.
const ErrNoCitations = "CRITICAL: citations required but none provided; answer must not be returned"

// Enforcer validates evidence packages and constructs citations from
// retrieval output. It checks citation completeness and currency, not
// relevance to the query.
type Enforcer struct {
	mu    sync.RWMutex
	cache map[string]models.Citation
}

func New() *Enforcer {
	return &Enforcer{cache: map[string]models.Citation{}}
}

// ValidatePackage checks the package against the evidence contract. When
// citations are required and none exist, the package fails regardless of any
// other field. Per-citation errors are prefixed with the 1-based index.
func (e *Enforcer) ValidatePackage(pkg models.EvidencePackage, requireCitations bool) (bool, []string) {
	var errs []string
	if requireCitations && len(pkg.Citations) == 0 {
		errs = append(errs, ErrNoCitations)
	}
	now := time.Now().UTC()
	for i, c := range pkg.Citations {
		for _, err := range validateCitation(c, now) {
			errs = append(errs, fmt.Sprintf("citation %d: %s", i+1, err))
		}
	}
	if len(errs) > 0 {
		log.Printf("evidence validation failed for query %.80q: %d error(s)", pkg.Query, len(errs))
		return false, errs
	}
	return true, nil
}

func validateCitation(c models.Citation, now time.Time) []string {
	var errs []string
	if c.DocumentID == "" {
		errs = append(errs, "missing document_id")
	}
	if c.Version == "" {
		errs = append(errs, "missing version")
	}
	if c.EffectiveDate.IsZero() {
		errs = append(errs, "missing effective_date")
	}
	if c.ParagraphLocator == "" {
		errs = append(errs, "missing paragraph_locator")
	}
	if c.Excerpt == "" {
		errs = append(errs, "missing excerpt")
	}
	if c.ContentHash == "" {
		errs = append(errs, "missing content_hash")
	}
	if !CurrentlyEffective(c, now) {
		until := "unset"
		if c.EffectiveUntil != nil {
			until = c.EffectiveUntil.Format(time.RFC3339)
		}
		errs = append(errs, fmt.Sprintf(
			"not currently effective (effective %s, until %s)",
			c.EffectiveDate.Format(time.RFC3339), until))
	}
	if c.Applicability != nil && c.Applicability.SupersededBy != "" {
		errs = append(errs, "superseded by "+c.Applicability.SupersededBy)
	}
	return errs
}

// CurrentlyEffective reports whether the citation's validity window covers
// asOf: effective_date <= asOf < effective_until (unset until = open-ended).
func CurrentlyEffective(c models.Citation, asOf time.Time) bool {
	if asOf.Before(c.EffectiveDate) {
		return false
	}
	if c.EffectiveUntil != nil && !asOf.Before(*c.EffectiveUntil) {
		return false
	}
	return true
}

// VerifyContent recomputes the content hash over actual and compares it to
// the hash bound into the citation.
func VerifyContent(c models.Citation, actual string) bool {
	return models.HashText(actual) == c.ContentHash
}

// EnforceNoAnswer applies the "no evidence, no answer" rule. R0 passes
// trivially; every other tier requires a fully valid package. A failing
// package blocks the answer and the reason instructs escalation to a human.
func (e *Enforcer) EnforceNoAnswer(pkg models.EvidencePackage, tier models.RiskTier) (bool, string) {
	if tier == models.TierR0 {
		return true, "R0 tier allows answers without citations"
	}
	ok, errs := e.ValidatePackage(pkg, true)
	if !ok {
		return false, fmt.Sprintf(
			"evidence validation failed for %s: %s. Answer blocked; escalate to a human.",
			tier, strings.Join(errs, "; "))
	}
	return true, "evidence validation passed"
}

// RetrievalMeta carries the optional fields retrieval systems attach to an
// excerpt.
type RetrievalMeta struct {
	Revision         string
	Title            string
	ParagraphLocator string
	EffectiveDate    time.Time
	EffectiveUntil   *time.Time
	URL              string
	FilePath         string
	Extra            map[string]string
}

// CitationFromRetrieval builds a citation from retrieval output, deriving
// the content hash from the excerpt, and caches it under document+version
// for later verification.
func (e *Enforcer) CitationFromRetrieval(documentID, version string, source models.SourceSystem, evType models.EvidenceType, excerpt string, meta RetrievalMeta) models.Citation {
	now := time.Now().UTC()
	effective := meta.EffectiveDate
	if effective.IsZero() {
		effective = now
	}
	revision := meta.Revision
	if revision == "" {
		revision = "0"
	}
	title := meta.Title
	if title == "" {
		title = "Unknown"
	}
	locator := meta.ParagraphLocator
	if locator == "" {
		locator = "unknown"
	}
	c := models.Citation{
		DocumentID:         documentID,
		Version:            version,
		Revision:           revision,
		Title:              title,
		SourceSystem:       source,
		EvidenceType:       evType,
		ParagraphLocator:   locator,
		Excerpt:            excerpt,
		ContentHash:        models.HashText(excerpt),
		EffectiveDate:      effective,
		RetrievalTimestamp: now,
		EffectiveUntil:     meta.EffectiveUntil,
		URL:                meta.URL,
		FilePath:           meta.FilePath,
		Metadata:           meta.Extra,
	}
	e.mu.Lock()
	e.cache[documentID+"_"+version] = c
	e.mu.Unlock()
	return c
}

// CachedCitation returns a previously constructed citation.
func (e *Enforcer) CachedCitation(documentID, version string) (models.Citation, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.cache[documentID+"_"+version]
	return c, ok
}

// DisplayFormat renders a citation the way it is shown to users.
func DisplayFormat(c models.Citation) string {
	parts := []string{
		c.Title,
		"Version " + c.Version,
		"Effective " + c.EffectiveDate.Format("2006-01-02"),
		"Section " + c.ParagraphLocator,
	}
	if c.Applicability != nil && len(c.Applicability.AircraftTypes) > 0 {
		parts = append(parts, "Aircraft: "+strings.Join(c.Applicability.AircraftTypes, ", "))
	}
	return strings.Join(parts, " | ")
}
