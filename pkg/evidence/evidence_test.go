package evidence

import (
	"strings"
	"testing"
	"time"

	"aerogate/pkg/models"
)

func validCitation() models.Citation {
	return models.Citation{
		DocumentID:         "POL-BAGGAGE-001",
		Version:            "3.2",
		Revision:           "1",
		Title:              "Checked Baggage Allowance Policy",
		SourceSystem:       models.SourcePolicyManagement,
		EvidenceType:       models.EvidencePolicy,
		ParagraphLocator:   "3.1.2",
		Excerpt:            "Economy passengers are entitled to 2 pieces of checked baggage.",
		ContentHash:        models.HashText("Economy passengers are entitled to 2 pieces of checked baggage."),
		EffectiveDate:      time.Now().UTC().Add(-24 * time.Hour),
		RetrievalTimestamp: time.Now().UTC(),
	}
}

func packageWith(citations ...models.Citation) models.EvidencePackage {
	return models.EvidencePackage{
		Query:             "baggage allowance for economy",
		Answer:            "Two pieces up to 23kg each.",
		Citations:         citations,
		RetrievalStrategy: "hybrid",
		ConfidenceScore:   0.9,
		Timestamp:         time.Now().UTC(),
		RiskTier:          models.TierR1,
	}
}

func TestValidatePackageOK(t *testing.T) {
	e := New()
	ok, errs := e.ValidatePackage(packageWith(validCitation()), true)
	if !ok {
		t.Fatalf("expected valid package, errors=%v", errs)
	}
}

func TestValidatePackageZeroCitationsBlocked(t *testing.T) {
	e := New()
	pkg := packageWith()
	pkg.ConfidenceScore = 1.0
	ok, errs := e.ValidatePackage(pkg, true)
	if ok {
		t.Fatal("zero citations must fail when required")
	}
	if len(errs) == 0 || !strings.Contains(errs[0], "CRITICAL") {
		t.Fatalf("expected CRITICAL zero-citation error got=%v", errs)
	}
}

func TestValidatePackageCitationsOptional(t *testing.T) {
	e := New()
	ok, errs := e.ValidatePackage(packageWith(), false)
	if !ok {
		t.Fatalf("expected pass without citations when not required, errors=%v", errs)
	}
}

func TestValidatePackageIndexesErrors(t *testing.T) {
	e := New()
	bad := validCitation()
	bad.ParagraphLocator = ""
	ok, errs := e.ValidatePackage(packageWith(validCitation(), bad), true)
	if ok {
		t.Fatal("expected failure for incomplete citation")
	}
	found := false
	for _, err := range errs {
		if strings.HasPrefix(err, "citation 2:") {
			found = true
		}
		if strings.HasPrefix(err, "citation 1:") {
			t.Fatalf("citation 1 is valid, got error %q", err)
		}
	}
	if !found {
		t.Fatalf("expected error prefixed with citation 2, got %v", errs)
	}
}

func TestExpiredCitationNamedInError(t *testing.T) {
	e := New()
	expired := validCitation()
	until := time.Now().UTC().Add(-time.Hour)
	expired.EffectiveUntil = &until
	ok, errs := e.ValidatePackage(packageWith(expired), true)
	if ok {
		t.Fatal("expected expired citation to fail")
	}
	joined := strings.Join(errs, "; ")
	if !strings.Contains(joined, "not currently effective") {
		t.Fatalf("expected error naming effectiveness, got %v", errs)
	}
}

func TestSupersededCitationRejected(t *testing.T) {
	e := New()
	c := validCitation()
	c.Applicability = &models.Applicability{SupersededBy: "POL-BAGGAGE-002"}
	ok, errs := e.ValidatePackage(packageWith(c), true)
	if ok {
		t.Fatal("expected superseded citation to fail")
	}
	if !strings.Contains(strings.Join(errs, "; "), "superseded by POL-BAGGAGE-002") {
		t.Fatalf("expected supersession error, got %v", errs)
	}
}

func TestEnforceNoAnswerR0Trivial(t *testing.T) {
	e := New()
	allow, _ := e.EnforceNoAnswer(packageWith(), models.TierR0)
	if !allow {
		t.Fatal("R0 must pass without citations")
	}
}

func TestEnforceNoAnswerEscalates(t *testing.T) {
	e := New()
	for _, tier := range []models.RiskTier{models.TierR1, models.TierR2, models.TierR3} {
		allow, reason := e.EnforceNoAnswer(packageWith(), tier)
		if allow {
			t.Fatalf("tier %s must block answers without evidence", tier)
		}
		if !strings.Contains(reason, "escalate") {
			t.Fatalf("expected escalation instruction in reason, got %q", reason)
		}
	}
	allow, _ := e.EnforceNoAnswer(packageWith(validCitation()), models.TierR2)
	if !allow {
		t.Fatal("valid evidence must allow the answer")
	}
}

func TestCitationRoundTrip(t *testing.T) {
	e := New()
	excerpt := "MEL Category B items must be rectified within 3 days."
	c := e.CitationFromRetrieval("MAINT-MEL-001", "4.5", models.SourceMaintenanceManual, models.EvidenceManual, excerpt, RetrievalMeta{
		Title:            "Minimum Equipment List Procedures",
		ParagraphLocator: "B.2",
	})
	if !VerifyContent(c, excerpt) {
		t.Fatal("expected round-trip verification to pass")
	}
	if VerifyContent(c, excerpt+" tampered") {
		t.Fatal("tampered content must fail verification")
	}
	cached, ok := e.CachedCitation("MAINT-MEL-001", "4.5")
	if !ok || cached.ContentHash != c.ContentHash {
		t.Fatal("expected citation cached under document+version")
	}
}

func TestCitationFromRetrievalDefaults(t *testing.T) {
	e := New()
	c := e.CitationFromRetrieval("DOC-1", "1.0", models.SourceOperationsManual, models.EvidenceProcedure, "some excerpt", RetrievalMeta{})
	if c.Revision != "0" || c.Title != "Unknown" || c.ParagraphLocator != "unknown" {
		t.Fatalf("expected defaulted fields, got revision=%q title=%q locator=%q", c.Revision, c.Title, c.ParagraphLocator)
	}
	if c.EffectiveDate.IsZero() {
		t.Fatal("expected effective date defaulted to now")
	}
}

func TestDisplayFormat(t *testing.T) {
	c := validCitation()
	c.Applicability = &models.Applicability{AircraftTypes: []string{"B787-9"}}
	out := DisplayFormat(c)
	for _, want := range []string{"Checked Baggage Allowance Policy", "Version 3.2", "Section 3.1.2", "Aircraft: B787-9"} {
		if !strings.Contains(out, want) {
			t.Fatalf("display %q missing %q", out, want)
		}
	}
}
