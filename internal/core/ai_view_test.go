package core

import (
	"encoding/json"
	"testing"
)

func recWith(t *testing.T, kind string, payload string) *AiRecommendation {
	t.Helper()
	return &AiRecommendation{
		Kind:               kind,
		RecommendationJSON: json.RawMessage(payload),
	}
}

func TestProjectRecommendationReorder(t *testing.T) {
	rec := recWith(t, "reorder", `{
		"kind": "reorder",
		"summary": "On hand 3, reorder point 10",
		"next_step": "Approve to draft a purchase order",
		"severity": "medium",
		"item": {"id": 42, "sku": "RICE-5KG", "name": "Rice 5kg"}
	}`)

	v := ProjectRecommendation(rec)
	if v.Kind != "reorder" {
		t.Fatalf("kind = %q", v.Kind)
	}
	if v.Title != "Reorder Rice 5kg" {
		t.Errorf("title = %q", v.Title)
	}
	if v.Severity != "medium" {
		t.Errorf("severity = %q", v.Severity)
	}
	if v.EntityType != "item" || v.EntityID != 42 {
		t.Errorf("entity = %s/%d", v.EntityType, v.EntityID)
	}
	if v.LinkHref != "/items/42" {
		t.Errorf("link = %q", v.LinkHref)
	}
	if v.LinkLabel != "Rice 5kg (RICE-5KG)" {
		t.Errorf("label = %q", v.LinkLabel)
	}
}

func TestProjectRecommendationHygieneSeverity(t *testing.T) {
	rec := recWith(t, "data_hygiene", `{
		"kind": "data_hygiene",
		"severity": "low",
		"issues": [
			{"severity": "info", "message": "item A has no barcode"},
			{"severity": "high", "message": "item B has no cost"},
			{"severity": "medium", "message": "item C has no tax code"}
		]
	}`)

	v := ProjectRecommendation(rec)
	if v.Severity != "high" {
		t.Errorf("severity = %q, want high (worst sub-issue)", v.Severity)
	}
	if len(v.Details) != 3 {
		t.Errorf("details = %d, want 3", len(v.Details))
	}
	if v.Title != "Data hygiene: 3 issue(s)" {
		t.Errorf("title = %q", v.Title)
	}
}

func TestProjectRecommendationDeterministic(t *testing.T) {
	rec := recWith(t, "price_review", `{
		"kind": "price_review",
		"severity": "high",
		"item": {"id": 7, "name": "Olive Oil 1L"},
		"details": ["margin fell below 10%"]
	}`)

	a := ProjectRecommendation(rec)
	b := ProjectRecommendation(rec)
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	if string(aj) != string(bj) {
		t.Fatalf("projection not deterministic:\n%s\n%s", aj, bj)
	}
}

func TestProjectRecommendationMalformedPayload(t *testing.T) {
	rec := recWith(t, "reorder", `{not json`)
	v := ProjectRecommendation(rec)
	if v.Severity != "info" {
		t.Errorf("severity = %q, want info", v.Severity)
	}
	if v.Title != "reorder" {
		t.Errorf("title = %q", v.Title)
	}
}

func TestProjectRecommendationUnknownSeverity(t *testing.T) {
	rec := recWith(t, "reorder", `{"severity": "catastrophic"}`)
	if v := ProjectRecommendation(rec); v.Severity != "info" {
		t.Errorf("severity = %q, want info for unknown value", v.Severity)
	}
}
