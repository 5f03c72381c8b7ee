package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RecommendationView is the flattened, display-ready form of a
// recommendation payload. Projection is deterministic: the same payload
// always yields the same view, so list screens can be cached.
type RecommendationView struct {
	Kind       string   `json:"kind"`
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	NextStep   string   `json:"next_step,omitempty"`
	Severity   string   `json:"severity"`
	EntityType string   `json:"entity_type,omitempty"`
	EntityID   int      `json:"entity_id,omitempty"`
	LinkHref   string   `json:"link_href,omitempty"`
	LinkLabel  string   `json:"link_label,omitempty"`
	Details    []string `json:"details,omitempty"`
}

var severityRank = map[string]int{
	"info":     0,
	"low":      1,
	"medium":   2,
	"high":     3,
	"critical": 4,
}

func normalizeSeverity(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if _, ok := severityRank[s]; ok {
		return s
	}
	return "info"
}

func maxSeverity(a, b string) string {
	if severityRank[normalizeSeverity(b)] > severityRank[normalizeSeverity(a)] {
		return normalizeSeverity(b)
	}
	return normalizeSeverity(a)
}

type rawRecommendation struct {
	Kind     string `json:"kind"`
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	NextStep string `json:"next_step"`
	Severity string `json:"severity"`
	Item     struct {
		ID   int    `json:"id"`
		SKU  string `json:"sku"`
		Name string `json:"name"`
	} `json:"item"`
	Supplier struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"supplier"`
	Issues []struct {
		Severity string `json:"severity"`
		Message  string `json:"message"`
	} `json:"issues"`
	Details []string `json:"details"`
}

// ProjectRecommendation turns a stored recommendation into its view. Unknown
// payload shapes degrade to an info-severity card with the raw kind, never an
// error: a malformed agent payload must not break the review screen.
func ProjectRecommendation(rec *AiRecommendation) RecommendationView {
	view := RecommendationView{
		Kind:     rec.Kind,
		Severity: "info",
	}
	if rec.EntityType != nil {
		view.EntityType = *rec.EntityType
	}
	if rec.EntityID != nil {
		view.EntityID = *rec.EntityID
	}

	var raw rawRecommendation
	if err := json.Unmarshal(rec.RecommendationJSON, &raw); err != nil {
		view.Title = rec.Kind
		view.Summary = "recommendation payload could not be read"
		return view
	}

	if raw.Kind != "" {
		view.Kind = raw.Kind
	}
	view.Title = raw.Title
	view.Summary = raw.Summary
	view.NextStep = raw.NextStep
	view.Severity = normalizeSeverity(raw.Severity)
	view.Details = append(view.Details, raw.Details...)

	// Data-hygiene payloads carry sub-issues; the card severity is the
	// worst of them.
	for _, iss := range raw.Issues {
		view.Severity = maxSeverity(view.Severity, iss.Severity)
		if iss.Message != "" {
			view.Details = append(view.Details, iss.Message)
		}
	}

	if view.Title == "" {
		view.Title = defaultTitle(view.Kind, raw)
	}

	switch {
	case raw.Item.ID > 0:
		if view.EntityType == "" {
			view.EntityType = "item"
			view.EntityID = raw.Item.ID
		}
		view.LinkHref = fmt.Sprintf("/items/%d", raw.Item.ID)
		view.LinkLabel = linkLabel(raw.Item.Name, raw.Item.SKU)
	case raw.Supplier.ID > 0:
		if view.EntityType == "" {
			view.EntityType = "supplier"
			view.EntityID = raw.Supplier.ID
		}
		view.LinkHref = fmt.Sprintf("/suppliers/%d", raw.Supplier.ID)
		view.LinkLabel = raw.Supplier.Name
	case view.EntityType != "" && view.EntityID > 0:
		view.LinkHref = fmt.Sprintf("/%ss/%d", view.EntityType, view.EntityID)
	}
	return view
}

func defaultTitle(kind string, raw rawRecommendation) string {
	switch kind {
	case "reorder":
		if raw.Item.Name != "" {
			return "Reorder " + raw.Item.Name
		}
		return "Reorder suggestion"
	case "data_hygiene":
		return fmt.Sprintf("Data hygiene: %d issue(s)", len(raw.Issues))
	case "price_review":
		if raw.Item.Name != "" {
			return "Price review: " + raw.Item.Name
		}
		return "Price review"
	}
	if kind == "" {
		return "Recommendation"
	}
	return strings.ReplaceAll(kind, "_", " ")
}

func linkLabel(name, sku string) string {
	switch {
	case name != "" && sku != "":
		return fmt.Sprintf("%s (%s)", name, sku)
	case name != "":
		return name
	default:
		return sku
	}
}
