// Package entity defines the domain model shared by the store, the fetch
// policy engine, the enrichment queue, and the request router.
package entity

import (
	"time"
)

// EntityType identifies which extension table (if any) backs an entity.
type EntityType string

// Supported entity types.
const (
	TypePolitician   EntityType = "politician"
	TypeInfluencer   EntityType = "influencer"
	TypeOrganization EntityType = "organization"
)

// ParseEntityType validates a wire-level entity type string.
func ParseEntityType(s string) (EntityType, bool) {
	switch EntityType(s) {
	case TypePolitician, TypeInfluencer, TypeOrganization:
		return EntityType(s), true
	default:
		return "", false
	}
}

// Entity is the base row shared by all tracked political actors.
type Entity struct {
	ID             string     `json:"id"`
	Type           EntityType `json:"entity_type"`
	Name           string     `json:"name"`
	NormalizedName string     `json:"normalized_name"`
	Bio            string     `json:"bio,omitempty"`
	TwitterHandle  string     `json:"twitter_handle,omitempty"`
	WebsiteURL     string     `json:"website_url,omitempty"`
	RelevanceScore float64    `json:"relevance_score"`
	LastUpdated    time.Time  `json:"last_updated"`
	CreatedAt      time.Time  `json:"created_at"`
}

// PoliticianDetails is the 1:1 extension row for politician entities.
type PoliticianDetails struct {
	EntityID     string `json:"entity_id"`
	Office       string `json:"office,omitempty"`
	State        string `json:"state,omitempty"`
	District     string `json:"district,omitempty"`
	ElectionYear int    `json:"election_year,omitempty"`
	BioguideID   string `json:"bioguide_id,omitempty"`
}

// InfluencerDetails is the 1:1 extension row for influencer entities.
type InfluencerDetails struct {
	EntityID       string  `json:"entity_id"`
	Platform       string  `json:"platform,omitempty"`
	AudienceSize   int64   `json:"audience_size,omitempty"`
	ContentFocus   string  `json:"content_focus,omitempty"`
	InfluenceScore float64 `json:"influence_score,omitempty"`
}

// CategoryType groups categories and controls whether an entity may hold
// more than one category of the type at a time.
type CategoryType struct {
	Type       string `json:"type"`
	IsMultiple bool   `json:"is_multiple"`
}

// Category is one assignable label (a party, an issue area, a caucus).
type Category struct {
	ID   int64  `json:"id"`
	Type string `json:"category_type"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// CategoryAssignment is one entity-category junction row joined with its
// category, as returned by the synthetic "categories" and "party" fields.
type CategoryAssignment struct {
	Category
	ConfidenceScore float64 `json:"confidence_score"`
	Source          string  `json:"source,omitempty"`
}

// FetchResult is the uniform shape every source function must return.
type FetchResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SourceFunc fetches one field for one entity from an external source.
// All source-specific argument shaping (handles, tokens) happens before the
// call; the function receives only the entity ID and a free-form context.
type SourceFunc func(entityID string, fctx map[string]any) FetchResult

// TaskTypeEnrich is the only task type the background queue currently
// consumes; kept as an explicit field so the wire shape can grow.
const TaskTypeEnrich = "enrich"

// Task is one unit of background enrichment work. Tasks live only in
// memory; one lost on process exit is never completed.
type Task struct {
	Type        string     `json:"type"`
	EntityType  EntityType `json:"entity_type"`
	Field       string     `json:"field"`
	ReferenceID string     `json:"reference_id"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
}

// Request is the inbound envelope crossing the process boundary.
type Request struct {
	Type       string         `json:"type"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Field      string         `json:"field,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Query      string         `json:"query,omitempty"`
	Format     string         `json:"format,omitempty"`
}

// Request types the router dispatches on.
const (
	RequestFetch        = "fetch"
	RequestForceFetch   = "force_fetch"
	RequestEvaluatePost = "evaluate_latest_post"
	RequestSearch       = "search"
)

// Response is the uniform outbound envelope. Every handler path terminates
// in one of these; the router never lets a panic escape to the caller.
type Response struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Source    string `json:"source,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Values for Response.Source.
const (
	SourceLocal          = "local"
	SourceLocalEmpty     = "local_empty"
	SourceExternal       = "external"
	SourceExternalForced = "external_forced"
)
