package entity

import "strings"

// Field name constants. The store routes each name to a physical column via
// the closed tables below; anything not in a table is an unknown field.
const (
	FieldName           = "name"
	FieldBio            = "bio"
	FieldTwitterHandle  = "twitter_handle"
	FieldWebsiteURL     = "website_url"
	FieldRelevanceScore = "relevance_score"
	FieldLatestTweet    = "latest_tweet"

	FieldOffice       = "office"
	FieldState        = "state"
	FieldDistrict     = "district"
	FieldElectionYear = "election_year"
	FieldBioguideID   = "bioguide_id"
	FieldVotingRecord = "voting_record"
	FieldCommittees   = "committees"

	FieldPlatform       = "platform"
	FieldAudienceSize   = "audience_size"
	FieldContentFocus   = "content_focus"
	FieldInfluenceScore = "influence_score"

	FieldCategories = "categories"
	FieldParty      = "party"
)

// CategoryTypeParty is the single-valued category type backing the "party"
// synthetic field.
const CategoryTypeParty = "party"

const categoryFieldPrefix = "category_"

// ColumnRef describes the physical column a field routes to.
type ColumnRef struct {
	Column string
	// JSONValued columns hold serialized structured values (jsonb).
	JSONValued bool
}

var baseColumns = map[string]ColumnRef{
	FieldName:           {Column: "name"},
	FieldBio:            {Column: "bio"},
	FieldTwitterHandle:  {Column: "twitter_handle"},
	FieldWebsiteURL:     {Column: "website_url"},
	FieldRelevanceScore: {Column: "relevance_score"},
	FieldLatestTweet:    {Column: "latest_tweet", JSONValued: true},
}

var extensionColumns = map[EntityType]map[string]ColumnRef{
	TypePolitician: {
		FieldOffice:       {Column: "office"},
		FieldState:        {Column: "state"},
		FieldDistrict:     {Column: "district"},
		FieldElectionYear: {Column: "election_year"},
		FieldBioguideID:   {Column: "bioguide_id"},
		FieldVotingRecord: {Column: "voting_record", JSONValued: true},
		FieldCommittees:   {Column: "committees", JSONValued: true},
	},
	TypeInfluencer: {
		FieldPlatform:       {Column: "platform"},
		FieldAudienceSize:   {Column: "audience_size"},
		FieldContentFocus:   {Column: "content_focus"},
		FieldInfluenceScore: {Column: "influence_score"},
	},
}

// ExtensionTables maps entity types to their 1:1 detail tables.
// Organizations carry no extension table.
var ExtensionTables = map[EntityType]string{
	TypePolitician: "politician_details",
	TypeInfluencer: "influencer_details",
}

// BaseColumn resolves a field backed by the entities table.
func BaseColumn(field string) (ColumnRef, bool) {
	ref, ok := baseColumns[field]
	return ref, ok
}

// ExtensionColumn resolves a field backed by the given type's detail table.
func ExtensionColumn(et EntityType, field string) (ColumnRef, bool) {
	cols, ok := extensionColumns[et]
	if !ok {
		return ColumnRef{}, false
	}
	ref, ok := cols[field]
	return ref, ok
}

// IsSynthetic reports whether the field is computed from category rows
// rather than stored in a column.
func IsSynthetic(field string) bool {
	return field == FieldCategories || field == FieldParty
}

// CategoryFieldType extracts <type> from a "category_<type>" field name.
func CategoryFieldType(field string) (string, bool) {
	if !strings.HasPrefix(field, categoryFieldPrefix) {
		return "", false
	}
	ct := strings.TrimPrefix(field, categoryFieldPrefix)
	if ct == "" {
		return "", false
	}
	return ct, true
}

// KnownField reports whether the store can route the field for the type,
// either as a readable column, a synthetic read, or a category write.
func KnownField(et EntityType, field string) bool {
	if _, ok := BaseColumn(field); ok {
		return true
	}
	if _, ok := ExtensionColumn(et, field); ok {
		return true
	}
	if _, ok := CategoryFieldType(field); ok {
		return true
	}
	return IsSynthetic(field)
}
