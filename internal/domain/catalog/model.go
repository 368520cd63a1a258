package catalog

import (
	"time"

	"github.com/google/uuid"
)

// CategoryUnmapped marks placeholder items created for OCR names that matched
// no alias. Only these are deleted automatically after a remap.
const CategoryUnmapped = "Unmapped"

// SourceTable tags where a resolved item came from.
type SourceTable string

const (
	SourceMaster         SourceTable = "master"
	SourceMasterOverride SourceTable = "master+override"
	SourceUserCustom     SourceTable = "user_custom"
)

// StandardItem is a row of the shared master taxonomy.
type StandardItem struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	DisplayNameKo     *string   `json:"display_name_ko,omitempty"`
	Category          *string   `json:"category,omitempty"`
	ExamType          *string   `json:"exam_type,omitempty"`
	DefaultUnit       *string   `json:"default_unit,omitempty"`
	OrganTags         []string  `json:"organ_tags"`
	DescriptionCommon *string   `json:"description_common,omitempty"`
	DescriptionHigh   *string   `json:"description_high,omitempty"`
	DescriptionLow    *string   `json:"description_low,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsUnmapped reports whether the item is an auto-created placeholder.
func (s *StandardItem) IsUnmapped() bool {
	return s.Category != nil && *s.Category == CategoryUnmapped
}

// UserItemOverride shadows a StandardItem for one user. Nil fields fall back
// to the master value; a nil OrganTags slice means "not overridden".
type UserItemOverride struct {
	UserID            string    `json:"user_id"`
	StandardItemID    uuid.UUID `json:"standard_item_id"`
	DisplayNameKo     *string   `json:"display_name_ko,omitempty"`
	Category          *string   `json:"category,omitempty"`
	ExamType          *string   `json:"exam_type,omitempty"`
	DefaultUnit       *string   `json:"default_unit,omitempty"`
	OrganTags         []string  `json:"organ_tags,omitempty"`
	DescriptionCommon *string   `json:"description_common,omitempty"`
	DescriptionHigh   *string   `json:"description_high,omitempty"`
	DescriptionLow    *string   `json:"description_low,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// UserCustomItem is an item that exists only for one user.
type UserCustomItem struct {
	ID                uuid.UUID `json:"id"`
	UserID            string    `json:"user_id"`
	Name              string    `json:"name"`
	DisplayNameKo     *string   `json:"display_name_ko,omitempty"`
	Category          *string   `json:"category,omitempty"`
	ExamType          *string   `json:"exam_type,omitempty"`
	DefaultUnit       *string   `json:"default_unit,omitempty"`
	OrganTags         []string  `json:"organ_tags"`
	DescriptionCommon *string   `json:"description_common,omitempty"`
	DescriptionHigh   *string   `json:"description_high,omitempty"`
	DescriptionLow    *string   `json:"description_low,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ResolvedItem is the view of an item for a particular user.
type ResolvedItem struct {
	ID                uuid.UUID   `json:"id"`
	Name              string      `json:"name"`
	DisplayNameKo     *string     `json:"display_name_ko,omitempty"`
	Category          *string     `json:"category,omitempty"`
	ExamType          *string     `json:"exam_type,omitempty"`
	DefaultUnit       *string     `json:"default_unit,omitempty"`
	OrganTags         []string    `json:"organ_tags"`
	DescriptionCommon *string     `json:"description_common,omitempty"`
	DescriptionHigh   *string     `json:"description_high,omitempty"`
	DescriptionLow    *string     `json:"description_low,omitempty"`
	SourceTable       SourceTable `json:"source_table"`
}

// DisplayName prefers the Korean display name and falls back to the code.
func (r *ResolvedItem) DisplayName() string {
	if r.DisplayNameKo != nil && *r.DisplayNameKo != "" {
		return *r.DisplayNameKo
	}
	return r.Name
}

// ResolveRow is one row of the batched resolve query: either a master item
// with an optional override, or a custom item.
type ResolveRow struct {
	Master   *StandardItem
	Override *UserItemOverride
	Custom   *UserCustomItem
}

// AliasTier selects the master (shared) or user alias table.
type AliasTier string

const (
	TierMaster AliasTier = "master"
	TierUser   AliasTier = "user"
)

// Alias maps a raw report name to a standard item. UserID is nil for master aliases.
type Alias struct {
	ID             uuid.UUID `json:"id"`
	Alias          string    `json:"alias"`
	CanonicalName  string    `json:"canonical_name"`
	StandardItemID uuid.UUID `json:"standard_item_id"`
	SourceHint     *string   `json:"source_hint,omitempty"`
	UserID         *string   `json:"user_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (a *Alias) Tier() AliasTier {
	if a.UserID != nil {
		return TierUser
	}
	return TierMaster
}

// AliasInput is the payload for CreateAlias. An empty UserID targets the
// master tier.
type AliasInput struct {
	Alias          string     `json:"alias"`
	CanonicalName  string     `json:"canonical_name"`
	StandardItemID *uuid.UUID `json:"standard_item_id,omitempty"`
	SourceHint     *string    `json:"source_hint,omitempty"`
	UserID         string     `json:"-"`
}

// ItemFilter narrows item listings.
type ItemFilter struct {
	Category string
	Search   string
}

// AliasFilter narrows alias listings. A nil UserID lists the master tier.
type AliasFilter struct {
	StandardItemID *uuid.UUID
	UserID         *string
}

// UnmappedItem is a placeholder item together with what still points at it.
type UnmappedItem struct {
	StandardItem
	ResultCount int `json:"result_count"`
	AliasCount  int `json:"alias_count"`
}

// RemapOptions tune Remap. DeleteAfterRemap only deletes Unmapped items.
type RemapOptions struct {
	DeleteAfterRemap bool
	AddOldNameAlias  bool
}

// RemapResult counts what a remap moved.
type RemapResult struct {
	OldItemID     uuid.UUID `json:"old_item_id"`
	NewItemID     uuid.UUID `json:"new_item_id"`
	ResultsMoved  int       `json:"results_moved"`
	AliasesMoved  int       `json:"aliases_moved"`
	MappingsMoved int       `json:"mappings_moved"`
	AliasAdded    bool      `json:"alias_added"`
	OldDeleted    bool      `json:"old_deleted"`
}

// Cleanup actions.
const (
	ActionDelete = "delete"
	ActionMerge  = "merge"
)

// CleanupAction is one admin decision about an unmapped item.
// AddAlias defaults to true for merges.
type CleanupAction struct {
	Action       string     `json:"action"`
	ItemID       uuid.UUID  `json:"item_id"`
	TargetItemID *uuid.UUID `json:"target_item_id,omitempty"`
	AddAlias     *bool      `json:"add_alias,omitempty"`
}

// ActionError records a failed cleanup action; Count is the number of
// blocking test results for refused deletes.
type ActionError struct {
	ItemID uuid.UUID `json:"item_id"`
	Action string    `json:"action"`
	Error  string    `json:"error"`
	Count  int       `json:"count,omitempty"`
}

// CleanupSummary aggregates a cleanup batch. Success is false iff any action failed.
type CleanupSummary struct {
	Success       bool          `json:"success"`
	DryRun        bool          `json:"dry_run"`
	Processed     int           `json:"processed"`
	Deleted       int           `json:"deleted"`
	Merged        int           `json:"merged"`
	AliasesAdded  int           `json:"aliases_added"`
	ResultsMoved  int           `json:"results_moved"`
	AliasesMoved  int           `json:"aliases_moved"`
	MappingsMoved int           `json:"mappings_moved"`
	Errors        []ActionError `json:"errors"`
}

// ResetCounts reports what ResetUserOverrides removed.
type ResetCounts struct {
	Overrides   int `json:"overrides"`
	CustomItems int `json:"custom_items"`
	Mappings    int `json:"mappings"`
}
