package labresult

import (
	"time"

	"github.com/google/uuid"

	"github.com/pethealth/pethealth/internal/domain/catalog"
	"github.com/pethealth/pethealth/internal/labvalue"
)

// DateLayout is the wire format of test dates.
const DateLayout = "2006-01-02"

// TestRecord is one lab report for one pet.
type TestRecord struct {
	ID         uuid.UUID     `json:"id"`
	UserID     string        `json:"user_id"`
	PetName    *string       `json:"pet_name,omitempty"`
	TestDate   *time.Time    `json:"test_date,omitempty"`
	Hospital   *string       `json:"hospital,omitempty"`
	Instrument *string       `json:"instrument,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	Results    []*TestResult `json:"results,omitempty"`
}

// TestResult is one line item of a report after normalization.
type TestResult struct {
	ID             uuid.UUID          `json:"id"`
	RecordID       uuid.UUID          `json:"record_id"`
	StandardItemID uuid.UUID          `json:"standard_item_id"`
	RawItemName    string             `json:"raw_item_name"`
	ValueRaw       *string            `json:"value_raw,omitempty"`
	ValueNumeric   *float64           `json:"value_numeric,omitempty"`
	ValueType      labvalue.ValueType `json:"value_type"`
	Unit           *string            `json:"unit,omitempty"`
	RefMin         *float64           `json:"ref_min,omitempty"`
	RefMax         *float64           `json:"ref_max,omitempty"`
	RefText        *string            `json:"ref_text,omitempty"`
	Status         labvalue.Status    `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`

	// Filled from the catalog on read.
	Item *catalog.ResolvedItem `json:"item,omitempty"`
}

// applyValue stores a parsed value on the result.
func (r *TestResult) applyValue(v labvalue.ParsedValue) {
	r.ValueNumeric = v.Numeric
	r.ValueType = v.Type
	if v.Display == "" {
		r.ValueRaw = nil
		return
	}
	d := v.Display
	r.ValueRaw = &d
}

// IngestItem is one OCR line item. RawValue may be a JSON string or number.
type IngestItem struct {
	RawItemName string      `json:"raw_item_name"`
	RawValue    interface{} `json:"raw_value"`
	RawUnit     *string     `json:"raw_unit,omitempty"`
	RawRefText  *string     `json:"raw_ref_text,omitempty"`
}

// IngestRequest is a whole OCR'd report.
type IngestRequest struct {
	PetName    *string      `json:"pet_name,omitempty"`
	TestDate   string       `json:"test_date,omitempty"`
	Hospital   *string      `json:"hospital,omitempty"`
	Instrument *string      `json:"instrument,omitempty"`
	Items      []IngestItem `json:"items"`
}

// IngestResult is the stored record plus how many placeholder items the
// report introduced.
type IngestResult struct {
	Record          *TestRecord `json:"record"`
	UnmappedCreated int         `json:"unmapped_created"`
}

// ResultPatch edits a stored result. Nil fields are left unchanged. When
// Status is nil and the value or a bound changes, the status is recomputed.
type ResultPatch struct {
	Value   interface{} `json:"value,omitempty"`
	Unit    *string     `json:"unit,omitempty"`
	RefMin  *float64    `json:"ref_min,omitempty"`
	RefMax  *float64    `json:"ref_max,omitempty"`
	RefText *string     `json:"ref_text,omitempty"`
	Status  *string     `json:"status,omitempty"`
}

// ResultInput is a manually entered result.
type ResultInput struct {
	RecordID       uuid.UUID   `json:"record_id"`
	StandardItemID uuid.UUID   `json:"standard_item_id"`
	Value          interface{} `json:"value"`
	Unit           *string     `json:"unit,omitempty"`
	RefText        *string     `json:"ref_text,omitempty"`
	Status         *string     `json:"status,omitempty"`
}

// ExportRow is a result joined with its record for spreadsheet export.
type ExportRow struct {
	Record TestRecord
	Result TestResult
}
