package labresult

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pethealth/pethealth/internal/domain/catalog"
	"github.com/pethealth/pethealth/internal/labvalue"
	"github.com/pethealth/pethealth/internal/platform/apperr"
)

// ItemCatalog is the part of the catalog service ingestion depends on.
type ItemCatalog interface {
	ResolveRawName(ctx context.Context, raw, userID string) (uuid.UUID, bool, error)
	ResolveItems(ctx context.Context, ids []uuid.UUID, userID string) (map[uuid.UUID]*catalog.ResolvedItem, error)
}

type Service struct {
	records RecordRepository
	results ResultRepository
	catalog ItemCatalog
	tx      Transactor
	log     zerolog.Logger
	now     func() time.Time
}

func NewService(records RecordRepository, results ResultRepository, cat ItemCatalog,
	tx Transactor, logger zerolog.Logger) *Service {
	return &Service{
		records: records,
		results: results,
		catalog: cat,
		tx:      tx,
		log:     logger.With().Str("component", "labresult").Logger(),
		now:     time.Now,
	}
}

// Ingest normalizes an OCR'd report and stores it. Unknown item names become
// Unmapped catalog items; unparseable values are kept as text.
func (s *Service) Ingest(ctx context.Context, userID string, req IngestRequest) (*IngestResult, error) {
	const op = "ingest"
	if userID == "" {
		return nil, apperr.Validation(op, "user id is required")
	}
	if len(req.Items) == 0 {
		return nil, apperr.Validation(op, "items are required")
	}
	record := &TestRecord{
		UserID:     userID,
		PetName:    req.PetName,
		Hospital:   req.Hospital,
		Instrument: req.Instrument,
	}
	if req.TestDate != "" {
		d, err := time.Parse(DateLayout, req.TestDate)
		if err != nil {
			return nil, apperr.Validation(op, "test_date must be YYYY-MM-DD")
		}
		record.TestDate = &d
	}
	for i, it := range req.Items {
		if strings.TrimSpace(it.RawItemName) == "" {
			return nil, apperr.Validation(op, "item %d: raw_item_name is required", i)
		}
	}

	// Placeholders created for unknown names commit only with the report.
	var (
		results []*TestResult
		created int
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		results, created, err = s.normalizeItems(ctx, userID, req.Items)
		if err != nil {
			return err
		}
		if err := s.records.Create(ctx, record); err != nil {
			return apperr.Wrap(op+": record", err)
		}
		for _, r := range results {
			r.RecordID = record.ID
		}
		return apperr.Wrap(op+": results", s.results.CreateBatch(ctx, results))
	})
	if err != nil {
		return nil, err
	}
	record.Results = results

	s.log.Info().
		Str("user_id", userID).
		Str("record_id", record.ID.String()).
		Int("items", len(results)).
		Int("unmapped_created", created).
		Msg("report ingested")
	return &IngestResult{Record: record, UnmappedCreated: created}, nil
}

// normalizeItems maps every line item to a catalog item and parses its
// value. It reports how many Unmapped placeholders were created.
func (s *Service) normalizeItems(ctx context.Context, userID string, in []IngestItem) ([]*TestResult, int, error) {
	// Names repeat within a report (e.g. two panels), so each is looked up once.
	idByName := make(map[string]uuid.UUID, len(in))
	ids := make([]uuid.UUID, 0, len(in))
	created := 0
	for _, it := range in {
		name := strings.TrimSpace(it.RawItemName)
		if _, ok := idByName[name]; ok {
			continue
		}
		id, isNew, err := s.catalog.ResolveRawName(ctx, name, userID)
		if err != nil {
			return nil, 0, err
		}
		if isNew {
			created++
		}
		idByName[name] = id
		ids = append(ids, id)
	}

	items, err := s.catalog.ResolveItems(ctx, ids, userID)
	if err != nil {
		return nil, 0, err
	}

	results := make([]*TestResult, 0, len(in))
	for _, it := range in {
		name := strings.TrimSpace(it.RawItemName)
		res := normalize(name, it)
		res.StandardItemID = idByName[name]
		res.Item = items[res.StandardItemID]
		if res.Unit == nil && res.Item != nil {
			res.Unit = res.Item.DefaultUnit
		}
		results = append(results, res)
	}
	return results, created, nil
}

// normalize parses one OCR line item. It never fails.
func normalize(name string, it IngestItem) *TestResult {
	res := &TestResult{RawItemName: name}
	pv := labvalue.ParseValue(it.RawValue)
	res.applyValue(pv)

	if it.RawUnit != nil {
		if u := strings.TrimSpace(*it.RawUnit); u != "" {
			res.Unit = &u
		}
	}

	var rr labvalue.ReferenceRange
	if it.RawRefText != nil {
		rr = labvalue.ParseReferenceRange(*it.RawRefText)
		if t := strings.TrimSpace(*it.RawRefText); t != "" {
			res.RefText = &t
		}
	}
	res.RefMin, res.RefMax = rr.Min, rr.Max
	res.Status = labvalue.ClassifyParsed(pv, rr)
	return res
}

// -- Records --

// ownedRecord loads a record and hides records of other users.
func (s *Service) ownedRecord(ctx context.Context, op, userID string, id uuid.UUID) (*TestRecord, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	if rec.UserID != userID {
		return nil, apperr.NotFound(op, "record %s not found", id)
	}
	return rec, nil
}

// GetRecord returns a record with its results and their resolved items.
func (s *Service) GetRecord(ctx context.Context, userID string, id uuid.UUID) (*TestRecord, error) {
	const op = "get record"
	rec, err := s.ownedRecord(ctx, op, userID, id)
	if err != nil {
		return nil, err
	}
	results, err := s.results.ListByRecord(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	if err := s.attachItems(ctx, userID, results); err != nil {
		return nil, err
	}
	rec.Results = results
	return rec, nil
}

func (s *Service) attachItems(ctx context.Context, userID string, results []*TestResult) error {
	ids := make([]uuid.UUID, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.StandardItemID)
	}
	items, err := s.catalog.ResolveItems(ctx, ids, userID)
	if err != nil {
		return err
	}
	for _, r := range results {
		r.Item = items[r.StandardItemID]
	}
	return nil
}

func (s *Service) ListRecords(ctx context.Context, userID string, limit, offset int) ([]*TestRecord, int, error) {
	recs, total, err := s.records.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Wrap("list records", err)
	}
	return recs, total, nil
}

// DeleteRecord removes a record together with its results.
func (s *Service) DeleteRecord(ctx context.Context, userID string, id uuid.UUID) error {
	const op = "delete record"
	if _, err := s.ownedRecord(ctx, op, userID, id); err != nil {
		return err
	}
	return apperr.Wrap(op, s.records.Delete(ctx, id))
}

// -- Results --

func (s *Service) ownedResult(ctx context.Context, op, userID string, id uuid.UUID) (*TestResult, error) {
	res, err := s.results.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	if _, err := s.ownedRecord(ctx, op, userID, res.RecordID); err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.NotFound(op, "result %s not found", id)
		}
		return nil, err
	}
	return res, nil
}

// UpdateResult applies a patch. Without an explicit status the status is
// recomputed whenever the value or a bound changes, using stored values for
// anything the patch leaves out.
func (s *Service) UpdateResult(ctx context.Context, userID string, id uuid.UUID, p ResultPatch) (*TestResult, error) {
	const op = "update result"
	var explicit *labvalue.Status
	if p.Status != nil {
		st, err := labvalue.ParseStatus(*p.Status)
		if err != nil {
			return nil, apperr.Validation(op, "%s", err.Error())
		}
		explicit = &st
	}

	res, err := s.ownedResult(ctx, op, userID, id)
	if err != nil {
		return nil, err
	}

	changed := false
	if p.Value != nil {
		res.applyValue(labvalue.ParseValue(p.Value))
		changed = true
	}
	if p.RefText != nil {
		t := strings.TrimSpace(*p.RefText)
		if t == "" {
			res.RefText = nil
		} else {
			res.RefText = &t
		}
		// Bounds follow the new text unless given explicitly.
		if p.RefMin == nil && p.RefMax == nil {
			rr := labvalue.ParseReferenceRange(t)
			res.RefMin, res.RefMax = rr.Min, rr.Max
			changed = true
		}
	}
	if p.RefMin != nil {
		res.RefMin = p.RefMin
		changed = true
	}
	if p.RefMax != nil {
		res.RefMax = p.RefMax
		changed = true
	}
	if p.Unit != nil {
		res.Unit = p.Unit
	}

	switch {
	case explicit != nil:
		res.Status = *explicit
	case changed:
		res.Status = labvalue.Classify(res.ValueNumeric, res.RefMin, res.RefMax)
	}

	if err := s.results.Update(ctx, res); err != nil {
		return nil, apperr.Wrap(op, err)
	}
	return res, nil
}

// CreateResult adds a manually entered result. The item must resolve for the
// user, either as a master item or as one of their custom items.
func (s *Service) CreateResult(ctx context.Context, userID string, in ResultInput) (*TestResult, error) {
	const op = "create result"
	if in.RecordID == uuid.Nil || in.StandardItemID == uuid.Nil {
		return nil, apperr.Validation(op, "record_id and standard_item_id are required")
	}
	var explicit *labvalue.Status
	if in.Status != nil {
		st, err := labvalue.ParseStatus(*in.Status)
		if err != nil {
			return nil, apperr.Validation(op, "%s", err.Error())
		}
		explicit = &st
	}
	if _, err := s.ownedRecord(ctx, op, userID, in.RecordID); err != nil {
		return nil, err
	}
	items, err := s.catalog.ResolveItems(ctx, []uuid.UUID{in.StandardItemID}, userID)
	if err != nil {
		return nil, err
	}
	item, ok := items[in.StandardItemID]
	if !ok {
		return nil, apperr.Validation(op, "standard_item_id %s does not resolve", in.StandardItemID)
	}

	res := normalize(item.Name, IngestItem{RawValue: in.Value, RawUnit: in.Unit, RawRefText: in.RefText})
	res.RecordID = in.RecordID
	res.StandardItemID = item.ID
	res.Item = item
	if res.Unit == nil {
		res.Unit = item.DefaultUnit
	}
	if explicit != nil {
		res.Status = *explicit
	}
	if err := s.results.CreateBatch(ctx, []*TestResult{res}); err != nil {
		return nil, apperr.Wrap(op, err)
	}
	return res, nil
}

func (s *Service) DeleteResult(ctx context.Context, userID string, id uuid.UUID) error {
	const op = "delete result"
	if _, err := s.ownedResult(ctx, op, userID, id); err != nil {
		return err
	}
	return apperr.Wrap(op, s.results.Delete(ctx, id))
}
