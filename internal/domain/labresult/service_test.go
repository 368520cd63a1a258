package labresult

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/pethealth/pethealth/internal/domain/catalog"
	"github.com/pethealth/pethealth/internal/labvalue"
	"github.com/pethealth/pethealth/internal/platform/apperr"
)

// -- Mock Repositories --

type mockRecordRepo struct {
	store   map[uuid.UUID]*TestRecord
	results *mockResultRepo
}

func (m *mockRecordRepo) Create(_ context.Context, r *TestRecord) error {
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	m.store[r.ID] = r
	return nil
}

func (m *mockRecordRepo) GetByID(_ context.Context, id uuid.UUID) (*TestRecord, error) {
	r, ok := m.store[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *r
	cp.Results = nil
	return &cp, nil
}

func (m *mockRecordRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.store[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(m.store, id)
	for rid, res := range m.results.store {
		if res.RecordID == id {
			delete(m.results.store, rid)
		}
	}
	return nil
}

func (m *mockRecordRepo) ListByUser(_ context.Context, userID string, limit, offset int) ([]*TestRecord, int, error) {
	var out []*TestRecord
	for _, r := range m.store {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

type mockResultRepo struct {
	store   map[uuid.UUID]*TestResult
	records *mockRecordRepo
	fail    error
}

func (m *mockResultRepo) CreateBatch(_ context.Context, results []*TestResult) error {
	if m.fail != nil {
		return m.fail
	}
	for _, r := range results {
		r.ID = uuid.New()
		r.CreatedAt, r.UpdatedAt = time.Now(), time.Now()
		cp := *r
		m.store[r.ID] = &cp
	}
	return nil
}

func (m *mockResultRepo) GetByID(_ context.Context, id uuid.UUID) (*TestResult, error) {
	r, ok := m.store[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

func (m *mockResultRepo) Update(_ context.Context, r *TestResult) error {
	if _, ok := m.store[r.ID]; !ok {
		return pgx.ErrNoRows
	}
	cp := *r
	m.store[r.ID] = &cp
	return nil
}

func (m *mockResultRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.store[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(m.store, id)
	return nil
}

func (m *mockResultRepo) ListByRecord(_ context.Context, recordID uuid.UUID) ([]*TestResult, error) {
	var out []*TestResult
	for _, r := range m.store {
		if r.RecordID == recordID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RawItemName < out[j].RawItemName })
	return out, nil
}

func (m *mockResultRepo) ListForExport(_ context.Context, userID string) ([]*ExportRow, error) {
	var out []*ExportRow
	for _, r := range m.store {
		rec, ok := m.records.store[r.RecordID]
		if !ok || rec.UserID != userID {
			continue
		}
		out = append(out, &ExportRow{Record: *rec, Result: *r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Result.RawItemName < out[j].Result.RawItemName })
	return out, nil
}

// mockCatalog resolves names through a fixed alias table and creates
// placeholders for anything else.
type mockCatalog struct {
	items        map[uuid.UUID]*catalog.ResolvedItem
	aliases      map[string]uuid.UUID
	resolveCalls int
	rawCalls     int
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{items: map[uuid.UUID]*catalog.ResolvedItem{}, aliases: map[string]uuid.UUID{}}
}

func (m *mockCatalog) add(name, unit string) *catalog.ResolvedItem {
	it := &catalog.ResolvedItem{ID: uuid.New(), Name: name, SourceTable: catalog.SourceMaster}
	if unit != "" {
		it.DefaultUnit = &unit
	}
	m.items[it.ID] = it
	m.aliases[name] = it.ID
	return it
}

func (m *mockCatalog) ResolveRawName(_ context.Context, raw, _ string) (uuid.UUID, bool, error) {
	m.rawCalls++
	if id, ok := m.aliases[raw]; ok {
		return id, false, nil
	}
	cat := catalog.CategoryUnmapped
	it := &catalog.ResolvedItem{ID: uuid.New(), Name: raw, Category: &cat, SourceTable: catalog.SourceMaster}
	m.items[it.ID] = it
	m.aliases[raw] = it.ID
	return it.ID, true, nil
}

func (m *mockCatalog) ResolveItems(_ context.Context, ids []uuid.UUID, _ string) (map[uuid.UUID]*catalog.ResolvedItem, error) {
	m.resolveCalls++
	out := map[uuid.UUID]*catalog.ResolvedItem{}
	for _, id := range ids {
		if it, ok := m.items[id]; ok {
			out[id] = it
		}
	}
	return out, nil
}

type passTx struct{}

func (passTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type testEnv struct {
	records *mockRecordRepo
	results *mockResultRepo
	catalog *mockCatalog
	svc     *Service
}

func newTestEnv() *testEnv {
	results := &mockResultRepo{store: map[uuid.UUID]*TestResult{}}
	records := &mockRecordRepo{store: map[uuid.UUID]*TestRecord{}, results: results}
	results.records = records
	cat := newMockCatalog()
	svc := NewService(records, results, cat, passTx{}, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return &testEnv{records: records, results: results, catalog: cat, svc: svc}
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func resultByName(t *testing.T, rec *TestRecord, name string) *TestResult {
	t.Helper()
	for _, r := range rec.Results {
		if r.RawItemName == name {
			return r
		}
	}
	t.Fatalf("no result named %q", name)
	return nil
}

// -- Ingest --

func TestIngest_NormalizesEveryItem(t *testing.T) {
	env := newTestEnv()
	env.catalog.add("ALT", "U/L")
	env.catalog.add("PLT", "K/uL")

	out, err := env.svc.Ingest(context.Background(), "u1", IngestRequest{
		PetName:  strPtr("Coco"),
		TestDate: "2026-02-14",
		Items: []IngestItem{
			{RawItemName: "ALT", RawValue: "120", RawRefText: strPtr("10-100")},
			{RawItemName: "PLT", RawValue: "1,390", RawRefText: strPtr("148-484")},
			{RawItemName: "SDMA", RawValue: "<5", RawUnit: strPtr("ug/dL"), RawRefText: strPtr("<14")},
			{RawItemName: "Parvo", RawValue: "Negative", RawRefText: strPtr("음성(-)")},
			{RawItemName: "GLU", RawValue: "*85", RawRefText: strPtr("70-143")},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := out.Record
	if len(rec.Results) != 5 {
		t.Fatalf("results = %d, want 5", len(rec.Results))
	}
	if out.UnmappedCreated != 3 {
		t.Errorf("unmapped_created = %d, want 3", out.UnmappedCreated)
	}
	if env.catalog.resolveCalls != 1 {
		t.Errorf("resolver calls = %d, want 1 for the whole report", env.catalog.resolveCalls)
	}

	alt := resultByName(t, rec, "ALT")
	if alt.Status != labvalue.StatusHigh || *alt.Unit != "U/L" {
		t.Errorf("ALT = status %s unit %v", alt.Status, alt.Unit)
	}
	plt := resultByName(t, rec, "PLT")
	if *plt.ValueNumeric != 1390 || plt.Status != labvalue.StatusHigh {
		t.Errorf("PLT = %v %s", *plt.ValueNumeric, plt.Status)
	}
	sdma := resultByName(t, rec, "SDMA")
	if sdma.ValueType != labvalue.ValueLessThan || sdma.RefMin != nil || *sdma.RefMax != 14 || *sdma.Unit != "ug/dL" {
		t.Errorf("SDMA = %+v", sdma)
	}
	if sdma.Status != labvalue.StatusNormal {
		t.Errorf("SDMA status = %s, want Normal", sdma.Status)
	}
	parvo := resultByName(t, rec, "Parvo")
	if parvo.ValueType != labvalue.ValueText || parvo.ValueNumeric != nil || parvo.Status != labvalue.StatusUnknown {
		t.Errorf("Parvo = %+v", parvo)
	}
	glu := resultByName(t, rec, "GLU")
	if glu.ValueType != labvalue.ValueSpecial || glu.Status != labvalue.StatusNormal {
		t.Errorf("GLU = %s %s", glu.ValueType, glu.Status)
	}

	if len(env.results.store) != 5 || len(env.records.store) != 1 {
		t.Errorf("stored records=%d results=%d", len(env.records.store), len(env.results.store))
	}
	for _, r := range env.results.store {
		if r.RecordID != rec.ID {
			t.Error("result not linked to its record")
		}
	}
}

func TestIngest_RepeatedNamesLookedUpOnce(t *testing.T) {
	env := newTestEnv()
	out, err := env.svc.Ingest(context.Background(), "u1", IngestRequest{Items: []IngestItem{
		{RawItemName: "WBC", RawValue: 12.5},
		{RawItemName: " WBC ", RawValue: 13.0},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.catalog.rawCalls != 1 || out.UnmappedCreated != 1 {
		t.Errorf("raw lookups = %d, created = %d; want 1/1", env.catalog.rawCalls, out.UnmappedCreated)
	}
	if out.Record.Results[0].StandardItemID != out.Record.Results[1].StandardItemID {
		t.Error("same name should map to the same item")
	}
}

func TestIngest_Validation(t *testing.T) {
	env := newTestEnv()
	cases := map[string]IngestRequest{
		"no items": {},
		"bad date": {TestDate: "14/02/2026", Items: []IngestItem{{RawItemName: "ALT"}}},
		"no name":  {Items: []IngestItem{{RawItemName: "ALT"}, {RawItemName: "  "}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.Ingest(context.Background(), "u1", req)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
	if len(env.records.store) != 0 || env.catalog.rawCalls != 0 {
		t.Error("validation failures must not touch storage")
	}
}

func TestIngest_StoreFailure(t *testing.T) {
	env := newTestEnv()
	env.results.fail = errors.New("connection reset")
	_, err := env.svc.Ingest(context.Background(), "u1", IngestRequest{Items: []IngestItem{{RawItemName: "ALT", RawValue: "1"}}})
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Errorf("expected internal error, got %v", err)
	}
}

// catalogTx rolls the mock catalog back when fn fails.
type catalogTx struct{ cat *mockCatalog }

func (t catalogTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	items := make(map[uuid.UUID]*catalog.ResolvedItem, len(t.cat.items))
	for k, v := range t.cat.items {
		items[k] = v
	}
	aliases := make(map[string]uuid.UUID, len(t.cat.aliases))
	for k, v := range t.cat.aliases {
		aliases[k] = v
	}
	if err := fn(ctx); err != nil {
		t.cat.items, t.cat.aliases = items, aliases
		return err
	}
	return nil
}

func TestIngest_StoreFailureDropsPlaceholders(t *testing.T) {
	env := newTestEnv()
	env.svc.tx = catalogTx{env.catalog}
	env.catalog.add("ALT", "U/L")
	env.results.fail = errors.New("connection reset")

	_, err := env.svc.Ingest(context.Background(), "u1", IngestRequest{Items: []IngestItem{
		{RawItemName: "ALT", RawValue: "40"},
		{RawItemName: "SDMA", RawValue: "12"},
	}})
	if err == nil {
		t.Fatal("expected the store failure")
	}
	if env.catalog.rawCalls != 2 {
		t.Fatalf("raw lookups = %d, want 2", env.catalog.rawCalls)
	}
	if _, ok := env.catalog.aliases["SDMA"]; ok || len(env.catalog.items) != 1 {
		t.Errorf("placeholder for SDMA survived the failed ingest: %d items", len(env.catalog.items))
	}
}

// -- Edit --

func seedResult(t *testing.T, env *testEnv, userID string) *TestResult {
	t.Helper()
	env.catalog.add("CREA", "mg/dL")
	out, err := env.svc.Ingest(context.Background(), userID, IngestRequest{Items: []IngestItem{
		{RawItemName: "CREA", RawValue: "1.2", RawRefText: strPtr("0.5-1.8")},
	}})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return out.Record.Results[0]
}

func TestUpdateResult_RecomputesFromValue(t *testing.T) {
	env := newTestEnv()
	res := seedResult(t, env, "u1")
	if res.Status != labvalue.StatusNormal {
		t.Fatalf("seed status = %s", res.Status)
	}

	got, err := env.svc.UpdateResult(context.Background(), "u1", res.ID, ResultPatch{Value: "2.0"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != labvalue.StatusHigh {
		t.Errorf("status = %s, want High using the stored range", got.Status)
	}
	if *env.results.store[res.ID].ValueNumeric != 2.0 {
		t.Error("value not persisted")
	}
}

func TestUpdateResult_RecomputesFromBound(t *testing.T) {
	env := newTestEnv()
	res := seedResult(t, env, "u1")

	got, err := env.svc.UpdateResult(context.Background(), "u1", res.ID, ResultPatch{RefMin: floatPtr(1.5)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != labvalue.StatusLow || *got.RefMax != 1.8 {
		t.Errorf("status = %s max = %v; want Low with stored max", got.Status, *got.RefMax)
	}
}

func TestUpdateResult_RefTextUpdatesBounds(t *testing.T) {
	env := newTestEnv()
	res := seedResult(t, env, "u1")

	got, err := env.svc.UpdateResult(context.Background(), "u1", res.ID, ResultPatch{RefText: strPtr("0.1-1.0")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *got.RefMin != 0.1 || *got.RefMax != 1.0 || got.Status != labvalue.StatusHigh {
		t.Errorf("got min=%v max=%v status=%s", *got.RefMin, *got.RefMax, got.Status)
	}
}

func TestUpdateResult_ExplicitStatusWins(t *testing.T) {
	env := newTestEnv()
	res := seedResult(t, env, "u1")

	got, err := env.svc.UpdateResult(context.Background(), "u1", res.ID, ResultPatch{Value: "9", Status: strPtr("Normal")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != labvalue.StatusNormal {
		t.Errorf("status = %s, want the explicit Normal", got.Status)
	}
}

func TestUpdateResult_UnitOnlyKeepsStatus(t *testing.T) {
	env := newTestEnv()
	res := seedResult(t, env, "u1")
	env.results.store[res.ID].Status = labvalue.StatusHigh

	got, err := env.svc.UpdateResult(context.Background(), "u1", res.ID, ResultPatch{Unit: strPtr("umol/L")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != labvalue.StatusHigh {
		t.Errorf("status = %s; a unit edit must not recompute", got.Status)
	}
}

func TestUpdateResult_InvalidStatus(t *testing.T) {
	env := newTestEnv()
	res := seedResult(t, env, "u1")
	_, err := env.svc.UpdateResult(context.Background(), "u1", res.ID, ResultPatch{Status: strPtr("Critical")})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestUpdateResult_OtherUser(t *testing.T) {
	env := newTestEnv()
	res := seedResult(t, env, "u1")
	_, err := env.svc.UpdateResult(context.Background(), "u2", res.ID, ResultPatch{Value: "1"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

// -- Manual entry --

func TestCreateResult_RejectsUnresolvedItem(t *testing.T) {
	env := newTestEnv()
	res := seedResult(t, env, "u1")

	_, err := env.svc.CreateResult(context.Background(), "u1", ResultInput{
		RecordID: res.RecordID, StandardItemID: uuid.New(), Value: "1",
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestCreateResult_UsesItemDefaults(t *testing.T) {
	env := newTestEnv()
	res := seedResult(t, env, "u1")
	bun := env.catalog.add("BUN", "mg/dL")

	got, err := env.svc.CreateResult(context.Background(), "u1", ResultInput{
		RecordID: res.RecordID, StandardItemID: bun.ID, Value: 35.0, RefText: strPtr("7-27"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RawItemName != "BUN" || *got.Unit != "mg/dL" || got.Status != labvalue.StatusHigh {
		t.Errorf("got %+v", got)
	}
}

// -- Records --

func TestGetRecord_AttachesItemsInOneCall(t *testing.T) {
	env := newTestEnv()
	env.catalog.add("ALT", "U/L")
	out, _ := env.svc.Ingest(context.Background(), "u1", IngestRequest{Items: []IngestItem{
		{RawItemName: "ALT", RawValue: "50"},
		{RawItemName: "AST", RawValue: "40"},
	}})
	env.catalog.resolveCalls = 0

	rec, err := env.svc.GetRecord(context.Background(), "u1", out.Record.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.catalog.resolveCalls != 1 {
		t.Errorf("resolver calls = %d, want 1", env.catalog.resolveCalls)
	}
	for _, r := range rec.Results {
		if r.Item == nil {
			t.Errorf("result %s has no resolved item", r.RawItemName)
		}
	}
}

func TestGetRecord_OtherUser(t *testing.T) {
	env := newTestEnv()
	res := seedResult(t, env, "u1")
	_, err := env.svc.GetRecord(context.Background(), "u2", res.RecordID)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestDeleteRecord_Cascades(t *testing.T) {
	env := newTestEnv()
	res := seedResult(t, env, "u1")
	if err := env.svc.DeleteRecord(context.Background(), "u1", res.RecordID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.results.store) != 0 {
		t.Error("results should go with their record")
	}
}

func TestDeleteResult(t *testing.T) {
	env := newTestEnv()
	res := seedResult(t, env, "u1")
	if err := env.svc.DeleteResult(context.Background(), "u2", res.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("other user: expected not found, got %v", err)
	}
	if err := env.svc.DeleteResult(context.Background(), "u1", res.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.results.store) != 0 {
		t.Error("result should be gone")
	}
}

// -- Export --

func TestExport_ExcludesUnresolvedRows(t *testing.T) {
	env := newTestEnv()
	env.catalog.add("ALT", "U/L")
	env.catalog.add("BUN", "mg/dL")
	out, _ := env.svc.Ingest(context.Background(), "u1", IngestRequest{
		TestDate: "2026-01-05",
		Items: []IngestItem{
			{RawItemName: "ALT", RawValue: "50", RawRefText: strPtr("10-100")},
			{RawItemName: "BUN", RawValue: "20"},
		},
	})
	// The BUN item disappears from the catalog.
	delete(env.catalog.items, resultByName(t, out.Record, "BUN").StandardItemID)
	seedResult(t, env, "u2")

	exp, err := env.svc.Export(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exp.Rows != 1 {
		t.Errorf("rows = %d, want 1", exp.Rows)
	}
	if exp.Filename != "lab-results-20260301.xlsx" {
		t.Errorf("filename = %q", exp.Filename)
	}

	f, err := excelize.OpenReader(bytes.NewReader(exp.Data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(exportSheet)
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("sheet rows = %d, want header + 1", len(rows))
	}
	if rows[0][0] != "Test Date" {
		t.Errorf("header = %v", rows[0])
	}
	got := fmt.Sprint(rows[1])
	want := fmt.Sprint([]string{"2026-01-05", "", "", "ALT", "ALT", "", "50", "U/L", "10-100", "Normal"})
	if got != want {
		t.Errorf("row = %s, want %s", got, want)
	}
}
