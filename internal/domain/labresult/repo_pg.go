package labresult

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pethealth/pethealth/internal/platform/db"
)

// -- Test records --

type recordRepoPG struct{ pool *pgxpool.Pool }

func NewRecordRepoPG(pool *pgxpool.Pool) RecordRepository {
	return &recordRepoPG{pool: pool}
}

func (r *recordRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Pick(ctx, r.pool)
}

const recordCols = `id, user_id, pet_name, test_date, hospital, instrument, created_at`

func scanRecord(row pgx.Row) (*TestRecord, error) {
	var t TestRecord
	err := row.Scan(&t.ID, &t.UserID, &t.PetName, &t.TestDate, &t.Hospital, &t.Instrument, &t.CreatedAt)
	return &t, err
}

func (r *recordRepoPG) Create(ctx context.Context, t *TestRecord) error {
	t.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO test_records (id, user_id, pet_name, test_date, hospital, instrument)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		t.ID, t.UserID, t.PetName, t.TestDate, t.Hospital, t.Instrument,
	).Scan(&t.CreatedAt)
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestRecord, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM test_records WHERE id = $1`, id))
}

func (r *recordRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM test_records WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *recordRepoPG) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*TestRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM test_records WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+recordCols+` FROM test_records WHERE user_id = $1
		ORDER BY test_date DESC NULLS LAST, created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*TestRecord
	for rows.Next() {
		t, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// -- Test results --

type resultRepoPG struct{ pool *pgxpool.Pool }

func NewResultRepoPG(pool *pgxpool.Pool) ResultRepository {
	return &resultRepoPG{pool: pool}
}

func (r *resultRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Pick(ctx, r.pool)
}

const resultCols = `id, record_id, standard_item_id, raw_item_name, value_raw, value_numeric, value_type,
	unit, ref_min, ref_max, ref_text, status, created_at, updated_at`

func resultDest(t *TestResult) []interface{} {
	return []interface{}{&t.ID, &t.RecordID, &t.StandardItemID, &t.RawItemName, &t.ValueRaw,
		&t.ValueNumeric, &t.ValueType, &t.Unit, &t.RefMin, &t.RefMax, &t.RefText, &t.Status,
		&t.CreatedAt, &t.UpdatedAt}
}

func scanResult(row pgx.Row) (*TestResult, error) {
	var t TestResult
	err := row.Scan(resultDest(&t)...)
	return &t, err
}

func (r *resultRepoPG) CreateBatch(ctx context.Context, results []*TestResult) error {
	if len(results) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range results {
		t.ID = uuid.New()
		batch.Queue(`
			INSERT INTO test_results (id, record_id, standard_item_id, raw_item_name, value_raw,
				value_numeric, value_type, unit, ref_min, ref_max, ref_text, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			RETURNING created_at, updated_at`,
			t.ID, t.RecordID, t.StandardItemID, t.RawItemName, t.ValueRaw, t.ValueNumeric,
			string(t.ValueType), t.Unit, t.RefMin, t.RefMax, t.RefText, string(t.Status))
	}
	br := r.conn(ctx).SendBatch(ctx, batch)
	defer br.Close()
	for _, t := range results {
		if err := br.QueryRow().Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r *resultRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestResult, error) {
	return scanResult(r.conn(ctx).QueryRow(ctx, `SELECT `+resultCols+` FROM test_results WHERE id = $1`, id))
}

func (r *resultRepoPG) Update(ctx context.Context, t *TestResult) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE test_results SET standard_item_id=$2, value_raw=$3, value_numeric=$4, value_type=$5,
			unit=$6, ref_min=$7, ref_max=$8, ref_text=$9, status=$10, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		t.ID, t.StandardItemID, t.ValueRaw, t.ValueNumeric, string(t.ValueType), t.Unit,
		t.RefMin, t.RefMax, t.RefText, string(t.Status),
	).Scan(&t.UpdatedAt)
}

func (r *resultRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM test_results WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *resultRepoPG) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*TestResult, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+resultCols+` FROM test_results WHERE record_id = $1 ORDER BY created_at, raw_item_name`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*TestResult
	for rows.Next() {
		t, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *resultRepoPG) ListForExport(ctx context.Context, userID string) ([]*ExportRow, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT r.id, r.user_id, r.pet_name, r.test_date, r.hospital, r.instrument, r.created_at,
			t.id, t.record_id, t.standard_item_id, t.raw_item_name, t.value_raw, t.value_numeric,
			t.value_type, t.unit, t.ref_min, t.ref_max, t.ref_text, t.status, t.created_at, t.updated_at
		FROM test_results t
		JOIN test_records r ON r.id = t.record_id
		WHERE r.user_id = $1
		ORDER BY r.test_date NULLS LAST, r.created_at, t.raw_item_name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ExportRow
	for rows.Next() {
		var e ExportRow
		rec := &e.Record
		dest := append([]interface{}{&rec.ID, &rec.UserID, &rec.PetName, &rec.TestDate,
			&rec.Hospital, &rec.Instrument, &rec.CreatedAt}, resultDest(&e.Result)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
