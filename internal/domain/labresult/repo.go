package labresult

import (
	"context"

	"github.com/google/uuid"
)

type RecordRepository interface {
	Create(ctx context.Context, r *TestRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*TestRecord, int, error)
}

type ResultRepository interface {
	// CreateBatch inserts all results in one round trip.
	CreateBatch(ctx context.Context, results []*TestResult) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestResult, error)
	Update(ctx context.Context, r *TestResult) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*TestResult, error)
	// ListForExport returns every result of the user's records, oldest report first.
	ListForExport(ctx context.Context, userID string) ([]*ExportRow, error)
}

type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
