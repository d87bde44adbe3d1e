package history

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"groupsync/lib/money"
	"groupsync/lib/sqliteutil"
	"groupsync/services/executor"
	"groupsync/services/history/db"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("groupsync/history")

var ErrRunNotFound = errors.New("run not found")

type Store struct {
	db  *sql.DB
	qry *db.Queries
	now func() time.Time
}

func NewStore(database *sql.DB) *Store {
	return &Store{
		db:  database,
		qry: db.New(database),
		now: time.Now,
	}
}

// Open opens the database described by config and applies the schema.
func Open(config sqliteutil.Config) (*Store, *sql.DB, error) {
	database, err := config.Open(db.Schema)
	if err != nil {
		return nil, nil, err
	}
	return NewStore(database), database, nil
}

type RunInfo struct {
	Store  string
	PoiID  string
	Engine string
	DryRun bool
}

type Run struct {
	RunInfo
	ID        string
	StartedAt time.Time
	// zero while the run is in progress
	FinishedAt time.Time
	Success    int
	Failed     int
	Skipped    int
}

type OperationRecord struct {
	Mode         string
	ProductID    string
	Title        string
	Price        money.Price
	OriginPrice  money.Price
	Status       string
	NewProductID string
	Error        string
	Reason       string
	CreatedAt    time.Time
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func runFromRow(row db.Run) Run {
	run := Run{
		RunInfo: RunInfo{
			Store:  row.Store,
			PoiID:  row.PoiID,
			Engine: row.Engine,
			DryRun: row.DryRun != 0,
		},
		ID:        row.ID,
		StartedAt: time.Unix(row.StartedAt, 0),
		Success:   int(row.Success),
		Failed:    int(row.Failed),
		Skipped:   int(row.Skipped),
	}
	if row.FinishedAt.Valid {
		run.FinishedAt = time.Unix(row.FinishedAt.Int64, 0)
	}
	return run
}

func (s *Store) StartRun(ctx context.Context, info RunInfo) (string, error) {
	ctx, span := tracer.Start(ctx, "StartRun")
	defer span.End()

	id := uuid.NewString()
	span.SetAttributes(attribute.String("run_id", id))

	err := s.qry.CreateRun(ctx, db.CreateRunParams{
		ID:        id,
		Store:     info.Store,
		PoiID:     info.PoiID,
		Engine:    info.Engine,
		DryRun:    boolInt(info.DryRun),
		StartedAt: s.now().Unix(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create run")
		return "", err
	}
	return id, nil
}

func (s *Store) RecordOperation(ctx context.Context, runId string, result executor.Result) error {
	ctx, span := tracer.Start(ctx, "RecordOperation")
	defer span.End()

	errText := ""
	if result.Err != nil {
		errText = result.Err.Error()
	}
	err := s.qry.CreateOperation(ctx, db.CreateOperationParams{
		RunID:            runId,
		Mode:             string(result.Mode),
		ProductID:        result.ProductID,
		Title:            result.Draft.Title,
		PriceCents:       result.Draft.Price.Cents(),
		OriginPriceCents: result.Draft.OriginPrice.Cents(),
		Status:           string(result.Status),
		NewProductID:     result.NewProductID,
		Error:            errText,
		Reason:           result.Reason,
		CreatedAt:        s.now().Unix(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to record operation")
		return err
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, runId string, report executor.Report) error {
	ctx, span := tracer.Start(ctx, "FinishRun")
	defer span.End()

	err := s.qry.FinishRun(ctx, db.FinishRunParams{
		ID:         runId,
		FinishedAt: s.now().Unix(),
		Success:    int64(report.Success),
		Failed:     int64(report.Failed),
		Skipped:    int64(report.Skipped),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to finish run")
		return err
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row, err := s.qry.GetRun(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, err
	}
	return runFromRow(row), nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	ctx, span := tracer.Start(ctx, "ListRuns")
	defer span.End()

	rows, err := s.qry.ListRuns(ctx, int64(limit))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list runs")
		return nil, err
	}
	runs := make([]Run, len(rows))
	for i, row := range rows {
		runs[i] = runFromRow(row)
	}
	return runs, nil
}

func (s *Store) RunOperations(ctx context.Context, runId string) ([]OperationRecord, error) {
	ctx, span := tracer.Start(ctx, "RunOperations")
	defer span.End()

	rows, err := s.qry.ListRunOperations(ctx, runId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list operations")
		return nil, err
	}
	records := make([]OperationRecord, len(rows))
	for i, row := range rows {
		records[i] = OperationRecord{
			Mode:         row.Mode,
			ProductID:    row.ProductID,
			Title:        row.Title,
			Price:        money.FromCents(row.PriceCents),
			OriginPrice:  money.FromCents(row.OriginPriceCents),
			Status:       row.Status,
			NewProductID: row.NewProductID,
			Error:        row.Error,
			Reason:       row.Reason,
			CreatedAt:    time.Unix(row.CreatedAt, 0),
		}
	}
	return records, nil
}

// Prune deletes runs started before the given time with their
// operations.
func (s *Store) Prune(ctx context.Context, before time.Time) error {
	ctx, span := tracer.Start(ctx, "Prune")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	err = txqry.DeleteOperationsBefore(ctx, before.Unix())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	err = txqry.DeleteRunsBefore(ctx, before.Unix())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return tx.Commit()
}
