package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-stats-engine/internal/dto"
	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

// AggregationRepository stores assembled entity results. The previous result of an
// entity is copied to aggregation_result_history before it is replaced.
type AggregationRepository struct {
	db *sqlx.DB
}

// NewAggregationRepository constructs the repository.
func NewAggregationRepository(db *sqlx.DB) *AggregationRepository {
	return &AggregationRepository{db: db}
}

type aggregationRow struct {
	ID           string    `db:"id"`
	RunID        string    `db:"run_id"`
	BatchCode    string    `db:"batch_code"`
	Level        string    `db:"level"`
	EntityID     string    `db:"entity_id"`
	EntityName   string    `db:"entity_name"`
	Status       string    `db:"status"`
	Report       []byte    `db:"report"`
	Warnings     []byte    `db:"warnings"`
	Errors       []byte    `db:"errors"`
	CalculatedAt time.Time `db:"calculated_at"`
	DurationMS   int64     `db:"duration_ms"`
}

func toAggregationRow(res *models.AggregationResult) (aggregationRow, error) {
	row := aggregationRow{
		ID:           res.ID,
		RunID:        res.RunID,
		BatchCode:    res.BatchCode,
		Level:        string(res.Level),
		EntityID:     res.EntityID,
		EntityName:   res.EntityName,
		Status:       string(res.Status),
		CalculatedAt: res.CalculatedAt,
		DurationMS:   res.DurationMS,
	}
	var err error
	if row.Report, err = json.Marshal(res.Report); err != nil {
		return row, fmt.Errorf("marshal report: %w", err)
	}
	if row.Warnings, err = json.Marshal(nonNilWarnings(res.Warnings)); err != nil {
		return row, fmt.Errorf("marshal warnings: %w", err)
	}
	if row.Errors, err = json.Marshal(nonNilErrors(res.Errors)); err != nil {
		return row, fmt.Errorf("marshal errors: %w", err)
	}
	return row, nil
}

func (r aggregationRow) result() (*models.AggregationResult, error) {
	res := &models.AggregationResult{
		ID:           r.ID,
		RunID:        r.RunID,
		BatchCode:    r.BatchCode,
		Level:        models.EntityLevel(r.Level),
		EntityID:     r.EntityID,
		EntityName:   r.EntityName,
		Status:       models.EntityStatus(r.Status),
		CalculatedAt: r.CalculatedAt,
		DurationMS:   r.DurationMS,
	}
	if len(r.Report) > 0 {
		res.Report = &dto.EntityReport{}
		if err := json.Unmarshal(r.Report, res.Report); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
	}
	if len(r.Warnings) > 0 {
		if err := json.Unmarshal(r.Warnings, &res.Warnings); err != nil {
			return nil, fmt.Errorf("decode warnings: %w", err)
		}
	}
	if len(r.Errors) > 0 {
		if err := json.Unmarshal(r.Errors, &res.Errors); err != nil {
			return nil, fmt.Errorf("decode errors: %w", err)
		}
	}
	return res, nil
}

// Replace archives the stored result of the entity and writes res in its place.
func (r *AggregationRepository) Replace(ctx context.Context, res *models.AggregationResult) error {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.CalculatedAt.IsZero() {
		res.CalculatedAt = time.Now().UTC()
	}
	row, err := toAggregationRow(res)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace result tx: %w", err)
	}
	const archive = `INSERT INTO aggregation_result_history (id, run_id, batch_code, level, entity_id, entity_name, status, report, warnings, errors, calculated_at, duration_ms, archived_at)
SELECT id, run_id, batch_code, level, entity_id, entity_name, status, report, warnings, errors, calculated_at, duration_ms, NOW()
FROM aggregation_results WHERE batch_code = $1 AND level = $2 AND entity_id = $3`
	if _, err := tx.ExecContext(ctx, archive, row.BatchCode, row.Level, row.EntityID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("archive result: %w", err)
	}
	const remove = `DELETE FROM aggregation_results WHERE batch_code = $1 AND level = $2 AND entity_id = $3`
	if _, err := tx.ExecContext(ctx, remove, row.BatchCode, row.Level, row.EntityID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete result: %w", err)
	}
	const insert = `INSERT INTO aggregation_results (id, run_id, batch_code, level, entity_id, entity_name, status, report, warnings, errors, calculated_at, duration_ms)
VALUES (:id, :run_id, :batch_code, :level, :entity_id, :entity_name, :status, :report, :warnings, :errors, :calculated_at, :duration_ms)`
	if _, err := tx.NamedExecContext(ctx, insert, row); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert result: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace result tx: %w", err)
	}
	return nil
}

// Find returns the stored result of an entity.
func (r *AggregationRepository) Find(ctx context.Context, batchCode string, level models.EntityLevel, entityID string) (*models.AggregationResult, error) {
	const query = `SELECT id, run_id, batch_code, level, entity_id, entity_name, status, report, warnings, errors, calculated_at, duration_ms
FROM aggregation_results WHERE batch_code = $1 AND level = $2 AND entity_id = $3`
	var row aggregationRow
	if err := r.db.GetContext(ctx, &row, query, batchCode, string(level), entityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clonef(appErrors.ErrNotFound, "no result for %s/%s/%s", batchCode, level, entityID)
		}
		return nil, fmt.Errorf("find result: %w", err)
	}
	return row.result()
}

// ListByBatch returns every stored result of a batch, region first.
func (r *AggregationRepository) ListByBatch(ctx context.Context, batchCode string) ([]models.AggregationResult, error) {
	const query = `SELECT id, run_id, batch_code, level, entity_id, entity_name, status, report, warnings, errors, calculated_at, duration_ms
FROM aggregation_results WHERE batch_code = $1 ORDER BY level, entity_id`
	var rows []aggregationRow
	if err := r.db.SelectContext(ctx, &rows, query, batchCode); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	out := make([]models.AggregationResult, 0, len(rows))
	for _, row := range rows {
		res, err := row.result()
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, nil
}

func nonNilWarnings(w []models.QualityWarning) []models.QualityWarning {
	if w == nil {
		return []models.QualityWarning{}
	}
	return w
}

func nonNilErrors(e []models.EntityError) []models.EntityError {
	if e == nil {
		return []models.EntityError{}
	}
	return e
}
