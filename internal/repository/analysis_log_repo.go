package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"roofscale-backend/internal/models"
)

// execer is the part of *pgxpool.Pool the repo needs.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type AnalysisLogRepo struct {
	db execer
}

func NewAnalysisLogRepo(pool *pgxpool.Pool) *AnalysisLogRepo {
	return &AnalysisLogRepo{db: pool}
}

func (r *AnalysisLogRepo) Insert(ctx context.Context, rec *models.AnalysisRecord) error {
	var errorKind *string
	if rec.ErrorKind != "" {
		errorKind = &rec.ErrorKind
	}

	query := `INSERT INTO analysis_log (id, session_id, address, has_location, outcome, error_kind,
			has_metrics, metrics_decode_failed, citation_count, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.SessionID, rec.Address, rec.HasLocation, rec.Outcome, errorKind,
		rec.HasMetrics, rec.MetricsDecodeFailed, rec.CitationCount, rec.DurationMS, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert analysis_log %s: %w", rec.ID, err)
	}
	return nil
}
