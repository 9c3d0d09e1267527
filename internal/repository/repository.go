package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/septivank/meter-reading-service/internal/apperr"
	"github.com/septivank/meter-reading-service/internal/db"
)

const uniqueViolation = "23505"

const measureColumns = `
	measure_uuid, customer_code, measure_type, measure_datetime, measure_period,
	initial_value, confirmed_value, is_confirmed, confirmed_by, confirmed_at,
	image_url, created_at`

// Queries are the store operations that must run inside one transaction
type Queries interface {
	// LockPeriod serializes every transaction working on the same
	// customer, type and period until it commits or rolls back.
	LockPeriod(ctx context.Context, customerCode string, measureType db.MeasureType, period time.Time) error
	FindActiveByPeriod(ctx context.Context, customerCode string, measureType db.MeasureType, period time.Time) (*db.Measure, error)
	FindByUUID(ctx context.Context, id uuid.UUID, lockForUpdate bool) (*db.Measure, error)
	Insert(ctx context.Context, measure *db.Measure) error
	Confirm(ctx context.Context, id uuid.UUID, confirmedValue float64, confirmedBy string, confirmedAt time.Time) error
}

// DBTX is the part of *pgxpool.Pool the repository uses
type DBTX interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Repository handles database operations
type Repository struct {
	pool DBTX
}

// NewRepository creates a new repository
func NewRepository(pool DBTX) *Repository {
	return &Repository{pool: pool}
}

// InTx runs fn inside a transaction. The transaction commits when fn returns
// nil and rolls back otherwise, including on panic; the connection goes back
// to the pool on every path.
func (r *Repository) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := fn(&txQueries{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindPersistence, err, "failed to commit transaction")
	}

	return nil
}

// ListByCustomer returns a customer's measures ordered by reading time.
// A nil measureType lists every type.
func (r *Repository) ListByCustomer(ctx context.Context, customerCode string, measureType *db.MeasureType) ([]db.Measure, error) {
	query := `SELECT` + measureColumns + `
		FROM measures
		WHERE customer_code = $1 AND ($2::text IS NULL OR measure_type = $2)
		ORDER BY measure_datetime ASC
	`

	var typeArg interface{}
	if measureType != nil {
		typeArg = string(*measureType)
	}

	rows, err := r.pool.Query(ctx, query, customerCode, typeArg)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "failed to query measures")
	}
	defer rows.Close()

	var measures []db.Measure
	for rows.Next() {
		var m db.Measure
		if err := scanMeasure(rows, &m); err != nil {
			return nil, apperr.Wrap(apperr.KindPersistence, err, "failed to scan measure")
		}
		measures = append(measures, m)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "rows iteration error")
	}

	return measures, nil
}

type txQueries struct {
	tx pgx.Tx
}

func (q *txQueries) LockPeriod(ctx context.Context, customerCode string, measureType db.MeasureType, period time.Time) error {
	key := fmt.Sprintf("measure:%s:%s:%s", customerCode, measureType, period.Format("2006-01"))

	if _, err := q.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return apperr.Wrap(apperr.KindPersistence, err, "failed to lock measure period")
	}
	return nil
}

func (q *txQueries) FindActiveByPeriod(ctx context.Context, customerCode string, measureType db.MeasureType, period time.Time) (*db.Measure, error) {
	query := `SELECT` + measureColumns + `
		FROM measures
		WHERE customer_code = $1 AND measure_type = $2 AND measure_period = $3
		LIMIT 1
	`

	var m db.Measure
	err := scanMeasure(q.tx.QueryRow(ctx, query, customerCode, string(measureType), period), &m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "failed to query measure by period")
	}

	return &m, nil
}

func (q *txQueries) FindByUUID(ctx context.Context, id uuid.UUID, lockForUpdate bool) (*db.Measure, error) {
	query := `SELECT` + measureColumns + `
		FROM measures
		WHERE measure_uuid = $1
	`
	if lockForUpdate {
		query += ` FOR UPDATE`
	}

	var m db.Measure
	err := scanMeasure(q.tx.QueryRow(ctx, query, id), &m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "failed to query measure")
	}

	return &m, nil
}

func (q *txQueries) Insert(ctx context.Context, measure *db.Measure) error {
	query := `
		INSERT INTO measures (
			measure_uuid, customer_code, measure_type, measure_datetime, measure_period,
			initial_value, is_confirmed, image_url, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8)
	`

	_, err := q.tx.Exec(ctx, query,
		measure.UUID,
		measure.CustomerCode,
		string(measure.MeasureType),
		measure.MeasureDatetime,
		measure.MeasurePeriod,
		measure.InitialValue,
		measure.ImageURL,
		measure.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperr.Wrap(apperr.KindDuplicateMeasure, err, "a reading for this customer, type and month has already been submitted")
		}
		return apperr.Wrap(apperr.KindPersistence, err, "failed to insert measure")
	}

	return nil
}

func (q *txQueries) Confirm(ctx context.Context, id uuid.UUID, confirmedValue float64, confirmedBy string, confirmedAt time.Time) error {
	query := `
		UPDATE measures
		SET confirmed_value = $1, is_confirmed = TRUE, confirmed_by = $2, confirmed_at = $3
		WHERE measure_uuid = $4 AND is_confirmed = FALSE
	`

	tag, err := q.tx.Exec(ctx, query, confirmedValue, confirmedBy, confirmedAt, id)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, err, "failed to confirm measure")
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindAlreadyConfirmed, "measure %s has already been confirmed", id)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMeasure(row rowScanner, m *db.Measure) error {
	var measureType string
	err := row.Scan(
		&m.UUID,
		&m.CustomerCode,
		&measureType,
		&m.MeasureDatetime,
		&m.MeasurePeriod,
		&m.InitialValue,
		&m.ConfirmedValue,
		&m.IsConfirmed,
		&m.ConfirmedBy,
		&m.ConfirmedAt,
		&m.ImageURL,
		&m.CreatedAt,
	)
	if err != nil {
		return err
	}
	m.MeasureType = db.MeasureType(measureType)
	return nil
}
