package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kilianp07/fleetcast/core/model"
	"github.com/kilianp07/fleetcast/core/store"
)

const predictionColumns = `id, vehicle_id, route_id, stop_id, kind, algorithm, predicted_value,
	confidence, horizon, factors, conditions, created_at, expires_at, actual_value, accuracy, validated_at`

const insertPrediction = `INSERT INTO predictions (` + predictionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

// ErrDuplicate is returned when a prediction id already exists.
var ErrDuplicate = errors.New("duplicate prediction id")

func predictionArgs(p model.Prediction) ([]any, error) {
	factors, err := json.Marshal(p.Factors)
	if err != nil {
		return nil, err
	}
	if p.Factors == nil {
		factors = []byte("[]")
	}
	conditions, err := json.Marshal(p.Conditions)
	if err != nil {
		return nil, err
	}
	return []any{p.ID, p.VehicleID, p.RouteID, p.StopID, string(p.Kind), string(p.Algorithm),
		p.PredictedValue, p.Confidence, p.Horizon, string(factors), string(conditions),
		p.CreatedAt, p.ExpiresAt, p.ActualValue, p.Accuracy, p.ValidatedAt}, nil
}

func scanPrediction(row pgx.Row) (model.Prediction, error) {
	var (
		p                  model.Prediction
		kind, alg          string
		factors, condition []byte
	)
	err := row.Scan(&p.ID, &p.VehicleID, &p.RouteID, &p.StopID, &kind, &alg, &p.PredictedValue,
		&p.Confidence, &p.Horizon, &factors, &condition, &p.CreatedAt, &p.ExpiresAt,
		&p.ActualValue, &p.Accuracy, &p.ValidatedAt)
	if err != nil {
		return p, err
	}
	p.Kind = model.PredictionKind(kind)
	p.Algorithm = model.Algorithm(alg)
	if err := json.Unmarshal(factors, &p.Factors); err != nil {
		return p, fmt.Errorf("decode factors: %w", err)
	}
	if len(p.Factors) == 0 {
		p.Factors = nil
	}
	if err := json.Unmarshal(condition, &p.Conditions); err != nil {
		return p, fmt.Errorf("decode conditions: %w", err)
	}
	return p, nil
}

func wrapInsert(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.Detail)
	}
	return err
}

func (s *Store) InsertPrediction(ctx context.Context, p model.Prediction) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	args, err := predictionArgs(p)
	if err != nil {
		return "", err
	}
	if _, err := s.pool.Exec(ctx, insertPrediction, args...); err != nil {
		return "", fmt.Errorf("insert prediction: %w", wrapInsert(err))
	}
	return p.ID, nil
}

// InsertPredictions queues every insert in one batch inside a transaction.
func (s *Store) InsertPredictions(ctx context.Context, ps []model.Prediction) error {
	if len(ps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range ps {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		args, err := predictionArgs(p)
		if err != nil {
			return err
		}
		batch.Queue(insertPrediction, args...)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		res := tx.SendBatch(ctx, batch)
		for range ps {
			if _, err := res.Exec(); err != nil {
				_ = res.Close()
				return fmt.Errorf("insert predictions: %w", wrapInsert(err))
			}
		}
		return res.Close()
	})
}

func (s *Store) MarkValidated(ctx context.Context, id string, v store.Validation) error {
	tag, err := s.pool.Exec(ctx, `UPDATE predictions SET actual_value = $2, accuracy = $3, validated_at = $4
		WHERE id = $1 AND actual_value IS NULL`, id, v.ActualValue, v.Accuracy, v.ValidatedAt)
	if err != nil {
		return fmt.Errorf("mark validated %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM predictions WHERE id = $1)", id).Scan(&exists); err != nil {
		return fmt.Errorf("mark validated %s: %w", id, err)
	}
	if exists {
		return fmt.Errorf("prediction %s: %w", id, store.ErrAlreadyValidated)
	}
	return fmt.Errorf("prediction %s: %w", id, store.ErrNotFound)
}

func (s *Store) queryPredictions(ctx context.Context, q string, args ...any) ([]model.Prediction, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()
	out := []model.Prediction{}
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) FindExpiredUnvalidated(ctx context.Context, now time.Time, limit int) ([]model.Prediction, error) {
	q := "SELECT " + predictionColumns + " FROM predictions WHERE actual_value IS NULL AND expires_at <= $1 ORDER BY expires_at, id"
	if limit > 0 {
		return s.queryPredictions(ctx, q+" LIMIT $2", now, limit)
	}
	return s.queryPredictions(ctx, q, now)
}

func (s *Store) FindValidated(ctx context.Context, q store.PredictionQuery) ([]model.Prediction, error) {
	sql := "SELECT " + predictionColumns + " FROM predictions WHERE actual_value IS NOT NULL AND validated_at >= $1"
	if q.Algorithm != "" {
		return s.queryPredictions(ctx, sql+" AND algorithm = $2 ORDER BY validated_at", q.ValidatedSince, string(q.Algorithm))
	}
	return s.queryPredictions(ctx, sql+" ORDER BY validated_at", q.ValidatedSince)
}

func (s *Store) ListPredictions(ctx context.Context, vehicleID string, kind model.PredictionKind, limit int) ([]model.Prediction, error) {
	q := "SELECT " + predictionColumns + " FROM predictions WHERE vehicle_id = $1 AND ($2::text = '' OR kind = $2::text) ORDER BY created_at DESC, id"
	if limit > 0 {
		return s.queryPredictions(ctx, q+" LIMIT $3", vehicleID, string(kind), limit)
	}
	return s.queryPredictions(ctx, q, vehicleID, string(kind))
}

func (s *Store) PurgePredictions(ctx context.Context, validatedBefore, staleBefore time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM predictions
		WHERE (actual_value IS NOT NULL AND expires_at < $1)
		   OR (actual_value IS NULL AND expires_at < $2)`, validatedBefore, staleBefore)
	if err != nil {
		return 0, fmt.Errorf("purge predictions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
