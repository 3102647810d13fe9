// Package postgres implements store.Store on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kilianp07/fleetcast/core/model"
	"github.com/kilianp07/fleetcast/core/store"
	"github.com/kilianp07/fleetcast/infra/logger"
)

// Config holds the connection settings.
type Config struct {
	DSN            string        `json:"dsn"`
	MaxConns       int32         `json:"max_conns"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
}

// Store is a PostgreSQL backed store.Store.
type Store struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

var _ store.Store = (*Store)(nil)

// New connects, checks reachability and creates the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(cctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	s := &Store{pool: pool, log: logger.New("postgres")}
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(cctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s.log.Infof("connected to postgres, max %d connections", pcfg.MaxConns)
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const vehicleColumns = `id, route_id, current_stop, next_stop, destination, latitude, longitude,
	speed, heading, delay, occupancy_level, occupancy_pct, passenger_count, status,
	wheelchair, low_floor, last_updated, estimated_arrival`

func scanVehicle(row pgx.Row) (model.Vehicle, error) {
	var (
		v       model.Vehicle
		level   string
		status  string
		arrival *time.Time
	)
	err := row.Scan(&v.ID, &v.RouteID, &v.CurrentStop, &v.NextStop, &v.Destination,
		&v.Location.Latitude, &v.Location.Longitude, &v.Speed, &v.Heading, &v.Delay,
		&level, &v.Occupancy.Percentage, &v.Occupancy.PassengerCount, &status,
		&v.Accessibility.WheelchairAccessible, &v.Accessibility.LowFloor, &v.LastUpdated, &arrival)
	if err != nil {
		return v, err
	}
	v.Occupancy.Level = model.OccupancyLevel(level)
	v.Status = model.VehicleStatus(status)
	if arrival != nil {
		v.EstimatedArrival = *arrival
	}
	return v, nil
}

func vehicleArgs(v model.Vehicle) []any {
	var arrival *time.Time
	if !v.EstimatedArrival.IsZero() {
		arrival = &v.EstimatedArrival
	}
	return []any{v.ID, v.RouteID, v.CurrentStop, v.NextStop, v.Destination,
		v.Location.Latitude, v.Location.Longitude, v.Speed, v.Heading, v.Delay,
		string(v.Occupancy.Level), v.Occupancy.Percentage, v.Occupancy.PassengerCount, string(v.Status),
		v.Accessibility.WheelchairAccessible, v.Accessibility.LowFloor, v.LastUpdated, arrival}
}

func (s *Store) FindVehicles(ctx context.Context, f store.VehicleFilter, limit int) ([]model.Vehicle, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.RouteID != "" {
		args = append(args, f.RouteID)
		where = append(where, fmt.Sprintf("route_id = $%d", len(args)))
	}
	q := "SELECT " + vehicleColumns + " FROM vehicles"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("find vehicles: %w", err)
	}
	defer rows.Close()
	out := []model.Vehicle{}
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) GetVehicle(ctx context.Context, id string) (model.Vehicle, error) {
	v, err := scanVehicle(s.pool.QueryRow(ctx, "SELECT "+vehicleColumns+" FROM vehicles WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Vehicle{}, fmt.Errorf("vehicle %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return model.Vehicle{}, fmt.Errorf("get vehicle %s: %w", id, err)
	}
	return v, nil
}

func (s *Store) UpdateVehicle(ctx context.Context, v model.Vehicle) error {
	tag, err := s.pool.Exec(ctx, `UPDATE vehicles SET route_id = $2, current_stop = $3, next_stop = $4,
		destination = $5, latitude = $6, longitude = $7, speed = $8, heading = $9, delay = $10,
		occupancy_level = $11, occupancy_pct = $12, passenger_count = $13, status = $14,
		wheelchair = $15, low_floor = $16, last_updated = $17, estimated_arrival = $18
		WHERE id = $1`, vehicleArgs(v)...)
	if err != nil {
		return fmt.Errorf("update vehicle %s: %w", v.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("vehicle %s: %w", v.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) UpsertVehicle(ctx context.Context, v model.Vehicle) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO vehicles (`+vehicleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET route_id = EXCLUDED.route_id, current_stop = EXCLUDED.current_stop,
		next_stop = EXCLUDED.next_stop, destination = EXCLUDED.destination, latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude, speed = EXCLUDED.speed, heading = EXCLUDED.heading,
		delay = EXCLUDED.delay, occupancy_level = EXCLUDED.occupancy_level,
		occupancy_pct = EXCLUDED.occupancy_pct, passenger_count = EXCLUDED.passenger_count,
		status = EXCLUDED.status, wheelchair = EXCLUDED.wheelchair, low_floor = EXCLUDED.low_floor,
		last_updated = EXCLUDED.last_updated, estimated_arrival = EXCLUDED.estimated_arrival`,
		vehicleArgs(v)...)
	if err != nil {
		return fmt.Errorf("upsert vehicle %s: %w", v.ID, err)
	}
	return nil
}

const routeColumns = "id, name, short_name, color, type, status, stops"

func scanRoute(row pgx.Row) (model.Route, error) {
	var (
		r           model.Route
		typ, status string
		stops       []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &r.ShortName, &r.Color, &typ, &status, &stops); err != nil {
		return r, err
	}
	r.Type = model.RouteType(typ)
	r.Status = model.RouteStatus(status)
	if len(stops) > 0 {
		if err := json.Unmarshal(stops, &r.Stops); err != nil {
			return r, fmt.Errorf("decode stops: %w", err)
		}
	}
	if len(r.Stops) == 0 {
		r.Stops = nil
	}
	return r, nil
}

func (s *Store) GetRoute(ctx context.Context, id string) (model.Route, error) {
	r, err := scanRoute(s.pool.QueryRow(ctx, "SELECT "+routeColumns+" FROM routes WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Route{}, fmt.Errorf("route %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return model.Route{}, fmt.Errorf("get route %s: %w", id, err)
	}
	return r, nil
}

func (s *Store) ListRoutes(ctx context.Context) ([]model.Route, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+routeColumns+" FROM routes ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	defer rows.Close()
	out := []model.Route{}
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpsertRoute(ctx context.Context, r model.Route) error {
	stops, err := json.Marshal(r.Stops)
	if err != nil {
		return err
	}
	if r.Stops == nil {
		stops = []byte("[]")
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO routes (`+routeColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, short_name = EXCLUDED.short_name,
		color = EXCLUDED.color, type = EXCLUDED.type, status = EXCLUDED.status, stops = EXCLUDED.stops`,
		r.ID, r.Name, r.ShortName, r.Color, string(r.Type), string(r.Status), string(stops))
	if err != nil {
		return fmt.Errorf("upsert route %s: %w", r.ID, err)
	}
	return nil
}
