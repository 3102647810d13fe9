package postgres

// schema creates the tables on first use. Statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS routes (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	short_name TEXT NOT NULL DEFAULT '',
	color      TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT '',
	stops      JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS vehicles (
	id                TEXT PRIMARY KEY,
	route_id          TEXT NOT NULL DEFAULT '',
	current_stop      TEXT NOT NULL DEFAULT '',
	next_stop         TEXT NOT NULL DEFAULT '',
	destination       TEXT NOT NULL DEFAULT '',
	latitude          DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude         DOUBLE PRECISION NOT NULL DEFAULT 0,
	speed             DOUBLE PRECISION NOT NULL DEFAULT 0,
	heading           DOUBLE PRECISION NOT NULL DEFAULT 0,
	delay             DOUBLE PRECISION NOT NULL DEFAULT 0,
	occupancy_level   TEXT NOT NULL DEFAULT '',
	occupancy_pct     DOUBLE PRECISION NOT NULL DEFAULT 0,
	passenger_count   INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT '',
	wheelchair        BOOLEAN NOT NULL DEFAULT FALSE,
	low_floor         BOOLEAN NOT NULL DEFAULT FALSE,
	last_updated      TIMESTAMPTZ NOT NULL DEFAULT now(),
	estimated_arrival TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS vehicles_status_route ON vehicles (status, route_id);

CREATE TABLE IF NOT EXISTS predictions (
	id              TEXT PRIMARY KEY,
	vehicle_id      TEXT NOT NULL,
	route_id        TEXT NOT NULL DEFAULT '',
	stop_id         TEXT NOT NULL DEFAULT '',
	kind            TEXT NOT NULL,
	algorithm       TEXT NOT NULL,
	predicted_value DOUBLE PRECISION NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	horizon         INTEGER NOT NULL,
	factors         JSONB NOT NULL DEFAULT '[]',
	conditions      JSONB NOT NULL DEFAULT '{}',
	created_at      TIMESTAMPTZ NOT NULL,
	expires_at      TIMESTAMPTZ NOT NULL,
	actual_value    DOUBLE PRECISION,
	accuracy        DOUBLE PRECISION,
	validated_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS predictions_pending ON predictions (expires_at) WHERE actual_value IS NULL;
DROP INDEX IF EXISTS predictions_validated;
CREATE INDEX IF NOT EXISTS predictions_validated_at ON predictions (algorithm, validated_at) WHERE actual_value IS NOT NULL;
CREATE INDEX IF NOT EXISTS predictions_vehicle ON predictions (vehicle_id, created_at DESC);
`
