package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: RESULT SOURCE TABLES
// Owned by the results import. Created here only when missing so a fresh
// database (local development, integration tests) has the same shape.
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS clubs (
    id         BIGSERIAL PRIMARY KEY,
    name       VARCHAR(200) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS riders (
    id         BIGSERIAL PRIMARY KEY,
    first_name VARCHAR(100) NOT NULL DEFAULT '',
    last_name  VARCHAR(100) NOT NULL DEFAULT '',
    club_id    BIGINT REFERENCES clubs(id) ON DELETE SET NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS events (
    id          BIGSERIAL PRIMARY KEY,
    name        VARCHAR(200) NOT NULL DEFAULT '',
    date        DATE NOT NULL,
    discipline  VARCHAR(20) NOT NULL,
    event_level VARCHAR(20) NOT NULL DEFAULT 'national',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_events_discipline_date ON events(discipline, date DESC);

CREATE TABLE IF NOT EXISTS classes (
    id              BIGSERIAL PRIMARY KEY,
    name            VARCHAR(100) NOT NULL DEFAULT '',
    series_eligible BOOLEAN NOT NULL DEFAULT TRUE,
    awards_points   BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS results (
    id           BIGSERIAL PRIMARY KEY,
    event_id     BIGINT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    rider_id     BIGINT NOT NULL REFERENCES riders(id) ON DELETE CASCADE,
    class_id     BIGINT NOT NULL REFERENCES classes(id),
    club_id      BIGINT REFERENCES clubs(id) ON DELETE SET NULL,
    status       VARCHAR(20) NOT NULL DEFAULT 'finished',
    points       DOUBLE PRECISION NOT NULL DEFAULT 0,
    run_1_points DOUBLE PRECISION,
    run_2_points DOUBLE PRECISION,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_results_event ON results(event_id);
CREATE INDEX IF NOT EXISTS idx_results_rider ON results(rider_id);
`

const migration001Down = `
DROP TABLE IF EXISTS results;
DROP TABLE IF EXISTS classes;
DROP TABLE IF EXISTS events;
DROP TABLE IF EXISTS riders;
DROP TABLE IF EXISTS clubs;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: RANKING SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS ranking_settings (
    name       VARCHAR(50) PRIMARY KEY,
    value      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_setting_name CHECK (name IN ('field_multipliers', 'time_decay', 'event_level_multipliers'))
);
`

const migration002Down = `
DROP TABLE IF EXISTS ranking_settings;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: RANKING SNAPSHOTS
// One row per (entity, discipline, snapshot_date). A recompute for the same
// date deletes and re-inserts the whole date in one transaction.
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS ranking_snapshots (
    id                BIGSERIAL PRIMARY KEY,
    rider_id          BIGINT NOT NULL,
    discipline        VARCHAR(20) NOT NULL,
    snapshot_date     DATE NOT NULL,
    total_points      NUMERIC(12,2) NOT NULL,
    points_0_12       NUMERIC(12,2) NOT NULL DEFAULT 0,
    points_13_24      NUMERIC(12,2) NOT NULL DEFAULT 0,
    events_count      INTEGER NOT NULL DEFAULT 0,
    ranking_position  INTEGER NOT NULL,
    previous_position INTEGER,
    position_change   INTEGER,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_ranking_snapshot UNIQUE (rider_id, discipline, snapshot_date),
    CONSTRAINT valid_ranking_position CHECK (ranking_position > 0)
);

CREATE INDEX IF NOT EXISTS idx_ranking_snapshots_page
    ON ranking_snapshots(discipline, snapshot_date DESC, ranking_position);
CREATE INDEX IF NOT EXISTS idx_ranking_snapshots_rider
    ON ranking_snapshots(rider_id, discipline, snapshot_date);

CREATE TABLE IF NOT EXISTS club_ranking_snapshots (
    id                BIGSERIAL PRIMARY KEY,
    club_id           BIGINT NOT NULL,
    discipline        VARCHAR(20) NOT NULL,
    snapshot_date     DATE NOT NULL,
    total_points      NUMERIC(12,2) NOT NULL,
    points_0_12       NUMERIC(12,2) NOT NULL DEFAULT 0,
    points_13_24      NUMERIC(12,2) NOT NULL DEFAULT 0,
    events_count      INTEGER NOT NULL DEFAULT 0,
    riders_count      INTEGER NOT NULL DEFAULT 0,
    ranking_position  INTEGER NOT NULL,
    previous_position INTEGER,
    position_change   INTEGER,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_club_ranking_snapshot UNIQUE (club_id, discipline, snapshot_date),
    CONSTRAINT valid_club_ranking_position CHECK (ranking_position > 0)
);

CREATE INDEX IF NOT EXISTS idx_club_ranking_snapshots_page
    ON club_ranking_snapshots(discipline, snapshot_date DESC, ranking_position);
CREATE INDEX IF NOT EXISTS idx_club_ranking_snapshots_club
    ON club_ranking_snapshots(club_id, discipline, snapshot_date);
`

const migration003Down = `
DROP TABLE IF EXISTS club_ranking_snapshots;
DROP TABLE IF EXISTS ranking_snapshots;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: LAST CALCULATION
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS ranking_last_calculation (
    id            SMALLINT PRIMARY KEY DEFAULT 1,
    run_id        UUID NOT NULL,
    calculated_at TIMESTAMPTZ NOT NULL,
    summary       JSONB NOT NULL,

    CONSTRAINT single_row CHECK (id = 1)
);
`

const migration004Down = `
DROP TABLE IF EXISTS ranking_last_calculation;
`

// GetMigrations returns all embedded migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_result_source", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_ranking_settings", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_ranking_snapshots", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_last_calculation", UpSQL: migration004Up, DownSQL: migration004Down},
	}
}
