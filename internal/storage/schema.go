package storage

// Schema is the DDL for the Postgres store. The dedup rule for lab results
// lives in the two partial unique indexes: code-bearing rows dedup on
// (user_id, test_code, UTC day of recorded_at); code-less rows on
// (user_id, lower(test_name), UTC day of recorded_at).
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id         TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chat_sessions (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL,
    title            TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL,
    last_activity_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_messages (
    id         TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL DEFAULT '',
    metadata   JSONB,
    seq        BIGSERIAL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_session_created
    ON chat_messages(session_id, created_at);

CREATE TABLE IF NOT EXISTS medical_documents (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    title         TEXT NOT NULL DEFAULT '',
    document_type TEXT NOT NULL,
    file_path     TEXT NOT NULL,
    file_type     TEXT NOT NULL DEFAULT '',
    raw_text      TEXT,
    parsed_data   JSONB,
    document_date DATE,
    status        TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_medical_documents_user_status
    ON medical_documents(user_id, status);

CREATE TABLE IF NOT EXISTS lab_results (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    document_id   TEXT REFERENCES medical_documents(id) ON DELETE SET NULL,
    test_name     TEXT NOT NULL,
    test_code     TEXT,
    value         DOUBLE PRECISION NOT NULL,
    unit          TEXT NOT NULL,
    reference_min DOUBLE PRECISION,
    reference_max DOUBLE PRECISION,
    status        TEXT,
    recorded_at   DATE NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_lab_results_user_name_recorded
    ON lab_results(user_id, test_name, recorded_at);

CREATE UNIQUE INDEX IF NOT EXISTS uq_lab_results_coded
    ON lab_results(user_id, test_code, ((recorded_at AT TIME ZONE 'UTC')::date))
    WHERE test_code IS NOT NULL;

CREATE UNIQUE INDEX IF NOT EXISTS uq_lab_results_named
    ON lab_results(user_id, lower(test_name), ((recorded_at AT TIME ZONE 'UTC')::date))
    WHERE test_code IS NULL;

CREATE TABLE IF NOT EXISTS symptom_entries (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL,
    symptom_type     TEXT NOT NULL,
    severity         INT NOT NULL CHECK (severity BETWEEN 0 AND 10),
    notes            TEXT,
    triggers         JSONB,
    duration_minutes INT,
    recorded_at      TIMESTAMPTZ NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_symptom_entries_user_type_recorded
    ON symptom_entries(user_id, symptom_type, recorded_at);

CREATE TABLE IF NOT EXISTS series_types (
    code        TEXT PRIMARY KEY,
    unit        TEXT NOT NULL,
    aggregation TEXT NOT NULL DEFAULT 'mean'
);

CREATE TABLE IF NOT EXISTS wearable_points (
    user_id     TEXT NOT NULL,
    series_code TEXT NOT NULL REFERENCES series_types(code),
    recorded_at TIMESTAMPTZ NOT NULL,
    value       DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_wearable_points_user_series_recorded
    ON wearable_points(user_id, series_code, recorded_at);

CREATE TABLE IF NOT EXISTS active_streams (
    session_id TEXT PRIMARY KEY,
    started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ingest_jobs (
    id          TEXT PRIMARY KEY,
    document_id TEXT NOT NULL,
    user_id     TEXT NOT NULL,
    attempts    INT NOT NULL DEFAULT 0,
    enqueued_at TIMESTAMPTZ NOT NULL,
    claimed_at  TIMESTAMPTZ,
    done_at     TIMESTAMPTZ,
    error       TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingest_jobs_claimable
    ON ingest_jobs(enqueued_at) WHERE done_at IS NULL;
`
