package store

const schema = `
CREATE TABLE IF NOT EXISTS topics (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    media_type       TEXT NOT NULL,
    external_id      INTEGER,
    year             INTEGER,
    canonical_title  TEXT NOT NULL,
    normalized_title TEXT NOT NULL,
    created_at       DATETIME NOT NULL,
    updated_at       DATETIME NOT NULL,
    UNIQUE(media_type, normalized_title)
);

CREATE INDEX IF NOT EXISTS idx_topics_external ON topics(media_type, external_id);

CREATE TABLE IF NOT EXISTS seeds (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    keyword     TEXT NOT NULL,
    source      TEXT NOT NULL,
    media_type  TEXT NOT NULL,
    year        INTEGER,
    external_id INTEGER,
    topic_id    INTEGER REFERENCES topics(id),
    rank        INTEGER NOT NULL DEFAULT 0,
    audience    INTEGER NOT NULL DEFAULT 0,
    raw         TEXT NOT NULL DEFAULT '{}',
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL,
    UNIQUE(keyword, source, media_type)
);

CREATE INDEX IF NOT EXISTS idx_seeds_topic ON seeds(topic_id);

CREATE TABLE IF NOT EXISTS topic_aliases (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    topic_id         INTEGER NOT NULL REFERENCES topics(id),
    alias            TEXT NOT NULL,
    normalized_alias TEXT NOT NULL,
    source           TEXT NOT NULL,
    confidence       REAL NOT NULL DEFAULT 0,
    created_at       DATETIME NOT NULL,
    UNIQUE(topic_id, normalized_alias)
);

CREATE TABLE IF NOT EXISTS metrics (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    topic_id    INTEGER NOT NULL REFERENCES topics(id),
    date        TEXT NOT NULL,
    source      TEXT NOT NULL,
    metric_name TEXT NOT NULL,
    value       REAL NOT NULL DEFAULT 0,
    log_value   REAL,
    z_score     REAL,
    raw         TEXT NOT NULL DEFAULT '{}',
    UNIQUE(topic_id, date, source, metric_name)
);

CREATE INDEX IF NOT EXISTS idx_metrics_date ON metrics(date);

CREATE TABLE IF NOT EXISTS scores (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    topic_id     INTEGER NOT NULL REFERENCES topics(id),
    date         TEXT NOT NULL,
    algo_version TEXT NOT NULL,
    rank         INTEGER NOT NULL,
    score        REAL NOT NULL,
    breakdown    TEXT NOT NULL DEFAULT '{}',
    UNIQUE(topic_id, date, algo_version)
);

CREATE INDEX IF NOT EXISTS idx_scores_date ON scores(date, algo_version, rank);

CREATE TABLE IF NOT EXISTS fallback_scores (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    seed_id      INTEGER NOT NULL REFERENCES seeds(id),
    date         TEXT NOT NULL,
    algo_version TEXT NOT NULL,
    rank         INTEGER NOT NULL,
    score        REAL NOT NULL,
    breakdown    TEXT NOT NULL DEFAULT '{}',
    UNIQUE(seed_id, date, algo_version)
);

CREATE INDEX IF NOT EXISTS idx_fallback_scores_date ON fallback_scores(date, algo_version, rank);

CREATE TABLE IF NOT EXISTS ingest_runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid        TEXT NOT NULL,
    date        TEXT NOT NULL,
    region      TEXT NOT NULL,
    status      TEXT NOT NULL,
    attempts    INTEGER NOT NULL DEFAULT 1,
    started_at  DATETIME NOT NULL,
    finished_at DATETIME,
    error       TEXT,
    meta        TEXT NOT NULL DEFAULT '{}',
    UNIQUE(date, region)
);

CREATE TABLE IF NOT EXISTS snapshots (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     INTEGER NOT NULL REFERENCES ingest_runs(id),
    source     TEXT NOT NULL,
    endpoint   TEXT NOT NULL,
    request    TEXT NOT NULL DEFAULT 'null',
    response   TEXT NOT NULL DEFAULT 'null',
    fetched_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_run ON snapshots(run_id);
`
