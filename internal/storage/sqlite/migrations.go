package sqlite

const schema = `
-- Detection runs
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    mode TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,

    total INTEGER DEFAULT 0,
    residential INTEGER DEFAULT 0,
    datacenter INTEGER DEFAULT 0,
    unknown INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0,

    error TEXT DEFAULT ''
);

-- Per-node verdicts
CREATE TABLE IF NOT EXISTS run_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL,

    node_name TEXT NOT NULL,
    node_type TEXT NOT NULL,
    server TEXT NOT NULL,
    port INTEGER NOT NULL,

    ip TEXT DEFAULT '',
    label TEXT NOT NULL,
    reason TEXT DEFAULT '',
    asn INTEGER DEFAULT 0,
    org TEXT DEFAULT '',
    country TEXT DEFAULT '',
    latency_ms INTEGER,
    error TEXT DEFAULT '',

    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

-- Indexes for performance
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_run_results_run_id ON run_results(run_id);
CREATE INDEX IF NOT EXISTS idx_run_results_label ON run_results(label);
`

// runMigrations executes the database schema
func runMigrations(db *DB) error {
	_, err := db.db.Exec(schema)
	return err
}
