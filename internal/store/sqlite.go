package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/clauselens/clauselens/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS analysis_runs (
	id                 TEXT PRIMARY KEY,
	tenant_id          TEXT NOT NULL,
	document_id        TEXT NOT NULL,
	document_path      TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'pending',
	progress_stage     TEXT NOT NULL DEFAULT '',
	progress_percent   INTEGER NOT NULL DEFAULT 0,
	progress_message   TEXT NOT NULL DEFAULT '',
	queue_position     INTEGER NOT NULL DEFAULT 0,
	version            INTEGER NOT NULL DEFAULT 0,
	cancel_requested   INTEGER NOT NULL DEFAULT 0,
	token_usage        TEXT NOT NULL DEFAULT '{}',
	estimated_cost     REAL NOT NULL DEFAULT 0,
	was_truncated      INTEGER NOT NULL DEFAULT 0,
	error              TEXT NOT NULL DEFAULT '',
	debug              TEXT NOT NULL DEFAULT '',
	report             TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL,
	completed_at       DATETIME,
	processing_time_ms INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS extracted_texts (
	analysis_id TEXT PRIMARY KEY REFERENCES analysis_runs(id) ON DELETE CASCADE,
	text        TEXT NOT NULL,
	page_count  INTEGER NOT NULL DEFAULT 0,
	char_count  INTEGER NOT NULL DEFAULT 0,
	scanned     INTEGER NOT NULL DEFAULT 0,
	source      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS chunks (
	analysis_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	heading     TEXT NOT NULL DEFAULT '',
	text        TEXT NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	embedding   TEXT,
	PRIMARY KEY (analysis_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS classifications (
	analysis_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	category    TEXT NOT NULL,
	confidence  REAL NOT NULL DEFAULT 0,
	rationale   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (analysis_id, chunk_index, category)
);

CREATE TABLE IF NOT EXISTS clause_scores (
	analysis_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	category    TEXT NOT NULL,
	level       TEXT NOT NULL,
	score       REAL NOT NULL DEFAULT 0,
	findings    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (analysis_id, chunk_index, category)
);

CREATE TABLE IF NOT EXISTS gaps (
	analysis_id    TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
	category       TEXT NOT NULL,
	severity       TEXT NOT NULL,
	missing        INTEGER NOT NULL DEFAULT 0,
	recommendation TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (analysis_id, category)
);

CREATE TABLE IF NOT EXISTS stage_steps (
	analysis_id  TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
	stage        TEXT NOT NULL,
	step_key     TEXT NOT NULL,
	completed_at DATETIME NOT NULL,
	PRIMARY KEY (analysis_id, stage, step_key)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON analysis_runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_tenant_doc ON analysis_runs(tenant_id, document_id);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON analysis_runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.AnalysisRun) error {
	usage, err := json.Marshal(run.TokenUsage)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal token usage")
	}

	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_runs
		 (id, tenant_id, document_id, document_path, status, progress_stage, progress_percent,
		  progress_message, queue_position, version, cancel_requested, token_usage, estimated_cost,
		  was_truncated, error, debug, report, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TenantID, run.DocumentID, run.DocumentPath, string(run.Status),
		run.ProgressStage, run.ProgressPercent, run.ProgressMessage, run.QueuePosition,
		run.Version, boolInt(run.CancelRequested), string(usage), run.EstimatedCost,
		boolInt(run.WasTruncated), run.Error, run.Debug, run.Report, now, now,
	)
	return eris.Wrap(err, "sqlite: insert run")
}

const sqliteRunColumns = `id, tenant_id, document_id, document_path, status, progress_stage,
	progress_percent, progress_message, queue_position, version, cancel_requested, token_usage,
	estimated_cost, was_truncated, error, debug, report, created_at, updated_at, completed_at,
	processing_time_ms`

func (s *SQLiteStore) scanRun(row interface{ Scan(...any) error }) (*model.AnalysisRun, error) {
	var run model.AnalysisRun
	var status, usage string
	var cancelReq, truncated int
	var completedAt sql.NullTime
	err := row.Scan(
		&run.ID, &run.TenantID, &run.DocumentID, &run.DocumentPath, &status,
		&run.ProgressStage, &run.ProgressPercent, &run.ProgressMessage, &run.QueuePosition,
		&run.Version, &cancelReq, &usage, &run.EstimatedCost, &truncated,
		&run.Error, &run.Debug, &run.Report, &run.CreatedAt, &run.UpdatedAt,
		&completedAt, &run.ProcessingTimeMs,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	run.Status = model.RunStatus(status)
	run.CancelRequested = cancelReq != 0
	run.WasTruncated = truncated != 0
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(usage), &run.TokenUsage); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal token usage")
	}
	return &run, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, analysisID string) (*model.AnalysisRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM analysis_runs WHERE id = ?`, analysisID)
	return s.scanRun(row)
}

func (s *SQLiteStore) FindActiveRun(ctx context.Context, tenantID, documentID string) (*model.AnalysisRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM analysis_runs
		 WHERE tenant_id = ? AND document_id = ? AND status IN ('pending', 'pending_ocr', 'processing')
		 ORDER BY created_at DESC LIMIT 1`, tenantID, documentID)
	return s.scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.AnalysisRun, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM analysis_runs WHERE 1=1`
	var args []any
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.DocumentID != "" {
		query += ` AND document_id = ?`
		args = append(args, filter.DocumentID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.AnalysisRun
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs rows")
}

// UpdateRun writes the run row only when the stored version matches
// run.Version. On success the version is incremented in both the row and the
// passed struct.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.AnalysisRun) error {
	usage, err := json.Marshal(run.TokenUsage)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal token usage")
	}

	now := time.Now().UTC()
	var completedAt any
	if run.CompletedAt != nil {
		completedAt = run.CompletedAt.UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_runs SET
			status = ?, progress_stage = ?, progress_percent = ?, progress_message = ?,
			queue_position = ?, version = version + 1, cancel_requested = ?, token_usage = ?,
			estimated_cost = ?, was_truncated = ?, error = ?, debug = ?, report = ?,
			updated_at = ?, completed_at = ?, processing_time_ms = ?
		 WHERE id = ? AND version = ?`,
		string(run.Status), run.ProgressStage, run.ProgressPercent, run.ProgressMessage,
		run.QueuePosition, boolInt(run.CancelRequested), string(usage),
		run.EstimatedCost, boolInt(run.WasTruncated), run.Error, run.Debug, run.Report,
		now, completedAt, run.ProcessingTimeMs,
		run.ID, run.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", run.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrVersionConflict
	}
	run.Version++
	run.UpdatedAt = now
	return nil
}

// RequestCancel flips the cancellation flag without version checking: the
// flag is only ever set true and read cooperatively between steps.
func (s *SQLiteStore) RequestCancel(ctx context.Context, analysisID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_runs SET cancel_requested = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), analysisID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: request cancel %s", analysisID)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, analysisID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM analysis_runs WHERE id = ?`, analysisID)
	return eris.Wrapf(err, "sqlite: delete run %s", analysisID)
}

func (s *SQLiteStore) UpsertExtractedText(ctx context.Context, t *model.ExtractedText) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extracted_texts (analysis_id, text, page_count, char_count, scanned, source)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(analysis_id) DO UPDATE SET
			text = excluded.text, page_count = excluded.page_count,
			char_count = excluded.char_count, scanned = excluded.scanned, source = excluded.source`,
		t.AnalysisID, t.Text, t.PageCount, t.CharCount, boolInt(t.Scanned), t.Source,
	)
	return eris.Wrap(err, "sqlite: upsert extracted text")
}

func (s *SQLiteStore) GetExtractedText(ctx context.Context, analysisID string) (*model.ExtractedText, error) {
	var t model.ExtractedText
	var scanned int
	err := s.db.QueryRowContext(ctx,
		`SELECT analysis_id, text, page_count, char_count, scanned, source
		 FROM extracted_texts WHERE analysis_id = ?`, analysisID,
	).Scan(&t.AnalysisID, &t.Text, &t.PageCount, &t.CharCount, &scanned, &t.Source)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get extracted text")
	}
	t.Scanned = scanned != 0
	return &t, nil
}

func (s *SQLiteStore) UpsertChunks(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert chunks")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (analysis_id, chunk_index, heading, text, token_count, embedding)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(analysis_id, chunk_index) DO UPDATE SET
			heading = excluded.heading, text = excluded.text,
			token_count = excluded.token_count, embedding = excluded.embedding`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare upsert chunks")
	}
	defer stmt.Close()

	for _, c := range chunks {
		var embedding any
		if c.Embedding != nil {
			b, err := json.Marshal(c.Embedding)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal embedding")
			}
			embedding = string(b)
		}
		if _, err := stmt.ExecContext(ctx, c.AnalysisID, c.Index, c.Heading, c.Text, c.TokenCount, embedding); err != nil {
			return eris.Wrapf(err, "sqlite: upsert chunk %d", c.Index)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert chunks")
}

func (s *SQLiteStore) ListChunks(ctx context.Context, analysisID string) ([]model.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT analysis_id, chunk_index, heading, text, token_count, embedding
		 FROM chunks WHERE analysis_id = ? ORDER BY chunk_index`, analysisID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list chunks")
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		var embedding sql.NullString
		if err := rows.Scan(&c.AnalysisID, &c.Index, &c.Heading, &c.Text, &c.TokenCount, &embedding); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan chunk")
		}
		if embedding.Valid {
			if err := json.Unmarshal([]byte(embedding.String), &c.Embedding); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal embedding")
			}
		}
		chunks = append(chunks, c)
	}
	return chunks, eris.Wrap(rows.Err(), "sqlite: list chunks rows")
}

func (s *SQLiteStore) UpsertClassifications(ctx context.Context, cls []model.Classification) error {
	if len(cls) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert classifications")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO classifications (analysis_id, chunk_index, category, confidence, rationale)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(analysis_id, chunk_index, category) DO UPDATE SET
			confidence = excluded.confidence, rationale = excluded.rationale`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare upsert classifications")
	}
	defer stmt.Close()

	for _, c := range cls {
		if _, err := stmt.ExecContext(ctx, c.AnalysisID, c.ChunkIndex, c.Category, c.Confidence, c.Rationale); err != nil {
			return eris.Wrapf(err, "sqlite: upsert classification %d/%s", c.ChunkIndex, c.Category)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert classifications")
}

func (s *SQLiteStore) ListClassifications(ctx context.Context, analysisID string) ([]model.Classification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT analysis_id, chunk_index, category, confidence, rationale
		 FROM classifications WHERE analysis_id = ? ORDER BY chunk_index, category`, analysisID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list classifications")
	}
	defer rows.Close()

	var out []model.Classification
	for rows.Next() {
		var c model.Classification
		if err := rows.Scan(&c.AnalysisID, &c.ChunkIndex, &c.Category, &c.Confidence, &c.Rationale); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan classification")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list classifications rows")
}

func (s *SQLiteStore) UpsertClauseScores(ctx context.Context, scores []model.ClauseScore) error {
	if len(scores) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert clause scores")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO clause_scores (analysis_id, chunk_index, category, level, score, findings)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(analysis_id, chunk_index, category) DO UPDATE SET
			level = excluded.level, score = excluded.score, findings = excluded.findings`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare upsert clause scores")
	}
	defer stmt.Close()

	for _, sc := range scores {
		if _, err := stmt.ExecContext(ctx, sc.AnalysisID, sc.ChunkIndex, sc.Category, string(sc.Level), sc.Score, sc.Findings); err != nil {
			return eris.Wrapf(err, "sqlite: upsert clause score %d/%s", sc.ChunkIndex, sc.Category)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert clause scores")
}

func (s *SQLiteStore) ListClauseScores(ctx context.Context, analysisID string) ([]model.ClauseScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT analysis_id, chunk_index, category, level, score, findings
		 FROM clause_scores WHERE analysis_id = ? ORDER BY chunk_index, category`, analysisID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list clause scores")
	}
	defer rows.Close()

	var out []model.ClauseScore
	for rows.Next() {
		var sc model.ClauseScore
		var level string
		if err := rows.Scan(&sc.AnalysisID, &sc.ChunkIndex, &sc.Category, &level, &sc.Score, &sc.Findings); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan clause score")
		}
		sc.Level = model.RiskLevel(level)
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list clause scores rows")
}

func (s *SQLiteStore) UpsertGaps(ctx context.Context, gaps []model.Gap) error {
	if len(gaps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert gaps")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO gaps (analysis_id, category, severity, missing, recommendation)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(analysis_id, category) DO UPDATE SET
			severity = excluded.severity, missing = excluded.missing,
			recommendation = excluded.recommendation`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare upsert gaps")
	}
	defer stmt.Close()

	for _, g := range gaps {
		if _, err := stmt.ExecContext(ctx, g.AnalysisID, g.Category, string(g.Severity), boolInt(g.Missing), g.Recommendation); err != nil {
			return eris.Wrapf(err, "sqlite: upsert gap %s", g.Category)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert gaps")
}

func (s *SQLiteStore) ListGaps(ctx context.Context, analysisID string) ([]model.Gap, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT analysis_id, category, severity, missing, recommendation
		 FROM gaps WHERE analysis_id = ? ORDER BY category`, analysisID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list gaps")
	}
	defer rows.Close()

	var out []model.Gap
	for rows.Next() {
		var g model.Gap
		var severity string
		var missing int
		if err := rows.Scan(&g.AnalysisID, &g.Category, &severity, &missing, &g.Recommendation); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan gap")
		}
		g.Severity = model.GapSeverity(severity)
		g.Missing = missing != 0
		out = append(out, g)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list gaps rows")
}

func (s *SQLiteStore) MarkStepDone(ctx context.Context, analysisID, stage, stepKey string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_steps (analysis_id, stage, step_key, completed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(analysis_id, stage, step_key) DO UPDATE SET completed_at = excluded.completed_at`,
		analysisID, stage, stepKey, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: mark step done %s/%s", stage, stepKey)
}

func (s *SQLiteStore) ListDoneSteps(ctx context.Context, analysisID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, step_key FROM stage_steps WHERE analysis_id = ?`, analysisID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list done steps")
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var stage, stepKey string
		if err := rows.Scan(&stage, &stepKey); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan done step")
		}
		done[StepDoneKey(stage, stepKey)] = true
	}
	return done, eris.Wrap(rows.Err(), "sqlite: list done steps rows")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
