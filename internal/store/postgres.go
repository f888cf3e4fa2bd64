package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/clauselens/clauselens/internal/model"
)

// Pool abstracts the pgx pool operations used by PostgresStore so tests can
// substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, maxConns, minConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	if maxConns <= 0 {
		maxConns = 10
	}
	if minConns <= 0 {
		minConns = 2
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool (used by tests with pgxmock).
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
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
	cancel_requested   BOOLEAN NOT NULL DEFAULT FALSE,
	token_usage        JSONB NOT NULL DEFAULT '{}',
	estimated_cost     DOUBLE PRECISION NOT NULL DEFAULT 0,
	was_truncated      BOOLEAN NOT NULL DEFAULT FALSE,
	error              TEXT NOT NULL DEFAULT '',
	debug              TEXT NOT NULL DEFAULT '',
	report             TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL,
	completed_at       TIMESTAMPTZ,
	processing_time_ms BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS extracted_texts (
	analysis_id TEXT PRIMARY KEY REFERENCES analysis_runs(id) ON DELETE CASCADE,
	text        TEXT NOT NULL,
	page_count  INTEGER NOT NULL DEFAULT 0,
	char_count  INTEGER NOT NULL DEFAULT 0,
	scanned     BOOLEAN NOT NULL DEFAULT FALSE,
	source      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS chunks (
	analysis_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	heading     TEXT NOT NULL DEFAULT '',
	text        TEXT NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	embedding   JSONB,
	PRIMARY KEY (analysis_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS classifications (
	analysis_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	category    TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	rationale   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (analysis_id, chunk_index, category)
);

CREATE TABLE IF NOT EXISTS clause_scores (
	analysis_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	category    TEXT NOT NULL,
	level       TEXT NOT NULL,
	score       DOUBLE PRECISION NOT NULL DEFAULT 0,
	findings    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (analysis_id, chunk_index, category)
);

CREATE TABLE IF NOT EXISTS gaps (
	analysis_id    TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
	category       TEXT NOT NULL,
	severity       TEXT NOT NULL,
	missing        BOOLEAN NOT NULL DEFAULT FALSE,
	recommendation TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (analysis_id, category)
);

CREATE TABLE IF NOT EXISTS stage_steps (
	analysis_id  TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
	stage        TEXT NOT NULL,
	step_key     TEXT NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (analysis_id, stage, step_key)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON analysis_runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_tenant_doc ON analysis_runs(tenant_id, document_id);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON analysis_runs(created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.AnalysisRun) error {
	usage, err := json.Marshal(run.TokenUsage)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal token usage")
	}

	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now

	_, err = s.pool.Exec(ctx,
		`INSERT INTO analysis_runs
		 (id, tenant_id, document_id, document_path, status, progress_stage, progress_percent,
		  progress_message, queue_position, version, cancel_requested, token_usage, estimated_cost,
		  was_truncated, error, debug, report, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		run.ID, run.TenantID, run.DocumentID, run.DocumentPath, string(run.Status),
		run.ProgressStage, run.ProgressPercent, run.ProgressMessage, run.QueuePosition,
		run.Version, run.CancelRequested, usage, run.EstimatedCost,
		run.WasTruncated, run.Error, run.Debug, run.Report, now, now,
	)
	return eris.Wrap(err, "postgres: insert run")
}

const pgRunColumns = `id, tenant_id, document_id, document_path, status, progress_stage,
	progress_percent, progress_message, queue_position, version, cancel_requested, token_usage,
	estimated_cost, was_truncated, error, debug, report, created_at, updated_at, completed_at,
	processing_time_ms`

func scanPgRun(row pgx.Row) (*model.AnalysisRun, error) {
	var run model.AnalysisRun
	var status string
	var usage []byte
	var completedAt *time.Time
	err := row.Scan(
		&run.ID, &run.TenantID, &run.DocumentID, &run.DocumentPath, &status,
		&run.ProgressStage, &run.ProgressPercent, &run.ProgressMessage, &run.QueuePosition,
		&run.Version, &run.CancelRequested, &usage, &run.EstimatedCost, &run.WasTruncated,
		&run.Error, &run.Debug, &run.Report, &run.CreatedAt, &run.UpdatedAt,
		&completedAt, &run.ProcessingTimeMs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	run.Status = model.RunStatus(status)
	run.CompletedAt = completedAt
	if err := json.Unmarshal(usage, &run.TokenUsage); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal token usage")
	}
	return &run, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, analysisID string) (*model.AnalysisRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgRunColumns+` FROM analysis_runs WHERE id = $1`, analysisID)
	return scanPgRun(row)
}

func (s *PostgresStore) FindActiveRun(ctx context.Context, tenantID, documentID string) (*model.AnalysisRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgRunColumns+` FROM analysis_runs
		 WHERE tenant_id = $1 AND document_id = $2 AND status IN ('pending', 'pending_ocr', 'processing')
		 ORDER BY created_at DESC LIMIT 1`, tenantID, documentID)
	return scanPgRun(row)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.AnalysisRun, error) {
	query := `SELECT ` + pgRunColumns + ` FROM analysis_runs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.TenantID != "" {
		query += ` AND tenant_id = ` + arg(filter.TenantID)
	}
	if filter.DocumentID != "" {
		query += ` AND document_id = ` + arg(filter.DocumentID)
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ` + arg(filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.AnalysisRun
	for rows.Next() {
		run, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs rows")
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *model.AnalysisRun) error {
	usage, err := json.Marshal(run.TokenUsage)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal token usage")
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_runs SET
			status = $1, progress_stage = $2, progress_percent = $3, progress_message = $4,
			queue_position = $5, version = version + 1, cancel_requested = $6, token_usage = $7,
			estimated_cost = $8, was_truncated = $9, error = $10, debug = $11, report = $12,
			updated_at = $13, completed_at = $14, processing_time_ms = $15
		 WHERE id = $16 AND version = $17`,
		string(run.Status), run.ProgressStage, run.ProgressPercent, run.ProgressMessage,
		run.QueuePosition, run.CancelRequested, usage,
		run.EstimatedCost, run.WasTruncated, run.Error, run.Debug, run.Report,
		now, run.CompletedAt, run.ProcessingTimeMs,
		run.ID, run.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	run.Version++
	run.UpdatedAt = now
	return nil
}

func (s *PostgresStore) RequestCancel(ctx context.Context, analysisID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_runs SET cancel_requested = TRUE, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), analysisID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: request cancel %s", analysisID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteRun(ctx context.Context, analysisID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM analysis_runs WHERE id = $1`, analysisID)
	return eris.Wrapf(err, "postgres: delete run %s", analysisID)
}

func (s *PostgresStore) UpsertExtractedText(ctx context.Context, t *model.ExtractedText) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO extracted_texts (analysis_id, text, page_count, char_count, scanned, source)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (analysis_id) DO UPDATE SET
			text = EXCLUDED.text, page_count = EXCLUDED.page_count,
			char_count = EXCLUDED.char_count, scanned = EXCLUDED.scanned, source = EXCLUDED.source`,
		t.AnalysisID, t.Text, t.PageCount, t.CharCount, t.Scanned, t.Source,
	)
	return eris.Wrap(err, "postgres: upsert extracted text")
}

func (s *PostgresStore) GetExtractedText(ctx context.Context, analysisID string) (*model.ExtractedText, error) {
	var t model.ExtractedText
	err := s.pool.QueryRow(ctx,
		`SELECT analysis_id, text, page_count, char_count, scanned, source
		 FROM extracted_texts WHERE analysis_id = $1`, analysisID,
	).Scan(&t.AnalysisID, &t.Text, &t.PageCount, &t.CharCount, &t.Scanned, &t.Source)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get extracted text")
	}
	return &t, nil
}

func (s *PostgresStore) UpsertChunks(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin upsert chunks")
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		var embedding []byte
		if c.Embedding != nil {
			embedding, err = json.Marshal(c.Embedding)
			if err != nil {
				return eris.Wrap(err, "postgres: marshal embedding")
			}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO chunks (analysis_id, chunk_index, heading, text, token_count, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (analysis_id, chunk_index) DO UPDATE SET
				heading = EXCLUDED.heading, text = EXCLUDED.text,
				token_count = EXCLUDED.token_count, embedding = EXCLUDED.embedding`,
			c.AnalysisID, c.Index, c.Heading, c.Text, c.TokenCount, embedding,
		); err != nil {
			return eris.Wrapf(err, "postgres: upsert chunk %d", c.Index)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit upsert chunks")
}

func (s *PostgresStore) ListChunks(ctx context.Context, analysisID string) ([]model.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT analysis_id, chunk_index, heading, text, token_count, embedding
		 FROM chunks WHERE analysis_id = $1 ORDER BY chunk_index`, analysisID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list chunks")
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		var embedding []byte
		if err := rows.Scan(&c.AnalysisID, &c.Index, &c.Heading, &c.Text, &c.TokenCount, &embedding); err != nil {
			return nil, eris.Wrap(err, "postgres: scan chunk")
		}
		if len(embedding) > 0 {
			if err := json.Unmarshal(embedding, &c.Embedding); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal embedding")
			}
		}
		chunks = append(chunks, c)
	}
	return chunks, eris.Wrap(rows.Err(), "postgres: list chunks rows")
}

func (s *PostgresStore) UpsertClassifications(ctx context.Context, cls []model.Classification) error {
	if len(cls) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin upsert classifications")
	}
	defer tx.Rollback(ctx)

	for _, c := range cls {
		if _, err := tx.Exec(ctx,
			`INSERT INTO classifications (analysis_id, chunk_index, category, confidence, rationale)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (analysis_id, chunk_index, category) DO UPDATE SET
				confidence = EXCLUDED.confidence, rationale = EXCLUDED.rationale`,
			c.AnalysisID, c.ChunkIndex, c.Category, c.Confidence, c.Rationale,
		); err != nil {
			return eris.Wrapf(err, "postgres: upsert classification %d/%s", c.ChunkIndex, c.Category)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit upsert classifications")
}

func (s *PostgresStore) ListClassifications(ctx context.Context, analysisID string) ([]model.Classification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT analysis_id, chunk_index, category, confidence, rationale
		 FROM classifications WHERE analysis_id = $1 ORDER BY chunk_index, category`, analysisID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list classifications")
	}
	defer rows.Close()

	var out []model.Classification
	for rows.Next() {
		var c model.Classification
		if err := rows.Scan(&c.AnalysisID, &c.ChunkIndex, &c.Category, &c.Confidence, &c.Rationale); err != nil {
			return nil, eris.Wrap(err, "postgres: scan classification")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list classifications rows")
}

func (s *PostgresStore) UpsertClauseScores(ctx context.Context, scores []model.ClauseScore) error {
	if len(scores) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin upsert clause scores")
	}
	defer tx.Rollback(ctx)

	for _, sc := range scores {
		if _, err := tx.Exec(ctx,
			`INSERT INTO clause_scores (analysis_id, chunk_index, category, level, score, findings)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (analysis_id, chunk_index, category) DO UPDATE SET
				level = EXCLUDED.level, score = EXCLUDED.score, findings = EXCLUDED.findings`,
			sc.AnalysisID, sc.ChunkIndex, sc.Category, string(sc.Level), sc.Score, sc.Findings,
		); err != nil {
			return eris.Wrapf(err, "postgres: upsert clause score %d/%s", sc.ChunkIndex, sc.Category)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit upsert clause scores")
}

func (s *PostgresStore) ListClauseScores(ctx context.Context, analysisID string) ([]model.ClauseScore, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT analysis_id, chunk_index, category, level, score, findings
		 FROM clause_scores WHERE analysis_id = $1 ORDER BY chunk_index, category`, analysisID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list clause scores")
	}
	defer rows.Close()

	var out []model.ClauseScore
	for rows.Next() {
		var sc model.ClauseScore
		var level string
		if err := rows.Scan(&sc.AnalysisID, &sc.ChunkIndex, &sc.Category, &level, &sc.Score, &sc.Findings); err != nil {
			return nil, eris.Wrap(err, "postgres: scan clause score")
		}
		sc.Level = model.RiskLevel(level)
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list clause scores rows")
}

func (s *PostgresStore) UpsertGaps(ctx context.Context, gaps []model.Gap) error {
	if len(gaps) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin upsert gaps")
	}
	defer tx.Rollback(ctx)

	for _, g := range gaps {
		if _, err := tx.Exec(ctx,
			`INSERT INTO gaps (analysis_id, category, severity, missing, recommendation)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (analysis_id, category) DO UPDATE SET
				severity = EXCLUDED.severity, missing = EXCLUDED.missing,
				recommendation = EXCLUDED.recommendation`,
			g.AnalysisID, g.Category, string(g.Severity), g.Missing, g.Recommendation,
		); err != nil {
			return eris.Wrapf(err, "postgres: upsert gap %s", g.Category)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit upsert gaps")
}

func (s *PostgresStore) ListGaps(ctx context.Context, analysisID string) ([]model.Gap, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT analysis_id, category, severity, missing, recommendation
		 FROM gaps WHERE analysis_id = $1 ORDER BY category`, analysisID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list gaps")
	}
	defer rows.Close()

	var out []model.Gap
	for rows.Next() {
		var g model.Gap
		var severity string
		if err := rows.Scan(&g.AnalysisID, &g.Category, &severity, &g.Missing, &g.Recommendation); err != nil {
			return nil, eris.Wrap(err, "postgres: scan gap")
		}
		g.Severity = model.GapSeverity(severity)
		out = append(out, g)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list gaps rows")
}

func (s *PostgresStore) MarkStepDone(ctx context.Context, analysisID, stage, stepKey string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stage_steps (analysis_id, stage, step_key, completed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (analysis_id, stage, step_key) DO UPDATE SET completed_at = EXCLUDED.completed_at`,
		analysisID, stage, stepKey, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: mark step done %s/%s", stage, stepKey)
}

func (s *PostgresStore) ListDoneSteps(ctx context.Context, analysisID string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT stage, step_key FROM stage_steps WHERE analysis_id = $1`, analysisID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list done steps")
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var stage, stepKey string
		if err := rows.Scan(&stage, &stepKey); err != nil {
			return nil, eris.Wrap(err, "postgres: scan done step")
		}
		done[StepDoneKey(stage, stepKey)] = true
	}
	return done, eris.Wrap(rows.Err(), "postgres: list done steps rows")
}

