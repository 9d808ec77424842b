package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	_ "github.com/lib/pq"

	"github.com/robin-sci/health-assistant/pkg/models"
)

// PostgresConfig holds connection pool settings for the Postgres store.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
	// JobVisibility is how long a claimed ingest job stays invisible before
	// it can be redelivered.
	JobVisibility time.Duration
}

// DefaultPostgresConfig returns default pool settings.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
		JobVisibility:   2 * time.Minute,
	}
}

// PostgresStore implements every repository interface on one pooled
// connection.
type PostgresStore struct {
	db         *sql.DB
	visibility time.Duration

	stmtGetSession    *sql.Stmt
	stmtAppendMessage *sql.Stmt
	stmtTouchSession  *sql.Stmt
	stmtListMessages  *sql.Stmt
}

// NewPostgresStore opens the database at dsn, verifies connectivity, ensures
// the schema, and returns the store bundle.
func NewPostgresStore(dsn string, config *PostgresConfig) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	p := &PostgresStore{db: db, visibility: config.JobVisibility}
	if err := p.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return &Store{
		Sessions:  p,
		Documents: p,
		Labs:      p,
		Symptoms:  p,
		Wearables: p,
		Streams:   p,
		Queue:     p,
		closer:    p.Close,
	}, nil
}

// DB exposes the underlying connection for related tooling.
func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) prepareStatements() error {
	var err error

	p.stmtGetSession, err = p.db.Prepare(`
		SELECT id, user_id, title, created_at, last_activity_at
		FROM chat_sessions WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	p.stmtAppendMessage, err = p.db.Prepare(`
		INSERT INTO chat_messages (id, session_id, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	p.stmtTouchSession, err = p.db.Prepare(`
		UPDATE chat_sessions
		SET last_activity_at = GREATEST(last_activity_at, $2)
		WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	p.stmtListMessages, err = p.db.Prepare(`
		SELECT id, session_id, role, content, metadata, seq, created_at
		FROM chat_messages WHERE session_id = $1
		ORDER BY created_at ASC, seq ASC
	`)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	return nil
}

// Close closes prepared statements and the pool.
func (p *PostgresStore) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{p.stmtGetSession, p.stmtAppendMessage, p.stmtTouchSession, p.stmtListMessages} {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := p.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing store: %v", errs)
	}
	return nil
}

// Sessions

func (p *PostgresStore) CreateSession(ctx context.Context, session *models.ChatSession) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, user_id, title, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5)
	`, session.ID, session.UserID, session.Title, session.CreatedAt, session.LastActivityAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	session := &models.ChatSession{}
	err := p.stmtGetSession.QueryRowContext(ctx, id).Scan(
		&session.ID, &session.UserID, &session.Title,
		&session.CreatedAt, &session.LastActivityAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (p *PostgresStore) ListSessions(ctx context.Context, userID string, limit int) ([]*models.ChatSession, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, title, created_at, last_activity_at
		FROM chat_sessions WHERE user_id = $1
		ORDER BY last_activity_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.ChatSession
	for rows.Next() {
		session := &models.ChatSession{}
		if err := rows.Scan(&session.ID, &session.UserID, &session.Title, &session.CreatedAt, &session.LastActivityAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (p *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	// Messages go with the session via ON DELETE CASCADE.
	result, err := p.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) SetTitle(ctx context.Context, id, title string) error {
	result, err := p.db.ExecContext(ctx, `UPDATE chat_sessions SET title = $2 WHERE id = $1`, id, title)
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) AppendMessage(ctx context.Context, sessionID string, msg *models.ChatMessage) error {
	var metadata []byte
	if msg.Metadata != nil {
		var err error
		metadata, err = json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	err = tx.StmtContext(ctx, p.stmtAppendMessage).QueryRowContext(ctx,
		msg.ID, sessionID, string(msg.Role), msg.Content, metadata, msg.CreatedAt,
	).Scan(&msg.Seq)
	if isForeignKeyViolation(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	result, err := tx.StmtContext(ctx, p.stmtTouchSession).ExecContext(ctx, sessionID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("advance last_activity_at: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance last_activity_at: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

func (p *PostgresStore) Messages(ctx context.Context, sessionID string, limit int) ([]*models.ChatMessage, error) {
	if _, err := p.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := p.stmtListMessages.QueryContext(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.ChatMessage
	for rows.Next() {
		msg := &models.ChatMessage{}
		var metadata []byte
		var role string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &metadata, &msg.Seq, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		if len(metadata) > 0 {
			msg.Metadata = &models.MessageMetadata{}
			if err := json.Unmarshal(metadata, msg.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Documents

func (p *PostgresStore) CreateDocument(ctx context.Context, doc *models.MedicalDocument) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO medical_documents
			(id, user_id, title, document_type, file_path, file_type, raw_text, parsed_data, document_date, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11)
	`, doc.ID, doc.UserID, doc.Title, string(doc.DocumentType), doc.FilePath, doc.FileType,
		doc.RawText, []byte(doc.ParsedData), doc.DocumentDate, string(doc.Status), doc.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetDocument(ctx context.Context, id string) (*models.MedicalDocument, error) {
	return p.scanDocument(p.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, document_type, file_path, file_type,
			COALESCE(raw_text, ''), parsed_data, document_date, status, created_at
		FROM medical_documents WHERE id = $1
	`, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *PostgresStore) scanDocument(row rowScanner) (*models.MedicalDocument, error) {
	doc := &models.MedicalDocument{}
	var docType, status string
	var parsed []byte
	var docDate sql.NullTime
	err := row.Scan(&doc.ID, &doc.UserID, &doc.Title, &docType, &doc.FilePath, &doc.FileType,
		&doc.RawText, &parsed, &docDate, &status, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	doc.DocumentType = models.DocumentType(docType)
	doc.Status = models.DocumentStatus(status)
	doc.ParsedData = parsed
	if docDate.Valid {
		doc.DocumentDate = &docDate.Time
	}
	return doc, nil
}

func (p *PostgresStore) ListDocuments(ctx context.Context, userID string, limit int) ([]*models.MedicalDocument, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, title, document_type, file_path, file_type,
			COALESCE(raw_text, ''), parsed_data, document_date, status, created_at
		FROM medical_documents WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []*models.MedicalDocument
	for rows.Next() {
		doc, err := p.scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (p *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	// lab_results.document_id is ON DELETE SET NULL; derived rows survive.
	result, err := p.db.ExecContext(ctx, `DELETE FROM medical_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) SetStatus(ctx context.Context, id string, status models.DocumentStatus, update DocumentUpdate) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM medical_documents WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock document: %w", err)
	}
	if !models.DocumentStatus(current).CanTransitionTo(status) {
		return ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE medical_documents
		SET status = $2,
			raw_text = COALESCE($3, raw_text),
			parsed_data = COALESCE($4, parsed_data)
		WHERE id = $1
	`, id, string(status), update.RawText, []byte(update.ParsedData)); err != nil {
		return fmt.Errorf("set status: %w", err)
	}

	return tx.Commit()
}

// Labs

func (p *PostgresStore) InsertLab(ctx context.Context, lab *models.LabResult) (bool, error) {
	if lab.CreatedAt.IsZero() {
		lab.CreatedAt = time.Now().UTC()
	}
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO lab_results
			(id, user_id, document_id, test_name, test_code, value, unit,
			 reference_min, reference_max, status, recorded_at, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7, $8, $9, NULLIF($10, ''), $11, $12)
		ON CONFLICT DO NOTHING
	`, lab.ID, lab.UserID, lab.DocumentID, lab.TestName, lab.TestCode, lab.Value, lab.Unit,
		lab.ReferenceMin, lab.ReferenceMax, lab.Status, lab.RecordedAt, lab.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert lab: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert lab: %w", err)
	}
	return rows > 0, nil
}

func (p *PostgresStore) ListLabs(ctx context.Context, userID string, q LabQuery) ([]*models.LabResult, error) {
	query := `
		SELECT id, user_id, COALESCE(document_id, ''), test_name, COALESCE(test_code, ''),
			value, unit, reference_min, reference_max, COALESCE(status, ''), recorded_at, created_at
		FROM lab_results
		WHERE user_id = $1
			AND ($2::timestamptz IS NULL OR recorded_at >= $2)
			AND ($3 = '' OR test_name ILIKE '%' || $3 || '%')
		ORDER BY recorded_at `
	if q.Ascending {
		query += "ASC"
	} else {
		query += "DESC"
	}
	query += ", test_name ASC LIMIT $4"

	limit := q.Limit
	if limit <= 0 {
		limit = 1000
	}
	var since any
	if !q.Since.IsZero() {
		since = q.Since
	}
	rows, err := p.db.QueryContext(ctx, query, userID, since, q.TestName, limit)
	if err != nil {
		return nil, fmt.Errorf("list labs: %w", err)
	}
	defer rows.Close()

	var out []*models.LabResult
	for rows.Next() {
		lab := &models.LabResult{}
		if err := rows.Scan(&lab.ID, &lab.UserID, &lab.DocumentID, &lab.TestName, &lab.TestCode,
			&lab.Value, &lab.Unit, &lab.ReferenceMin, &lab.ReferenceMax, &lab.Status,
			&lab.RecordedAt, &lab.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lab: %w", err)
		}
		out = append(out, lab)
	}
	return out, rows.Err()
}

func (p *PostgresStore) TestNames(ctx context.Context, userID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT test_name FROM lab_results WHERE user_id = $1 ORDER BY test_name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("test names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Symptoms

func (p *PostgresStore) CreateSymptom(ctx context.Context, entry *models.SymptomEntry) error {
	var triggers []byte
	if len(entry.Triggers) > 0 {
		var err error
		triggers, err = json.Marshal(entry.Triggers)
		if err != nil {
			return fmt.Errorf("marshal triggers: %w", err)
		}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO symptom_entries
			(id, user_id, symptom_type, severity, notes, triggers, duration_minutes, recorded_at, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)
	`, entry.ID, entry.UserID, entry.SymptomType, entry.Severity, entry.Notes,
		triggers, entry.DurationMinutes, entry.RecordedAt, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("create symptom: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListSymptoms(ctx context.Context, userID string, q SymptomQuery) ([]*models.SymptomEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 1000
	}
	var since any
	if !q.Since.IsZero() {
		since = q.Since
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, symptom_type, severity, COALESCE(notes, ''), triggers,
			duration_minutes, recorded_at, created_at
		FROM symptom_entries
		WHERE user_id = $1
			AND ($2::timestamptz IS NULL OR recorded_at >= $2)
			AND ($3 = '' OR symptom_type = $3)
		ORDER BY recorded_at DESC
		LIMIT $4
	`, userID, since, q.SymptomType, limit)
	if err != nil {
		return nil, fmt.Errorf("list symptoms: %w", err)
	}
	defer rows.Close()

	var out []*models.SymptomEntry
	for rows.Next() {
		entry := &models.SymptomEntry{}
		var triggers []byte
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.SymptomType, &entry.Severity,
			&entry.Notes, &triggers, &entry.DurationMinutes, &entry.RecordedAt, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan symptom: %w", err)
		}
		if len(triggers) > 0 {
			if err := json.Unmarshal(triggers, &entry.Triggers); err != nil {
				return nil, fmt.Errorf("unmarshal triggers: %w", err)
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SymptomTypes(ctx context.Context, userID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT symptom_type FROM symptom_entries WHERE user_id = $1 ORDER BY symptom_type
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("symptom types: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// Wearables

func (p *PostgresStore) SeriesType(ctx context.Context, code string) (*models.SeriesType, error) {
	st := &models.SeriesType{}
	var agg string
	err := p.db.QueryRowContext(ctx, `
		SELECT code, unit, aggregation FROM series_types WHERE code = $1
	`, code).Scan(&st.Code, &st.Unit, &agg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("series type: %w", err)
	}
	st.Aggregation = models.SeriesAggregation(agg)
	return st, nil
}

func (p *PostgresStore) SeriesTypes(ctx context.Context) ([]models.SeriesType, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT code, unit, aggregation FROM series_types ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("series types: %w", err)
	}
	defer rows.Close()

	var out []models.SeriesType
	for rows.Next() {
		var st models.SeriesType
		var agg string
		if err := rows.Scan(&st.Code, &st.Unit, &agg); err != nil {
			return nil, err
		}
		st.Aggregation = models.SeriesAggregation(agg)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (p *PostgresStore) DailyAggregates(ctx context.Context, userID, code string, since time.Time, loc *time.Location) ([]models.DailyAggregate, error) {
	tz := "UTC"
	if loc != nil {
		tz = loc.String()
	}
	var sinceArg any
	if !since.IsZero() {
		sinceArg = since
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT to_char(recorded_at AT TIME ZONE $4, 'YYYY-MM-DD') AS day,
			avg(value), min(value), max(value), sum(value), count(*)
		FROM wearable_points
		WHERE user_id = $1 AND series_code = $2
			AND ($3::timestamptz IS NULL OR recorded_at >= $3)
		GROUP BY day
		ORDER BY day ASC
	`, userID, code, sinceArg, tz)
	if err != nil {
		return nil, fmt.Errorf("daily aggregates: %w", err)
	}
	defer rows.Close()

	var out []models.DailyAggregate
	for rows.Next() {
		var agg models.DailyAggregate
		if err := rows.Scan(&agg.Day, &agg.Mean, &agg.Min, &agg.Max, &agg.Sum, &agg.Count); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}

// Stream guard

func (p *PostgresStore) Acquire(ctx context.Context, sessionID string) error {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO active_streams (session_id) VALUES ($1)
		ON CONFLICT DO NOTHING
	`, sessionID)
	if err != nil {
		return fmt.Errorf("acquire stream: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("acquire stream: %w", err)
	}
	if rows == 0 {
		return ErrStreamActive
	}
	return nil
}

func (p *PostgresStore) Release(ctx context.Context, sessionID string) {
	// Best effort; a leaked row only blocks this session and is visible in
	// the active_streams table for operators.
	_, _ = p.db.ExecContext(ctx, `DELETE FROM active_streams WHERE session_id = $1`, sessionID)
}

// Job queue

func (p *PostgresStore) Enqueue(ctx context.Context, job *IngestJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ingest_jobs (id, document_id, user_id, attempts, enqueued_at)
		VALUES ($1, $2, $3, 0, $4)
	`, job.ID, job.DocumentID, job.UserID, job.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

func (p *PostgresStore) Claim(ctx context.Context) (*IngestJob, error) {
	job := &IngestJob{}
	err := p.db.QueryRowContext(ctx, `
		UPDATE ingest_jobs
		SET claimed_at = now(), attempts = attempts + 1
		WHERE id = (
			SELECT id FROM ingest_jobs
			WHERE done_at IS NULL
				AND (claimed_at IS NULL OR claimed_at < now() - ($1 * interval '1 second'))
			ORDER BY enqueued_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, document_id, user_id, attempts, enqueued_at
	`, p.visibility.Seconds()).Scan(&job.ID, &job.DocumentID, &job.UserID, &job.Attempts, &job.EnqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (p *PostgresStore) Complete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE ingest_jobs SET done_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

func (p *PostgresStore) Fail(ctx context.Context, id, reason string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE ingest_jobs SET done_at = now(), error = $2 WHERE id = $1
	`, id, reason)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
