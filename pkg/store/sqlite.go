package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/akiramei/funcqc-sub009/internal/logging"
	"github.com/akiramei/funcqc-sub009/pkg/analyzer/typesafety"
	"github.com/akiramei/funcqc-sub009/pkg/models"
)

// DefaultPath is where the CLI keeps its database.
const DefaultPath = ".funcqc/funcqc.db"

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id         TEXT PRIMARY KEY,
	label      TEXT NOT NULL DEFAULT '',
	root_dir   TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS functions (
	snapshot_id           TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	id                    TEXT NOT NULL,
	semantic_id           TEXT NOT NULL DEFAULT '',
	name                  TEXT NOT NULL,
	file_path             TEXT NOT NULL,
	start_line            INTEGER NOT NULL,
	end_line              INTEGER NOT NULL,
	cyclomatic_complexity INTEGER NOT NULL DEFAULT 0,
	is_exported           INTEGER NOT NULL DEFAULT 0,
	is_method             INTEGER NOT NULL DEFAULT 0,
	is_static             INTEGER NOT NULL DEFAULT 0,
	class_name            TEXT NOT NULL DEFAULT '',
	context_path          TEXT NOT NULL DEFAULT '',
	signature             TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (snapshot_id, id)
);

CREATE TABLE IF NOT EXISTS call_edges (
	snapshot_id        TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	seq                INTEGER NOT NULL,
	caller_function_id TEXT NOT NULL,
	callee_function_id TEXT NOT NULL DEFAULT '',
	callee_name        TEXT NOT NULL DEFAULT '',
	call_type          TEXT NOT NULL,
	line_number        INTEGER NOT NULL DEFAULT 0,
	confidence         REAL,
	PRIMARY KEY (snapshot_id, seq)
);

CREATE TABLE IF NOT EXISTS type_definitions (
	snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	id          TEXT NOT NULL,
	name        TEXT NOT NULL,
	kind        TEXT NOT NULL,
	file_path   TEXT NOT NULL DEFAULT '',
	start_line  INTEGER NOT NULL DEFAULT 0,
	is_abstract INTEGER NOT NULL DEFAULT 0,
	is_exported INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (snapshot_id, id)
);

CREATE TABLE IF NOT EXISTS type_members (
	snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	id          TEXT NOT NULL,
	type_id     TEXT NOT NULL,
	name        TEXT NOT NULL,
	member_kind TEXT NOT NULL,
	function_id TEXT NOT NULL DEFAULT '',
	is_abstract INTEGER NOT NULL DEFAULT 0,
	is_static   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (snapshot_id, id)
);

CREATE TABLE IF NOT EXISTS method_overrides (
	snapshot_id      TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	id               TEXT NOT NULL,
	method_member_id TEXT NOT NULL,
	source_type_id   TEXT NOT NULL,
	target_member_id TEXT NOT NULL DEFAULT '',
	target_type_id   TEXT NOT NULL DEFAULT '',
	target_type_name TEXT NOT NULL DEFAULT '',
	override_kind    TEXT NOT NULL,
	is_compatible    INTEGER NOT NULL DEFAULT 1,
	confidence_score REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (snapshot_id, id)
);

CREATE INDEX IF NOT EXISTS idx_call_edges_caller ON call_edges(snapshot_id, caller_function_id);
CREATE INDEX IF NOT EXISTS idx_type_members_function ON type_members(snapshot_id, function_id);
CREATE INDEX IF NOT EXISTS idx_type_members_type ON type_members(snapshot_id, type_id);
CREATE INDEX IF NOT EXISTS idx_method_overrides_member ON method_overrides(snapshot_id, method_member_id);
CREATE INDEX IF NOT EXISTS idx_method_overrides_target ON method_overrides(snapshot_id, target_type_id);
`

var _ Store = (*SQLite)(nil)

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	conn   *sql.DB
	logger *slog.Logger
	path   string
}

// SQLiteOption is a functional option for configuring SQLite.
type SQLiteOption func(*SQLite)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SQLiteOption {
	return func(s *SQLite) {
		s.logger = logging.OrDiscard(logger)
	}
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLite{conn: conn, path: path, logger: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	s.logger.Debug("opened snapshot database", "path", path)
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// WithTx runs fn in a transaction, rolling back when fn fails.
func (s *SQLite) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("failed to rollback transaction", "error", err, "rollback_error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) SaveSnapshot(ctx context.Context, data *SnapshotData) error {
	if err := data.Validate(); err != nil {
		return err
	}
	data.prepare()
	snap := data.Snapshot

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshots (id, label, root_dir, created_at) VALUES (?, ?, ?, ?)`,
			snap.ID, snap.Label, snap.RootDir, snap.CreatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}

		if err := insertAll(ctx, tx, `INSERT INTO functions
			(snapshot_id, id, semantic_id, name, file_path, start_line, end_line, cyclomatic_complexity,
			 is_exported, is_method, is_static, class_name, context_path, signature)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			len(data.Functions), func(i int) []any {
				f := data.Functions[i]
				return []any{snap.ID, f.ID, f.SemanticID, f.Name, f.FilePath, f.StartLine, f.EndLine,
					f.CyclomaticComplexity, f.IsExported, f.IsMethod, f.IsStatic, f.ClassName, f.ContextPath, f.Signature}
			}); err != nil {
			return fmt.Errorf("failed to insert functions: %w", err)
		}

		if err := insertAll(ctx, tx, `INSERT INTO call_edges
			(snapshot_id, seq, caller_function_id, callee_function_id, callee_name, call_type, line_number, confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			len(data.CallEdges), func(i int) []any {
				e := data.CallEdges[i]
				return []any{snap.ID, i, e.CallerFunctionID, e.CalleeFunctionID, e.CalleeName, string(e.CallType), e.LineNumber, e.Confidence}
			}); err != nil {
			return fmt.Errorf("failed to insert call edges: %w", err)
		}

		if err := insertAll(ctx, tx, `INSERT INTO type_definitions
			(snapshot_id, id, name, kind, file_path, start_line, is_abstract, is_exported)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			len(data.TypeDefinitions), func(i int) []any {
				d := data.TypeDefinitions[i]
				return []any{snap.ID, d.ID, d.Name, string(d.Kind), d.FilePath, d.StartLine, d.IsAbstract, d.IsExported}
			}); err != nil {
			return fmt.Errorf("failed to insert type definitions: %w", err)
		}

		if err := insertAll(ctx, tx, `INSERT INTO type_members
			(snapshot_id, id, type_id, name, member_kind, function_id, is_abstract, is_static)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			len(data.TypeMembers), func(i int) []any {
				m := data.TypeMembers[i]
				return []any{snap.ID, m.ID, m.TypeID, m.Name, string(m.MemberKind), m.FunctionID, m.IsAbstract, m.IsStatic}
			}); err != nil {
			return fmt.Errorf("failed to insert type members: %w", err)
		}

		if err := insertAll(ctx, tx, `INSERT INTO method_overrides
			(snapshot_id, id, method_member_id, source_type_id, target_member_id, target_type_id, target_type_name,
			 override_kind, is_compatible, confidence_score)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			len(data.MethodOverrides), func(i int) []any {
				o := data.MethodOverrides[i]
				return []any{snap.ID, o.ID, o.MethodMemberID, o.SourceTypeID, o.TargetMemberID, o.TargetTypeID,
					o.TargetTypeName, string(o.OverrideKind), o.IsCompatible, o.ConfidenceScore}
			}); err != nil {
			return fmt.Errorf("failed to insert method overrides: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("snapshot saved",
		"snapshot", snap.ID,
		"functions", len(data.Functions),
		"edges", len(data.CallEdges),
		"types", len(data.TypeDefinitions),
	)
	return nil
}

func insertAll(ctx context.Context, tx *sql.Tx, query string, n int, row func(int) []any) error {
	if n == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := range n {
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			return err
		}
	}
	return nil
}

func scanSnapshot(row interface{ Scan(...any) error }) (models.Snapshot, error) {
	var snap models.Snapshot
	var created int64
	if err := row.Scan(&snap.ID, &snap.Label, &snap.RootDir, &created); err != nil {
		return models.Snapshot{}, err
	}
	snap.CreatedAt = time.Unix(0, created).UTC()
	return snap, nil
}

func (s *SQLite) GetSnapshot(ctx context.Context, snapshotID string) (models.Snapshot, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, label, root_dir, created_at FROM snapshots WHERE id = ?`, snapshotID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, snapshotID)
	}
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return snap, nil
}

func (s *SQLite) ListSnapshots(ctx context.Context) ([]models.Snapshot, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, label, root_dir, created_at FROM snapshots ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	list := make([]models.Snapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		list = append(list, snap)
	}
	return list, rows.Err()
}

func (s *SQLite) LatestSnapshot(ctx context.Context) (models.Snapshot, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, label, root_dir, created_at FROM snapshots ORDER BY created_at DESC, id LIMIT 1`)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to read latest snapshot: %w", err)
	}
	return snap, nil
}

func (s *SQLite) requireSnapshot(ctx context.Context, snapshotID string) error {
	_, err := s.GetSnapshot(ctx, snapshotID)
	return err
}

func (s *SQLite) GetFunctions(ctx context.Context, snapshotID string) ([]models.FunctionInfo, error) {
	if err := s.requireSnapshot(ctx, snapshotID); err != nil {
		return nil, err
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, semantic_id, name, file_path, start_line, end_line, cyclomatic_complexity,
		       is_exported, is_method, is_static, class_name, context_path, signature
		FROM functions WHERE snapshot_id = ? ORDER BY file_path, start_line, id`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query functions: %w", err)
	}
	defer rows.Close()

	var out []models.FunctionInfo
	for rows.Next() {
		var f models.FunctionInfo
		if err := rows.Scan(&f.ID, &f.SemanticID, &f.Name, &f.FilePath, &f.StartLine, &f.EndLine,
			&f.CyclomaticComplexity, &f.IsExported, &f.IsMethod, &f.IsStatic, &f.ClassName,
			&f.ContextPath, &f.Signature); err != nil {
			return nil, fmt.Errorf("failed to scan function: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLite) GetCallEdges(ctx context.Context, snapshotID string) ([]models.CallEdge, error) {
	if err := s.requireSnapshot(ctx, snapshotID); err != nil {
		return nil, err
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT caller_function_id, callee_function_id, callee_name, call_type, line_number, confidence
		FROM call_edges WHERE snapshot_id = ? ORDER BY seq`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query call edges: %w", err)
	}
	defer rows.Close()

	var out []models.CallEdge
	for rows.Next() {
		var e models.CallEdge
		var callType string
		if err := rows.Scan(&e.CallerFunctionID, &e.CalleeFunctionID, &e.CalleeName, &callType,
			&e.LineNumber, &e.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan call edge: %w", err)
		}
		e.CallType = models.CallType(callType)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) TypeStore(snapshotID string) typesafety.Storage {
	return &sqliteTypes{s: s, snapshotID: snapshotID}
}

type sqliteTypes struct {
	s          *SQLite
	snapshotID string
}

func (t *sqliteTypes) GetTypeMembers(ctx context.Context, typeID string) ([]models.TypeMember, error) {
	rows, err := t.s.conn.QueryContext(ctx, `
		SELECT id, type_id, name, member_kind, function_id, is_abstract, is_static
		FROM type_members WHERE snapshot_id = ? AND type_id = ? ORDER BY id`, t.snapshotID, typeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query type members: %w", err)
	}
	defer rows.Close()

	var out []models.TypeMember
	for rows.Next() {
		var m models.TypeMember
		var kind string
		if err := rows.Scan(&m.ID, &m.TypeID, &m.Name, &kind, &m.FunctionID, &m.IsAbstract, &m.IsStatic); err != nil {
			return nil, fmt.Errorf("failed to scan type member: %w", err)
		}
		m.MemberKind = models.MemberKind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *sqliteTypes) GetMethodOverridesByFunction(ctx context.Context, functionID string) ([]models.MethodOverride, error) {
	rows, err := t.s.conn.QueryContext(ctx, `
		SELECT o.id, o.method_member_id, o.source_type_id, o.target_member_id, o.target_type_id,
		       o.target_type_name, o.override_kind, o.is_compatible, o.confidence_score
		FROM method_overrides o
		JOIN type_members m ON m.snapshot_id = o.snapshot_id AND m.id = o.method_member_id
		WHERE o.snapshot_id = ? AND m.function_id = ?
		ORDER BY o.id`, t.snapshotID, functionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query method overrides: %w", err)
	}
	defer rows.Close()

	var out []models.MethodOverride
	for rows.Next() {
		var o models.MethodOverride
		var kind string
		if err := rows.Scan(&o.ID, &o.MethodMemberID, &o.SourceTypeID, &o.TargetMemberID, &o.TargetTypeID,
			&o.TargetTypeName, &kind, &o.IsCompatible, &o.ConfidenceScore); err != nil {
			return nil, fmt.Errorf("failed to scan method override: %w", err)
		}
		parsed, ok := models.ParseOverrideKind(kind)
		if !ok {
			return nil, fmt.Errorf("method override %s has unknown kind %q", o.ID, kind)
		}
		o.OverrideKind = parsed
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *sqliteTypes) GetImplementingClasses(ctx context.Context, interfaceID string) ([]models.TypeDefinition, error) {
	rows, err := t.s.conn.QueryContext(ctx, `
		SELECT d.id, d.snapshot_id, d.name, d.kind, d.file_path, d.start_line, d.is_abstract, d.is_exported
		FROM type_definitions d
		WHERE d.snapshot_id = ? AND d.kind = ? AND d.id IN (
			SELECT source_type_id FROM method_overrides
			WHERE snapshot_id = ? AND target_type_id = ? AND override_kind = ?)
		ORDER BY d.id`,
		t.snapshotID, string(models.TypeKindClass), t.snapshotID, interfaceID, string(models.OverrideKindImplement))
	if err != nil {
		return nil, fmt.Errorf("failed to query implementing classes: %w", err)
	}
	defer rows.Close()

	var out []models.TypeDefinition
	for rows.Next() {
		var d models.TypeDefinition
		var kind string
		if err := rows.Scan(&d.ID, &d.SnapshotID, &d.Name, &kind, &d.FilePath, &d.StartLine, &d.IsAbstract, &d.IsExported); err != nil {
			return nil, fmt.Errorf("failed to scan type definition: %w", err)
		}
		d.Kind = models.TypeKind(kind)
		out = append(out, d)
	}
	return out, rows.Err()
}
