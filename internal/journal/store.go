package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"cutline/internal/config"
)

// Kind classifies an incident.
type Kind string

const (
	KindCrash            Kind = "crash"
	KindSpawnFailure     Kind = "spawn_failure"
	KindRestartExhausted Kind = "restart_exhausted"
	KindEDLFallback      Kind = "edl_fallback"
	KindLoadTimeout      Kind = "load_timeout"
)

// Incident is one journal row.
type Incident struct {
	ID          int64
	RecordedAt  time.Time
	TransportID string
	Kind        Kind
	PID         int
	ExitCode    *int
	Signal      string
	Attempt     int
	Detail      string
	StderrTail  []string
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Kind        Kind
	TransportID string
	Since       time.Time
	Limit       int
}

// Store manages the incident journal backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenFromConfig opens the journal at the configured state directory.
func OpenFromConfig(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return Open(cfg.JournalPath())
}

// Open initializes or connects to the journal database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts an incident and returns its id. A zero RecordedAt is set to
// the current time.
func (s *Store) Record(ctx context.Context, inc Incident) (int64, error) {
	if inc.Kind == "" {
		return 0, errors.New("incident kind required")
	}
	if inc.RecordedAt.IsZero() {
		inc.RecordedAt = s.now()
	}
	tail, err := encodeTail(inc.StderrTail)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO backend_incidents (
            recorded_at, transport_id, kind, pid, exit_code, signal, attempt, detail, stderr_tail
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.RecordedAt.UTC().Format(time.RFC3339Nano),
		inc.TransportID,
		string(inc.Kind),
		nullableInt(inc.PID),
		inc.ExitCode,
		nullableString(inc.Signal),
		inc.Attempt,
		nullableString(inc.Detail),
		tail,
	)
	if err != nil {
		return 0, fmt.Errorf("insert incident: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// List returns incidents newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Incident, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.TransportID != "" {
		where = append(where, "transport_id = ?")
		args = append(args, f.TransportID)
	}
	if !f.Since.IsZero() {
		where = append(where, "recorded_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	query := `SELECT id, recorded_at, transport_id, kind, pid, exit_code, signal, attempt, detail, stderr_tail
        FROM backend_incidents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// Counts returns the number of incidents per kind.
func (s *Store) Counts(ctx context.Context) (map[Kind]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(1) FROM backend_incidents GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("incident counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[Kind]int)
	for rows.Next() {
		var kind Kind
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// Prune deletes incidents recorded before cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM backend_incidents WHERE recorded_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("prune incidents: %w", err)
	}
	return res.RowsAffected()
}

func scanIncident(scanner interface{ Scan(dest ...any) error }) (Incident, error) {
	var (
		inc         Incident
		recordedRaw string
		kind        string
		pid         sql.NullInt64
		exitCode    sql.NullInt64
		signal      sql.NullString
		detail      sql.NullString
		tail        sql.NullString
	)
	if err := scanner.Scan(&inc.ID, &recordedRaw, &inc.TransportID, &kind, &pid, &exitCode, &signal, &inc.Attempt, &detail, &tail); err != nil {
		return Incident{}, fmt.Errorf("scan incident: %w", err)
	}
	recorded, err := time.Parse(time.RFC3339Nano, recordedRaw)
	if err != nil {
		return Incident{}, fmt.Errorf("parse recorded_at %q: %w", recordedRaw, err)
	}
	inc.RecordedAt = recorded
	inc.Kind = Kind(kind)
	if pid.Valid {
		inc.PID = int(pid.Int64)
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		inc.ExitCode = &code
	}
	inc.Signal = signal.String
	inc.Detail = detail.String
	if tail.Valid && tail.String != "" {
		if err := json.Unmarshal([]byte(tail.String), &inc.StderrTail); err != nil {
			return Incident{}, fmt.Errorf("decode stderr tail: %w", err)
		}
	}
	return inc, nil
}

func encodeTail(lines []string) (any, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return nil, fmt.Errorf("encode stderr tail: %w", err)
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value int) any {
	if value == 0 {
		return nil
	}
	return value
}
