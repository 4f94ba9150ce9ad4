// Package baseline persists accepted findings so existing debt does not
// drown out new violations.
package baseline

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"convlint/internal/logging"
	"convlint/internal/rules"
)

// Store holds accepted finding fingerprints in SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// Entry is one accepted fingerprint.
type Entry struct {
	Fingerprint string
	RuleID      string
	File        string
	Symbol      string
	FirstSeen   time.Time
	LastSeen    time.Time
}

// Run records one baseline update.
type Run struct {
	ID        string
	Timestamp time.Time
	Accepted  int
	Pruned    int
}

// Open initializes the baseline database at path.
func Open(path string) (*Store, error) {
	logging.Baseline("opening baseline store at %s", path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("baseline: create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("baseline: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.BaselineDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.BaselineDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.BaselineDebug("failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("baseline: initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accepted_findings (
		fingerprint TEXT PRIMARY KEY,
		rule_id     TEXT NOT NULL,
		file        TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		first_seen  INTEGER NOT NULL,
		last_seen   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_accepted_rule ON accepted_findings(rule_id);
	CREATE INDEX IF NOT EXISTS idx_accepted_file ON accepted_findings(file);

	CREATE TABLE IF NOT EXISTS runs (
		id        TEXT PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		accepted  INTEGER NOT NULL,
		pruned    INTEGER NOT NULL
	);`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Contains reports whether the fingerprint is baselined.
func (s *Store) Contains(fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM accepted_findings WHERE fingerprint = ?", fingerprint).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Fingerprints returns every baselined fingerprint.
func (s *Store) Fingerprints() (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT fingerprint FROM accepted_findings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		out[fp] = true
	}
	return out, rows.Err()
}

// Filter removes findings already accepted in the baseline.
func (s *Store) Filter(findings []rules.Finding) ([]rules.Finding, error) {
	accepted, err := s.Fingerprints()
	if err != nil {
		return nil, err
	}
	if len(accepted) == 0 {
		return findings, nil
	}

	kept := findings[:0]
	suppressed := 0
	for _, f := range findings {
		if accepted[f.Fingerprint()] {
			suppressed++
			continue
		}
		kept = append(kept, f)
	}
	if suppressed > 0 {
		logging.Baseline("suppressed %d baselined findings", suppressed)
	}
	return kept, nil
}

// Update upserts the current findings and prunes fingerprints that no longer
// occur, so the baseline tracks the codebase instead of accumulating ghosts.
func (s *Store) Update(findings []rules.Finding) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	current := make(map[string]bool, len(findings))

	upsert, err := tx.Prepare(`
		INSERT INTO accepted_findings (fingerprint, rule_id, file, symbol, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET last_seen = excluded.last_seen`)
	if err != nil {
		return nil, err
	}
	defer upsert.Close()

	for _, f := range findings {
		fp := f.Fingerprint()
		current[fp] = true
		if _, err := upsert.Exec(fp, f.RuleID, f.File, f.Symbol, now, now); err != nil {
			return nil, err
		}
	}

	pruned, err := pruneStale(tx, current)
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:        uuid.NewString(),
		Timestamp: time.Unix(now, 0),
		Accepted:  len(findings),
		Pruned:    pruned,
	}
	if _, err := tx.Exec(
		"INSERT INTO runs (id, timestamp, accepted, pruned) VALUES (?, ?, ?, ?)",
		run.ID, now, run.Accepted, run.Pruned); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	logging.Baseline("baseline updated: %d accepted, %d pruned (run %s)", run.Accepted, run.Pruned, run.ID)
	return run, nil
}

func pruneStale(tx *sql.Tx, current map[string]bool) (int, error) {
	rows, err := tx.Query("SELECT fingerprint FROM accepted_findings")
	if err != nil {
		return 0, err
	}
	var stale []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			rows.Close()
			return 0, err
		}
		if !current[fp] {
			stale = append(stale, fp)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, fp := range stale {
		if _, err := tx.Exec("DELETE FROM accepted_findings WHERE fingerprint = ?", fp); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// Entries returns the accepted findings ordered by rule then file.
func (s *Store) Entries() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT fingerprint, rule_id, file, symbol, first_seen, last_seen
		FROM accepted_findings ORDER BY rule_id, file, symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var first, last int64
		if err := rows.Scan(&e.Fingerprint, &e.RuleID, &e.File, &e.Symbol, &first, &last); err != nil {
			return nil, err
		}
		e.FirstSeen = time.Unix(first, 0)
		e.LastSeen = time.Unix(last, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Runs returns the update history, newest first.
func (s *Store) Runs() ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT id, timestamp, accepted, pruned FROM runs ORDER BY timestamp DESC, rowid DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var ts int64
		if err := rows.Scan(&r.ID, &ts, &r.Accepted, &r.Pruned); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(ts, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}
