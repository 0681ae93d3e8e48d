package store

import (
	"dailybrief/internal/core"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite-backed durable table store for items, summaries,
// user profiles, and digest runs.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if necessary) the database under dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "dailybrief.db")
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize creates the necessary tables and indexes.
func (s *Store) initialize() error {
	itemsTable := `
	CREATE TABLE IF NOT EXISTS items (
		fingerprint TEXT PRIMARY KEY,
		source_type TEXT NOT NULL,
		source_name TEXT NOT NULL,
		title TEXT NOT NULL,
		url TEXT NOT NULL,
		published_at DATETIME,
		raw_text TEXT,
		discovered_at DATETIME NOT NULL
	);`

	summariesTable := `
	CREATE TABLE IF NOT EXISTS summaries (
		item_fingerprint TEXT NOT NULL,
		model_version TEXT NOT NULL,
		summary_text TEXT NOT NULL,
		generated_at DATETIME NOT NULL,
		PRIMARY KEY (item_fingerprint, model_version)
	);`

	profilesTable := `
	CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		interests TEXT NOT NULL,
		topic_keywords TEXT NOT NULL,
		sources TEXT NOT NULL,
		schedule_time TEXT NOT NULL,
		last_run_watermark DATETIME,
		digest_max_items INTEGER NOT NULL
	);`

	runsTable := `
	CREATE TABLE IF NOT EXISTS digest_runs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		run_date TEXT NOT NULL,
		status TEXT NOT NULL,
		selected TEXT NOT NULL DEFAULT '[]',
		watermark DATETIME,
		failure_reason TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		completed_at DATETIME
	);`

	// The at-most-one-non-FAILED-run-per-day invariant lives in the schema
	// so concurrent orchestrators need no external lock.
	runsIndex := `
	CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_once_per_day
	ON digest_runs (user_id, run_date) WHERE status != 'FAILED';`

	stmts := []string{itemsTable, summariesTable, profilesTable, runsTable, runsIndex}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertItem stores an item keyed by fingerprint. Re-inserting an already
// seen fingerprint is a no-op; the returned bool reports whether a new row
// was written.
func (s *Store) InsertItem(item core.Item) (bool, error) {
	query := `
	INSERT OR IGNORE INTO items
	(fingerprint, source_type, source_name, title, url, published_at, raw_text, discovered_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.Exec(query,
		item.Fingerprint,
		string(item.SourceType),
		item.SourceName,
		item.Title,
		item.URL,
		item.PublishedAt.UTC(),
		item.RawText,
		item.DiscoveredAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert item: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return rows > 0, nil
}

// GetItem returns the item with the given fingerprint, or nil when absent.
func (s *Store) GetItem(fingerprint string) (*core.Item, error) {
	row := s.db.QueryRow(`
	SELECT fingerprint, source_type, source_name, title, url, published_at, raw_text, discovered_at
	FROM items WHERE fingerprint = ?`, fingerprint)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}
	return item, nil
}

// ItemsDiscoveredAfter returns every item with discovered_at strictly after
// the watermark, ordered by discovered_at then fingerprint.
func (s *Store) ItemsDiscoveredAfter(watermark time.Time) ([]core.Item, error) {
	rows, err := s.db.Query(`
	SELECT fingerprint, source_type, source_name, title, url, published_at, raw_text, discovered_at
	FROM items WHERE discovered_at > ?
	ORDER BY discovered_at ASC, fingerprint ASC`, watermark.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []core.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

// CountItems returns the number of stored items.
func (s *Store) CountItems() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*core.Item, error) {
	var item core.Item
	var sourceType string
	err := row.Scan(
		&item.Fingerprint,
		&sourceType,
		&item.SourceName,
		&item.Title,
		&item.URL,
		&item.PublishedAt,
		&item.RawText,
		&item.DiscoveredAt,
	)
	if err != nil {
		return nil, err
	}
	item.SourceType = core.SourceType(sourceType)
	return &item, nil
}

// InsertSummary caches a summary keyed by (fingerprint, model version).
// The insert is idempotent: a concurrent second writer is a no-op and both
// readers observe the same row.
func (s *Store) InsertSummary(summary core.Summary) error {
	query := `
	INSERT OR IGNORE INTO summaries
	(item_fingerprint, model_version, summary_text, generated_at)
	VALUES (?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		summary.ItemFingerprint,
		summary.ModelVersion,
		summary.Text,
		summary.GeneratedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert summary: %w", err)
	}
	return nil
}

// GetSummary returns the cached summary for a fingerprint and model
// version, or nil on a cache miss.
func (s *Store) GetSummary(fingerprint, modelVersion string) (*core.Summary, error) {
	row := s.db.QueryRow(`
	SELECT item_fingerprint, model_version, summary_text, generated_at
	FROM summaries WHERE item_fingerprint = ? AND model_version = ?`,
		fingerprint, modelVersion)

	var summary core.Summary
	err := row.Scan(&summary.ItemFingerprint, &summary.ModelVersion, &summary.Text, &summary.GeneratedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan summary: %w", err)
	}
	return &summary, nil
}

// SaveProfile upserts a user profile.
func (s *Store) SaveProfile(profile core.UserProfile) error {
	interests, err := json.Marshal(profile.Interests)
	if err != nil {
		return fmt.Errorf("failed to marshal interests: %w", err)
	}
	keywords, err := json.Marshal(profile.TopicKeywords)
	if err != nil {
		return fmt.Errorf("failed to marshal topic keywords: %w", err)
	}
	sources, err := json.Marshal(profile.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}

	query := `
	INSERT INTO profiles
	(user_id, email, interests, topic_keywords, sources, schedule_time, last_run_watermark, digest_max_items)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_id) DO UPDATE SET
		email = excluded.email,
		interests = excluded.interests,
		topic_keywords = excluded.topic_keywords,
		sources = excluded.sources,
		schedule_time = excluded.schedule_time,
		digest_max_items = excluded.digest_max_items`

	_, err = s.db.Exec(query,
		profile.UserID,
		profile.Email,
		string(interests),
		string(keywords),
		string(sources),
		profile.ScheduleTime,
		profile.LastRunWatermark.UTC(),
		profile.DigestMaxItems,
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// GetProfile returns a user profile, or nil when the user is unknown.
func (s *Store) GetProfile(userID string) (*core.UserProfile, error) {
	row := s.db.QueryRow(`
	SELECT user_id, email, interests, topic_keywords, sources, schedule_time, last_run_watermark, digest_max_items
	FROM profiles WHERE user_id = ?`, userID)

	profile, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}
	return profile, nil
}

// ListProfiles returns every user profile ordered by user id.
func (s *Store) ListProfiles() ([]core.UserProfile, error) {
	rows, err := s.db.Query(`
	SELECT user_id, email, interests, topic_keywords, sources, schedule_time, last_run_watermark, digest_max_items
	FROM profiles ORDER BY user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []core.UserProfile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, *profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return profiles, nil
}

func scanProfile(row rowScanner) (*core.UserProfile, error) {
	var profile core.UserProfile
	var interests, keywords, sources string
	var watermark sql.NullTime

	err := row.Scan(
		&profile.UserID,
		&profile.Email,
		&interests,
		&keywords,
		&sources,
		&profile.ScheduleTime,
		&watermark,
		&profile.DigestMaxItems,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(interests), &profile.Interests); err != nil {
		return nil, fmt.Errorf("failed to unmarshal interests: %w", err)
	}
	if err := json.Unmarshal([]byte(keywords), &profile.TopicKeywords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal topic keywords: %w", err)
	}
	if err := json.Unmarshal([]byte(sources), &profile.Sources); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
	}
	if watermark.Valid {
		profile.LastRunWatermark = watermark.Time
	}
	return &profile, nil
}

// AdvanceWatermark moves a user's last_run_watermark forward. Attempts to
// move it backwards are no-ops, keeping the watermark monotonic.
func (s *Store) AdvanceWatermark(userID string, watermark time.Time) error {
	query := `
	UPDATE profiles SET last_run_watermark = ?
	WHERE user_id = ? AND (last_run_watermark IS NULL OR last_run_watermark < ?)`

	_, err := s.db.Exec(query, watermark.UTC(), userID, watermark.UTC())
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	return nil
}

// CreateRun inserts a PENDING run for (userID, runDate). When a non-FAILED
// run already exists for that day the insert is rejected by the unique
// index and the existing run is returned with created=false. This is the
// at-most-once guard for concurrent scheduler ticks.
func (s *Store) CreateRun(userID, runDate string, startedAt time.Time) (*core.DigestRun, bool, error) {
	run := core.DigestRun{
		ID:        uuid.NewString(),
		UserID:    userID,
		RunDate:   runDate,
		Status:    core.StatusPending,
		StartedAt: startedAt.UTC(),
	}

	res, err := s.db.Exec(`
	INSERT OR IGNORE INTO digest_runs (id, user_id, run_date, status, started_at)
	VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.UserID, run.RunDate, string(run.Status), run.StartedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create run: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read insert result: %w", err)
	}
	if rows > 0 {
		return &run, true, nil
	}

	existing, err := s.GetActiveRun(userID, runDate)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("run insert rejected but no active run found for %s on %s", userID, runDate)
	}
	return existing, false, nil
}

// GetActiveRun returns the single non-FAILED run for (userID, runDate), or
// nil when only failed runs (or none) exist.
func (s *Store) GetActiveRun(userID, runDate string) (*core.DigestRun, error) {
	row := s.db.QueryRow(runSelect+`
	WHERE user_id = ? AND run_date = ? AND status != 'FAILED'`, userID, runDate)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	return run, nil
}

// GetLatestRun returns the most recently started run for (userID, runDate)
// regardless of status, or nil when none exists.
func (s *Store) GetLatestRun(userID, runDate string) (*core.DigestRun, error) {
	row := s.db.QueryRow(runSelect+`
	WHERE user_id = ? AND run_date = ?
	ORDER BY started_at DESC LIMIT 1`, userID, runDate)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	return run, nil
}

const runSelect = `
	SELECT id, user_id, run_date, status, selected, watermark, failure_reason, started_at, completed_at
	FROM digest_runs`

func scanRun(row rowScanner) (*core.DigestRun, error) {
	var run core.DigestRun
	var status, selected string
	var watermark, completed sql.NullTime

	err := row.Scan(
		&run.ID,
		&run.UserID,
		&run.RunDate,
		&status,
		&selected,
		&watermark,
		&run.FailureReason,
		&run.StartedAt,
		&completed,
	)
	if err != nil {
		return nil, err
	}

	run.Status = core.RunStatus(status)
	if err := json.Unmarshal([]byte(selected), &run.Selected); err != nil {
		return nil, fmt.Errorf("failed to unmarshal selection: %w", err)
	}
	if watermark.Valid {
		run.Watermark = watermark.Time
	}
	if completed.Valid {
		run.CompletedAt = completed.Time
	}
	return &run, nil
}

// TransitionRun advances a run to the next stage. The transition is
// validated against the stage ordering; moving a terminal or out-of-order
// run is an error.
func (s *Store) TransitionRun(runID string, to core.RunStatus) error {
	var current string
	err := s.db.QueryRow(`SELECT status FROM digest_runs WHERE id = ?`, runID).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return fmt.Errorf("failed to read run status: %w", err)
	}

	if !core.CanTransition(core.RunStatus(current), to) {
		return fmt.Errorf("invalid transition %s -> %s for run %s", current, to, runID)
	}

	if to.Terminal() {
		_, err = s.db.Exec(`UPDATE digest_runs SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
			string(to), time.Now().UTC(), runID, current)
	} else {
		_, err = s.db.Exec(`UPDATE digest_runs SET status = ? WHERE id = ? AND status = ?`,
			string(to), runID, current)
	}
	if err != nil {
		return fmt.Errorf("failed to transition run: %w", err)
	}
	return nil
}

// SetRunSelection records the ranker's ordered fingerprint selection.
func (s *Store) SetRunSelection(runID string, fingerprints []string) error {
	if fingerprints == nil {
		fingerprints = []string{}
	}
	selected, err := json.Marshal(fingerprints)
	if err != nil {
		return fmt.Errorf("failed to marshal selection: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE digest_runs SET selected = ? WHERE id = ?`, string(selected), runID); err != nil {
		return fmt.Errorf("failed to store selection: %w", err)
	}
	return nil
}

// SetRunWatermark records the collection watermark snapshot taken during
// COLLECTING; the profile watermark advances to it when the run is SENT.
func (s *Store) SetRunWatermark(runID string, watermark time.Time) error {
	if _, err := s.db.Exec(`UPDATE digest_runs SET watermark = ? WHERE id = ?`, watermark.UTC(), runID); err != nil {
		return fmt.Errorf("failed to store run watermark: %w", err)
	}
	return nil
}

// FailRun marks a run FAILED with the given reason.
func (s *Store) FailRun(runID, reason string) error {
	var current string
	err := s.db.QueryRow(`SELECT status FROM digest_runs WHERE id = ?`, runID).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return fmt.Errorf("failed to read run status: %w", err)
	}
	if !core.CanTransition(core.RunStatus(current), core.StatusFailed) {
		return fmt.Errorf("invalid transition %s -> FAILED for run %s", current, runID)
	}

	_, err = s.db.Exec(`
	UPDATE digest_runs SET status = 'FAILED', failure_reason = ?, completed_at = ?
	WHERE id = ? AND status = ?`, reason, time.Now().UTC(), runID, current)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return nil
}

// ResumableRuns returns non-terminal runs, oldest first. The orchestrator
// picks these up after a restart and resumes from the recorded stage.
func (s *Store) ResumableRuns() ([]core.DigestRun, error) {
	rows, err := s.db.Query(runSelect + `
	WHERE status NOT IN ('SENT', 'FAILED')
	ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query resumable runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// FailedRunDates returns (user_id, run_date) pairs that have a FAILED run
// on or after fromDate and no non-FAILED run for the same day. These are
// the candidates for the recovery sweep.
func (s *Store) FailedRunDates(fromDate string) ([]core.DigestRun, error) {
	rows, err := s.db.Query(runSelect+`
	AS f WHERE f.status = 'FAILED' AND f.run_date >= ?
	AND NOT EXISTS (
		SELECT 1 FROM digest_runs a
		WHERE a.user_id = f.user_id AND a.run_date = f.run_date AND a.status != 'FAILED'
	)
	GROUP BY f.user_id, f.run_date
	ORDER BY f.run_date ASC, f.user_id ASC`, fromDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// SentFingerprints returns every fingerprint selected by the user's SENT
// runs on or after fromDate. The ranker uses this set for cross-run dedup.
func (s *Store) SentFingerprints(userID, fromDate string) (map[string]bool, error) {
	rows, err := s.db.Query(`
	SELECT selected FROM digest_runs
	WHERE user_id = ? AND status = 'SENT' AND run_date >= ?`, userID, fromDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query sent runs: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var selected string
		if err := rows.Scan(&selected); err != nil {
			return nil, fmt.Errorf("failed to scan selection: %w", err)
		}
		var fingerprints []string
		if err := json.Unmarshal([]byte(selected), &fingerprints); err != nil {
			return nil, fmt.Errorf("failed to unmarshal selection: %w", err)
		}
		for _, fp := range fingerprints {
			seen[fp] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sent runs: %w", err)
	}
	return seen, nil
}

func collectRuns(rows *sql.Rows) ([]core.DigestRun, error) {
	var runs []core.DigestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}
