package update

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, WAL-friendly

	"uplift/internal/debug"
	apperrors "uplift/internal/errors"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS attempts (
	id             TEXT PRIMARY KEY,
	app            TEXT NOT NULL,
	target_version TEXT NOT NULL DEFAULT '',
	work_dir       TEXT NOT NULL DEFAULT '',
	backup_path    TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
	swept_at       INTEGER
);
CREATE INDEX IF NOT EXISTS idx_attempts_app ON attempts(app, created_at);
CREATE INDEX IF NOT EXISTS idx_attempts_work_dir ON attempts(work_dir);
`

// Attempt is one row of the journal.
type Attempt struct {
	ID            string
	App           string
	TargetVersion string
	WorkDir       string
	BackupPath    string
	State         InstallState
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Swept         bool
}

// Journal records install attempts so later runs can clean up after them.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// buildJournalDSN creates a read-write WAL DSN for the given path.
func buildJournalDSN(path string) string {
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(path),
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(3000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_txlock", "immediate")
	u.RawQuery = q.Encode()
	return u.String()
}

// OpenJournal opens or creates the journal database at path.
func OpenJournal(ctx context.Context, path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, apperrors.New(apperrors.CodeConfigurationError, "journal path is empty", nil)
	}
	//nolint:gosec // G301: User config directory needs standard permissions
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, apperrors.New(apperrors.CodeIO, "create journal directory", err)
	}

	db, err := sql.Open("sqlite", buildJournalDSN(path))
	if err != nil {
		return nil, apperrors.New(apperrors.CodeIO, "open journal", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperrors.New(apperrors.CodeIO, "ping journal", err)
	}
	if _, err := db.ExecContext(ctx, journalSchema); err != nil {
		_ = db.Close()
		return nil, apperrors.New(apperrors.CodeIO, "migrate journal", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Begin inserts a new attempt in StateIdle unless a state is given.
func (j *Journal) Begin(ctx context.Context, a Attempt) error {
	now := j.now().UnixMilli()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO attempts (id, app, target_version, work_dir, backup_path, state, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.App, a.TargetVersion, a.WorkDir, a.BackupPath, a.State.String(), a.Error, now, now)
	if err != nil {
		return fmt.Errorf("insert attempt %s: %w", a.ID, err)
	}
	return nil
}

// Record stores a state change. An empty backupPath keeps the stored one.
func (j *Journal) Record(ctx context.Context, id string, state InstallState, backupPath, errMsg string) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE attempts
		SET state = ?,
		    backup_path = CASE WHEN ? = '' THEN backup_path ELSE ? END,
		    error = CASE WHEN ? = '' THEN error ELSE ? END,
		    updated_at = ?
		WHERE id = ?
	`, state.String(), backupPath, backupPath, errMsg, errMsg, j.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update attempt %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update attempt %s: no such attempt", id)
	}
	return nil
}

// Get returns a single attempt.
func (j *Journal) Get(ctx context.Context, id string) (Attempt, error) {
	row := j.db.QueryRowContext(ctx, selectAttempts+` WHERE id = ?`, id)
	return scanAttempt(row)
}

// FindByWorkDir returns the newest attempt that used dir.
func (j *Journal) FindByWorkDir(ctx context.Context, dir string) (Attempt, bool, error) {
	row := j.db.QueryRowContext(ctx, selectAttempts+` WHERE work_dir = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, dir)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, false, nil
	}
	if err != nil {
		return Attempt{}, false, err
	}
	return a, true, nil
}

// List returns the attempts for app, oldest first.
func (j *Journal) List(ctx context.Context, app string) ([]Attempt, error) {
	rows, err := j.db.QueryContext(ctx, selectAttempts+` WHERE app = ? ORDER BY created_at, rowid`, app)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var attempts []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

const selectAttempts = `
	SELECT id, app, target_version, work_dir, backup_path, state, error, created_at, updated_at, swept_at
	FROM attempts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (Attempt, error) {
	var (
		a                Attempt
		state            string
		created, updated int64
		swept            sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.App, &a.TargetVersion, &a.WorkDir, &a.BackupPath, &state, &a.Error, &created, &updated, &swept); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, err
		}
		return Attempt{}, fmt.Errorf("scan attempt: %w", err)
	}
	parsed, err := ParseInstallState(state)
	if err != nil {
		return Attempt{}, err
	}
	a.State = parsed
	a.CreatedAt = time.UnixMilli(created)
	a.UpdatedAt = time.UnixMilli(updated)
	a.Swept = swept.Valid
	return a, nil
}

// SweepReport lists what a sweep did and what it left for the user.
type SweepReport struct {
	// Abandoned are attempts that stopped before a terminal state.
	Abandoned []string
	// RemovedWorkDirs were deleted.
	RemovedWorkDirs []string
	// LeftoverBackups still exist next to the installation and were kept.
	LeftoverBackups []string
}

// Sweep cleans up after earlier attempts of app. Attempts stuck in a
// non-terminal state are marked failed, their work directories removed,
// and any backup still on disk is reported but never deleted. Work
// directories under tmpRoot with no journal row are removed too. keep
// names a work directory that belongs to the running attempt. A nil
// Journal sweeps only the directories.
func (j *Journal) Sweep(ctx context.Context, app, tmpRoot, keep string) (SweepReport, error) {
	var report SweepReport

	if j != nil {
		attempts, err := j.List(ctx, app)
		if err != nil {
			return report, err
		}
		for _, a := range attempts {
			if a.WorkDir == keep && keep != "" {
				continue
			}
			if !a.State.Terminal() {
				report.Abandoned = append(report.Abandoned, a.ID)
				if err := j.Record(ctx, a.ID, StateFailed, "", "abandoned"); err != nil {
					return report, err
				}
			}
			if a.BackupPath != "" && pathExists(a.BackupPath) {
				report.LeftoverBackups = append(report.LeftoverBackups, a.BackupPath)
			}
			if a.Swept {
				continue
			}
			if removeWorkDir(tmpRoot, app, a.WorkDir) {
				report.RemovedWorkDirs = append(report.RemovedWorkDirs, a.WorkDir)
			}
			if _, err := j.db.ExecContext(ctx, `UPDATE attempts SET swept_at = ? WHERE id = ?`, j.now().UnixMilli(), a.ID); err != nil {
				return report, fmt.Errorf("mark attempt %s swept: %w", a.ID, err)
			}
		}
	}

	orphans, err := listWorkDirs(tmpRoot, app)
	if err != nil {
		return report, apperrors.New(apperrors.CodeIO, "list work directories", err)
	}
	for _, dir := range orphans {
		if dir == keep {
			continue
		}
		if removeWorkDir(tmpRoot, app, dir) {
			report.RemovedWorkDirs = append(report.RemovedWorkDirs, dir)
		}
	}

	for _, b := range report.LeftoverBackups {
		debug.Logf("sweep: leftover backup %s", b)
	}
	debug.Logf("sweep: %d abandoned, %d work dirs removed", len(report.Abandoned), len(report.RemovedWorkDirs))
	return report, nil
}

// removeWorkDir deletes dir when it is an existing work directory of app
// under root.
func removeWorkDir(root, app, dir string) bool {
	if !isWorkDir(root, app, dir) || !pathExists(dir) {
		return false
	}
	if err := os.RemoveAll(dir); err != nil {
		debug.Logf("sweep: remove %s: %v", dir, err)
		return false
	}
	return true
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
