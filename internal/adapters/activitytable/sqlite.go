package activitytable

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"enrichd/internal/core/activity"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshot (
	taken_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS contributors (
	canonical_id     TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	primary_username TEXT,
	usernames        TEXT NOT NULL,
	project          TEXT NOT NULL,
	commits          INTEGER NOT NULL,
	projects         TEXT NOT NULL,
	max_date         INTEGER NOT NULL,
	min_date         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS contributors_primary_username ON contributors(primary_username);
`

// listSep joins usernames and projects in one column
const listSep = ";;"

// Snapshot is an activity.Snapshotter writing a process-local SQLite file
type Snapshot struct {
	db   *sql.DB
	path string
}

var _ activity.Snapshotter = (*Snapshot)(nil)

// OpenSnapshot opens or creates the SQLite file at path
func OpenSnapshot(path string) (*Snapshot, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("activitytable: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("activitytable: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("activitytable: schema: %w", err)
	}
	return &Snapshot{db: db, path: path}, nil
}

// Path returns the database file path
func (s *Snapshot) Path() string { return s.path }

// Close closes the database
func (s *Snapshot) Close() error { return s.db.Close() }

// Save replaces the stored table with cs in one transaction
func (s *Snapshot) Save(ctx context.Context, cs []*activity.Contributor, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("activitytable: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{"DELETE FROM contributors", "DELETE FROM snapshot"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("activitytable: reset: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO snapshot (taken_at) VALUES (?)", at.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("activitytable: stamp: %w", err)
	}

	ins, err := tx.PrepareContext(ctx, `
		INSERT INTO contributors
			(canonical_id, name, primary_username, usernames, project, commits, projects, max_date, min_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("activitytable: prepare: %w", err)
	}
	defer func() { _ = ins.Close() }()

	for _, c := range cs {
		var primary any
		if u := c.PrimaryUsername(); u != "" {
			primary = u
		}
		if _, err := ins.ExecContext(ctx,
			c.CanonicalID, c.Name, primary,
			strings.Join(c.Usernames, listSep), c.Project, c.Commits,
			strings.Join(c.Projects, listSep), c.MaxDate, c.MinDate,
		); err != nil {
			return fmt.Errorf("activitytable: insert %s: %w", c.CanonicalID, err)
		}
	}
	return tx.Commit()
}

// Load reads the stored table back, ordered by canonical id
func (s *Snapshot) Load(ctx context.Context) ([]*activity.Contributor, time.Time, error) {
	var (
		takenAt string
		at      time.Time
	)
	err := s.db.QueryRowContext(ctx, "SELECT taken_at FROM snapshot LIMIT 1").Scan(&takenAt)
	switch {
	case err == sql.ErrNoRows:
		return nil, time.Time{}, nil
	case err != nil:
		return nil, time.Time{}, fmt.Errorf("activitytable: snapshot: %w", err)
	}
	if at, err = time.Parse(time.RFC3339, takenAt); err != nil {
		return nil, time.Time{}, fmt.Errorf("activitytable: snapshot time: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT canonical_id, name, usernames, project, commits, projects, max_date, min_date
		FROM contributors ORDER BY canonical_id`)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("activitytable: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*activity.Contributor
	for rows.Next() {
		var (
			c                   activity.Contributor
			usernames, projects string
		)
		if err := rows.Scan(&c.CanonicalID, &c.Name, &usernames, &c.Project, &c.Commits,
			&projects, &c.MaxDate, &c.MinDate); err != nil {
			return nil, time.Time{}, fmt.Errorf("activitytable: scan: %w", err)
		}
		c.Usernames = split(usernames)
		c.Projects = split(projects)
		out = append(out, &c)
	}
	return out, at, rows.Err()
}

func split(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, listSep)
}
