package timeline

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists the timeline in a single SQLite file.
type SQLiteStore struct {
	conn   *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{conn: conn, logger: logger}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) migrate() error {
	migrations, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range migrations {
		if m.IsDir() {
			continue
		}
		name := m.Name()
		if s.isMigrationApplied(name) {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := s.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
		if _, err := s.conn.Exec("INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}
		if s.logger != nil {
			s.logger.Info("applied migration", "name", name)
		}
	}
	return nil
}

func (s *SQLiteStore) isMigrationApplied(name string) bool {
	var exists int
	err := s.conn.QueryRow("SELECT 1 FROM sqlite_master WHERE type='table' AND name='_migrations'").Scan(&exists)
	if err != nil {
		return false
	}
	var applied int
	err = s.conn.QueryRow("SELECT 1 FROM _migrations WHERE name = ?", name).Scan(&applied)
	return err == nil && applied == 1
}

func (s *SQLiteStore) Scenes(ctx context.Context) ([]Scene, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT scene_id, split_index, duration, transition, transition_duration, caption, image_ref
		FROM scenes ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query scenes: %w", err)
	}
	defer rows.Close()

	var scenes []Scene
	for rows.Next() {
		var sc Scene
		var split sql.NullInt64
		if err := rows.Scan(&sc.SceneID, &split, &sc.Duration, &sc.Transition,
			&sc.TransitionDuration, &sc.Caption, &sc.ImageRef); err != nil {
			return nil, fmt.Errorf("scan scene: %w", err)
		}
		if split.Valid {
			v := int(split.Int64)
			sc.SplitIndex = &v
		}
		scenes = append(scenes, sc)
	}
	return scenes, rows.Err()
}

func (s *SQLiteStore) UpdateSceneDuration(ctx context.Context, index int, duration float64) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE scenes SET duration = ?, updated_at = datetime('now') WHERE position = ?`, duration, index)
	if err != nil {
		return fmt.Errorf("update scene %d duration: %w", index, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update scene %d duration: %w", index, err)
	}
	if n == 0 {
		return fmt.Errorf("scene %d: %w", index, ErrNotFound)
	}
	return nil
}

// ReplaceScenes swaps the whole scene list in one transaction.
func (s *SQLiteStore) ReplaceScenes(ctx context.Context, scenes []Scene) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scenes`); err != nil {
		return fmt.Errorf("clear scenes: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scenes (position, scene_id, split_index, duration, transition, transition_duration, caption, image_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, sc := range scenes {
		var split sql.NullInt64
		if sc.SplitIndex != nil {
			split = sql.NullInt64{Int64: int64(*sc.SplitIndex), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, i, sc.SceneID, split, sc.Duration, sc.Transition,
			sc.TransitionDuration, sc.Caption, sc.ImageRef); err != nil {
			return fmt.Errorf("insert scene %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Setting returns a project-level value, or "" when unset.
func (s *SQLiteStore) Setting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM project WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read setting %s: %w", key, err)
	}
	return v, nil
}

// SetSetting stores a project-level value.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO project (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}
