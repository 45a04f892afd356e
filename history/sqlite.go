package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/scrawlsbenches/rollout/deploy"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore persists deployments in a SQLite database. The full record
// is stored as a JSON document; a few columns are broken out for listing
// and filtering without decoding every row.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the database at dsn and runs all pending migrations.
// Use ":memory:" for an in-memory database.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, d *deploy.Deployment) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal deployment: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO deployments (id, environment, artifact, strategy, status, created_at, doc)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID.String(), d.Environment, d.Artifact, string(d.Strategy), string(d.Status),
		d.CreatedAt.UnixNano(), string(doc),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("deployment %s already saved: %w", d.ID, deploy.ErrValidation)
		}
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, d *deploy.Deployment) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal deployment: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE deployments SET status = ?, doc = ? WHERE id = ?`,
		string(d.Status), string(doc), d.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("deployment %s: %w", d.ID, deploy.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (*deploy.Deployment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc FROM deployments WHERE id = ?`, id.String(),
	)
	var doc string
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("deployment %s: %w", id, deploy.ErrNotFound)
		}
		return nil, fmt.Errorf("scan deployment: %w", err)
	}
	return decodeDeployment(doc)
}

func (s *SQLiteStore) List(ctx context.Context) ([]*deploy.Deployment, error) {
	return s.list(ctx, `SELECT doc FROM deployments ORDER BY created_at DESC, id DESC`)
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, status deploy.Status) ([]*deploy.Deployment, error) {
	return s.list(ctx,
		`SELECT doc FROM deployments WHERE status = ? ORDER BY created_at DESC, id DESC`,
		string(status),
	)
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]*deploy.Deployment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var out []*deploy.Deployment
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		d, err := decodeDeployment(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func decodeDeployment(doc string) (*deploy.Deployment, error) {
	var d deploy.Deployment
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		return nil, fmt.Errorf("unmarshal deployment: %w", err)
	}
	return &d, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
