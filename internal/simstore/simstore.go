// Package simstore provides the PostgreSQL-backed store for saved
// simulation records. Each record pairs the engine's serialized
// parameter set with user-facing metadata.
package simstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/samaffleck/Thermatix/internal/logging"
	"github.com/samaffleck/Thermatix/internal/metrics"
)

// Record is one saved simulation.
type Record struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	SimName        string    `json:"sim_name"`
	SimDescription string    `json:"sim_description"`
	SimParams      string    `json:"sim_params"`
	IsPublic       bool      `json:"is_public"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store is a PostgreSQL simulation store.
type Store struct {
	db *sql.DB
}

// New creates a new simulation store.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate runs SQL migration files.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

// Insert saves a new simulation record and returns its generated ID.
func (s *Store) Insert(ctx context.Context, rec *Record) (string, error) {
	start := time.Now()

	var id string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO simulations (user_id, sim_name, sim_description, sim_params, is_public)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		rec.UserID, rec.SimName, rec.SimDescription, rec.SimParams, rec.IsPublic,
	).Scan(&id)
	metrics.RecordDBQuery("insert_simulation", time.Since(start))
	if err != nil {
		return "", fmt.Errorf("insert simulation: %w", err)
	}
	return id, nil
}

// ListByUser returns a user's saved simulations, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, sim_name, sim_description, sim_params, is_public, created_at
		 FROM simulations
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	metrics.RecordDBQuery("list_by_user", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("query simulations: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ListPublic returns all simulations flagged public, newest first.
func (s *Store) ListPublic(ctx context.Context) ([]Record, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, sim_name, sim_description, sim_params, is_public, created_at
		 FROM simulations
		 WHERE is_public = TRUE
		 ORDER BY created_at DESC`,
	)
	metrics.RecordDBQuery("list_public", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("query public simulations: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Get returns a single simulation by ID.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	start := time.Now()
	var rec Record
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, sim_name, sim_description, sim_params, is_public, created_at
		 FROM simulations WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.UserID, &rec.SimName, &rec.SimDescription,
		&rec.SimParams, &rec.IsPublic, &rec.CreatedAt)
	metrics.RecordDBQuery("get_simulation", time.Since(start))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("simulation %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query simulation: %w", err)
	}
	return &rec, nil
}

// Delete removes a simulation owned by the given user.
func (s *Store) Delete(ctx context.Context, id, userID string) error {
	start := time.Now()
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM simulations WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	metrics.RecordDBQuery("delete_simulation", time.Since(start))
	if err != nil {
		return fmt.Errorf("delete simulation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("simulation %s not found", id)
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.SimName, &rec.SimDescription,
			&rec.SimParams, &rec.IsPublic, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return records, nil
}
