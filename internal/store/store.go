package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ErrNotFound is returned when an operation targets an unknown identity.
var ErrNotFound = errors.New("identity not found")

// EncodingDim is the width of the embedding column.
const EncodingDim = 128

// Store manages the PostgreSQL connection pool and pgvector operations.
type Store struct {
	pool *pgxpool.Pool
}

// Identity is a registered face.
type Identity struct {
	ID          int
	Name        string
	Embedding   []float64
	ImagePath   string
	Fingerprint string
	CreatedAt   time.Time
	Logins      int
	LastLogin   *time.Time
}

// Match is the result of a nearest-neighbour lookup. ID is -1 when nothing
// is within tolerance.
type Match struct {
	ID       int
	Name     string
	Distance float64
}

// Login is one recorded successful login.
type Login struct {
	Name      string
	Distance  float64
	SessionID string
	At        time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the necessary tables and vector extension if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS identities (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			embedding VECTOR(%d) NOT NULL,
			image_path TEXT NOT NULL DEFAULT '',
			fingerprint TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS login_events (
			id BIGSERIAL PRIMARY KEY,
			identity_id INT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			distance DOUBLE PRECISION NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			logged_in_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS login_events_identity_id_idx ON login_events (identity_id);
	`, EncodingDim)
	_, err := pool.Exec(ctx, query)
	return err
}

// Close terminates the database connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func toVector(vec []float64) pgvector.Vector {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return pgvector.NewVector(out)
}

func fromVector(v pgvector.Vector) []float64 {
	in := v.Slice()
	out := make([]float64, len(in))
	for i, x := range in {
		out[i] = float64(x)
	}
	return out
}

// UpsertIdentity stores or replaces the embedding registered under id.Name and returns its row ID.
func (s *Store) UpsertIdentity(ctx context.Context, id Identity) (int, error) {
	if len(id.Embedding) != EncodingDim {
		return 0, fmt.Errorf("embedding has %d values, want %d", len(id.Embedding), EncodingDim)
	}

	var rowID int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO identities (name, embedding, image_path, fingerprint)
		VALUES ($1, $2::vector, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			image_path = EXCLUDED.image_path,
			fingerprint = EXCLUDED.fingerprint,
			updated_at = NOW()
		RETURNING id
	`, id.Name, toVector(id.Embedding), id.ImagePath, id.Fingerprint).Scan(&rowID)
	return rowID, err
}

// FindClosestIdentity searches for the nearest neighbor in the database using Euclidean distance.
// Returns ID -1 if no match is found within the tolerance.
func (s *Store) FindClosestIdentity(ctx context.Context, vec []float64, tolerance float64) (Match, error) {
	// <-> is the L2 distance operator in pgvector, the same metric face_recognition compares with.
	// We order by distance and limit to 1 to find the nearest neighbor
	query := `SELECT id, name, embedding <-> $1::vector AS distance FROM identities ORDER BY distance ASC LIMIT 1`

	var m Match
	err := s.pool.QueryRow(ctx, query, toVector(vec)).Scan(&m.ID, &m.Name, &m.Distance)
	if errors.Is(err, pgx.ErrNoRows) {
		return Match{ID: -1}, nil // Empty gallery
	}
	if err != nil {
		return Match{}, err
	}
	if m.Distance > tolerance {
		return Match{ID: -1, Distance: m.Distance}, nil
	}
	return m, nil
}

// ListIdentities returns every identity with its login statistics, by name.
func (s *Store) ListIdentities(ctx context.Context) ([]Identity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.id, i.name, i.image_path, i.fingerprint, i.created_at,
		       COUNT(l.id), MAX(l.logged_in_at)
		FROM identities i
		LEFT JOIN login_events l ON l.identity_id = i.id
		GROUP BY i.id
		ORDER BY i.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		var id Identity
		if err := rows.Scan(&id.ID, &id.Name, &id.ImagePath, &id.Fingerprint, &id.CreatedAt, &id.Logins, &id.LastLogin); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetIdentity loads one identity including its embedding.
func (s *Store) GetIdentity(ctx context.Context, name string) (Identity, error) {
	var id Identity
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, embedding, image_path, fingerprint, created_at
		FROM identities WHERE name = $1
	`, name).Scan(&id.ID, &id.Name, &vec, &id.ImagePath, &id.Fingerprint, &id.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Identity{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Identity{}, err
	}
	id.Embedding = fromVector(vec)
	return id, nil
}

// RenameIdentity updates the name of a known identity.
func (s *Store) RenameIdentity(ctx context.Context, oldName, newName string) error {
	tag, err := s.pool.Exec(ctx, "UPDATE identities SET name = $1, updated_at = NOW() WHERE name = $2", newName, oldName)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, oldName)
	}
	return nil
}

// DeleteIdentity removes an identity and its login history.
func (s *Store) DeleteIdentity(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM identities WHERE name = $1", name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// RecordLogin appends a successful login for the identity row id.
func (s *Store) RecordLogin(ctx context.Context, id int, distance float64, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO login_events (identity_id, distance, session_id)
		SELECT id, $2, $3 FROM identities WHERE id = $1
	`, id, distance, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

// LoginHistory returns the most recent logins first. limit <= 0 returns all.
func (s *Store) LoginHistory(ctx context.Context, limit int) ([]Login, error) {
	query := `
		SELECT i.name, l.distance, l.session_id, l.logged_in_at
		FROM login_events l
		JOIN identities i ON i.id = l.identity_id
		ORDER BY l.logged_in_at DESC, l.id DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Login
	for rows.Next() {
		var l Login
		if err := rows.Scan(&l.Name, &l.Distance, &l.SessionID, &l.At); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// The schema is recreated on the next connect.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS login_events CASCADE;
		DROP TABLE IF EXISTS identities CASCADE;
	`)
	return err
}
