package demo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/GriffinCanCode/autotrace/internal/infrastructure/instrument"
	"github.com/GriffinCanCode/autotrace/internal/infrastructure/tracing"
)

var (
	// ErrNotFound is returned when a user does not exist.
	ErrNotFound = errors.New("user not found")
	// ErrUsernameTaken is returned when creating a duplicate username.
	ErrUsernameTaken = errors.New("username already registered")
	// ErrInvalidUser is returned for incomplete create requests.
	ErrInvalidUser = errors.New("username, email and password are required")
)

// User is a stored user. The password hash never leaves the store.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserCreate is the payload for creating a user.
type UserCreate struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UserUpdate holds the fields to change; nil fields are left alone.
type UserUpdate struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	IsActive *bool   `json:"is_active"`
}

var schemas = map[string]string{
	"sqlite": `CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL,
	hashed_password TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	created_at BIGINT NOT NULL
)`,
	"postgresql": `CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL,
	hashed_password TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at BIGINT NOT NULL
)`,
}

const userColumns = "id, username, email, is_active, created_at"

// Store persists users through a traced database handle.
type Store struct {
	db       *instrument.DB
	postgres bool
	cost     int
}

// Open connects to driver/dsn and creates the schema.
func Open(ctx context.Context, driver, dsn string, tracer *tracing.Tracer) (*Store, error) {
	db, err := instrument.OpenDB(driver, dsn, tracer)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if instrument.DBSystem(driver) == "sqlite" {
		// one connection keeps ":memory:" databases shared across calls
		db.Raw().SetMaxOpenConns(1)
	}
	s := NewStore(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing traced handle.
func NewStore(db *instrument.DB) *Store {
	return &Store{
		db:       db,
		postgres: db.System() == "postgresql",
		cost:     bcrypt.DefaultCost,
	}
}

// Migrate creates the users table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	ddl, ok := schemas[s.db.System()]
	if !ok {
		return fmt.Errorf("no schema for database system %q", s.db.System())
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate users: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Create hashes the password and inserts the user.
func (s *Store) Create(ctx context.Context, in UserCreate) (*User, error) {
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return nil, ErrInvalidUser
	}
	if _, err := s.GetByUsername(ctx, in.Username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	u := &User{Username: in.Username, Email: in.Email, IsActive: true, CreatedAt: now.Truncate(time.Millisecond)}
	row := s.db.QueryRowContext(ctx, s.rebind(
		"INSERT INTO users (username, email, hashed_password, is_active, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id"),
		u.Username, u.Email, string(hash), true, now.UnixMilli())
	if err := row.Scan(&u.ID); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// Get returns the user with id.
func (s *Store) Get(ctx context.Context, id int64) (*User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, s.rebind("SELECT "+userColumns+" FROM users WHERE id = ?"), id))
}

// GetByUsername returns the user named username.
func (s *Store) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, s.rebind("SELECT "+userColumns+" FROM users WHERE username = ?"), username))
}

// List returns up to limit users ordered by id, skipping the first skip.
func (s *Store) List(ctx context.Context, skip, limit int) ([]User, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if skip < 0 {
		skip = 0
	}
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT "+userColumns+" FROM users ORDER BY id LIMIT ? OFFSET ?"), limit, skip)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// Update applies the non-nil fields of in.
func (s *Store) Update(ctx context.Context, id int64, in UserUpdate) (*User, error) {
	var sets []string
	var args []any
	if in.Username != nil {
		sets = append(sets, "username = ?")
		args = append(args, *in.Username)
	}
	if in.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *in.Email)
	}
	if in.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *in.IsActive)
	}
	if len(sets) == 0 {
		return s.Get(ctx, id)
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx, s.rebind("UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = ?"), args...)
	if err != nil {
		return nil, fmt.Errorf("update user %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes the user with id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM users WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Authenticate checks password against the stored hash.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*User, error) {
	var hash string
	u := &User{}
	var created int64
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT "+userColumns+", hashed_password FROM users WHERE username = ?"), username).
		Scan(&u.ID, &u.Username, &u.Email, &u.IsActive, &created, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, err
	}
	u.CreatedAt = time.UnixMilli(created).UTC()
	return u, nil
}

func (s *Store) scanOne(row *sql.Row) (*User, error) {
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(sc scanner) (*User, error) {
	var u User
	var created int64
	if err := sc.Scan(&u.ID, &u.Username, &u.Email, &u.IsActive, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = time.UnixMilli(created).UTC()
	return &u, nil
}

// rebind rewrites "?" placeholders to "$N" for Postgres.
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
