package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/jsherman999/openclaw_logfeed/internal/db"
)

// Store resolves accounts from the users/roles tables: static tokens and
// email/password pairs.
type Store struct{ db *db.DB }

func NewStore(d *db.DB) *Store { return &Store{db: d} }

type NewUser struct {
	Email    string
	Password string
	Token    string
	Role     string
}

func (s *Store) Authenticate(ctx context.Context, cred Credentials) (*Accountability, error) {
	switch {
	case cred.AccessToken != "":
		return s.byToken(ctx, cred.AccessToken)
	case cred.Email != "" && cred.Password != "":
		return s.byPassword(ctx, cred.Email, cred.Password)
	default:
		return nil, ErrNoCredentials
	}
}

const accountColumns = `u.id::text, COALESCE(u.role, ''), COALESCE(r.admin_access, false), COALESCE(r.app_access, false)`

func (s *Store) byToken(ctx context.Context, token string) (*Accountability, error) {
	row := s.db.Pool.QueryRow(ctx, `
SELECT `+accountColumns+`
FROM users u LEFT JOIN roles r ON r.id = u.role
WHERE u.token=$1 AND u.status='active'
`, token)
	acc, err := scanAccount(row)
	if err != nil {
		return nil, err
	}
	s.touch(ctx, acc.User)
	return acc, nil
}

func (s *Store) byPassword(ctx context.Context, email, password string) (*Accountability, error) {
	var hash *string
	row := s.db.Pool.QueryRow(ctx, `
SELECT `+accountColumns+`, u.password_hash
FROM users u LEFT JOIN roles r ON r.id = u.role
WHERE lower(u.email)=lower($1) AND u.status='active'
`, email)
	var acc Accountability
	if err := row.Scan(&acc.User, &acc.Role, &acc.Admin, &acc.App, &hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if hash == nil || bcrypt.CompareHashAndPassword([]byte(*hash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	s.touch(ctx, acc.User)
	return &acc, nil
}

func scanAccount(row pgx.Row) (*Accountability, error) {
	var acc Accountability
	if err := row.Scan(&acc.User, &acc.Role, &acc.Admin, &acc.App); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return &acc, nil
}

func (s *Store) touch(ctx context.Context, id string) {
	_, _ = s.db.Pool.Exec(ctx, `UPDATE users SET last_access=now() WHERE id=$1`, id)
}

// CreateUser inserts a user and returns its id. Passwords are stored as
// bcrypt hashes.
func (s *Store) CreateUser(ctx context.Context, u NewUser) (string, error) {
	if strings.TrimSpace(u.Email) == "" {
		return "", fmt.Errorf("email is required")
	}
	var hash, token, role *string
	if u.Password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return "", fmt.Errorf("hash password: %w", err)
		}
		hs := string(h)
		hash = &hs
	}
	if u.Token != "" {
		token = &u.Token
	}
	if u.Role != "" {
		role = &u.Role
	}

	id := uuid.NewString()
	_, err := s.db.Pool.Exec(ctx, `
INSERT INTO users(id, email, password_hash, token, role)
VALUES ($1,$2,$3,$4,$5)
`, id, u.Email, hash, token, role)
	if err != nil {
		return "", fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

// EnsureRole creates or updates a role.
func (s *Store) EnsureRole(ctx context.Context, id, name string, admin bool) error {
	_, err := s.db.Pool.Exec(ctx, `
INSERT INTO roles(id, name, admin_access)
VALUES ($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, admin_access=EXCLUDED.admin_access;
`, id, name, admin)
	if err != nil {
		return fmt.Errorf("ensure role: %w", err)
	}
	return nil
}
