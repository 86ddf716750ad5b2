package patient

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound     = errors.New("patient not found")
	ErrInvalidEmail = errors.New("a valid email is required")
	ErrEmailInUse   = errors.New("email is already registered to another account")
)

// Patient is the profile of a verified user. ID is the identity provider's subject.
type Patient struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeEmail trims and lowercases an address and checks it parses.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", ErrInvalidEmail
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", ErrInvalidEmail
	}
	return email, nil
}

type Repository interface {
	Upsert(ctx context.Context, p Patient) (*Patient, error)
	GetByID(ctx context.Context, id string) (*Patient, error)
	GetByEmail(ctx context.Context, email string) (*Patient, error)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	q querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{q: pool}
}

const patientColumns = `id, name, email, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) Upsert(ctx context.Context, p Patient) (*Patient, error) {
	row := r.q.QueryRow(ctx, `
		INSERT INTO patients (id, name, email, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    email = EXCLUDED.email,
		    updated_at = now()
		RETURNING `+patientColumns,
		p.ID, p.Name, p.Email)

	saved, err := scanPatient(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrEmailInUse
		}
		return nil, fmt.Errorf("upsert patient: %w", err)
	}
	return saved, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id string) (*Patient, error) {
	row := r.q.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetByEmail(ctx context.Context, email string) (*Patient, error) {
	row := r.q.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE lower(email) = lower($1)`, email)
	return scanPatient(row)
}
