package leads

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PgxPool captures the pgxpool.Pool surface used by the repository so tests
// can substitute pgxmock.
type PgxPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores leads in the relational database.
type PostgresRepository struct {
	pool PgxPool
}

// NewPostgresRepository initializes a repo backed by pgx.
func NewPostgresRepository(pool PgxPool) *PostgresRepository {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

// Create inserts a new row.
func (r *PostgresRepository) Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := uuid.New()
	interests, err := json.Marshal(req.ProcedureInterests)
	if err != nil {
		return nil, fmt.Errorf("leads: encode interests: %w", err)
	}

	query := `
		INSERT INTO leads (id, name, email, phone, message, source, lead_score, procedure_interests, existing_relationship)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := r.pool.QueryRow(ctx, query,
		id,
		req.Name,
		req.Email,
		req.Phone,
		req.Message,
		req.Source,
		req.LeadScore,
		interests,
		req.ExistingRelationship,
	).Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("leads: insert failed: %w", err)
	}

	return &Lead{
		ID:                   id.String(),
		Name:                 req.Name,
		Email:                req.Email,
		Phone:                req.Phone,
		Message:              req.Message,
		Source:               req.Source,
		LeadScore:            req.LeadScore,
		ProcedureInterests:   append([]string(nil), req.ProcedureInterests...),
		ExistingRelationship: req.ExistingRelationship,
		CreatedAt:            createdAt,
	}, nil
}

// GetByID fetches a single lead.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	query := `
		SELECT id, name, email, phone, message, source, lead_score, procedure_interests, existing_relationship, created_at
		FROM leads
		WHERE id = $1
	`
	lead, err := scanLead(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: select failed: %w", err)
	}
	return lead, nil
}

// List returns leads ordered newest first.
func (r *PostgresRepository) List(ctx context.Context, limit, offset int) ([]*Lead, error) {
	query := `
		SELECT id, name, email, phone, message, source, lead_score, procedure_interests, existing_relationship, created_at
		FROM leads
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("leads: list failed: %w", err)
	}
	defer rows.Close()

	var out []*Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("leads: scan failed: %w", err)
		}
		out = append(out, lead)
	}
	return out, rows.Err()
}

func scanLead(row pgx.Row) (*Lead, error) {
	var lead Lead
	var interests []byte
	if err := row.Scan(
		&lead.ID,
		&lead.Name,
		&lead.Email,
		&lead.Phone,
		&lead.Message,
		&lead.Source,
		&lead.LeadScore,
		&interests,
		&lead.ExistingRelationship,
		&lead.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(interests) > 0 {
		if err := json.Unmarshal(interests, &lead.ProcedureInterests); err != nil {
			return nil, fmt.Errorf("decode interests: %w", err)
		}
	}
	return &lead, nil
}
