package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool the postgres directory needs.
// Declared as an interface so tests can substitute pgxmock.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory is a durable Directory backed by the agents table.
// It honors the same contract as MemoryDirectory; the capacity
// compare-and-increment becomes a conditional UPDATE.
type PostgresDirectory struct {
	pool PgxPool
}

// NewPostgresDirectory initializes a directory backed by pgx.
func NewPostgresDirectory(pool PgxPool) *PostgresDirectory {
	if pool == nil {
		panic("routing: pgx pool required")
	}
	return &PostgresDirectory{pool: pool}
}

const agentColumns = `id, name, email, phone, role, availability, skills, languages,
	current_task_count, max_concurrent_tasks, team_id, created_at, updated_at`

// Upsert inserts or fully replaces the profile with the same id.
func (d *PostgresDirectory) Upsert(ctx context.Context, profile *AgentProfile) error {
	skills, err := json.Marshal(profile.Skills)
	if err != nil {
		return fmt.Errorf("routing: marshal skills: %w", err)
	}
	languages, err := json.Marshal(profile.Languages)
	if err != nil {
		return fmt.Errorf("routing: marshal languages: %w", err)
	}

	query := `
		INSERT INTO agents (id, name, email, phone, role, availability, skills, languages,
			current_task_count, max_concurrent_tasks, team_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			role = EXCLUDED.role,
			availability = EXCLUDED.availability,
			skills = EXCLUDED.skills,
			languages = EXCLUDED.languages,
			current_task_count = EXCLUDED.current_task_count,
			max_concurrent_tasks = EXCLUDED.max_concurrent_tasks,
			team_id = EXCLUDED.team_id,
			updated_at = now()
	`
	if _, err := d.pool.Exec(ctx, query,
		profile.ID,
		profile.Name,
		profile.Email,
		profile.Phone,
		profile.Role,
		string(profile.Availability),
		skills,
		languages,
		profile.CurrentTaskCount,
		profile.MaxConcurrentTasks,
		nullable(profile.TeamID),
	); err != nil {
		return fmt.Errorf("routing: upsert agent: %w", err)
	}
	return nil
}

// Remove deletes the agent row. Unknown ids are a no-op.
func (d *PostgresDirectory) Remove(ctx context.Context, id string) error {
	if _, err := d.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("routing: delete agent: %w", err)
	}
	return nil
}

// All returns every agent in registration order.
func (d *PostgresDirectory) All(ctx context.Context) ([]*AgentProfile, error) {
	query := `SELECT ` + agentColumns + ` FROM agents ORDER BY created_at, id`
	rows, err := d.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("routing: select agents: %w", err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

// Clear removes every agent row.
func (d *PostgresDirectory) Clear(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, `DELETE FROM agents`); err != nil {
		return fmt.Errorf("routing: clear agents: %w", err)
	}
	return nil
}

// Available returns available agents, optionally scoped to a team.
func (d *PostgresDirectory) Available(ctx context.Context, teamID string) ([]*AgentProfile, error) {
	query := `SELECT ` + agentColumns + ` FROM agents
		WHERE availability = 'available' AND ($1 = '' OR team_id = $1)
		ORDER BY created_at, id`
	rows, err := d.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("routing: select available agents: %w", err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

// ByID returns the agent or ErrAgentNotFound.
func (d *PostgresDirectory) ByID(ctx context.Context, id string) (*AgentProfile, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`
	agent, err := scanAgent(d.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("routing: select agent: %w", err)
	}
	return agent, nil
}

// BySkill filters agents on an active skill entry at or above the minimum
// proficiency. Skill JSON is filtered in Go; the directory stays small
// enough that a full scan is fine.
func (d *PostgresDirectory) BySkill(ctx context.Context, skillID string, min Proficiency) ([]*AgentProfile, error) {
	agents, err := d.All(ctx)
	if err != nil {
		return nil, err
	}
	matched := agents[:0]
	for _, agent := range agents {
		if agent.HasSkill(skillID, min) {
			matched = append(matched, agent)
		}
	}
	return matched, nil
}

// SetAvailability updates availability. Unknown ids are a no-op.
func (d *PostgresDirectory) SetAvailability(ctx context.Context, id string, availability Availability) error {
	query := `UPDATE agents SET availability = $2, updated_at = now() WHERE id = $1`
	if _, err := d.pool.Exec(ctx, query, id, string(availability)); err != nil {
		return fmt.Errorf("routing: update availability: %w", err)
	}
	return nil
}

// SetTaskCount updates the current task count. Unknown ids are a no-op.
func (d *PostgresDirectory) SetTaskCount(ctx context.Context, id string, count int) error {
	if count < 0 {
		count = 0
	}
	query := `UPDATE agents SET current_task_count = $2, updated_at = now() WHERE id = $1`
	if _, err := d.pool.Exec(ctx, query, id, count); err != nil {
		return fmt.Errorf("routing: update task count: %w", err)
	}
	return nil
}

// Acquire increments the task count only while the agent is available and
// below capacity. The conditional UPDATE makes the check-and-increment a
// single atomic statement.
func (d *PostgresDirectory) Acquire(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE agents
		SET current_task_count = current_task_count + 1, updated_at = now()
		WHERE id = $1
		  AND availability = 'available'
		  AND current_task_count < max_concurrent_tasks
	`
	tag, err := d.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("routing: acquire agent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release decrements the task count, never below zero.
func (d *PostgresDirectory) Release(ctx context.Context, id string) error {
	query := `
		UPDATE agents
		SET current_task_count = GREATEST(current_task_count - 1, 0), updated_at = now()
		WHERE id = $1
	`
	if _, err := d.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("routing: release agent: %w", err)
	}
	return nil
}

func scanAgents(rows pgx.Rows) ([]*AgentProfile, error) {
	var agents []*AgentProfile
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("routing: scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("routing: iterate agents: %w", err)
	}
	return agents, nil
}

func scanAgent(row pgx.Row) (*AgentProfile, error) {
	var (
		agent     AgentProfile
		skills    []byte
		languages []byte
		teamID    *string
		created   time.Time
		updated   time.Time
	)
	if err := row.Scan(
		&agent.ID,
		&agent.Name,
		&agent.Email,
		&agent.Phone,
		&agent.Role,
		&agent.Availability,
		&skills,
		&languages,
		&agent.CurrentTaskCount,
		&agent.MaxConcurrentTasks,
		&teamID,
		&created,
		&updated,
	); err != nil {
		return nil, err
	}
	if len(skills) > 0 {
		if err := json.Unmarshal(skills, &agent.Skills); err != nil {
			return nil, fmt.Errorf("decode skills: %w", err)
		}
	}
	if len(languages) > 0 {
		if err := json.Unmarshal(languages, &agent.Languages); err != nil {
			return nil, fmt.Errorf("decode languages: %w", err)
		}
	}
	if teamID != nil {
		agent.TeamID = *teamID
	}
	agent.CreatedAt = created
	agent.UpdatedAt = updated
	return &agent, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
