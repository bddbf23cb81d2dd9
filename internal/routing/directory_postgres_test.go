package routing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"
)

func TestPostgresDirectoryAcquire(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	dir := NewPostgresDirectory(mock)

	mock.ExpectExec("UPDATE agents").
		WithArgs("nurse-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	acquired, err := dir.Acquire(ctx, "nurse-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !acquired {
		t.Fatalf("expected acquire to succeed")
	}

	// At capacity: the conditional update touches no rows.
	mock.ExpectExec("UPDATE agents").
		WithArgs("nurse-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	acquired, err = dir.Acquire(ctx, "nurse-1")
	if err != nil {
		t.Fatalf("Acquire at capacity: %v", err)
	}
	if acquired {
		t.Fatalf("expected acquire to fail at capacity")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresDirectoryByIDNotFound(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	dir := NewPostgresDirectory(mock)

	mock.ExpectQuery("SELECT (.+) FROM agents WHERE id").
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "email", "phone", "role", "availability", "skills", "languages",
			"current_task_count", "max_concurrent_tasks", "team_id", "created_at", "updated_at",
		}))
	if _, err := dir.ByID(ctx, "ghost"); err != ErrAgentNotFound {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestPostgresDirectoryAvailableScansRows(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	dir := NewPostgresDirectory(mock)

	skills, _ := json.Marshal([]AgentSkill{
		{SkillID: "injectables", Proficiency: ProficiencyAdvanced, Active: true},
	})
	languages, _ := json.Marshal([]string{"en", "es"})
	teamID := "team-a"
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM agents").
		WithArgs("team-a").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "email", "phone", "role", "availability", "skills", "languages",
			"current_task_count", "max_concurrent_tasks", "team_id", "created_at", "updated_at",
		}).AddRow(
			"nurse-1", "Dana", "dana@clinic.test", "+15550001111", "nurse", Availability("available"),
			skills, languages, 1, 3, &teamID, now, now,
		))

	agents, err := dir.Available(ctx, "team-a")
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(agents))
	}
	agent := agents[0]
	if agent.ID != "nurse-1" || agent.TeamID != "team-a" {
		t.Fatalf("unexpected agent %+v", agent)
	}
	if !agent.HasSkill("injectables", ProficiencyAdvanced) {
		t.Fatalf("expected decoded skills, got %+v", agent.Skills)
	}
}
