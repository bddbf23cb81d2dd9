package routing

import (
	"context"
	"sync"
	"testing"
	"time"
)

func testAgent(id, teamID string, availability Availability, skills ...AgentSkill) *AgentProfile {
	return &AgentProfile{
		ID:                 id,
		Name:               "Agent " + id,
		Email:              id + "@clinic.test",
		Role:               "coordinator",
		Availability:       availability,
		Skills:             skills,
		MaxConcurrentTasks: 3,
		TeamID:             teamID,
	}
}

func TestDirectoryAvailableFiltersAvailabilityAndTeam(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	mustUpsert(t, dir, testAgent("a1", "team-a", AvailabilityAvailable))
	mustUpsert(t, dir, testAgent("a2", "team-a", AvailabilityBusy))
	mustUpsert(t, dir, testAgent("a3", "team-b", AvailabilityAvailable))
	mustUpsert(t, dir, testAgent("a4", "", AvailabilityOffline))

	all, err := dir.Available(ctx, "")
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 available agents, got %d", len(all))
	}

	teamA, err := dir.Available(ctx, "team-a")
	if err != nil {
		t.Fatalf("Available(team-a): %v", err)
	}
	if len(teamA) != 1 || teamA[0].ID != "a1" {
		t.Fatalf("expected only a1 for team-a, got %+v", teamA)
	}
}

func TestDirectoryBySkillMonotonic(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	mustUpsert(t, dir, testAgent("basic", "", AvailabilityAvailable,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyBasic, Active: true}))
	mustUpsert(t, dir, testAgent("inter", "", AvailabilityAvailable,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyIntermediate, Active: true}))
	mustUpsert(t, dir, testAgent("adv", "", AvailabilityAvailable,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyAdvanced, Active: true}))
	mustUpsert(t, dir, testAgent("exp", "", AvailabilityAvailable,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyExpert, Active: true}))
	mustUpsert(t, dir, testAgent("inactive", "", AvailabilityAvailable,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyExpert, Active: false}))

	thresholds := []Proficiency{ProficiencyBasic, ProficiencyIntermediate, ProficiencyAdvanced, ProficiencyExpert}
	want := []int{4, 3, 2, 1}
	var previous map[string]bool
	for i, min := range thresholds {
		agents, err := dir.BySkill(ctx, "injectables", min)
		if err != nil {
			t.Fatalf("BySkill(%s): %v", min, err)
		}
		if len(agents) != want[i] {
			t.Errorf("BySkill(%s): expected %d agents, got %d", min, want[i], len(agents))
		}
		current := make(map[string]bool, len(agents))
		for _, agent := range agents {
			if agent.ID == "inactive" {
				t.Errorf("BySkill(%s) returned agent with inactive skill", min)
			}
			current[agent.ID] = true
		}
		// Each tighter threshold must be a subset of the looser one.
		if previous != nil {
			for id := range current {
				if !previous[id] {
					t.Errorf("BySkill(%s) returned %s absent at looser threshold", min, id)
				}
			}
		}
		previous = current
	}
}

func TestDirectoryUpsertReplacesAndKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	mustUpsert(t, dir, testAgent("a1", "", AvailabilityAvailable))
	first, err := dir.ByID(ctx, "a1")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}

	replacement := testAgent("a1", "team-z", AvailabilityBusy)
	replacement.Name = "Renamed"
	mustUpsert(t, dir, replacement)

	second, err := dir.ByID(ctx, "a1")
	if err != nil {
		t.Fatalf("ByID after replace: %v", err)
	}
	if second.Name != "Renamed" || second.TeamID != "team-z" {
		t.Fatalf("expected full replacement, got %+v", second)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("expected CreatedAt preserved across upsert")
	}
}

func TestDirectoryRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	mustUpsert(t, dir, testAgent("a1", "", AvailabilityAvailable))
	if err := dir.Remove(ctx, "a1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := dir.Remove(ctx, "a1"); err != nil {
		t.Fatalf("Remove twice: %v", err)
	}
	if err := dir.Remove(ctx, "never-existed"); err != nil {
		t.Fatalf("Remove unknown: %v", err)
	}
	if _, err := dir.ByID(ctx, "a1"); err != ErrAgentNotFound {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestDirectorySettersNoOpOnUnknownAgent(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	if err := dir.SetAvailability(ctx, "ghost", AvailabilityBusy); err != nil {
		t.Fatalf("SetAvailability unknown: %v", err)
	}
	if err := dir.SetTaskCount(ctx, "ghost", 5); err != nil {
		t.Fatalf("SetTaskCount unknown: %v", err)
	}
}

func TestDirectorySettersBumpUpdatedAt(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	mustUpsert(t, dir, testAgent("a1", "", AvailabilityAvailable))
	before, _ := dir.ByID(ctx, "a1")

	time.Sleep(2 * time.Millisecond)
	if err := dir.SetAvailability(ctx, "a1", AvailabilityBusy); err != nil {
		t.Fatalf("SetAvailability: %v", err)
	}
	after, _ := dir.ByID(ctx, "a1")
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Errorf("expected UpdatedAt to advance")
	}
	if after.Availability != AvailabilityBusy {
		t.Errorf("expected busy, got %s", after.Availability)
	}
}

func TestDirectoryAcquireRespectsCapacityUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	agent := testAgent("a1", "", AvailabilityAvailable)
	agent.MaxConcurrentTasks = 2
	mustUpsert(t, dir, agent)

	const callers = 16
	var wg sync.WaitGroup
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := dir.Acquire(ctx, "a1")
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	acquired := 0
	for ok := range results {
		if ok {
			acquired++
		}
	}
	if acquired != 2 {
		t.Fatalf("expected exactly 2 acquisitions, got %d", acquired)
	}

	final, _ := dir.ByID(ctx, "a1")
	if final.CurrentTaskCount != 2 {
		t.Fatalf("expected task count 2, got %d", final.CurrentTaskCount)
	}
}

func TestDirectoryAcquireRejectsUnavailable(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	mustUpsert(t, dir, testAgent("busy", "", AvailabilityBusy))
	ok, err := dir.Acquire(ctx, "busy")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if ok {
		t.Fatalf("expected acquire to fail for busy agent")
	}

	ok, err = dir.Acquire(ctx, "ghost")
	if err != nil || ok {
		t.Fatalf("expected acquire to fail for unknown agent, got ok=%v err=%v", ok, err)
	}
}

func TestDirectoryReleaseFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	mustUpsert(t, dir, testAgent("a1", "", AvailabilityAvailable))
	if err := dir.Release(ctx, "a1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	agent, _ := dir.ByID(ctx, "a1")
	if agent.CurrentTaskCount != 0 {
		t.Fatalf("expected task count 0, got %d", agent.CurrentTaskCount)
	}
}

func TestDirectoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	mustUpsert(t, dir, testAgent("a1", "", AvailabilityAvailable,
		AgentSkill{SkillID: "injectables", Proficiency: ProficiencyBasic, Active: true}))

	got, _ := dir.ByID(ctx, "a1")
	got.Skills[0].Active = false
	got.Availability = AvailabilityOffline

	fresh, _ := dir.ByID(ctx, "a1")
	if !fresh.Skills[0].Active || fresh.Availability != AvailabilityAvailable {
		t.Fatalf("mutating a returned profile leaked into the directory")
	}
}

func mustUpsert(t *testing.T, dir Directory, agent *AgentProfile) {
	t.Helper()
	if err := dir.Upsert(context.Background(), agent); err != nil {
		t.Fatalf("Upsert %s: %v", agent.ID, err)
	}
}
