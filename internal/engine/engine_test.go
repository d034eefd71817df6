package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ascent/internal/catalog"
	"ascent/internal/db"
	"ascent/internal/domain"
	"ascent/internal/engine"
	"ascent/internal/migrate"
	"ascent/internal/progression"
	"ascent/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, catalog.MustDefault())
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitOrganization(ctx, "org-1", "Test Lab", domain.StanceBalanced, "tester"); err != nil {
		t.Fatalf("init org: %v", err)
	}
	return &testEnv{Engine: eng, Ctx: ctx}
}

func TestInitOrganizationSeedsLockedRecords(t *testing.T) {
	env := newTestEnv(t)
	records, err := env.Engine.ListRecords(env.Ctx, "org-1")
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != len(domain.AllMilestoneTypes()) {
		t.Fatalf("records = %d, want %d", len(records), len(domain.AllMilestoneTypes()))
	}
	for _, rec := range records {
		if rec.Status != domain.StatusLocked {
			t.Fatalf("%s status = %s, want locked", rec.MilestoneType, rec.Status)
		}
		if rec.Capability != domain.DefaultCapabilityMetrics() {
			t.Fatalf("%s capability not seeded: %+v", rec.MilestoneType, rec.Capability)
		}
		if rec.Alignment != domain.DefaultAlignmentMetrics() {
			t.Fatalf("%s alignment not seeded: %+v", rec.MilestoneType, rec.Alignment)
		}
		if rec.Version != 0 {
			t.Fatalf("%s version = %d, want 0", rec.MilestoneType, rec.Version)
		}
	}
}

func TestInitOrganizationIdempotent(t *testing.T) {
	env := newTestEnv(t)
	org, err := env.Engine.InitOrganization(env.Ctx, "org-1", "Other Name", domain.StanceSafetyFirst, "tester")
	if err != nil {
		t.Fatalf("re-init: %v", err)
	}
	// The stored org wins over the second call's arguments.
	if org.Name != "Test Lab" || org.Stance != domain.StanceBalanced {
		t.Fatalf("org = %+v", org)
	}
	records, err := env.Engine.ListRecords(env.Ctx, "org-1")
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != len(domain.AllMilestoneTypes()) {
		t.Fatalf("records = %d after re-init", len(records))
	}
}

func TestAttemptBlockedByMissingPrerequisites(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.AttemptAchievement(env.Ctx, engine.AttemptOptions{
		OrgID:          "org-1",
		MilestoneType:  domain.Superintelligence,
		ResearchPoints: 100000,
		ComputeBudget:  100000,
		ActorID:        "tester",
	})
	var pe engine.PrerequisitesNotMetError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PrerequisitesNotMetError", err)
	}
	if len(pe.Result.MissingPrerequisites) == 0 {
		t.Fatalf("missing prerequisites not reported: %+v", pe.Result)
	}

	// The spend persists even though the trial was blocked.
	rec, err := env.Engine.GetRecord(env.Ctx, "org-1", domain.Superintelligence)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.ResearchPointsInvested != 100000 || rec.ComputeBudgetSpent != 100000 {
		t.Fatalf("investment not persisted: %+v", rec)
	}
	if rec.Status != domain.StatusLocked {
		t.Fatalf("status = %s, want locked", rec.Status)
	}
	if rec.AttemptCount != 0 {
		t.Fatalf("attempt count = %d, want 0", rec.AttemptCount)
	}
	if rec.Version != 1 {
		t.Fatalf("version = %d, want 1", rec.Version)
	}
}

func TestAttemptInsufficientResources(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.AttemptAchievement(env.Ctx, engine.AttemptOptions{
		OrgID:         "org-1",
		MilestoneType: domain.AdvancedReasoning,
		ActorID:       "tester",
	})
	var re engine.InsufficientResourcesError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want InsufficientResourcesError", err)
	}
	if re.ResearchPointsRequired != 1000 || re.ComputeRequired != 500 {
		t.Fatalf("reported requirements = %+v", re)
	}
}

func TestAttemptRejectsNegativeResources(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.AttemptAchievement(env.Ctx, engine.AttemptOptions{
		OrgID:          "org-1",
		MilestoneType:  domain.AdvancedReasoning,
		ResearchPoints: -1,
		ActorID:        "tester",
	})
	if err == nil {
		t.Fatal("expected error for negative resources")
	}
}

func TestAttemptSuccessIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Roll = func() float64 { return 0 }
	res, err := env.Engine.AttemptAchievement(env.Ctx, engine.AttemptOptions{
		OrgID:          "org-1",
		MilestoneType:  domain.AdvancedReasoning,
		ResearchPoints: 1000,
		ComputeBudget:  500,
		ActorID:        "tester",
	})
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if !res.Achieved {
		t.Fatalf("roll 0 should succeed: %+v", res)
	}
	if res.Probability.Probability <= 0 || res.Probability.Probability > progression.ProbabilityCap {
		t.Fatalf("probability = %v", res.Probability.Probability)
	}
	rec := res.Record
	if rec.Status != domain.StatusAchieved || rec.AchievedAt == nil {
		t.Fatalf("record = %+v", rec)
	}
	if rec.AttemptCount != 1 {
		t.Fatalf("attempt count = %d, want 1", rec.AttemptCount)
	}
	// Catalog gains applied on top of the seeded baseline.
	if rec.Capability.Reasoning != 45 {
		t.Fatalf("reasoning = %v, want 45", rec.Capability.Reasoning)
	}
	if rec.Impact == nil {
		t.Fatal("impact snapshot not derived")
	}
	if rec.MonthsInProgress != 6 {
		t.Fatalf("months = %v, want 6", rec.MonthsInProgress)
	}

	// Achieved is terminal: another attempt must not change the record.
	_, err = env.Engine.AttemptAchievement(env.Ctx, engine.AttemptOptions{
		OrgID:          "org-1",
		MilestoneType:  domain.AdvancedReasoning,
		ResearchPoints: 500,
		ActorID:        "tester",
	})
	if !errors.Is(err, engine.ErrAlreadyAchieved) {
		t.Fatalf("err = %v, want ErrAlreadyAchieved", err)
	}
	after, err := env.Engine.GetRecord(env.Ctx, "org-1", domain.AdvancedReasoning)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if after.AttemptCount != 1 || after.ResearchPointsInvested != 1000 || after.Version != rec.Version {
		t.Fatalf("terminal record mutated: %+v", after)
	}
}

func TestFailedAttemptIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Roll = func() float64 { return 0.999 }
	res, err := env.Engine.AttemptAchievement(env.Ctx, engine.AttemptOptions{
		OrgID:          "org-1",
		MilestoneType:  domain.AdvancedReasoning,
		ResearchPoints: 1000,
		ComputeBudget:  500,
		ActorID:        "tester",
	})
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if res.Achieved {
		t.Fatal("roll 0.999 should fail")
	}
	rec := res.Record
	if rec.Status != domain.StatusFailed || rec.FailedAt == nil {
		t.Fatalf("record = %+v", rec)
	}
	if !rec.Status.Attemptable() {
		t.Fatal("failed status must stay attemptable")
	}
	if rec.AttemptCount != 1 {
		t.Fatalf("attempt count = %d, want 1", rec.AttemptCount)
	}

	// Resources already invested carry over; the retry succeeds with none.
	env.Engine.Roll = func() float64 { return 0 }
	res, err = env.Engine.AttemptAchievement(env.Ctx, engine.AttemptOptions{
		OrgID:         "org-1",
		MilestoneType: domain.AdvancedReasoning,
		ActorID:       "tester",
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !res.Achieved {
		t.Fatal("retry with roll 0 should succeed")
	}
	if res.Record.FailedAt != nil {
		t.Fatalf("failed_at should clear on success: %+v", res.Record)
	}
	if res.Record.AttemptCount != 2 {
		t.Fatalf("attempt count = %d, want 2", res.Record.AttemptCount)
	}
}

func TestConcurrentAttemptsAchieveExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Roll = func() float64 { return 0 }

	const workers = 4
	var wg sync.WaitGroup
	results := make([]error, workers)
	achieved := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.Engine.AttemptAchievement(env.Ctx, engine.AttemptOptions{
				OrgID:          "org-1",
				MilestoneType:  domain.AdvancedReasoning,
				ResearchPoints: 1000,
				ComputeBudget:  500,
				ActorID:        "tester",
			})
			results[i] = err
			achieved[i] = err == nil && res.Achieved
		}(i)
	}
	wg.Wait()

	wins := 0
	for i := range results {
		if achieved[i] {
			wins++
		} else if !errors.Is(results[i], engine.ErrAlreadyAchieved) && !errors.Is(results[i], engine.ErrConflict) {
			t.Fatalf("worker %d unexpected err: %v", i, results[i])
		}
	}
	if wins != 1 {
		t.Fatalf("achievements = %d, want exactly 1", wins)
	}
	rec, err := env.Engine.GetRecord(env.Ctx, "org-1", domain.AdvancedReasoning)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.Status != domain.StatusAchieved || rec.AttemptCount != 1 {
		t.Fatalf("record = %+v, want one achieved attempt", rec)
	}
}

func TestPrerequisiteUnlockAfterAchievement(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Roll = func() float64 { return 0 }

	check, err := env.Engine.CheckPrerequisites(env.Ctx, "org-1", domain.MultimodalIntegration)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if check.RequirementsMet.Prerequisites {
		t.Fatal("multimodal_integration should require advanced_reasoning first")
	}

	if _, err := env.Engine.AttemptAchievement(env.Ctx, engine.AttemptOptions{
		OrgID:          "org-1",
		MilestoneType:  domain.AdvancedReasoning,
		ResearchPoints: 1000,
		ComputeBudget:  500,
		ActorID:        "tester",
	}); err != nil {
		t.Fatalf("achieve prerequisite: %v", err)
	}

	check, err = env.Engine.CheckPrerequisites(env.Ctx, "org-1", domain.MultimodalIntegration)
	if err != nil {
		t.Fatalf("check after achievement: %v", err)
	}
	if !check.RequirementsMet.Prerequisites {
		t.Fatalf("prerequisite still missing: %+v", check)
	}
}

func TestChallengeLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Roll = func() float64 { return 0.5 }

	ch, err := env.Engine.PresentChallenge(env.Ctx, "org-1", domain.AutonomousAgents, "tester")
	if err != nil {
		t.Fatalf("present: %v", err)
	}
	if ch.ID == "" || ch.Scenario == "" {
		t.Fatalf("challenge = %+v", ch)
	}
	if ch.Resolved() {
		t.Fatal("fresh challenge should be unresolved")
	}

	// Wrong milestone path must not resolve it.
	if _, err := env.Engine.ResolveChallenge(env.Ctx, "org-1", domain.CreativeSynthesis, ch.ID, "safety", "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("cross-milestone resolve err = %v, want ErrNotFound", err)
	}

	// Unknown choice token.
	if _, err := env.Engine.ResolveChallenge(env.Ctx, "org-1", domain.AutonomousAgents, ch.ID, "abort", "tester"); !errors.Is(err, engine.ErrInvalidChoice) {
		t.Fatalf("bad choice err = %v, want ErrInvalidChoice", err)
	}

	rec, err := env.Engine.ResolveChallenge(env.Ctx, "org-1", domain.AutonomousAgents, ch.ID, "safety", "tester")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	wantSafety := 50 + ch.SafetyOption.AlignmentDelta
	if rec.Alignment.SafetyMeasures != wantSafety {
		t.Fatalf("safety measures = %v, want %v", rec.Alignment.SafetyMeasures, wantSafety)
	}
	wantReasoning := domain.DefaultCapabilityMetrics().Reasoning + ch.SafetyOption.CapabilityDelta
	if rec.Capability.Reasoning != wantReasoning {
		t.Fatalf("reasoning = %v, want %v", rec.Capability.Reasoning, wantReasoning)
	}

	// At most one resolution.
	if _, err := env.Engine.ResolveChallenge(env.Ctx, "org-1", domain.AutonomousAgents, ch.ID, "capability", "tester"); !errors.Is(err, engine.ErrInvalidChoice) {
		t.Fatalf("double resolve err = %v, want ErrInvalidChoice", err)
	}

	stored, err := env.Engine.ListChallenges(env.Ctx, "org-1", domain.AutonomousAgents)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 1 || stored[0].Choice == nil || *stored[0].Choice != domain.ChoiceSafety {
		t.Fatalf("stored challenges = %+v", stored)
	}
}

func TestChallengeDeferLeavesMetricsAlone(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Roll = func() float64 { return 0.5 }
	ch, err := env.Engine.PresentChallenge(env.Ctx, "org-1", domain.ContinualLearning, "tester")
	if err != nil {
		t.Fatalf("present: %v", err)
	}
	before, err := env.Engine.GetRecord(env.Ctx, "org-1", domain.ContinualLearning)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	after, err := env.Engine.ResolveChallenge(env.Ctx, "org-1", domain.ContinualLearning, ch.ID, "defer", "tester")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if after.Capability != before.Capability || after.Alignment != before.Alignment || after.MonthsInProgress != before.MonthsInProgress {
		t.Fatalf("defer changed metrics: before %+v after %+v", before, after)
	}
}

func TestResolveChallengeRejectsAchieved(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Roll = func() float64 { return 0 }
	ch, err := env.Engine.PresentChallenge(env.Ctx, "org-1", domain.AdvancedReasoning, "tester")
	if err != nil {
		t.Fatalf("present: %v", err)
	}
	if _, err := env.Engine.AttemptAchievement(env.Ctx, engine.AttemptOptions{
		OrgID:          "org-1",
		MilestoneType:  domain.AdvancedReasoning,
		ResearchPoints: 1000,
		ComputeBudget:  500,
		ActorID:        "tester",
	}); err != nil {
		t.Fatalf("achieve: %v", err)
	}
	achieved, err := env.Engine.GetRecord(env.Ctx, "org-1", domain.AdvancedReasoning)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	// A challenge presented before the achievement must not mutate the now
	// terminal record.
	if _, err := env.Engine.ResolveChallenge(env.Ctx, "org-1", domain.AdvancedReasoning, ch.ID, "capability", "tester"); !errors.Is(err, engine.ErrAlreadyAchieved) {
		t.Fatalf("err = %v, want ErrAlreadyAchieved", err)
	}
	after, err := env.Engine.GetRecord(env.Ctx, "org-1", domain.AdvancedReasoning)
	if err != nil {
		t.Fatalf("re-get record: %v", err)
	}
	if after.Capability != achieved.Capability || after.Alignment != achieved.Alignment {
		t.Fatalf("achieved record mutated: %+v -> %+v", achieved, after)
	}
	if after.Version != achieved.Version {
		t.Fatalf("version moved from %d to %d", achieved.Version, after.Version)
	}
}

func TestPresentChallengeRejectsAchieved(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Roll = func() float64 { return 0 }
	if _, err := env.Engine.AttemptAchievement(env.Ctx, engine.AttemptOptions{
		OrgID:          "org-1",
		MilestoneType:  domain.AdvancedReasoning,
		ResearchPoints: 1000,
		ComputeBudget:  500,
		ActorID:        "tester",
	}); err != nil {
		t.Fatalf("achieve: %v", err)
	}
	if _, err := env.Engine.PresentChallenge(env.Ctx, "org-1", domain.AdvancedReasoning, "tester"); !errors.Is(err, engine.ErrAlreadyAchieved) {
		t.Fatalf("err = %v, want ErrAlreadyAchieved", err)
	}
}

func TestReadModelsMatchStoredState(t *testing.T) {
	env := newTestEnv(t)
	rec, err := env.Engine.GetRecord(env.Ctx, "org-1", domain.AdvancedReasoning)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, err := env.Engine.Probability(env.Ctx, "org-1", domain.AdvancedReasoning)
	if err != nil {
		t.Fatalf("probability: %v", err)
	}
	want := progression.ProbabilityFromRecord(rec, 3)
	if b != want {
		t.Fatalf("probability = %+v, want %+v", b, want)
	}

	risk, err := env.Engine.Risk(env.Ctx, "org-1", domain.AdvancedReasoning)
	if err != nil {
		t.Fatalf("risk: %v", err)
	}
	// Seeded alignment leads seeded capability, so the gap is negative.
	if risk.Level != progression.RiskLow || risk.Gap >= 0 {
		t.Fatalf("risk = %+v", risk)
	}

	impact, err := env.Engine.Impact(env.Ctx, "org-1", domain.AdvancedReasoning)
	if err != nil {
		t.Fatalf("impact: %v", err)
	}
	if impact.Total <= 0 {
		t.Fatalf("impact total = %v", impact.Total)
	}

	events, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{OrgID: "org-1"})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) == 0 || events[len(events)-1].Type != "org.initialized" {
		t.Fatalf("events = %+v", events)
	}
}
