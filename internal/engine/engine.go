package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"ascent/internal/catalog"
	"ascent/internal/domain"
	"ascent/internal/events"
	"ascent/internal/progression"
	"ascent/internal/repo"
)

// casRetries bounds the optimistic write loop before ErrConflict surfaces.
const casRetries = 3

// Engine drives the progression state machine. The calculation logic lives
// in progression as pure functions; Engine owns the read-compute-CAS-write
// cycle around them. Now and Roll are injectable for tests.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Catalog *catalog.Catalog
	Now     func() time.Time
	Roll    func() float64
}

func New(db *sql.DB, cat *catalog.Catalog) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Catalog: cat,
		Now:     time.Now,
		Roll:    rand.Float64,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) roll() float64 {
	if e.Roll != nil {
		return e.Roll()
	}
	return rand.Float64()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// InitOrganization creates an organization and eagerly seeds one locked
// progression record per milestone type. Calling it again for an existing
// org fills in any missing records and returns the stored org.
func (e Engine) InitOrganization(ctx context.Context, id, name string, stance domain.AlignmentStance, actorID string) (domain.Organization, error) {
	if e.Catalog == nil {
		return domain.Organization{}, errors.New("catalog not loaded")
	}
	if id == "" {
		id = uuid.New().String()
	}
	if stance == "" {
		stance = domain.StanceBalanced
	}
	now := e.nowRFC3339()

	existing, err := e.Repo.GetOrg(ctx, id)
	created := false
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.Organization{}, err
		}
		if name == "" {
			name = id
		}
		existing = domain.Organization{ID: id, Name: name, Stance: stance, CreatedAt: now}
		created = true
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Organization{}, err
	}
	defer tx.Rollback()

	if created {
		if err := e.Repo.InsertOrg(ctx, tx, existing); err != nil {
			return domain.Organization{}, fmt.Errorf("insert org: %w", err)
		}
	}
	for _, t := range domain.AllMilestoneTypes() {
		if _, err := e.Repo.GetRecordTx(ctx, tx, id, t); err == nil {
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			return domain.Organization{}, err
		}
		rec := domain.ProgressionRecord{
			OrgID:         id,
			MilestoneType: t,
			Status:        domain.StatusLocked,
			Capability:    domain.DefaultCapabilityMetrics(),
			Alignment:     domain.DefaultAlignmentMetrics(),
			Stance:        existing.Stance,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := e.Repo.InsertRecord(ctx, tx, rec); err != nil {
			return domain.Organization{}, fmt.Errorf("seed record %s: %w", t, err)
		}
	}
	var pending []events.Pending
	if created {
		p, err := e.Events.Append(ctx, tx, "org.initialized", id, "", actorID, events.EventPayload{"name": existing.Name, "stance": existing.Stance})
		if err != nil {
			return domain.Organization{}, err
		}
		pending = append(pending, p)
	}
	if err := tx.Commit(); err != nil {
		return domain.Organization{}, err
	}
	e.Events.Mirror(ctx, pending...)
	return existing, nil
}

// GetRecord returns one progression record.
func (e Engine) GetRecord(ctx context.Context, orgID string, t domain.MilestoneType) (domain.ProgressionRecord, error) {
	return e.Repo.GetRecord(ctx, orgID, t)
}

// ListRecords returns all of an org's records in ladder order.
func (e Engine) ListRecords(ctx context.Context, orgID string) ([]domain.ProgressionRecord, error) {
	if _, err := e.Repo.GetOrg(ctx, orgID); err != nil {
		return nil, err
	}
	return e.Repo.ListRecords(ctx, orgID)
}

// CheckPrerequisites runs the gate read-only. The record and the achieved
// set are read inside one transaction so a concurrently-updating
// prerequisite cannot produce a partial view.
func (e Engine) CheckPrerequisites(ctx context.Context, orgID string, t domain.MilestoneType) (progression.PrerequisiteResult, error) {
	entry, err := e.Catalog.Entry(t)
	if err != nil {
		return progression.PrerequisiteResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return progression.PrerequisiteResult{}, err
	}
	defer tx.Rollback()
	rec, err := e.Repo.GetRecordTx(ctx, tx, orgID, t)
	if err != nil {
		return progression.PrerequisiteResult{}, err
	}
	achieved, err := e.Repo.AchievedSetTx(ctx, tx, orgID)
	if err != nil {
		return progression.PrerequisiteResult{}, err
	}
	return progression.CheckPrerequisites(entry.Requirements, achieved, rec), nil
}

// Probability recomputes the achievement probability from stored state.
func (e Engine) Probability(ctx context.Context, orgID string, t domain.MilestoneType) (progression.ProbabilityBreakdown, error) {
	entry, err := e.Catalog.Entry(t)
	if err != nil {
		return progression.ProbabilityBreakdown{}, err
	}
	rec, err := e.Repo.GetRecord(ctx, orgID, t)
	if err != nil {
		return progression.ProbabilityBreakdown{}, err
	}
	return progression.ProbabilityFromRecord(rec, entry.Complexity), nil
}

// Risk evaluates the capability-alignment gap for a record.
func (e Engine) Risk(ctx context.Context, orgID string, t domain.MilestoneType) (progression.RiskResult, error) {
	entry, err := e.Catalog.Entry(t)
	if err != nil {
		return progression.RiskResult{}, err
	}
	rec, err := e.Repo.GetRecord(ctx, orgID, t)
	if err != nil {
		return progression.RiskResult{}, err
	}
	return progression.EvaluateRisk(progression.RiskInput{
		Complexity:        entry.Complexity,
		ComplexityDivisor: e.Catalog.ComplexityDivisor(),
		Capability:        rec.Capability,
		Alignment:         rec.Alignment,
	}), nil
}

// Impact scores a record's stored consequences snapshot.
func (e Engine) Impact(ctx context.Context, orgID string, t domain.MilestoneType) (progression.ImpactResult, error) {
	rec, err := e.Repo.GetRecord(ctx, orgID, t)
	if err != nil {
		return progression.ImpactResult{}, err
	}
	var cons domain.ImpactConsequences
	if rec.Impact != nil {
		cons = *rec.Impact
	}
	return progression.ImpactScore(rec.Capability, rec.Alignment, cons), nil
}

// AttemptOptions are the caller-declared inputs of one attempt. The economy
// collaborator debits the org's balances before calling; the engine only
// records the spend.
type AttemptOptions struct {
	OrgID          string
	MilestoneType  domain.MilestoneType
	ResearchPoints float64
	ComputeBudget  float64
	ActorID        string
}

// AttemptResult reports the trial outcome and the state it produced.
type AttemptResult struct {
	Achieved    bool                             `json:"achieved"`
	Roll        float64                          `json:"roll"`
	Probability progression.ProbabilityBreakdown `json:"probability"`
	Risk        progression.RiskResult           `json:"risk"`
	Record      domain.ProgressionRecord         `json:"record"`
}

// AttemptAchievement is the sole mutator of progression status. It validates
// the gate, runs the weighted trial, and applies success or failure effects
// in a single compare-and-swap write. Resource increments persist even when
// the gate blocks the trial, since the economy has already debited them.
func (e Engine) AttemptAchievement(ctx context.Context, opts AttemptOptions) (AttemptResult, error) {
	if e.Catalog == nil {
		return AttemptResult{}, errors.New("catalog not loaded")
	}
	if opts.ResearchPoints < 0 || opts.ComputeBudget < 0 {
		return AttemptResult{}, fmt.Errorf("declared resources must be non-negative")
	}
	entry, err := e.Catalog.Entry(opts.MilestoneType)
	if err != nil {
		return AttemptResult{}, err
	}
	var lastErr error
	for i := 0; i < casRetries; i++ {
		res, err := e.attemptOnce(ctx, entry, opts)
		if errors.Is(err, repo.ErrVersionConflict) {
			lastErr = err
			continue
		}
		return res, err
	}
	return AttemptResult{}, fmt.Errorf("%w: %v", ErrConflict, lastErr)
}

func (e Engine) attemptOnce(ctx context.Context, entry catalog.Entry, opts AttemptOptions) (AttemptResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return AttemptResult{}, err
	}
	defer tx.Rollback()

	rec, err := e.Repo.GetRecordTx(ctx, tx, opts.OrgID, opts.MilestoneType)
	if err != nil {
		return AttemptResult{}, err
	}
	if rec.Status == domain.StatusAchieved {
		return AttemptResult{}, fmt.Errorf("%s: %w", opts.MilestoneType, ErrAlreadyAchieved)
	}
	fromVersion := rec.Version
	now := e.nowRFC3339()

	rec.ResearchPointsInvested += opts.ResearchPoints
	rec.ComputeBudgetSpent += opts.ComputeBudget
	rec.UpdatedAt = now

	achieved, err := e.Repo.AchievedSetTx(ctx, tx, opts.OrgID)
	if err != nil {
		return AttemptResult{}, err
	}
	check := progression.CheckPrerequisites(entry.Requirements, achieved, rec)
	if !check.CanAttempt {
		// The gate blocked the trial but the spend still counts.
		rec, err = e.Repo.UpdateRecordCAS(ctx, tx, rec, fromVersion)
		if err != nil {
			return AttemptResult{}, err
		}
		p, err := e.Events.Append(ctx, tx, "milestone.investment", opts.OrgID, string(opts.MilestoneType), opts.ActorID, events.EventPayload{
			"research_points": opts.ResearchPoints,
			"compute_budget":  opts.ComputeBudget,
			"blocked":         true,
		})
		if err != nil {
			return AttemptResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return AttemptResult{}, err
		}
		e.Events.Mirror(ctx, p)
		return AttemptResult{Record: rec}, gateError(entry, rec, check)
	}

	if rec.Status == domain.StatusLocked {
		rec.Status = domain.StatusAvailable
	}

	breakdown := progression.Probability(progression.ProbabilityInput{
		Complexity:     entry.Complexity,
		ResearchPoints: rec.ResearchPointsInvested,
		Capability:     rec.Capability,
		Alignment:      rec.Alignment,
	})
	roll := e.roll()
	rec.AttemptCount++
	rec.MonthsInProgress += entry.Requirements.EstimatedMonths

	success := roll < breakdown.Probability
	if success {
		rec.Status = domain.StatusAchieved
		rec.AchievedAt = &now
		rec.FailedAt = nil
		rec.Capability = progression.ApplyCapabilityGains(rec.Capability, entry.CapabilityGains)
		rec.Alignment = progression.ApplyAlignmentShifts(rec.Alignment, entry.AlignmentShifts)
		cons := progression.DeriveConsequences(entry.Complexity, entry.EconomicValue, rec.Capability, rec.Alignment)
		rec.Impact = &cons
	} else {
		rec.Status = domain.StatusFailed
		rec.FailedAt = &now
	}

	rec, err = e.Repo.UpdateRecordCAS(ctx, tx, rec, fromVersion)
	if err != nil {
		return AttemptResult{}, err
	}

	evtType := "milestone.attempt.failed"
	if success {
		evtType = "milestone.achieved"
	}
	p, err := e.Events.Append(ctx, tx, evtType, opts.OrgID, string(opts.MilestoneType), opts.ActorID, events.EventPayload{
		"probability": breakdown.Probability,
		"roll":        roll,
		"attempt":     rec.AttemptCount,
	})
	if err != nil {
		return AttemptResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return AttemptResult{}, err
	}
	e.Events.Mirror(ctx, p)

	return AttemptResult{
		Achieved:    success,
		Roll:        roll,
		Probability: breakdown,
		Risk: progression.EvaluateRisk(progression.RiskInput{
			Complexity:        entry.Complexity,
			ComplexityDivisor: e.Catalog.ComplexityDivisor(),
			Capability:        rec.Capability,
			Alignment:         rec.Alignment,
		}),
		Record: rec,
	}, nil
}

// gateError distinguishes a pure resource shortfall from missing
// prerequisites or metric floors.
func gateError(entry catalog.Entry, rec domain.ProgressionRecord, check progression.PrerequisiteResult) error {
	m := check.RequirementsMet
	if m.Prerequisites && m.Capability && m.Alignment {
		return InsufficientResourcesError{
			MilestoneType:          entry.Type,
			ResearchPointsRequired: entry.Requirements.ResearchPointsCost,
			ResearchPointsInvested: rec.ResearchPointsInvested,
			ComputeRequired:        entry.Requirements.ComputeBudgetRequired,
			ComputeSpent:           rec.ComputeBudgetSpent,
		}
	}
	return PrerequisitesNotMetError{MilestoneType: entry.Type, Result: check}
}

// PresentChallenge generates and persists an alignment trade-off for a
// non-achieved record.
func (e Engine) PresentChallenge(ctx context.Context, orgID string, t domain.MilestoneType, actorID string) (domain.AlignmentChallenge, error) {
	entry, err := e.Catalog.Entry(t)
	if err != nil {
		return domain.AlignmentChallenge{}, err
	}
	rec, err := e.Repo.GetRecord(ctx, orgID, t)
	if err != nil {
		return domain.AlignmentChallenge{}, err
	}
	if rec.Status == domain.StatusAchieved {
		return domain.AlignmentChallenge{}, fmt.Errorf("%s: %w", t, ErrAlreadyAchieved)
	}
	ch := progression.GenerateChallenge(t, entry.Complexity, entry.Scenario, e.roll)
	ch.ID = uuid.New().String()
	ch.OrgID = orgID
	ch.PresentedAt = e.nowRFC3339()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AlignmentChallenge{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertChallenge(ctx, tx, ch); err != nil {
		return domain.AlignmentChallenge{}, err
	}
	p, err := e.Events.Append(ctx, tx, "challenge.presented", orgID, string(t), actorID, events.EventPayload{"challenge_id": ch.ID})
	if err != nil {
		return domain.AlignmentChallenge{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AlignmentChallenge{}, err
	}
	e.Events.Mirror(ctx, p)
	return ch, nil
}

// ResolveChallenge records the org's decision and applies the chosen
// option's effects to the record. A challenge resolves at most once.
func (e Engine) ResolveChallenge(ctx context.Context, orgID string, t domain.MilestoneType, challengeID, choice, actorID string) (domain.ProgressionRecord, error) {
	if !progression.ValidChoice(choice) {
		return domain.ProgressionRecord{}, fmt.Errorf("%q: %w", choice, ErrInvalidChoice)
	}
	decided := domain.ChallengeChoice(choice)
	var lastErr error
	for i := 0; i < casRetries; i++ {
		rec, err := e.resolveOnce(ctx, orgID, t, challengeID, decided, actorID)
		if errors.Is(err, repo.ErrVersionConflict) {
			lastErr = err
			continue
		}
		return rec, err
	}
	return domain.ProgressionRecord{}, fmt.Errorf("%w: %v", ErrConflict, lastErr)
}

func (e Engine) resolveOnce(ctx context.Context, orgID string, t domain.MilestoneType, challengeID string, choice domain.ChallengeChoice, actorID string) (domain.ProgressionRecord, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProgressionRecord{}, err
	}
	defer tx.Rollback()

	ch, err := e.Repo.GetChallengeTx(ctx, tx, challengeID)
	if err != nil {
		return domain.ProgressionRecord{}, err
	}
	if ch.OrgID != orgID || ch.MilestoneType != t {
		return domain.ProgressionRecord{}, repo.ErrNotFound
	}
	if ch.Resolved() {
		return domain.ProgressionRecord{}, fmt.Errorf("challenge %s already resolved: %w", challengeID, ErrInvalidChoice)
	}
	rec, err := e.Repo.GetRecordTx(ctx, tx, orgID, t)
	if err != nil {
		return domain.ProgressionRecord{}, err
	}
	// An achieved record is immutable; a challenge presented before the
	// achievement can no longer be resolved against it.
	if rec.Status == domain.StatusAchieved {
		return domain.ProgressionRecord{}, fmt.Errorf("%s: %w", t, ErrAlreadyAchieved)
	}
	fromVersion := rec.Version
	now := e.nowRFC3339()

	rec = progression.ApplyChoice(rec, ch, choice)
	rec.UpdatedAt = now
	if err := e.Repo.ResolveChallenge(ctx, tx, challengeID, choice, now); err != nil {
		if errors.Is(err, repo.ErrVersionConflict) {
			return domain.ProgressionRecord{}, fmt.Errorf("challenge %s already resolved: %w", challengeID, ErrInvalidChoice)
		}
		return domain.ProgressionRecord{}, err
	}
	rec, err = e.Repo.UpdateRecordCAS(ctx, tx, rec, fromVersion)
	if err != nil {
		return domain.ProgressionRecord{}, err
	}
	p, err := e.Events.Append(ctx, tx, "challenge.resolved", orgID, string(t), actorID, events.EventPayload{
		"challenge_id": challengeID,
		"choice":       choice,
	})
	if err != nil {
		return domain.ProgressionRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProgressionRecord{}, err
	}
	e.Events.Mirror(ctx, p)
	return rec, nil
}

// ListChallenges returns a record's challenge history.
func (e Engine) ListChallenges(ctx context.Context, orgID string, t domain.MilestoneType) ([]domain.AlignmentChallenge, error) {
	return e.Repo.ListChallenges(ctx, orgID, t)
}
