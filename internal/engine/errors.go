package engine

import (
	"errors"
	"fmt"
	"strings"

	"ascent/internal/domain"
	"ascent/internal/progression"
)

var (
	// ErrAlreadyAchieved rejects any attempt against a terminal record.
	ErrAlreadyAchieved = errors.New("milestone already achieved")
	// ErrConflict surfaces after the bounded compare-and-swap retry loop
	// still loses the race; the caller may retry.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrInvalidChoice covers unknown choice tokens and already-resolved
	// challenges.
	ErrInvalidChoice = errors.New("invalid challenge choice")
)

// PrerequisitesNotMetError blocks an attempt whose gate check failed on the
// dependency graph or the metric floors.
type PrerequisitesNotMetError struct {
	MilestoneType domain.MilestoneType
	Result        progression.PrerequisiteResult
}

func (e PrerequisitesNotMetError) Error() string {
	if len(e.Result.MissingPrerequisites) > 0 {
		names := make([]string, len(e.Result.MissingPrerequisites))
		for i, t := range e.Result.MissingPrerequisites {
			names[i] = string(t)
		}
		return fmt.Sprintf("prerequisites not met for %s: missing %s", e.MilestoneType, strings.Join(names, ", "))
	}
	return fmt.Sprintf("prerequisites not met for %s", e.MilestoneType)
}

// InsufficientResourcesError blocks an attempt where the dependency graph and
// metric floors pass but invested resources fall short of the catalog cost.
type InsufficientResourcesError struct {
	MilestoneType          domain.MilestoneType
	ResearchPointsRequired float64
	ResearchPointsInvested float64
	ComputeRequired        float64
	ComputeSpent           float64
}

func (e InsufficientResourcesError) Error() string {
	return fmt.Sprintf("insufficient resources for %s: research %.0f/%.0f, compute %.0f/%.0f",
		e.MilestoneType, e.ResearchPointsInvested, e.ResearchPointsRequired, e.ComputeSpent, e.ComputeRequired)
}
