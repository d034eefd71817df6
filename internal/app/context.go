package app

import (
	"context"
	"errors"
	"fmt"

	"ascent/internal/domain"
	"ascent/internal/engine"
	"ascent/internal/repo"
)

// ResolveOrg picks the active organization: the override when given,
// otherwise the single org in the workspace. When the override names an org
// that does not exist yet it is initialized on the fly with seeded records.
func ResolveOrg(ctx context.Context, e engine.Engine, orgOverride, actorID string) (domain.Organization, error) {
	if orgOverride == "" {
		orgs, err := e.Repo.ListOrgs(ctx)
		if err != nil {
			return domain.Organization{}, err
		}
		switch len(orgs) {
		case 0:
			return domain.Organization{}, fmt.Errorf("no organization exists; create one with asc org create")
		case 1:
			return orgs[0], nil
		default:
			return domain.Organization{}, fmt.Errorf("multiple organizations exist; specify --org")
		}
	}
	org, err := e.Repo.GetOrg(ctx, orgOverride)
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Organization{}, err
	}
	return e.InitOrganization(ctx, orgOverride, orgOverride, domain.StanceBalanced, actorID)
}
