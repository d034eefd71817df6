package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"ascent/internal/domain"
	"ascent/internal/engine"
	"ascent/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Log      *zap.SugaredLogger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"prerequisites_not_met"`
	Message string         `json:"message" example:"prerequisites not met for superintelligence"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Ascent API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	if cfg.Log != nil {
		router.Use(newRequestLogger(cfg.Log))
	}
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Ascent API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerOrgs(group, cfg.Engine)
	registerCatalog(group, cfg.Engine)
	registerMilestones(group, cfg.Engine)
	registerAttempts(group, cfg.Engine)
	registerChallenges(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func newRequestLogger(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			log.Infow("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start).String(),
			)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var pe engine.PrerequisitesNotMetError
	if errors.As(err, &pe) {
		details := map[string]any{
			"milestone_type":        pe.MilestoneType,
			"missing_prerequisites": pe.Result.MissingPrerequisites,
			"requirements_met":      pe.Result.RequirementsMet,
		}
		return newAPIError(http.StatusUnprocessableEntity, "prerequisites_not_met", err.Error(), details)
	}
	var re engine.InsufficientResourcesError
	if errors.As(err, &re) {
		details := map[string]any{
			"milestone_type":           re.MilestoneType,
			"research_points_required": re.ResearchPointsRequired,
			"research_points_invested": re.ResearchPointsInvested,
			"compute_required":         re.ComputeRequired,
			"compute_spent":            re.ComputeSpent,
		}
		return newAPIError(http.StatusBadRequest, "insufficient_resources", err.Error(), details)
	}
	switch {
	case errors.Is(err, engine.ErrAlreadyAchieved):
		return newAPIError(http.StatusConflict, "already_achieved", err.Error(), nil)
	case errors.Is(err, engine.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidChoice):
		return newAPIError(http.StatusBadRequest, "invalid_choice", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "unknown milestone"):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "negative"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "prerequisites_not_met"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func parseMilestoneType(s string) (domain.MilestoneType, error) {
	if !domain.ValidMilestoneType(s) {
		return "", fmt.Errorf("unknown milestone type %s", s)
	}
	return domain.MilestoneType(s), nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Ascent API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerOrgs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-org",
		Method:        http.MethodPost,
		Path:          "/orgs",
		Summary:       "Create organization",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateOrgRequest `json:"body"`
	}) (*struct {
		Body domain.Organization `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		stance := domain.AlignmentStance(input.Body.Stance)
		if input.Body.Stance == "" {
			stance = domain.StanceBalanced
		}
		switch stance {
		case domain.StanceSafetyFirst, domain.StanceBalanced, domain.StanceCapabilityFirst:
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid stance", nil)
		}
		o, err := e.InitOrganization(ctx, input.Body.ID, input.Body.Name, stance, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Organization `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-orgs",
		Method:      http.MethodGet,
		Path:        "/orgs",
		Summary:     "List organizations",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Organization `json:"body"`
	}, error) {
		items, err := e.Repo.ListOrgs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Organization `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-org",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}",
		Summary:     "Get organization",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body domain.Organization `json:"body"`
	}, error) {
		o, err := e.Repo.GetOrg(ctx, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Organization `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "org-status",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/status",
		Summary:     "Organization progression summary",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		o, err := e.Repo.GetOrg(ctx, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountRecordsByStatus(ctx, o.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"org_id":           o.ID,
			"stance":           o.Stance,
			"milestone_counts": counts,
		}}, nil
	})
}

func registerCatalog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-catalog",
		Method:      http.MethodGet,
		Path:        "/catalog/milestones",
		Summary:     "List milestone definitions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []CatalogEntryResponse `json:"body"`
	}, error) {
		return &struct {
			Body []CatalogEntryResponse `json:"body"`
		}{Body: mapCatalogEntries(e.Catalog.Entries())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-catalog-entry",
		Method:      http.MethodGet,
		Path:        "/catalog/milestones/{type}",
		Summary:     "Get milestone definition",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Type string `path:"type"`
	}) (*struct {
		Body CatalogEntryResponse `json:"body"`
	}, error) {
		t, err := parseMilestoneType(input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		entry, err := e.Catalog.Entry(t)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CatalogEntryResponse `json:"body"`
		}{Body: catalogEntryResponse(entry)}, nil
	})
}

type MilestonePath struct {
	OrgID string `path:"org_id"`
	Type  string `path:"type"`
}

func registerMilestones(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-milestones",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/milestones",
		Summary:     "List progression records",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body []domain.ProgressionRecord `json:"body"`
	}, error) {
		if _, err := e.Repo.GetOrg(ctx, input.OrgID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListRecords(ctx, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ProgressionRecord `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-milestone",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/milestones/{type}",
		Summary:     "Get progression record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *MilestonePath) (*struct {
		Body domain.ProgressionRecord `json:"body"`
	}, error) {
		t, err := parseMilestoneType(input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		rec, err := e.GetRecord(ctx, input.OrgID, t)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProgressionRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-prerequisites",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/milestones/{type}/prerequisites",
		Summary:     "Check attempt gate",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *MilestonePath) (*struct {
		Body progressionCheckBody `json:"body"`
	}, error) {
		t, err := parseMilestoneType(input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.CheckPrerequisites(ctx, input.OrgID, t)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body progressionCheckBody `json:"body"`
		}{Body: progressionCheckBody{
			MilestoneType:        t,
			CanAttempt:           res.CanAttempt,
			MissingPrerequisites: res.MissingPrerequisites,
			RequirementsMet:      res.RequirementsMet,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "milestone-probability",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/milestones/{type}/probability",
		Summary:     "Achievement probability breakdown",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *MilestonePath) (*struct {
		Body probabilityBody `json:"body"`
	}, error) {
		t, err := parseMilestoneType(input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		b, err := e.Probability(ctx, input.OrgID, t)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body probabilityBody `json:"body"`
		}{Body: probabilityBody{MilestoneType: t, Breakdown: b}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "milestone-risk",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/milestones/{type}/risk",
		Summary:     "Capability-alignment risk evaluation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *MilestonePath) (*struct {
		Body riskBody `json:"body"`
	}, error) {
		t, err := parseMilestoneType(input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		r, err := e.Risk(ctx, input.OrgID, t)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body riskBody `json:"body"`
		}{Body: riskBody{MilestoneType: t, Risk: r}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "milestone-impact",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/milestones/{type}/impact",
		Summary:     "Impact score and consequences",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *MilestonePath) (*struct {
		Body impactBody `json:"body"`
	}, error) {
		t, err := parseMilestoneType(input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		r, err := e.Impact(ctx, input.OrgID, t)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body impactBody `json:"body"`
		}{Body: impactBody{MilestoneType: t, Impact: r}}, nil
	})
}

func registerAttempts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "attempt-milestone",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/milestones/{type}/attempts",
		Summary:       "Run an achievement trial",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		MilestonePath
		Body AttemptRequest `json:"body"`
	}) (*struct {
		Body engine.AttemptResult `json:"body"`
	}, error) {
		t, err := parseMilestoneType(input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.AttemptAchievement(ctx, engine.AttemptOptions{
			OrgID:          input.OrgID,
			MilestoneType:  t,
			ResearchPoints: input.Body.ResearchPoints,
			ComputeBudget:  input.Body.ComputeBudget,
			ActorID:        actorIDFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.AttemptResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerChallenges(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "present-challenge",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/milestones/{type}/challenges",
		Summary:       "Present an alignment challenge",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *MilestonePath) (*struct {
		Body domain.AlignmentChallenge `json:"body"`
	}, error) {
		t, err := parseMilestoneType(input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		ch, err := e.PresentChallenge(ctx, input.OrgID, t, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AlignmentChallenge `json:"body"`
		}{Body: ch}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-challenges",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/milestones/{type}/challenges",
		Summary:     "List alignment challenges",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *MilestonePath) (*struct {
		Body []domain.AlignmentChallenge `json:"body"`
	}, error) {
		t, err := parseMilestoneType(input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListChallenges(ctx, input.OrgID, t)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AlignmentChallenge `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "resolve-challenge",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/milestones/{type}/challenges/{challenge_id}/resolution",
		Summary:       "Resolve an alignment challenge",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		MilestonePath
		ChallengeID string                  `path:"challenge_id"`
		Body        ResolveChallengeRequest `json:"body"`
	}) (*struct {
		Body domain.ProgressionRecord `json:"body"`
	}, error) {
		t, err := parseMilestoneType(input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		rec, err := e.ResolveChallenge(ctx, input.OrgID, t, input.ChallengeID, input.Body.Choice, actorIDFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProgressionRecord `json:"body"`
		}{Body: rec}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/events",
		Summary:     "Tail the progression log",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID         string `path:"org_id"`
		MilestoneType string `query:"milestone_type"`
		Type          string `query:"type"`
		Limit         int    `query:"limit"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if _, err := e.Repo.GetOrg(ctx, input.OrgID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			OrgID:         input.OrgID,
			MilestoneType: input.MilestoneType,
			Type:          input.Type,
			Limit:         input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
