// Package alertapi exposes herald's HTTP surface: event ingestion, issue
// reads and operator lifecycle actions. Signed-link endpoints authenticate
// with an HMAC token instead of the bearer credential so they work from a
// chat message.
package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/herald/internal/dedup"
	"github.com/linnemanlabs/herald/internal/event"
	"github.com/linnemanlabs/herald/internal/fingerprint"
	"github.com/linnemanlabs/herald/internal/issue"
)

// IssueService defines the lifecycle operations the API needs.
type IssueService interface {
	Get(ctx context.Context, fingerprint string) (*issue.Issue, bool, error)
	ListOpen(ctx context.Context) ([]*issue.Issue, error)
	Acknowledge(ctx context.Context, fingerprint, actor string) (*issue.Issue, error)
	Resolve(ctx context.Context, fingerprint, actor, reason string) (*issue.Issue, error)
	Ignore(ctx context.Context, fingerprint, actor, reason string) (*issue.Issue, error)
}

// Ingester folds events into issues.
type Ingester interface {
	Ingest(ctx context.Context, ev *event.Event) (*dedup.Result, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger      log.Logger
	svc         IssueService
	ingester    Ingester
	tokenSecret string
}

// New creates a new API handler. An empty tokenSecret disables the signed
// ack/resolve link endpoints.
func New(logger log.Logger, svc IssueService, ingester Ingester, tokenSecret string) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("issue service is required"))
	}
	if ingester == nil {
		panic(xerrors.New("ingester is required"))
	}
	return &API{
		logger:      logger,
		svc:         svc,
		ingester:    ingester,
		tokenSecret: tokenSecret,
	}
}

// RegisterRoutes attaches API endpoints to the router. auth wraps everything
// except the signed-link endpoints, which carry their own token.
func (a *API) RegisterRoutes(r chi.Router, auth func(http.Handler) http.Handler) {
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ack", a.handleAckLink)
		r.Get("/resolve", a.handleResolveLink)

		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Post("/events", a.handleIngestEvent)
			r.Get("/issues", a.handleListIssues)
			r.Get("/issues/{fingerprint}", a.handleGetIssue)
			r.Post("/issues/{fingerprint}/ack", a.handleAcknowledge)
			r.Post("/issues/{fingerprint}/resolve", a.handleResolve)
			r.Post("/issues/{fingerprint}/ignore", a.handleIgnore)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps lifecycle errors onto HTTP statuses.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fp string) {
	var invalid *issue.InvalidTransitionError
	switch {
	case errors.Is(err, issue.ErrNotFound):
		writeError(w, http.StatusNotFound, "issue not found")
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, invalid.Error())
	case errors.Is(err, issue.ErrVersionConflict):
		writeError(w, http.StatusConflict, "concurrent update, retry")
	default:
		a.logger.Error(r.Context(), err, "issue action failed", "fingerprint", fp)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// fingerprintParam extracts and syntax-checks the fingerprint from the URL.
func fingerprintParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	fp := chi.URLParam(r, "fingerprint")
	if err := fingerprint.Validate(fp); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("herald.issue.fingerprint", fp))
	return fp, true
}
