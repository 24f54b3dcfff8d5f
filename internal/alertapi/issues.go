package alertapi

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/herald/internal/fingerprint"
	"github.com/linnemanlabs/herald/internal/issue"
)

// actionRequest is the optional body for operator lifecycle actions.
type actionRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// linkActor is recorded when a transition comes from a signed notification
// link rather than an authenticated API caller.
const linkActor = "signed-link"

func (a *API) handleListIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := a.svc.ListOpen(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list open issues")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if issues == nil {
		issues = []*issue.Issue{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"issues": issues,
		"count":  len(issues),
	})
}

func (a *API) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	fp, ok := fingerprintParam(w, r)
	if !ok {
		return
	}

	iss, found, err := a.svc.Get(r.Context(), fp)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get issue", "fingerprint", fp)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "issue not found")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("herald.issue.state", string(iss.State)))

	writeJSON(w, http.StatusOK, iss)
}

func (a *API) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	a.handleAction(w, r, func(fp string, req actionRequest) (*issue.Issue, error) {
		return a.svc.Acknowledge(r.Context(), fp, req.Actor)
	})
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	a.handleAction(w, r, func(fp string, req actionRequest) (*issue.Issue, error) {
		return a.svc.Resolve(r.Context(), fp, req.Actor, req.Reason)
	})
}

func (a *API) handleIgnore(w http.ResponseWriter, r *http.Request) {
	a.handleAction(w, r, func(fp string, req actionRequest) (*issue.Issue, error) {
		return a.svc.Ignore(r.Context(), fp, req.Actor, req.Reason)
	})
}

func (a *API) handleAction(w http.ResponseWriter, r *http.Request, act func(fp string, req actionRequest) (*issue.Issue, error)) {
	fp, ok := fingerprintParam(w, r)
	if !ok {
		return
	}

	// body is optional; an empty body means anonymous action, no reason
	var req actionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
	}
	if req.Actor == "" {
		req.Actor = "api"
	}

	iss, err := act(fp, req)
	if err != nil {
		a.writeServiceError(w, r, err, fp)
		return
	}
	writeJSON(w, http.StatusOK, iss)
}

// handleAckLink acknowledges an issue via a signed link from a notification.
func (a *API) handleAckLink(w http.ResponseWriter, r *http.Request) {
	a.handleLink(w, r, func(fp string) (*issue.Issue, error) {
		return a.svc.Acknowledge(r.Context(), fp, linkActor)
	})
}

// handleResolveLink resolves an issue via a signed link from a notification.
func (a *API) handleResolveLink(w http.ResponseWriter, r *http.Request) {
	a.handleLink(w, r, func(fp string) (*issue.Issue, error) {
		return a.svc.Resolve(r.Context(), fp, linkActor, "")
	})
}

func (a *API) handleLink(w http.ResponseWriter, r *http.Request, act func(fp string) (*issue.Issue, error)) {
	if a.tokenSecret == "" {
		writeError(w, http.StatusNotFound, "signed links disabled")
		return
	}

	fp := r.URL.Query().Get("fp")
	token := r.URL.Query().Get("t")
	if err := fingerprint.Validate(fp); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !fingerprint.VerifyToken(fp, token, a.tokenSecret) {
		writeError(w, http.StatusForbidden, "invalid token")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("herald.issue.fingerprint", fp))

	iss, err := act(fp)
	if err != nil {
		a.writeServiceError(w, r, err, fp)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"fingerprint": iss.Fingerprint,
		"state":       string(iss.State),
	})
}
