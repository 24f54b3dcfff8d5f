package alertapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/herald/internal/event"
	"github.com/linnemanlabs/herald/internal/fingerprint"
)

// handleIngestEvent accepts a single detector event and folds it into the
// issue table. The response carries the fingerprint and outcome so detectors
// can correlate their submissions.
func (a *API) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("herald.event.source", ev.Source))

	res, err := a.ingester.Ingest(r.Context(), &ev)
	if err != nil {
		var cfgErr *fingerprint.ConfigError
		switch {
		case errors.As(err, &cfgErr) && cfgErr.EventMissingFields:
			// the detector omitted every identity field for its source
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &cfgErr):
			// server-side misconfiguration, not the caller's fault
			a.logger.Error(r.Context(), err, "fingerprint config rejected ingest", "source", ev.Source)
			writeError(w, http.StatusInternalServerError, "fingerprint configuration error")
		case ev.Validate() != nil:
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			a.logger.Error(r.Context(), err, "ingest failed", "source", ev.Source)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	span.SetAttributes(
		attribute.String("herald.issue.fingerprint", res.Fingerprint),
		attribute.String("herald.ingest.outcome", string(res.Outcome)),
	)

	writeJSON(w, http.StatusAccepted, res)
}
