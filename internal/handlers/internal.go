package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/httpx"
	"github.com/hanko-field/orderflow/internal/platform/requestctx"
)

// InternalHandlers exposes endpoints called by other services, such as Cloud Scheduler driving
// the sweeps when the in-process clock is disabled. Authentication is applied by the router's
// internal middleware group.
type InternalHandlers struct {
	sweeps SweepTrigger
}

// NewInternalHandlers constructs the internal handlers.
func NewInternalHandlers(sweeps SweepTrigger) *InternalHandlers {
	return &InternalHandlers{sweeps: sweeps}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders:sweep", h.sweep)
}

func (h *InternalHandlers) sweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sweeps == nil {
		httpx.WriteError(ctx, w, httpx.NewError("automation_unavailable", "order automation unavailable", http.StatusServiceUnavailable))
		return
	}

	report := h.sweeps.RunOnce(ctx)

	caller := "unknown"
	if identity, ok := auth.ServiceIdentityFromContext(ctx); ok && identity != nil {
		caller = identity.Subject
	}
	advanced := 0
	for _, result := range report.Results {
		advanced += result.Advanced
	}
	requestctx.Logger(ctx).Info("order sweep triggered",
		zap.String("caller", caller),
		zap.Int("advanced", advanced),
		zap.Int("errors", len(report.Errors)),
	)

	writeJSONResponse(w, http.StatusOK, buildSweepReportPayload(report))
}
