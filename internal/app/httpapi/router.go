// Package httpapi exposes the tip pipeline over HTTP.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/tip_settlement/internal/app"
	"github.com/R3E-Network/tip_settlement/internal/app/metrics"
	internalhttputil "github.com/R3E-Network/tip_settlement/internal/httputil"
	"github.com/R3E-Network/tip_settlement/internal/logging"
	"github.com/R3E-Network/tip_settlement/internal/middleware"
)

// WebhookPath receives processor events. It authenticates by signature, not
// by bearer token.
const WebhookPath = "/webhooks/stripe"

// PublicPaths bypass bearer authentication.
var PublicPaths = []string{
	"/healthz",
	"/metrics",
	"/webhooks/",
	"/processor/onboarding/",
}

// Options configure the router.
type Options struct {
	WebhookSecret string
	Auth          *middleware.AuthMiddleware
	RateLimiter   *middleware.RateLimiter
	CORS          *middleware.CORSMiddleware
	// Health reports readiness of backing stores; nil means always healthy.
	Health func(ctx context.Context) error
	Log    *logging.Logger
}

type handler struct {
	app           *app.Application
	webhookSecret string
	health        func(ctx context.Context) error
	log           *logging.Logger
}

// NewRouter returns the complete HTTP surface: routing, authentication, rate
// limiting, CORS, request logging and metrics.
func NewRouter(application *app.Application, opts Options) http.Handler {
	if opts.Log == nil {
		opts.Log = logging.NewDefault("httpapi")
	}
	h := &handler{
		app:           application,
		webhookSecret: opts.WebhookSecret,
		health:        opts.Health,
		log:           opts.Log,
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		internalhttputil.NotFound(w, req, "Route")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		internalhttputil.WriteErrorResponse(w, req, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Use(middleware.LoggingMiddleware(opts.Log))
	if opts.Auth != nil {
		r.Use(opts.Auth.Handler)
	}
	if opts.RateLimiter != nil {
		r.Use(opts.RateLimiter.Handler)
	}

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc(WebhookPath, h.stripeWebhook).Methods(http.MethodPost)

	r.HandleFunc("/tips", h.createTip).Methods(http.MethodPost)
	r.HandleFunc("/tips/received", h.receivedTips).Methods(http.MethodGet)
	r.HandleFunc("/tips/sent", h.sentTips).Methods(http.MethodGet)

	r.HandleFunc("/devices", h.registerDevice).Methods(http.MethodPost)
	r.HandleFunc("/devices", h.listDevices).Methods(http.MethodGet)

	r.HandleFunc("/processor/accounts", h.startOnboarding).Methods(http.MethodPost)
	r.HandleFunc("/processor/accounts/status", h.onboardingStatus).Methods(http.MethodGet)
	r.HandleFunc("/processor/payment-methods", h.setPaymentMethod).Methods(http.MethodPost)
	r.HandleFunc("/processor/onboarding/complete", h.onboardingPage(onboardingCompleteHTML)).Methods(http.MethodGet)
	r.HandleFunc("/processor/onboarding/refresh", h.onboardingPage(onboardingRefreshHTML)).Methods(http.MethodGet)

	r.HandleFunc("/notifications/stream", h.notificationStream).Methods(http.MethodGet)

	var root http.Handler = r
	if opts.CORS != nil {
		root = opts.CORS.Handler(root)
	}
	return metrics.InstrumentHandler(root)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.log.WithContext(r.Context()).WithError(err).Warn("health check failed")
			internalhttputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	internalhttputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// userID returns the authenticated caller or writes a 401.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := middleware.GetUserID(r.Context())
	if id == "" {
		internalhttputil.Unauthorized(w, "")
		return "", false
	}
	return id, true
}
