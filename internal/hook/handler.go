package hook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/channelgate/channelgate/internal/lifecycle"
	"github.com/channelgate/channelgate/pkg/logger"
)

// Config holds the webhook endpoint credentials. Leaving both empty
// disables authentication, which is logged loudly at construction.
type Config struct {
	Username string `env:"WEBHOOK_USERNAME"`
	Password string `env:"WEBHOOK_PASSWORD"`
}

// Coordinator is the slice of the lifecycle coordinator the webhook
// ingestor drives.
type Coordinator interface {
	ApplyPaymentEvent(ctx context.Context, ref string, outcome lifecycle.Outcome, periodDays int) ([]lifecycle.Effect, error)
}

// Executor carries out the side effects a state transition produced.
// Executor failures are logged and never surfaced to the provider; the
// transition itself is already committed.
type Executor interface {
	Execute(ctx context.Context, effects []lifecycle.Effect) error
}

// Handler serves the provider webhook and the liveness endpoint.
type Handler struct {
	coord Coordinator
	exec  Executor
	cfg   Config
	ready func(context.Context) error
	log   *slog.Logger
}

// Option configures optional Handler settings.
type Option func(*Handler)

// WithLogger supplies the handler's logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithReadiness adds a dependency check behind GET /ready. Without it the
// route reports ready unconditionally.
func WithReadiness(check func(context.Context) error) Option {
	return func(h *Handler) {
		if check != nil {
			h.ready = check
		}
	}
}

// NewHandler builds the webhook HTTP handler. Panics if coord or exec
// is nil to fail fast during initialization.
func NewHandler(coord Coordinator, exec Executor, cfg Config, opts ...Option) *Handler {
	if coord == nil {
		panic("hook: coordinator is required")
	}
	if exec == nil {
		panic("hook: effect executor is required")
	}

	h := &Handler{coord: coord, exec: exec, cfg: cfg, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}

	if cfg.Username == "" || cfg.Password == "" {
		h.log.Warn("webhook authentication is not configured, accepting unauthenticated calls")
	}
	return h
}

// Router returns the chi router exposing POST /webhook/lava and GET /health.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
	r.Group(func(r chi.Router) {
		r.Use(h.basicAuth)
		r.Post("/webhook/lava", h.handleWebhook)
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, map[string]string{"status": "Webhook server is running"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.log.ErrorContext(r.Context(), "readiness check failed", logger.Error(err))
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(errorBody("dependency unavailable"))
			return
		}
	}
	respond(w, map[string]string{"status": "ready"})
}

// handleWebhook acknowledges every authenticated delivery with HTTP 200.
// The provider retries on any non-2xx, so a malformed or unknown payload is
// logged and acknowledged rather than bounced into an endless retry loop.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.log.ErrorContext(ctx, "failed to read webhook body", logger.Error(err))
		respond(w, errorBody("failed to read request body"))
		return
	}

	event, err := parseEvent(body)
	if err != nil {
		h.log.WarnContext(ctx, "unparseable webhook payload acknowledged", logger.Error(err))
		respond(w, errorBody("Invalid data format"))
		return
	}

	h.log.InfoContext(ctx, "processing payment event",
		logger.PaymentRef(event.PaymentRef),
		slog.String("outcome", string(event.Outcome)),
		slog.String("payload_variant", event.Variant))

	effects, err := h.coord.ApplyPaymentEvent(ctx, event.PaymentRef, event.Outcome, 0)
	switch {
	case errors.Is(err, lifecycle.ErrUnknownPaymentRef):
		// Accepted but unknown to us: the provider must not redeliver.
		h.log.WarnContext(ctx, "payment event for unknown reference acknowledged",
			logger.PaymentRef(event.PaymentRef))
		respond(w, successBody())
		return
	case err != nil:
		h.log.ErrorContext(ctx, "failed to apply payment event",
			logger.PaymentRef(event.PaymentRef), logger.Error(err))
		respond(w, errorBody("internal error"))
		return
	}

	if len(effects) > 0 {
		// The transition is committed; executor trouble must not make the
		// provider redeliver an already-applied event.
		if err := h.exec.Execute(ctx, effects); err != nil {
			h.log.ErrorContext(ctx, "failed to execute payment event effects",
				logger.PaymentRef(event.PaymentRef), logger.Error(err))
		}
	}

	respond(w, successBody())
}

// basicAuth enforces HTTP Basic credentials with constant-time comparison.
// With no credentials configured the check is a pass-through.
func (h *Handler) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.Username == "" || h.cfg.Password == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.cfg.Username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.cfg.Password)) == 1
		if !ok || !userOK || !passOK {
			h.log.WarnContext(r.Context(), "webhook authentication failed",
				slog.String("username", user))
			w.Header().Set("WWW-Authenticate", `Basic realm="webhook"`)
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func successBody() map[string]string {
	return map[string]string{"status": "success"}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"status": "error", "message": msg}
}

func respond(w http.ResponseWriter, body map[string]string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}
