package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"levra.org/internal/auth"
	"levra.org/internal/lifecycle"
	"levra.org/internal/obs"
	"levra.org/internal/stream"
)

const serviceName = "levra-portal"

// ReadyProbe: простая проверка готовности (например, ping БД).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// API: HTTP слой поверх движка жизненного цикла.
type API struct {
	router     chi.Router
	readyProbe readinessChecker
	version    string
	engine     *lifecycle.Engine
	stream     stream.Source
	roles      auth.Resolver
	validate   *validator.Validate

	devTokens   bool
	tokenTTL    time.Duration
	corsOrigins []string
	rateBurst   int
	ratePerSec  int
	heartbeat   time.Duration
}

type Option func(*API)

// WithDevTokens exposes POST /v1/auth/token, which signs a token for any
// user id. Never enabled in production.
func WithDevTokens(ttl time.Duration) Option {
	return func(a *API) {
		a.devTokens = true
		if ttl > 0 {
			a.tokenTTL = ttl
		}
	}
}

func WithCORSOrigins(origins ...string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSecond
		}
	}
}

func New(rp readinessChecker, version string, engine *lifecycle.Engine, source stream.Source, roles auth.Resolver, opts ...Option) *API {
	a := &API{
		readyProbe:  rp,
		version:     version,
		engine:      engine,
		stream:      source,
		roles:       roles,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		tokenTTL:    12 * time.Hour,
		corsOrigins: []string{"*"},
		rateBurst:   40,
		ratePerSec:  20,
		heartbeat:   15 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	// health/ready/info
	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)

	// Prometheus metrics
	r.Handle("/metrics", obs.Handler())

	if a.devTokens {
		r.Post("/v1/auth/token", a.handleAuthToken)
	}

	r.Group(func(r chi.Router) {
		r.Use(a.withAuth)

		r.Get("/v1/me", a.handleMe)
		r.Get("/v1/stream", a.Stream)

		r.Route("/v1/requests", func(r chi.Router) {
			r.Get("/", a.listRequests)
			r.Post("/", a.issueRequest)
			r.Get("/{id}", a.getRequest)
			r.Delete("/{id}", a.removeRequest)
			r.Post("/{id}/respond", a.respondToRequest)
			r.Put("/{id}/notes", a.annotateRequest)
		})
		r.Route("/v1/projects", func(r chi.Router) {
			r.Get("/", a.listProjects)
			r.Post("/", a.createProject)
			r.Get("/{id}", a.getProject)
			r.Patch("/{id}", a.updateProgress)
		})
		r.Route("/v1/payments", func(r chi.Router) {
			r.Get("/", a.listPayments)
			r.Post("/", a.requestPayment)
			r.Get("/totals", a.totals)
			r.Get("/{id}", a.getPayment)
			r.Post("/{id}/pay", a.pay)
			r.Post("/{id}/confirm", a.confirmPayment)
		})
		r.Route("/v1/admin", func(r chi.Router) {
			r.Post("/reconcile", a.reconcile)
			r.Post("/clients/{id}/retire", a.retireClient)
		})
	})
	return r
}

// Handler возвращает http.Handler со всей цепочкой middleware.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	// оборачиваем всё метриками
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	build := obs.CurrentBuild()
	info := map[string]any{
		"name":       serviceName,
		"time":       time.Now().UTC().Format(time.RFC3339),
		"version":    a.version,
		"go_version": build.GoVersion,
	}
	if build.Commit != "" {
		info["commit"] = build.Commit
	}
	if !build.StartedAt.IsZero() {
		info["uptime_seconds"] = int64(time.Since(build.StartedAt).Seconds())
	}
	writeJSON(w, http.StatusOK, info)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// bind decodes and validates a request DTO, answering 400 itself on
// failure.
func (a *API) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	case "gte":
		return fe.Field() + " must be >= " + fe.Param()
	case "max":
		return fe.Field() + " is too long"
	default:
		return fe.Field() + " is invalid"
	}
}

// writeLifecycleError maps the engine's error taxonomy onto HTTP statuses.
func writeLifecycleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrAuthorization):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, lifecycle.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, lifecycle.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, lifecycle.ErrInvalidState):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, lifecycle.ErrProcessing):
		writeError(w, r, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, lifecycle.ErrStoreUnavailable):
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusServiceUnavailable, "store unavailable")
	default:
		obs.Logger().WithError(err).WithField("request_id", RequestIDFromContext(r.Context())).Error("unhandled lifecycle error")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
