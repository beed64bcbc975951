// Package httpapi exposes the registry over HTTP: verb dispatch, deposit
// notifications, read endpoints and the committed-event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/transfer"
	"github.com/R3E-Network/dapp_registry/internal/app/metrics"
	"github.com/R3E-Network/dapp_registry/internal/app/storage"
	"github.com/R3E-Network/dapp_registry/internal/engine"
	"github.com/R3E-Network/dapp_registry/internal/engine/events"
	"github.com/R3E-Network/dapp_registry/internal/errors"
	"github.com/R3E-Network/dapp_registry/internal/httputil"
	"github.com/R3E-Network/dapp_registry/internal/middleware"
	"github.com/R3E-Network/dapp_registry/pkg/logger"
)

// maxBodyBytes bounds action payloads and notifications.
const maxBodyBytes = 64 << 10

// defaultEntryLimit caps journal listings when no limit is requested.
const defaultEntryLimit = 100

// Deps wires the handler.
type Deps struct {
	Engine     *engine.Engine
	Dispatcher *engine.Dispatcher
	Events     *events.RingBuffer
	Auth       *middleware.AuthMiddleware
	Limiter    *middleware.RateLimiter
	CORS       *middleware.CORSMiddleware
	// Precision is the number of decimals in notified token quantities.
	Precision int
	Audit     *AuditLog
	Log       *logger.Logger
}

// handler bundles HTTP endpoints for the registry.
type handler struct {
	engine     *engine.Engine
	dispatcher *engine.Dispatcher
	events     *events.RingBuffer
	precision  int
	audit      *AuditLog
	log        *logger.Logger
}

// NewHandler returns a router exposing the registry API with its middleware
// chain applied.
func NewHandler(deps Deps) http.Handler {
	if deps.Log == nil {
		deps.Log = logger.NewDefault("httpapi")
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = engine.NewDispatcher(deps.Engine)
	}
	if deps.Auth == nil {
		deps.Auth = middleware.NewAuthMiddleware(middleware.AuthConfig{}, deps.Log)
	}
	if deps.Audit == nil {
		deps.Audit = NewAuditLog(0, nil)
	}
	if deps.Precision <= 0 {
		deps.Precision = 8
	}
	h := &handler{
		engine:     deps.Engine,
		dispatcher: deps.Dispatcher,
		events:     deps.Events,
		precision:  deps.Precision,
		audit:      deps.Audit,
		log:        deps.Log,
	}

	r := mux.NewRouter()
	r.Use(metrics.InstrumentHandler)

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/actions/{verb}", h.action).Methods(http.MethodPost)
	v1.HandleFunc("/deposits/notify", h.notifyDeposit).Methods(http.MethodPost)
	v1.HandleFunc("/validators", h.listValidators).Methods(http.MethodGet)
	v1.HandleFunc("/validators/{id}", h.getValidator).Methods(http.MethodGet)
	v1.HandleFunc("/credits/{payer}", h.getCredit).Methods(http.MethodGet)
	v1.HandleFunc("/credits/{payer}/entries", h.listEntries).Methods(http.MethodGet)
	v1.HandleFunc("/applications", h.listApplications).Methods(http.MethodGet)
	v1.HandleFunc("/applications/{app}", h.getApplication).Methods(http.MethodGet)
	v1.HandleFunc("/applications/{app}/requests", h.listRequests).Methods(http.MethodGet)
	v1.HandleFunc("/applications/{app}/requests/{id}", h.getRequest).Methods(http.MethodGet)
	v1.HandleFunc("/applications/{app}/validations", h.listValidations).Methods(http.MethodGet)
	v1.HandleFunc("/transfers", h.listTransfers).Methods(http.MethodGet)
	v1.HandleFunc("/audit", h.auditReport).Methods(http.MethodGet)
	if h.events != nil {
		v1.HandleFunc("/events", h.stream).Methods(http.MethodGet)
	}

	var out http.Handler = r
	if deps.Limiter != nil {
		out = deps.Limiter.Handler(out)
	}
	out = deps.Auth.Handler(out)
	if deps.CORS != nil {
		out = deps.CORS.Handler(out)
	}
	return middleware.NewTracingMiddleware(deps.Log).Handler(out)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// action runs POST /v1/actions/{verb} for the authenticated actor.
func (h *handler) action(w http.ResponseWriter, r *http.Request) {
	verb := mux.Vars(r)["verb"]
	actor := middleware.Actor(r.Context())

	body, err := readBody(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.dispatcher.Dispatch(r.Context(), verb, actor, body)
	h.record(r, actor, verb, err)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *handler) record(r *http.Request, actor, verb string, err error) {
	entry := AuditEntry{
		Time:    time.Now().UTC(),
		Actor:   actor,
		Verb:    verb,
		TraceID: logger.TraceID(r.Context()),
		Result:  "ok",
	}
	if err != nil {
		entry.Result = string(errors.CodeOf(err))
	}
	h.audit.add(entry)
}

func (h *handler) listValidators(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, func(ctx context.Context, tx storage.Tx) (any, error) {
		return h.engine.Services().Validators.List(ctx, tx)
	})
}

func (h *handler) getValidator(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.read(w, r, func(ctx context.Context, tx storage.Tx) (any, error) {
		return h.engine.Services().Validators.Get(ctx, tx, id)
	})
}

func (h *handler) getCredit(w http.ResponseWriter, r *http.Request) {
	payer := mux.Vars(r)["payer"]
	h.read(w, r, func(ctx context.Context, tx storage.Tx) (any, error) {
		return h.engine.Services().Credit.Balance(ctx, tx, payer)
	})
}

func (h *handler) listEntries(w http.ResponseWriter, r *http.Request) {
	payer := mux.Vars(r)["payer"]
	limit, err := queryInt(r, "limit", defaultEntryLimit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.read(w, r, func(ctx context.Context, tx storage.Tx) (any, error) {
		return h.engine.Services().Credit.Entries(ctx, tx, payer, limit)
	})
}

func (h *handler) listApplications(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, func(ctx context.Context, tx storage.Tx) (any, error) {
		return h.engine.Services().Catalog.List(ctx, tx)
	})
}

func (h *handler) getApplication(w http.ResponseWriter, r *http.Request) {
	app := mux.Vars(r)["app"]
	h.read(w, r, func(ctx context.Context, tx storage.Tx) (any, error) {
		return h.engine.Services().Catalog.Get(ctx, tx, app)
	})
}

func (h *handler) listRequests(w http.ResponseWriter, r *http.Request) {
	app := mux.Vars(r)["app"]
	h.read(w, r, func(ctx context.Context, tx storage.Tx) (any, error) {
		return h.engine.Services().Requests.List(ctx, tx, app)
	})
}

func (h *handler) getRequest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		httputil.WriteError(w, errors.InvalidField("request id %q is not a number", vars["id"]))
		return
	}
	h.read(w, r, func(ctx context.Context, tx storage.Tx) (any, error) {
		return h.engine.Services().Requests.Get(ctx, tx, vars["app"], id)
	})
}

func (h *handler) listValidations(w http.ResponseWriter, r *http.Request) {
	app := mux.Vars(r)["app"]
	h.read(w, r, func(ctx context.Context, tx storage.Tx) (any, error) {
		return h.engine.Services().Validations.List(ctx, tx, app)
	})
}

func (h *handler) listTransfers(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", transfer.StatusPending, transfer.StatusCompleted, transfer.StatusFailed:
	default:
		httputil.WriteError(w, errors.InvalidField("unknown transfer status %q", status))
		return
	}
	h.read(w, r, func(ctx context.Context, tx storage.Tx) (any, error) {
		return tx.ListTransfers(ctx, status)
	})
}

// auditReport serves the invariant audit and recent actions to the operator.
func (h *handler) auditReport(w http.ResponseWriter, r *http.Request) {
	if middleware.Actor(r.Context()) != middleware.SystemActor {
		httputil.WriteError(w, errors.Unauthorized("audit requires operator credentials"))
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	report, err := h.engine.Audit(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"report":  report,
		"actions": h.audit.listLimit(limit),
	})
}

// read runs fn in a read-only transaction and writes its result.
func (h *handler) read(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, tx storage.Tx) (any, error)) {
	var out any
	err := h.engine.View(r.Context(), func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = fn(ctx, tx)
		return err
	})
	if err != nil {
		if errors.CodeOf(err) == errors.CodeInternal {
			h.log.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("read failed")
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func readBody(r *http.Request) (json.RawMessage, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, errors.InvalidField("read body: %v", err)
	}
	if len(body) > maxBodyBytes {
		return nil, errors.FieldTooLong("request body exceeds %d bytes", maxBodyBytes)
	}
	return body, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.InvalidField("%s must be a non-negative integer", key)
	}
	return n, nil
}
