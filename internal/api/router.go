package api

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/erazemk/najdeno/internal/cache"
	"github.com/erazemk/najdeno/internal/claims"
	"github.com/erazemk/najdeno/internal/events"
	"github.com/erazemk/najdeno/internal/media"
	"github.com/erazemk/najdeno/internal/model"
	"github.com/erazemk/najdeno/internal/payment"
)

// Deps holds everything the API needs. Events must include Cache and Hub so
// that item lists and event streams follow every change.
type Deps struct {
	DB             *sql.DB
	JWTSecret      string
	CallbackSecret string
	Claims         *claims.Service
	Payments       *payment.Orchestrator
	Cache          *cache.Items
	Media          *media.Library
	Hub            *events.Hub
	Events         events.Publisher
	HealthChecks   map[string]HealthCheck
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(d Deps) http.Handler {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	if d.Events == nil {
		d.Events = events.Nop{}
	}

	healthHandler := &HealthHandler{DB: d.DB, Checks: d.HealthChecks}
	authHandler := &AuthHandler{DB: d.DB, JWTSecret: d.JWTSecret}
	usersHandler := &UsersHandler{DB: d.DB}
	itemsHandler := &ItemsHandler{DB: d.DB, Cache: d.Cache, Media: d.Media, Events: d.Events}
	claimsHandler := &ClaimsHandler{DB: d.DB, Claims: d.Claims, Payments: d.Payments, TicketSecret: d.JWTSecret}
	paymentsHandler := &PaymentsHandler{Payments: d.Payments, CallbackSecret: d.CallbackSecret}
	eventsHandler := &EventsHandler{Hub: d.Hub}

	authMW := AuthMiddleware(d.JWTSecret, d.DB)
	ticketMW := TicketMiddleware(d.JWTSecret)
	requireAdmin := RequireRole(model.RoleAdmin)
	requireManager := RequireRole(model.RoleManager)

	admin := func(h http.HandlerFunc) http.Handler { return authMW(requireAdmin(h)) }
	manager := func(h http.HandlerFunc) http.Handler { return authMW(requireManager(h)) }
	ticket := func(h http.HandlerFunc) http.Handler { return ticketMW(h) }

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", healthHandler.Check).Methods(http.MethodGet)
	api.HandleFunc("/events", eventsHandler.Stream).Methods(http.MethodGet)

	// Staff authentication.
	api.HandleFunc("/auth/login", authHandler.Login).Methods(http.MethodPost)
	api.Handle("/auth/logout", authMW(http.HandlerFunc(authHandler.Logout))).Methods(http.MethodPost)
	api.Handle("/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword))).Methods(http.MethodPut)

	// Users (admin only).
	api.Handle("/users", admin(usersHandler.List)).Methods(http.MethodGet)
	api.Handle("/users", admin(usersHandler.Create)).Methods(http.MethodPost)
	api.Handle("/users/{id:[0-9]+}", admin(usersHandler.Update)).Methods(http.MethodPut)
	api.Handle("/users/{id:[0-9]+}", admin(usersHandler.Delete)).Methods(http.MethodDelete)
	api.Handle("/users/{id:[0-9]+}/password", admin(usersHandler.ResetPassword)).Methods(http.MethodPut)

	// Items: public reads and reports, image upload for staff.
	api.HandleFunc("/items", itemsHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/items", itemsHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/items/{id}", itemsHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/items/{id}/fields", itemsHandler.Fields).Methods(http.MethodGet)
	api.HandleFunc("/items/{id}/image", itemsHandler.GetImage).Methods(http.MethodGet)
	api.Handle("/items/{id}/image", manager(itemsHandler.UploadImage)).Methods(http.MethodPut)

	// Claims: created publicly, followed up with the claim ticket.
	api.HandleFunc("/items/{id}/claims", claimsHandler.Create).Methods(http.MethodPost)
	api.Handle("/claims", manager(claimsHandler.List)).Methods(http.MethodGet)
	api.Handle("/claims/stale", manager(claimsHandler.Stale)).Methods(http.MethodGet)
	api.Handle("/claims/{id}", ticket(claimsHandler.Get)).Methods(http.MethodGet)
	api.Handle("/claims/{id}/tip", ticket(claimsHandler.Tip)).Methods(http.MethodPost)
	api.Handle("/claims/{id}/skip", ticket(claimsHandler.Skip)).Methods(http.MethodPost)
	api.Handle("/claims/{id}/feedback", ticket(claimsHandler.Feedback)).Methods(http.MethodPut)

	// Payment gateway webhook.
	api.HandleFunc("/payments/callback/{secret}", paymentsHandler.Callback).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
