package httpserver

import (
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"batteryswap/backend/services/reservations-service/internal/http/handlers"
	"batteryswap/backend/services/reservations-service/internal/http/middleware"
)

// stationFeedRoles may subscribe to station event feeds.
var stationFeedRoles = []string{"staff", "admin"}

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	Reservations  *handlers.ReservationHandlers
	StationEvents http.HandlerFunc
	Metrics       http.Handler
	Health        http.HandlerFunc
}

// NewRouter wires HTTP routes with middleware.
func NewRouter(deps RouterDeps, authMiddleware func(http.Handler) http.Handler, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, handler http.Handler) {
		mux.Handle(pattern, middleware.Metrics(pattern, handler))
	}
	authenticated := func(handler http.HandlerFunc) http.Handler {
		return middleware.Chain(handler, authMiddleware)
	}

	if deps.Health != nil {
		mux.Handle("/health", method(http.MethodGet, deps.Health))
	}
	if deps.Metrics != nil {
		mux.Handle("/metrics", method(http.MethodGet, deps.Metrics))
	}

	res := deps.Reservations
	handle("/api/reservations", methods(map[string]http.Handler{
		http.MethodPost: authenticated(res.Create),
		http.MethodGet:  authenticated(res.List),
	}))
	handle("/api/reservations/{id}", methods(map[string]http.Handler{
		http.MethodGet:   authenticated(res.Get),
		http.MethodPatch: authenticated(res.Update),
	}))
	handle("/api/reservations/{id}/cancel", method(http.MethodPost, authenticated(res.Cancel)))
	handle("/api/stations/{id}/availability", method(http.MethodGet, authenticated(res.Availability)))

	handle("/internal/reservations/{id}/confirm", method(http.MethodPost, http.HandlerFunc(res.Confirm)))
	handle("/internal/reservations/{id}/complete", method(http.MethodPost, http.HandlerFunc(res.Complete)))

	if deps.StationEvents != nil {
		feed := middleware.Chain(deps.StationEvents, authMiddleware, middleware.RequireRole(stationFeedRoles...))
		mux.Handle("/ws/stations/{id}/events", method(http.MethodGet, feed))
	}

	return middleware.Chain(mux, middleware.Recover(logger), middleware.AccessLog(logger))
}

func method(expected string, handler http.Handler) http.Handler {
	return methods(map[string]http.Handler{expected: handler})
}

func methods(byMethod map[string]http.Handler) http.Handler {
	allowed := make([]string, 0, len(byMethod))
	for m := range byMethod {
		allowed = append(allowed, m)
	}
	sort.Strings(allowed)
	allow := strings.Join(allowed, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler, ok := byMethod[r.Method]
		if !ok {
			w.Header().Set("Allow", allow)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
