// Package api serves the catalog, ETA, path and presence endpoints and
// mounts the relay websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"bus-relay/internal/catalog"
	"bus-relay/internal/directions"
	"bus-relay/internal/eta"
	"bus-relay/internal/feed"
	"bus-relay/internal/relay"
)

type Server struct {
	hub       *relay.Hub
	catalog   catalog.Catalog
	gateway   directions.Gateway
	engine    *eta.Engine
	navigator *eta.Navigator
}

func NewServer(hub *relay.Hub, cat catalog.Catalog, gw directions.Gateway, engine *eta.Engine, nav *eta.Navigator) *Server {
	return &Server{hub: hub, catalog: cat, gateway: gw, engine: engine, navigator: nav}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(cors)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/cities", s.handleCities).Methods("GET")
	api.HandleFunc("/cities/{city}/routes", s.handleRoutes).Methods("GET")
	api.HandleFunc("/cities/{city}/routes/{route}/etas", s.handleEtas).Methods("GET")
	api.HandleFunc("/cities/{city}/routes/{route}/etas/ws", s.handleEtaStream).Methods("GET")
	api.HandleFunc("/cities/{city}/routes/{route}/path", s.handlePath).Methods("GET")
	api.HandleFunc("/cities/{city}/routes/{route}/vehicles/{vehicle}/navigation", s.handleNavigation).Methods("GET")
	api.HandleFunc("/vehicles", s.handleVehicles).Methods("GET")
	api.HandleFunc("/gtfsrt/vehicle-positions.pb", s.handleVehiclePositions).Methods("GET")

	r.HandleFunc("/ws", s.hub.ServeWS)
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"vehicles":    s.hub.Registry().Len(),
		"connections": s.hub.Sessions(),
	})
}

func (s *Server) handleCities(w http.ResponseWriter, r *http.Request) {
	cities, err := s.catalog.ListCities(r.Context())
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cities)
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := s.catalog.ListRoutes(r.Context(), mux.Vars(r)["city"])
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, routes)
}

func (s *Server) handleEtas(w http.ResponseWriter, r *http.Request) {
	route, ok := s.route(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Compute(r.Context(), route, s.hub.Registry().Snapshot()))
}

var etaUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEtaStream pushes a fresh ETA table on every engine interval until
// the client goes away.
func (s *Server) handleEtaStream(w http.ResponseWriter, r *http.Request) {
	route, ok := s.route(w, r)
	if !ok {
		return
	}
	conn, err := etaUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("eta ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.engine.Run(ctx, route, s.hub.Registry().Snapshot, func(t eta.Table) {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(t); err != nil {
			cancel()
		}
	})
}

type pathResponse struct {
	RouteID   string        `json:"routeId"`
	Available bool          `json:"available"`
	Reason    string        `json:"reason,omitempty"`
	Segments  *eta.Segments `json:"segments,omitempty"`
}

func (s *Server) handlePath(w http.ResponseWriter, r *http.Request) {
	route, ok := s.route(w, r)
	if !ok {
		return
	}
	resp := pathResponse{RouteID: route.ID}
	path, err := s.gateway.RoutePath(r.Context(), route.StopPositions())
	if err != nil {
		log.Printf("route path %s: %v", route.ID, err)
		resp.Reason = directions.ErrorKind(err)
		writeJSON(w, http.StatusOK, resp)
		return
	}
	q := r.URL.Query()
	seg := eta.SegmentJourneyByName(path, route, q.Get("source"), q.Get("destination"))
	resp.Available = true
	resp.Segments = &seg
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNavigation(w http.ResponseWriter, r *http.Request) {
	route, ok := s.route(w, r)
	if !ok {
		return
	}
	vehicleID := mux.Vars(r)["vehicle"]
	if !route.HasVehicle(vehicleID) {
		writeError(w, http.StatusNotFound, "vehicle not assigned to route")
		return
	}
	pos, online := s.hub.Registry().Get(vehicleID)
	if !online {
		writeError(w, http.StatusNotFound, "vehicle offline")
		return
	}

	var nav eta.Navigation
	var err error
	if r.URL.Query().Get("mode") == "driver" {
		nav, err = s.navigator.ForDriver(r.Context(), route, vehicleID, pos)
	} else {
		nav, err = s.navigator.ForViewer(r.Context(), route, vehicleID, pos)
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nav)
}

func (s *Server) handleVehicles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Registry().Snapshot())
}

func (s *Server) handleVehiclePositions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cities, err := s.catalog.ListCities(ctx)
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	var routes []catalog.Route
	for _, c := range cities {
		rs, err := s.catalog.ListRoutes(ctx, c.ID)
		if err != nil {
			writeCatalogError(w, err)
			return
		}
		routes = append(routes, rs...)
	}
	data, err := feed.Marshal(feed.VehiclePositions(s.hub.Registry().Snapshot(), routes, time.Now()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	_, _ = w.Write(data)
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) (catalog.Route, bool) {
	vars := mux.Vars(r)
	route, err := catalog.FindRoute(r.Context(), s.catalog, vars["city"], vars["route"])
	if err != nil {
		writeCatalogError(w, err)
		return catalog.Route{}, false
	}
	return route, true
}

func writeCatalogError(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrCityNotFound) || errors.Is(err, catalog.ErrRouteNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	log.Printf("catalog error: %v", err)
	writeError(w, http.StatusInternalServerError, "catalog unavailable")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}
