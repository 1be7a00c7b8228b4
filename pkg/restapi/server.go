// Package restapi implements the administrative REST Boundary (spec
// §4.6): thin JSON translators onto the Node Registry and State
// Manager.
package restapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/piccolo-project/piccolo/pkg/log"
	"github.com/piccolo-project/piccolo/pkg/metrics"
	"github.com/piccolo-project/piccolo/pkg/perrors"
	"github.com/piccolo-project/piccolo/pkg/registry"
	"github.com/piccolo-project/piccolo/pkg/statemanager"
	"github.com/piccolo-project/piccolo/pkg/types"
)

// Server wires the Node Registry and State Manager behind a chi
// router.
type Server struct {
	Router chi.Router

	reg    *registry.Registry
	mgr    *statemanager.Manager
	logger zerolog.Logger
}

// CORSOptions configures cross-origin access; the zero value disables
// CORS handling.
type CORSOptions struct {
	AllowedOrigins []string
}

// NewServer constructs a Server and mounts every route named in spec
// §4.6.
func NewServer(reg *registry.Registry, mgr *statemanager.Manager, cors_ CORSOptions) *Server {
	s := &Server{
		Router: chi.NewRouter(),
		reg:    reg,
		mgr:    mgr,
		logger: log.WithComponent("restapi"),
	}

	r := s.Router.(*chi.Mux)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics)
	if len(cors_.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cors_.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/cluster/health", s.handleClusterHealth)
		r.Get("/topology", s.handleTopology)
		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", s.handleListNodes)
			r.Post("/", s.handleRegisterNode)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetNode)
				r.Delete("/", s.handleDeregisterNode)
				r.Post("/status", s.handleUpdateNodeStatus)
			})
		})
	})

	return s
}

func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(timer.Duration().Seconds())
		metrics.APIRequestsTotal.WithLabelValues(route, http.StatusText(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondErr(w http.ResponseWriter, err error) {
	kind := perrors.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case perrors.KindInvalidArgument:
		status = http.StatusBadRequest
	case perrors.KindNotFound:
		status = http.StatusNotFound
	case perrors.KindConflict:
		status = http.StatusConflict
	case perrors.KindUnavailable:
		status = http.StatusServiceUnavailable
	}
	respond(w, status, map[string]string{"error": err.Error()})
}

// registerNodeBody is the request body for POST /api/v1/nodes.
type registerNodeBody struct {
	NodeName  string              `json:"node_name" validate:"required"`
	IPAddress string              `json:"ip_address" validate:"required,ip"`
	Role      types.NodeRole      `json:"role" validate:"required,oneof=Master Sub"`
	Resources types.NodeResources `json:"resources"`
	Labels    map[string]string   `json:"labels,omitempty"`
}

func (s *Server) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var body registerNodeBody
	if err := decode(r, &body); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if verrs := validateStruct(body); len(verrs) > 0 {
		respond(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "details": verrs})
		return
	}

	id, err := s.reg.Register(body.NodeName, body.IPAddress, body.Role, body.Resources, body.Labels)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusCreated, map[string]string{"node_id": id})
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.reg.List()
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, nodes)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.reg.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, node)
}

func (s *Server) handleDeregisterNode(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.Deregister(chi.URLParam(r, "id")); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateStatusBody struct {
	Status types.NodeStatus `json:"status" validate:"required,oneof=Initializing Online Offline Error Maintenance"`
}

func (s *Server) handleUpdateNodeStatus(w http.ResponseWriter, r *http.Request) {
	var body updateStatusBody
	if err := decode(r, &body); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if verrs := validateStruct(body); len(verrs) > 0 {
		respond(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "details": verrs})
		return
	}

	if err := s.reg.StatusUpdate(chi.URLParam(r, "id"), body.Status); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	topo, err := s.reg.Topology()
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"master": topo.Master, "subs": topo.Subs})
}

// clusterHealth is the aggregated view returned by
// GET /api/v1/cluster/health.
type clusterHealth struct {
	NodesByStatus    map[string]int `json:"nodes_by_status"`
	PackagesByState  map[string]int `json:"packages_by_state"`
	CheckedAt        string         `json:"checked_at"`
}

func (s *Server) handleClusterHealth(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.reg.List()
	if err != nil {
		respondErr(w, err)
		return
	}
	nodesByStatus := make(map[string]int)
	for _, n := range nodes {
		nodesByStatus[string(n.Status)]++
	}

	packages, err := s.mgr.ListState("package")
	if err != nil {
		respondErr(w, err)
		return
	}
	packagesByState := make(map[string]int)
	for _, state := range packages {
		packagesByState[state]++
	}

	respond(w, http.StatusOK, clusterHealth{
		NodesByStatus:   nodesByStatus,
		PackagesByState: packagesByState,
		CheckedAt:       time.Now().UTC().Format(time.RFC3339),
	})
}
