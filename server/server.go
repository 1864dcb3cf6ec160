package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type HubServerOptions struct {
	Addr      string          // Listen address for Start, e.g. ":8080"
	Locations []Location      // Served by the configuration endpoint
	APIKey    string          // Optional, required on configuration requests when set
	KeepAlive time.Duration   // Optional (defaults to 20s)
	Simulate  bool            // Run a SimulatedController for every location
	Broker    *Broker         // Optional (defaults to a Broker over Registry)
	Registry  *ClientRegistry // Optional (defaults to new Registry if nil)

	InvokeRate  float64 // Optional per-connection invocations per second
	InvokeBurst int
}

// HubServer is a self-hosted stand-in for the cloud device hub: it routes
// DeviceHub send calls between connected parties and serves location
// configuration.
type HubServer struct {
	options     HubServerOptions
	coordinator *Coordinator
	metrics     *Metrics
	signalr     *SignalRTransport
	locations   map[string]Location
	simulators  []*SimulatedController
	router      chi.Router

	mu      sync.Mutex
	server  *http.Server
	started bool
}

func NewHubServer(opts HubServerOptions) *HubServer {
	if opts.Registry == nil {
		opts.Registry = NewClientRegistry()
	}
	if opts.Broker == nil {
		opts.Broker = NewBroker(opts.Registry)
	}

	s := &HubServer{
		options:     opts,
		coordinator: NewCoordinator(opts.Registry, opts.Broker),
		metrics:     NewMetrics(opts.Registry),
		signalr:     NewSignalRTransport(),
		locations:   make(map[string]Location, len(opts.Locations)),
	}
	s.coordinator.Metrics = s.metrics
	opts.Broker.Observe(s.metrics.delivered)

	s.signalr.SetName("DeviceHub")
	s.signalr.SetDescription("SignalR WebSocket endpoint for POS clients and controllers")
	s.signalr.SetKeepAlive(opts.KeepAlive)
	s.signalr.SetInvokeLimit(opts.InvokeRate, opts.InvokeBurst)
	s.signalr.SetMetrics(s.metrics)
	s.coordinator.RegisterTransport(s.signalr)

	for _, loc := range opts.Locations {
		s.locations[loc.ID] = loc
		if opts.Simulate && loc.ControllerName != "" {
			sim := NewSimulatedController(loc.ControllerName, loc.ID, loc.DeviceNames(), opts.Broker)
			s.coordinator.RegisterClient(sim)
			s.simulators = append(s.simulators, sim)
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Mount("/signalr", s.signalr.Routes())
	r.Get("/{resource}/{locationId}", func(w http.ResponseWriter, r *http.Request) {
		switch strings.ToLower(chi.URLParam(r, "resource")) {
		case "config", "remoteconfig":
			s.HandleConfiguration(w, r)
		default:
			http.NotFound(w, r)
		}
	})
	r.Get("/clients", s.HandleClients)
	r.Handle("/metrics", s.metrics.Handler())
	s.router = r

	return s
}

func (s *HubServer) Handler() http.Handler {
	return s.router
}

func (s *HubServer) Metrics() *Metrics {
	return s.metrics
}

func (s *HubServer) Registry() *ClientRegistry {
	return s.coordinator.Registry
}

func (s *HubServer) Broker() *Broker {
	return s.coordinator.Broker
}

func (s *HubServer) Simulators() []*SimulatedController {
	return s.simulators
}

// RunSimulators starts every simulated controller; they stop with ctx.
func (s *HubServer) RunSimulators(ctx context.Context) {
	for _, sim := range s.simulators {
		go sim.Run(ctx)
	}
}

// Start serves on options.Addr until ctx is done, then shuts down.
func (s *HubServer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("hub server already started")
	}
	s.started = true
	s.server = &http.Server{
		Addr:              s.options.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.RunSimulators(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting hub server", "addr", s.options.Addr, "locations", len(s.locations), "simulators", len(s.simulators))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down hub server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

func (s *HubServer) Shutdown(ctx context.Context) error {
	s.coordinator.Shutdown()

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
