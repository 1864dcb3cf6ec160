package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mbocsi/cloudhw/proto"
)

// Location is one site served by the configuration endpoint.
type Location struct {
	ID             string
	ControllerName string
	Devices        []proto.Device
}

func (l Location) DeviceNames() []string {
	names := make([]string, 0, len(l.Devices))
	for _, d := range l.Devices {
		names = append(names, d.Name)
	}
	return names
}

// HandleConfiguration serves GET /{Config|RemoteConfig}/{locationId}.
// Unknown locations get a Success=false body, like the cloud service.
func (s *HubServer) HandleConfiguration(w http.ResponseWriter, r *http.Request) {
	if s.options.APIKey != "" && r.Header.Get("ApiKey") != s.options.APIKey {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
		return
	}

	id := chi.URLParam(r, "locationId")
	loc, ok := s.locations[id]
	if !ok {
		slog.Warn("Configuration requested for unknown location", "location", id)
		writeJSON(w, http.StatusOK, proto.ConfigurationResponse{Success: false})
		return
	}

	slog.Debug("Serving location configuration", "location", id, "devices", len(loc.Devices))
	writeJSON(w, http.StatusOK, proto.ConfigurationResponse{
		Success: true,
		Result: proto.ConfigurationResult{
			ControllerName: loc.ControllerName,
			Devices:        loc.Devices,
		},
	})
}

type clientElement struct {
	Id          string `json:"id"`
	Name        string `json:"name"`
	ConnectedAt string `json:"connected_at"`
	LastSeen    string `json:"last_seen"`
}

// HandleClients lists the parties currently registered with the hub.
func (s *HubServer) HandleClients(w http.ResponseWriter, r *http.Request) {
	clients := s.coordinator.Registry.List()
	res := make([]clientElement, 0, len(clients))
	for _, c := range clients {
		m := c.Meta()
		m.Mu.RLock()
		res = append(res, clientElement{
			Id:          m.Id,
			Name:        m.Name,
			ConnectedAt: m.ConnectedAt.UTC().Format(timeFormat),
			LastSeen:    m.LastSeen.UTC().Format(timeFormat),
		})
		m.Mu.RUnlock()
	}
	writeJSON(w, http.StatusOK, res)
}

const timeFormat = "2006-01-02T15:04:05Z"
