// Package monitor serves the receiver's status and control API over HTTP,
// together with a debug chart of recent resultant forces.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/tac3d.report/internal/httputil"
	"github.com/banshee-data/tac3d.report/internal/tactile"
	"github.com/banshee-data/tac3d.report/internal/tactile/session"
	"github.com/banshee-data/tac3d.report/internal/tactile/storage/sqlite"
	"github.com/banshee-data/tac3d.report/internal/version"
)

const (
	defaultFramesLimit = 100
	maxFramesLimit     = 1000
	shutdownTimeout    = 1 * time.Second
)

// SensorController is the part of a session the server reads and drives.
type SensorController interface {
	Sensors() []session.Endpoint
	Calibrate(sensorID string) error
	Quit(sensorID string) error
	Ready() bool
}

// FrameLister reads recorded frame summaries.
type FrameLister interface {
	RecentFrames(sensorID string, limit int) ([]sqlite.FrameRecord, error)
}

// SensorStatus is the JSON view of a session endpoint.
type SensorStatus struct {
	SensorID       string  `json:"sensor_id"`
	Address        string  `json:"address"`
	Model          string  `json:"model"`
	MeshRows       int     `json:"mesh_rows"`
	MeshCols       int     `json:"mesh_cols"`
	LastFrameIndex uint32  `json:"last_frame_index"`
	LastReceive    float64 `json:"last_receive"`
	Frames         int64   `json:"frames"`
}

// Health is the /health document.
type Health struct {
	Status    string       `json:"status"`
	Service   string       `json:"service"`
	Ready     bool         `json:"ready"`
	Build     version.Info `json:"build"`
	Timestamp string       `json:"timestamp"`
}

// WebServerConfig contains configuration options for the web server
type WebServerConfig struct {
	// Address is the HTTP listen address, e.g. ":8081".
	Address string
	// Sensors is required.
	Sensors SensorController
	Stats   *tactile.DatagramStats
	// History feeds the force chart. Nil disables the chart and /api/history.
	History *ForceHistory
	// Frames backs /api/frames. Nil when no recorder is configured.
	Frames FrameLister
}

// WebServer handles the HTTP interface for monitoring and controlling sensors
type WebServer struct {
	address string
	sensors SensorController
	stats   *tactile.DatagramStats
	history *ForceHistory
	frames  FrameLister
	server  *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewWebServer creates a new web server with the provided configuration
func NewWebServer(config WebServerConfig) *WebServer {
	stats := config.Stats
	if stats == nil {
		stats = tactile.NewDatagramStats()
	}
	ws := &WebServer{
		address: config.Address,
		sensors: config.Sensors,
		stats:   stats,
		history: config.History,
		frames:  config.Frames,
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.setupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

// Start serves HTTP until ctx is cancelled, then shuts the server down. It
// returns early with an error if the address cannot be bound.
func (ws *WebServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", ws.address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", ws.address, err)
	}
	ws.mu.Lock()
	ws.listener = ln
	ws.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", ln.Addr())
		if err := ws.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// Addr returns the bound address once Start has begun listening.
func (ws *WebServer) Addr() net.Addr {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.listener == nil {
		return nil
	}
	return ws.listener.Addr()
}

// Handler exposes the route table for embedding and tests.
func (ws *WebServer) Handler() http.Handler { return ws.server.Handler }

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/sensors", ws.handleSensors)
	mux.HandleFunc("/api/sensors/calibrate", ws.handleControl(SensorController.Calibrate, "calibrate"))
	mux.HandleFunc("/api/sensors/quit", ws.handleControl(SensorController.Quit, "quit"))
	mux.HandleFunc("/api/history", ws.handleHistory)
	mux.HandleFunc("/api/frames", ws.handleFrames)
	mux.HandleFunc("/debug/charts/force", ws.handleForceChart)

	return mux
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, Health{
		Status:    "ok",
		Service:   "tac3d",
		Ready:     ws.sensors.Ready(),
		Build:     version.Get(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, ws.stats.Snapshot())
}

func (ws *WebServer) handleSensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	endpoints := ws.sensors.Sensors()
	out := make([]SensorStatus, 0, len(endpoints))
	for _, ep := range endpoints {
		addr := ""
		if ep.Addr != nil {
			addr = ep.Addr.String()
		}
		out = append(out, SensorStatus{
			SensorID:       ep.SensorID,
			Address:        addr,
			Model:          ep.Model.Name,
			MeshRows:       ep.Model.Rows,
			MeshCols:       ep.Model.Cols,
			LastFrameIndex: ep.LastFrameIndex,
			LastReceive:    ep.LastReceive,
			Frames:         ep.Frames,
		})
	}
	httputil.WriteJSONOK(w, out)
}

// handleControl sends a control command to the sensor named by ?sn=.
func (ws *WebServer) handleControl(send func(SensorController, string) error, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w, http.MethodPost)
			return
		}
		sn := r.URL.Query().Get("sn")
		if sn == "" {
			httputil.BadRequest(w, "missing 'sn' parameter")
			return
		}
		err := send(ws.sensors, sn)
		switch {
		case err == nil:
			httputil.WriteJSONOK(w, map[string]string{"status": "sent", "command": name, "sensor_id": sn})
		case errors.Is(err, session.ErrSensorNotConnected):
			httputil.NotFound(w, err.Error())
		case errors.Is(err, session.ErrSessionClosed):
			httputil.Conflict(w, err.Error())
		default:
			httputil.InternalServerError(w, fmt.Sprintf("%s: %v", name, err))
		}
	}
}

// sensorParam returns ?sn=, defaulting to the only sensor with history.
func (ws *WebServer) sensorParam(r *http.Request) (string, bool) {
	if sn := r.URL.Query().Get("sn"); sn != "" {
		return sn, true
	}
	if ws.history == nil {
		return "", false
	}
	if sensors := ws.history.Sensors(); len(sensors) == 1 {
		return sensors[0], true
	}
	return "", false
}

func (ws *WebServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if ws.history == nil {
		httputil.NotFound(w, "force history is disabled")
		return
	}
	sn, ok := ws.sensorParam(r)
	if !ok {
		httputil.BadRequest(w, "missing 'sn' parameter")
		return
	}
	httputil.WriteJSONOK(w, ws.history.Samples(sn))
}

// handleFrames returns recorded frame summaries, newest first.
// Query params:
//
//	sn (optional, all sensors when empty)
//	limit (optional, default 100, max 1000)
func (ws *WebServer) handleFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if ws.frames == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no database configured for frame lookup")
		return
	}
	limit := defaultFramesLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid 'limit' parameter %q", l))
			return
		}
		limit = min(n, maxFramesLimit)
	}
	records, err := ws.frames.RecentFrames(r.URL.Query().Get("sn"), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("recent frames: %v", err))
		return
	}
	if records == nil {
		records = []sqlite.FrameRecord{}
	}
	httputil.WriteJSONOK(w, records)
}
