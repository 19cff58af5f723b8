package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"

	"remix-studio-go/internal/config"
	"remix-studio-go/internal/normalizer"
	"remix-studio-go/internal/remix"
	"remix-studio-go/internal/statistics"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// maxUploadBytes bounds the raw multipart upload before normalization.
const maxUploadBytes = 64 << 20

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex

	norm   normalizer.Normalizer
	client *remix.Client
	poller *remix.Poller

	// Current job state
	jobMutex     sync.RWMutex
	currentJob   string
	currentStats *statistics.Statistics
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type snapshotPayload struct {
	PredictionID string   `json:"prediction_id"`
	Status       string   `json:"status"`
	Message      string   `json:"message,omitempty"`
	Output       []string `json:"output,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func NewServer(cfg *config.Config, log *logrus.Logger) *Server {
	httpClient := &http.Client{Timeout: cfg.Service.RequestTimeout}
	client := remix.NewClient(remix.Options{
		BaseURL:    cfg.Service.BaseURL,
		HTTPClient: httpClient,
		Logger:     log,
	})

	s := &Server{
		cfg:       cfg,
		log:       log,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
		norm:   normalizer.NewDefaultNormalizer(log),
		client: client,
		poller: remix.NewPoller(client, cfg.Service.PollInterval, log),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/remix", s.handleRemix).Methods("POST")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.poller.Stop()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, "web/templates/index.html")
}

// handleRemix accepts the browser's multipart upload, normalizes the images,
// submits the job, and begins a polling session that streams snapshots to
// connected websocket clients.
func (s *Server) handleRemix(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, "Invalid multipart body", http.StatusBadRequest)
		return
	}

	model, err := formAsset(r, "model_image")
	if err != nil {
		s.writeError(w, "Model image is required", http.StatusBadRequest)
		return
	}

	clothing := make(map[remix.Slot]normalizer.Asset)
	for _, slot := range remix.Slots() {
		asset, err := formAsset(r, slot.FieldName())
		if err != nil {
			continue
		}
		clothing[slot] = asset
	}
	if len(clothing) == 0 {
		s.writeError(w, "At least one clothing image is required", http.StatusBadRequest)
		return
	}

	numOutputs := s.cfg.Output.Count
	if raw := r.FormValue("num_outputs"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			numOutputs = n
		}
	}

	stats := statistics.NewStatistics()
	policy := s.cfg.Policy()

	assets := append([]normalizer.Asset{model}, clothingList(clothing)...)
	normalized, err := s.norm.NormalizeAll(r.Context(), assets, policy)
	if err != nil {
		stats.AddError("normalize", err)
		s.writeError(w, fmt.Sprintf("Image normalization failed: %v", err), http.StatusUnprocessableEntity)
		return
	}
	for i, asset := range assets {
		stats.RecordNormalization(asset.Size(), normalized[i].Size(), normalizer.PassedThrough(asset, normalized[i]))
	}

	normModel := normalized[0]
	normClothing := make(map[remix.Slot]normalizer.Asset, len(clothing))
	for i, slot := range presentSlots(clothing) {
		normClothing[slot] = normalized[i+1]
	}

	predictionID, err := s.client.Submit(r.Context(), normModel, normClothing, numOutputs)
	if err != nil {
		stats.AddError("submit", err)
		s.writeError(w, err.Error(), http.StatusBadGateway)
		return
	}
	stats.RecordSubmission()

	s.jobMutex.Lock()
	s.currentJob = predictionID
	s.currentStats = stats
	s.jobMutex.Unlock()

	// The previous session, if any, is canceled by Start.
	s.poller.Start(context.Background(), predictionID,
		func(snap remix.Snapshot) {
			s.broadcastWSMessage("job_update", toPayload(snap))
			if snap.Done() {
				stats.RecordTerminalStatus(string(snap.Status))
				stats.Finish()
			}
		},
		func(err error) {
			stats.AddError("poll", err)
			stats.Finish()
			s.broadcastWSMessage("job_error", map[string]interface{}{
				"prediction_id": predictionID,
				"error":         err.Error(),
			})
		},
	)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Job submitted",
		Data:    map[string]interface{}{"prediction_id": predictionID},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	predictionID := r.URL.Query().Get("prediction_id")
	if predictionID == "" {
		s.jobMutex.RLock()
		predictionID = s.currentJob
		s.jobMutex.RUnlock()
	}
	if predictionID == "" {
		s.writeError(w, "No job to query", http.StatusBadRequest)
		return
	}

	snap, err := s.client.PollOnce(r.Context(), predictionID)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadGateway)
		return
	}

	s.writeJSON(w, APIResponse{Success: true, Data: toPayload(*snap)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.poller.Stop()

	s.broadcastWSMessage("polling_canceled", map[string]interface{}{
		"message": "Polling stopped by user",
	})

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Polling stopped",
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.jobMutex.RLock()
	stats := s.currentStats
	s.jobMutex.RUnlock()

	if stats == nil {
		s.writeJSON(w, APIResponse{Success: true, Data: nil})
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary":         stats.GetSummary(),
			"savings_percent": stats.SavingsPercent(),
		},
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.RLock()
	defer s.wsMutex.RUnlock()

	for conn := range s.wsClients {
		err := conn.WriteMessage(websocket.TextMessage, msgBytes)
		if err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			go func(c *websocket.Conn) {
				s.wsMutex.Lock()
				delete(s.wsClients, c)
				s.wsMutex.Unlock()
				c.Close()
			}(conn)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}

// formAsset reads one uploaded file into an Asset.
func formAsset(r *http.Request, field string) (normalizer.Asset, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return normalizer.Asset{}, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return normalizer.Asset{}, err
	}
	return normalizer.Asset{
		Name:     header.Filename,
		MIMEType: headerContentType(header),
		Data:     data,
		ModTime:  time.Now(),
	}, nil
}

func headerContentType(header *multipart.FileHeader) string {
	return header.Header.Get("Content-Type")
}

// presentSlots returns the populated slots in submission order, matching
// the ordering used to build the normalization batch.
func presentSlots(clothing map[remix.Slot]normalizer.Asset) []remix.Slot {
	var slots []remix.Slot
	for _, slot := range remix.Slots() {
		if _, ok := clothing[slot]; ok {
			slots = append(slots, slot)
		}
	}
	return slots
}

func clothingList(clothing map[remix.Slot]normalizer.Asset) []normalizer.Asset {
	var assets []normalizer.Asset
	for _, slot := range presentSlots(clothing) {
		assets = append(assets, clothing[slot])
	}
	return assets
}

func toPayload(snap remix.Snapshot) snapshotPayload {
	return snapshotPayload{
		PredictionID: snap.PredictionID,
		Status:       string(snap.Status),
		Message:      snap.Message,
		Output:       snap.Output,
		Error:        snap.Error,
	}
}
