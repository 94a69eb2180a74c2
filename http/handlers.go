package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"gestureecho/db"
	"gestureecho/gesture"
	"gestureecho/monitoring"
	"gestureecho/pipeline"
	"gestureecho/predict"
	"gestureecho/speech"
	"gestureecho/storage"
)

// Deps are the long-lived components the handlers delegate to. Hub, History
// and Metrics are optional.
type Deps struct {
	Gestures  *gesture.MapStore
	Samples   *storage.SampleStore
	Predictor *predict.Service
	Speaker   *speech.Speaker
	Trainer   *pipeline.Trainer
	History   *db.DB
	Hub       *monitoring.Hub
	Metrics   *monitoring.MetricsCollector
	// HotSwap installs a freshly trained model in the prediction service.
	HotSwap bool
}

// Handlers holds the server state shared by all requests.
type Handlers struct {
	deps   Deps
	logger *zap.Logger

	mu             sync.RWMutex
	currentGesture string

	trainMu sync.Mutex
}

func NewHandlers(deps Deps, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetricsCollector()
	}
	return &Handlers{deps: deps, logger: logger, currentGesture: gesture.NoGesture}
}

// Register mounts every route on mux. The websocket route is only added
// when a hub is configured.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("POST /sensor_data", h.handleSensorData)
	mux.HandleFunc("POST /collect_data", h.handleCollectData)
	mux.HandleFunc("GET /current_status", h.handleCurrentStatus)
	mux.HandleFunc("GET /gesture_map", h.handleGetGestureMap)
	mux.HandleFunc("POST /gesture_map", h.handleUpdateGestureMap)
	mux.HandleFunc("POST /train_model", h.handleTrainModel)
	mux.HandleFunc("GET /data_stats", h.handleDataStats)
	mux.HandleFunc("GET /training_history", h.handleTrainingHistory)
	if h.deps.Hub != nil {
		mux.HandleFunc("GET /ws/status", h.deps.Hub.HandleWebSocket)
	}
}

// Status is the body of /current_status and of websocket status pushes.
type Status struct {
	CurrentGesture string            `json:"current_gesture"`
	LastPhrase     string            `json:"last_phrase"`
	ModelLoaded    bool              `json:"model_loaded"`
	ModelStale     bool              `json:"model_stale"`
	GestureMap     map[string]string `json:"gesture_map"`
}

// Status is also pushed to websocket clients on connect and after changes.
func (h *Handlers) Status() Status {
	h.mu.RLock()
	current := h.currentGesture
	h.mu.RUnlock()
	return Status{
		CurrentGesture: current,
		LastPhrase:     h.deps.Speaker.LastPhrase(),
		ModelLoaded:    h.deps.Predictor.Loaded(),
		ModelStale:     h.deps.Predictor.Stale(),
		GestureMap:     h.deps.Gestures.All(),
	}
}

// PublishGestureMap notifies websocket clients of a new mapping.
func (h *Handlers) PublishGestureMap(phrases map[string]string) {
	h.broadcast(monitoring.GestureMap, phrases)
}

func (h *Handlers) broadcast(msgType monitoring.MessageType, data any) {
	if h.deps.Hub == nil {
		return
	}
	if err := h.deps.Hub.Broadcast(msgType, data); err != nil {
		h.logger.Warn("broadcast failed", zap.String("type", string(msgType)), zap.Error(err))
	}
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"system":  h.deps.Metrics.GetSystemStats(),
		"metrics": h.deps.Metrics.Snapshot(),
	})
}

func (h *Handlers) handleSensorData(w http.ResponseWriter, r *http.Request) {
	data, err := decodeObject(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	label := h.deps.Predictor.Predict(data)
	h.mu.Lock()
	h.currentGesture = label
	h.mu.Unlock()
	h.deps.Metrics.IncrCounter("predictions_total", 1, map[string]string{"gesture": label})

	phrase, known := h.deps.Gestures.Get(label)
	if known {
		if h.deps.Speaker.Say(label, phrase) {
			h.deps.Metrics.IncrCounter("utterances_total", 1, nil)
		}
	} else {
		phrase = gesture.UnknownPhrase
	}

	h.logger.Debug("prediction",
		zap.String("request_id", GetRequestID(r.Context())),
		zap.String("gesture", label),
		zap.String("phrase", phrase),
	)
	h.broadcast(monitoring.StatusUpdate, h.Status())

	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"gesture": label,
		"phrase":  phrase,
	})
}

func (h *Handlers) handleCollectData(w http.ResponseWriter, r *http.Request) {
	data, err := decodeObject(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	label := gesture.UnknownLabel
	if raw, ok := data["gesture_label"]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			respondError(w, http.StatusBadRequest, "gesture_label must be a string")
			return
		}
		if s = gesture.NormalizeLabel(s); s != "" {
			label = s
		}
	}

	reading, err := gesture.ReadingFromMap(data)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.deps.Samples.Append(reading, label); err != nil {
		h.logger.Error("failed to append sample", zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.deps.Metrics.IncrCounter("samples_collected_total", 1, map[string]string{"gesture": label})

	respondJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Data collected"})
}

func (h *Handlers) handleCurrentStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Status())
}

func (h *Handlers) handleGetGestureMap(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.deps.Gestures.All())
}

func (h *Handlers) handleUpdateGestureMap(w http.ResponseWriter, r *http.Request) {
	var partial map[string]string
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid gesture map: %v", err))
		return
	}
	if partial == nil {
		respondError(w, http.StatusBadRequest, "invalid gesture map: expected a JSON object")
		return
	}
	if err := h.deps.Gestures.Merge(partial); err != nil {
		h.logger.Error("failed to save gesture map", zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.PublishGestureMap(h.deps.Gestures.All())

	respondJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Gesture map updated"})
}

func (h *Handlers) handleDataStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Samples.Stats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *Handlers) handleTrainingHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := h.deps.History.LoadTrainingLog(r.Context(), limit)
	if errors.Is(err, db.ErrNotInitialized) {
		runs = []db.TrainingLog{}
	} else if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// decodeObject reads a JSON object body, keeping numbers exact.
func decodeObject(r *http.Request) (map[string]any, error) {
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	var data map[string]any
	if err := decoder.Decode(&data); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if data == nil {
		return nil, errors.New("invalid JSON body: expected an object")
	}
	return data, nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode JSON", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"status": "error", "message": message})
}
