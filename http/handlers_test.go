package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"gestureecho/db"
	"gestureecho/gesture"
	"gestureecho/monitoring"
	"gestureecho/pipeline"
	"gestureecho/predict"
	"gestureecho/speech"
	"gestureecho/storage"
)

type recordingSynth struct {
	mu     sync.Mutex
	spoken []string
}

func (s *recordingSynth) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return nil
}

func (s *recordingSynth) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

type testServer struct {
	handler   http.Handler
	handlers  *Handlers
	synth     *recordingSynth
	predictor *predict.Service
	samples   *storage.SampleStore
	hub       *monitoring.Hub
}

func newTestServer(t *testing.T, hotSwap bool) *testServer {
	t.Helper()
	dir := t.TempDir()

	gestures := gesture.NewMapStore(filepath.Join(dir, "gesture_map.json"), nil)
	require.NoError(t, gestures.Load())
	samples := storage.NewSampleStore(filepath.Join(dir, "gesture_data.csv"))

	modelPath := filepath.Join(dir, "gesture_model.json")
	encoderPath := filepath.Join(dir, "label_encoder.json")
	predictor, err := predict.NewService(predict.Config{ModelPath: modelPath, EncoderPath: encoderPath, CacheSize: 32}, nil)
	require.NoError(t, err)
	require.NoError(t, predictor.Load())

	database, err := db.Open(filepath.Join(dir, "gestureecho.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	synth := &recordingSynth{}
	speaker := speech.NewSpeaker(synth, database, nil)
	t.Cleanup(func() { speaker.Close() })

	cfg := pipeline.DefaultTrainingConfig()
	cfg.ModelPath = modelPath
	cfg.EncoderPath = encoderPath
	cfg.Forest.NEstimators = 25
	trainer := pipeline.NewTrainer(cfg, samples, database, nil)

	hub := monitoring.NewHub(nil)
	go hub.Start()
	t.Cleanup(hub.Stop)

	handlers := NewHandlers(Deps{
		Gestures:  gestures,
		Samples:   samples,
		Predictor: predictor,
		Speaker:   speaker,
		Trainer:   trainer,
		History:   database,
		Hub:       hub,
		HotSwap:   hotSwap,
	}, nil)
	hub.SetSnapshot(func() any { return handlers.Status() })

	return &testServer{
		handler:   NewHandler(DefaultServerConfig(), handlers, nil),
		handlers:  handlers,
		synth:     synth,
		predictor: predictor,
		samples:   samples,
		hub:       hub,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		payload, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	var payload map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload), w.Body.String())
	}
	return w, payload
}

func reading(base float64, label string) map[string]interface{} {
	body := map[string]interface{}{
		"thumb":  base,
		"index":  base + 10,
		"middle": base + 20,
		"ring":   base + 5,
		"pinky":  base - 5,
	}
	if label != "" {
		body["gesture_label"] = label
	}
	return body
}

func (s *testServer) collectClusters(t *testing.T) {
	t.Helper()
	for i := 0; i < 6; i++ {
		w, _ := s.do(t, http.MethodPost, "/collect_data", reading(100+float64(i), "fist"))
		require.Equal(t, http.StatusOK, w.Code)
		w, _ = s.do(t, http.MethodPost, "/collect_data", reading(800-float64(i), "open_hand"))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t, false)
	w, payload := s.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", payload["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestDataStatsOnEmptyStore(t *testing.T) {
	s := newTestServer(t, false)
	w, _ := s.do(t, http.MethodGet, "/data_stats", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total_samples":0,"gestures":{}}`, w.Body.String())
}

func TestSensorDataWithoutModel(t *testing.T) {
	s := newTestServer(t, false)
	w, payload := s.do(t, http.MethodPost, "/sensor_data", reading(100, ""))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", payload["status"])
	assert.Equal(t, predict.ModelNotLoaded, payload["gesture"])
	assert.Equal(t, gesture.UnknownPhrase, payload["phrase"])

	_, status := s.do(t, http.MethodGet, "/current_status", nil)
	assert.Equal(t, predict.ModelNotLoaded, status["current_gesture"])
	assert.Equal(t, false, status["model_loaded"])
	assert.Equal(t, "", status["last_phrase"])
	assert.Empty(t, s.synth.Spoken())
}

func TestSensorDataRejectsBadBody(t *testing.T) {
	s := newTestServer(t, false)
	w, payload := s.do(t, http.MethodPost, "/sensor_data", "not json")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "error", payload["status"])
	assert.NotEmpty(t, payload["message"])
}

func TestCollectData(t *testing.T) {
	s := newTestServer(t, false)

	w, payload := s.do(t, http.MethodPost, "/collect_data", reading(100, "fist"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Data collected", payload["message"])

	w, _ = s.do(t, http.MethodPost, "/collect_data", reading(200, ""))
	require.Equal(t, http.StatusOK, w.Code)

	w, payload = s.do(t, http.MethodPost, "/collect_data", map[string]interface{}{"thumb": 1, "gesture_label": "fist"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, payload["message"], "index")

	_, stats := s.do(t, http.MethodGet, "/data_stats", nil)
	assert.Equal(t, 2.0, stats["total_samples"])
	assert.Equal(t, map[string]interface{}{"fist": 1.0, "unknown": 1.0}, stats["gestures"])
}

func TestGestureMapMergeIsIdempotent(t *testing.T) {
	s := newTestServer(t, false)
	update := map[string]string{"thumbs_up": "Great job"}

	for i := 0; i < 2; i++ {
		w, payload := s.do(t, http.MethodPost, "/gesture_map", update)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Gesture map updated", payload["message"])
	}

	_, mapping := s.do(t, http.MethodGet, "/gesture_map", nil)
	assert.Len(t, mapping, 4)
	assert.Equal(t, "Great job", mapping["thumbs_up"])
	assert.Equal(t, "Hello, how are you?", mapping["fist"])

	w, payload := s.do(t, http.MethodPost, "/gesture_map", `{"fist": 3}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "error", payload["status"])
}

func TestTrainModelPreconditions(t *testing.T) {
	s := newTestServer(t, false)

	w, payload := s.do(t, http.MethodPost, "/train_model", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No training data found. Please collect data first.", payload["message"])

	for i := 0; i < 12; i++ {
		s.do(t, http.MethodPost, "/collect_data", reading(100+float64(i), "fist"))
	}
	w, payload = s.do(t, http.MethodPost, "/train_model", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Need at least 2 different gesture types for training, have 1.", payload["message"])
}

func TestTrainWithoutHotSwapMarksModelStale(t *testing.T) {
	s := newTestServer(t, false)
	s.collectClusters(t)

	w, payload := s.do(t, http.MethodPost, "/train_model", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "success", payload["status"])
	assert.Equal(t, 12.0, payload["samples"])
	accuracy := payload["accuracy"].(float64)
	assert.GreaterOrEqual(t, accuracy, 0.0)
	assert.LessOrEqual(t, accuracy, 1.0)
	assert.Equal(t, fmt.Sprintf("Model trained successfully with %.1f%% accuracy", accuracy*100), payload["message"])

	_, status := s.do(t, http.MethodGet, "/current_status", nil)
	assert.Equal(t, false, status["model_loaded"])
	assert.Equal(t, true, status["model_stale"])

	_, history := s.do(t, http.MethodGet, "/training_history", nil)
	runs := history["runs"].([]interface{})
	require.Len(t, runs, 1)
	assert.Equal(t, 12.0, runs[0].(map[string]interface{})["data_points"])
}

func TestEndToEndTrainPredictSpeak(t *testing.T) {
	s := newTestServer(t, true)
	s.collectClusters(t)

	w, _ := s.do(t, http.MethodPost, "/train_model", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	near := reading(103, "")
	w, payload := s.do(t, http.MethodPost, "/sensor_data", near)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fist", payload["gesture"])
	assert.Equal(t, "Hello, how are you?", payload["phrase"])

	s.do(t, http.MethodPost, "/sensor_data", near)
	require.Eventually(t, func() bool { return len(s.synth.Spoken()) == 1 }, time.Second, 5*time.Millisecond)

	_, payload = s.do(t, http.MethodPost, "/sensor_data", reading(797, ""))
	assert.Equal(t, "open_hand", payload["gesture"])
	require.Eventually(t, func() bool { return len(s.synth.Spoken()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Hello, how are you?", "Thank you very much"}, s.synth.Spoken())

	_, status := s.do(t, http.MethodGet, "/current_status", nil)
	assert.Equal(t, "open_hand", status["current_gesture"])
	assert.Equal(t, "Thank you very much", status["last_phrase"])
	assert.Equal(t, true, status["model_loaded"])
	assert.Equal(t, false, status["model_stale"])
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodOptions, "/sensor_data", nil)
	req.Header.Set("Origin", "http://glove.local")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := Chain(RecoveryMiddleware(zap.NewNop()))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"status":"error","message":"internal server error"}`, w.Body.String())
}

func TestNewHandlerWithNilLogger(t *testing.T) {
	s := newTestServer(t, false)
	handler := NewHandler(DefaultServerConfig(), s.handlers, nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sensor_data", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPanicIsLoggedWithRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := middleware(DefaultServerConfig(), zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/sensor_data", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	panics := logs.FilterMessage("panic recovered").All()
	require.Len(t, panics, 1)
	assert.Equal(t, "req-42", panics[0].ContextMap()["request_id"])

	access := logs.FilterMessage("request").All()
	require.Len(t, access, 1)
	assert.Equal(t, "req-42", access[0].ContextMap()["request_id"])
	assert.Equal(t, int64(http.StatusInternalServerError), access[0].ContextMap()["status"])
}

func TestStatusWebSocket(t *testing.T) {
	s := newTestServer(t, false)
	server := httptest.NewServer(s.handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg monitoring.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, monitoring.StatusUpdate, msg.Type)

	var status Status
	require.NoError(t, json.Unmarshal(msg.Data, &status))
	assert.Equal(t, gesture.NoGesture, status.CurrentGesture)

	resp, err := http.Post(server.URL+"/gesture_map", "application/json", strings.NewReader(`{"wave":"Goodbye"}`))
	require.NoError(t, err)
	resp.Body.Close()

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, monitoring.GestureMap, msg.Type)
	assert.Contains(t, string(msg.Data), "Goodbye")
}
