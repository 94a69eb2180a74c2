package http

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"gestureecho/monitoring"
	"gestureecho/pipeline"
)

// handleTrainModel runs one training pass. Runs are serialised; a second
// request waits for the first to finish.
func (h *Handlers) handleTrainModel(w http.ResponseWriter, r *http.Request) {
	h.trainMu.Lock()
	defer h.trainMu.Unlock()

	result, err := h.deps.Trainer.Run(r.Context())
	var precondition *pipeline.PreconditionError
	if errors.As(err, &precondition) {
		respondError(w, http.StatusBadRequest, precondition.Message)
		return
	}
	if err != nil {
		h.logger.Error("training failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.deps.HotSwap {
		h.deps.Predictor.Swap(result.Model, result.Encoder)
		h.logger.Info("prediction model replaced", zap.Strings("classes", result.Classes))
	}
	h.deps.Metrics.IncrCounter("trainings_total", 1, nil)
	h.deps.Metrics.SetGauge("model_accuracy", result.Accuracy, nil)
	h.broadcast(monitoring.Training, result)
	h.broadcast(monitoring.StatusUpdate, h.Status())

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "success",
		"message":  fmt.Sprintf("Model trained successfully with %.1f%% accuracy", result.Accuracy*100),
		"accuracy": result.Accuracy,
		"samples":  result.Samples,
		"report":   result,
	})
}
