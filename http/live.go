package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"strokerisk/monitoring"
)

// LiveHandler answers "predict" messages on the websocket with the same
// result POST /api/predict returns.
type LiveHandler struct {
	service *PredictionService
}

func NewLiveHandler(service *PredictionService) *LiveHandler {
	return &LiveHandler{service: service}
}

func (h *LiveHandler) HandleClientMessage(ctx context.Context, clientID string, msg monitoring.ClientMessage) (monitoring.Message, error) {
	if msg.Type != "predict" {
		return monitoring.Message{}, fmt.Errorf("unsupported message type %q", msg.Type)
	}

	form := DefaultFormInput()
	if len(msg.Data) > 0 {
		dec := json.NewDecoder(bytes.NewReader(msg.Data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&form); err != nil {
			return monitoring.Message{}, fmt.Errorf("invalid predict payload: %w", err)
		}
	}

	ctx = context.WithValue(ctx, RequestIDKey, clientID+"/"+msg.ID)
	res, err := h.service.Predict(ctx, form, SourceWebSocket)
	if err != nil {
		return monitoring.Message{}, err
	}
	return monitoring.NewMessage(monitoring.PredictionResult, msg.ID, res)
}
