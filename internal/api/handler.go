package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mailspool/internal/compose"
	"mailspool/internal/models"
	"mailspool/internal/service"
	"mailspool/internal/store"
	"mailspool/internal/transport"
)

type Handler struct {
	Service *service.MailService
	Log     *zap.Logger
}

type scheduleRequest struct {
	Kind         models.Kind    `json:"kind"`
	UserIDs      []int64        `json:"user_ids,omitempty"`
	Address      string         `json:"address,omitempty"`
	DeliverAfter time.Time      `json:"deliver_after"`
	Payload      models.Payload `json:"payload"`
}

func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := h.Service.Schedule(r.Context(), req.Kind, store.Recipients{
		UserIDs: req.UserIDs,
		Address: req.Address,
	}, req.DeliverAfter, &req.Payload)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"id": id,
	})
}

type sendRequest struct {
	Template  string          `json:"template"`
	UserIDs   []int64         `json:"user_ids,omitempty"`
	Addresses []string        `json:"addresses,omitempty"`
	Context   map[string]any  `json:"context,omitempty"`
	Options   compose.Options `json:"options"`
}

func (h *Handler) SendNow(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	accepted, err := h.Service.SendNow(r.Context(), req.Template, compose.Recipients{
		UserIDs:   req.UserIDs,
		Addresses: req.Addresses,
	}, req.Context, req.Options)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"accepted": accepted,
	})
}

type cancelRequest struct {
	UserID  int64       `json:"user_id,omitempty"`
	Address string      `json:"address,omitempty"`
	Kind    models.Kind `json:"kind,omitempty"`
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var err error
	switch {
	case req.UserID != 0:
		err = h.Service.CancelForUser(r.Context(), req.UserID, req.Kind)
	case req.Address != "":
		err = h.Service.CancelForBareAddress(r.Context(), req.Address, req.Kind)
	default:
		http.Error(w, "user_id or address required", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	if store.IsStorageError(err) {
		return http.StatusInternalServerError
	}
	var (
		te *transport.TransportError
		de *transport.DeliveryError
	)
	if errors.As(err, &te) || errors.As(err, &de) {
		return http.StatusBadGateway
	}
	// Everything else is a malformed request: invalid recipients,
	// payload/kind mismatch, unknown template.
	return http.StatusBadRequest
}
