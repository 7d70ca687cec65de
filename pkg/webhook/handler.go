package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/khenson99/ralph-loop-orchestrator-sub000/internal/errors"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/metrics"
)

// RecordEventParams is what the handler asks the repository to persist for
// a freshly verified delivery.
type RecordEventParams struct {
	DeliveryID  string
	EventType   string
	SourceOwner string
	SourceRepo  string
	Payload     []byte
}

// EventRecorder is the subset of C3 (the Workflow Repository) the webhook
// endpoint needs: idempotent event insertion.
type EventRecorder interface {
	RecordEventIfNew(ctx context.Context, params RecordEventParams) (inserted bool, eventID string, err error)
}

// Enqueuer is the subset of C8 (the Orchestrator Service) the webhook
// endpoint needs: non-blocking, O(1) enqueue of a freshly recorded envelope.
type Enqueuer interface {
	Enqueue(env Envelope) error
}

// Handler serves POST /webhooks/github.
type Handler struct {
	secret  []byte
	store   EventRecorder
	queue   Enqueuer
	dedupe  *DedupeCache
	logger  *zap.Logger
}

func NewHandler(secret []byte, store EventRecorder, queue Enqueuer, dedupe *DedupeCache, logger *zap.Logger) *Handler {
	return &Handler{secret: secret, store: store, queue: queue, dedupe: dedupe, logger: logger}
}

type acceptedResponse struct {
	Accepted  bool   `json:"accepted"`
	EventID   string `json:"eventId,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ServeHTTP implements the inbound webhook contract in spec §6.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	eventName := r.Header.Get("x-github-event")
	deliveryID := r.Header.Get("x-github-delivery")
	signature := r.Header.Get("x-hub-signature-256")

	if eventName == "" || deliveryID == "" {
		h.reject(w, http.StatusBadRequest, "missing_headers", eventName)
		return
	}

	// Raw body bytes must be preserved before any JSON decoding so the
	// signature verifies against exactly what the sender signed (§4.1).
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		h.reject(w, http.StatusBadRequest, "invalid_body", eventName)
		return
	}

	if signature == "" {
		h.writeJSON(w, http.StatusUnauthorized, acceptedResponse{Accepted: false, Reason: "missing_signature"})
		metrics.RecordWebhookEvent(eventName, "missing_signature")
		return
	}

	if !VerifySignature(h.secret, body, signature) {
		h.writeJSON(w, http.StatusUnauthorized, acceptedResponse{Accepted: false, Reason: "invalid_signature"})
		metrics.RecordWebhookEvent(eventName, "invalid_signature")
		return
	}

	if !json.Valid(body) {
		h.reject(w, http.StatusBadRequest, "invalid_json", eventName)
		return
	}

	if !IsActionableEvent(eventName, body) {
		h.writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: false, Reason: "event_not_actionable"})
		metrics.RecordWebhookEvent(eventName, "ignored")
		return
	}

	taskRef := extractTaskRef(body)
	if taskRef == nil {
		h.writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: false, Reason: "missing_issue_number"})
		metrics.RecordWebhookEvent(eventName, "missing_issue_number")
		return
	}

	ctx := r.Context()

	if h.dedupe.SeenRecently(ctx, deliveryID) {
		h.writeJSON(w, http.StatusOK, acceptedResponse{Accepted: false, Duplicate: true})
		metrics.RecordWebhookEvent(eventName, "duplicate")
		return
	}

	var payload struct {
		Repository struct {
			Owner struct {
				Login string `json:"login"`
			} `json:"owner"`
			Name string `json:"name"`
		} `json:"repository"`
	}
	_ = json.Unmarshal(body, &payload)

	inserted, eventID, err := h.store.RecordEventIfNew(ctx, RecordEventParams{
		DeliveryID:  deliveryID,
		EventType:   eventName,
		SourceOwner: payload.Repository.Owner.Login,
		SourceRepo:  payload.Repository.Name,
		Payload:     body,
	})
	if err != nil {
		h.logger.Warn("record event failed", zap.Error(err), zap.String("delivery_id", deliveryID))
		h.reject(w, http.StatusInternalServerError, apperrors.SafeErrorMessage(err), eventName)
		return
	}

	h.dedupe.MarkSeen(ctx, deliveryID)

	if !inserted {
		h.writeJSON(w, http.StatusOK, acceptedResponse{Accepted: false, Duplicate: true})
		metrics.RecordWebhookEvent(eventName, "duplicate")
		return
	}

	env := Map(eventName, deliveryID, eventID, body)
	if env.EventID == "" {
		env.EventID = uuid.NewString()
	}

	if err := h.queue.Enqueue(env); err != nil {
		h.logger.Warn("enqueue failed", zap.Error(err), zap.String("event_id", eventID))
		h.reject(w, http.StatusInternalServerError, apperrors.SafeErrorMessage(err), eventName)
		return
	}

	h.writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: true, EventID: eventID})
	metrics.RecordWebhookEvent(eventName, "accepted")
}

func (h *Handler) reject(w http.ResponseWriter, status int, reason, eventType string) {
	h.writeJSON(w, status, acceptedResponse{Accepted: false, Reason: reason})
	metrics.RecordWebhookEvent(eventType, "error")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
