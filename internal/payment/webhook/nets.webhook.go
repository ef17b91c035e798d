package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"pawledger-be/internal/apperr"
	"pawledger-be/internal/logger"
	"pawledger-be/internal/payment"
	"pawledger-be/internal/paymethod"

	"go.uber.org/zap"
)

const (
	TokenHeader  = "X-Webhook-Token"
	maxBodyBytes = 64 << 10
)

// NotificationPayload is the QR provider's payment notification.
type NotificationPayload struct {
	EventID         string `json:"event_id"`
	TxnRetrievalRef string `json:"txn_retrieval_ref"`
	ResponseCode    string `json:"response_code"`
	TxnStatus       int    `json:"txn_status"`
}

// Handler settles QR payments from provider callbacks. The callback only
// says which payment to look at; the status is re-queried before settling.
type Handler struct {
	PaymentSvc payment.Service
	Repo       payment.Repository
	token      string
}

func NewWebhookHandler(paymentSvc payment.Service, repo payment.Repository, token string) *Handler {
	return &Handler{PaymentSvc: paymentSvc, Repo: repo, token: token}
}

func (h *Handler) QRWebhookHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "webhook"),
		zap.String("provider", paymethod.NetsQR.String()),
	)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	got := r.Header.Get(TokenHeader)
	if h.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
		log.Warn("webhook token rejected")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var payload NotificationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if payload.TxnRetrievalRef == "" {
		http.Error(w, "missing txn_retrieval_ref", http.StatusBadRequest)
		return
	}
	eventID := payload.EventID
	if eventID == "" {
		eventID = payload.TxnRetrievalRef
	}

	log = log.With(zap.String("event_id", eventID), zap.String("txn_retrieval_ref", payload.TxnRetrievalRef))

	webhookID, duplicate, err := h.Repo.SaveWebhook(ctx, paymethod.NetsQR.String(), eventID, payload.TxnRetrievalRef, body)
	if err != nil {
		log.Error("failed to save webhook", zap.Error(err))
		http.Error(w, "failed to store webhook", http.StatusInternalServerError)
		return
	}
	// Only processed events are skipped. A delivery that failed or found the
	// payment pending is settled again; SettleQR replays settled payments.
	if duplicate {
		log.Info("webhook already processed")
		w.WriteHeader(http.StatusOK)
		return
	}

	res, err := h.PaymentSvc.SettleQR(ctx, payload.TxnRetrievalRef)
	switch {
	case err == nil:
		if mErr := h.Repo.MarkWebhookProcessed(ctx, webhookID); mErr != nil {
			log.Error("failed to mark webhook processed", zap.Error(mErr))
		}
		log.Info("webhook settled payment", zap.Bool("replayed", res.Replayed))
		w.WriteHeader(http.StatusOK)

	case errors.Is(err, payment.ErrPaymentPending):
		h.markFailed(r, log, webhookID, err)
		w.WriteHeader(http.StatusAccepted)

	case apperr.IsBusiness(err):
		// Final for this payment; a redelivery would not change the outcome.
		h.markFailed(r, log, webhookID, err)
		log.Warn("webhook payment not settled", zap.Error(err))
		w.WriteHeader(http.StatusOK)

	default:
		h.markFailed(r, log, webhookID, err)
		log.Error("webhook settlement failed", zap.Error(err))
		http.Error(w, apperr.Public(err), http.StatusInternalServerError)
	}
}

func (h *Handler) markFailed(r *http.Request, log *zap.Logger, webhookID int64, cause error) {
	if err := h.Repo.MarkWebhookFailed(r.Context(), webhookID, cause.Error()); err != nil {
		log.Error("failed to mark webhook failed", zap.Error(err))
	}
}
