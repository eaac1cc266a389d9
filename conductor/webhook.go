package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/slipway-labs/slipway-go/internal/domain"
	"github.com/slipway-labs/slipway-go/internal/platform/auditlog"
)

const (
	webhookHeaderSignature = "X-Slipway-Signature"
	webhookHeaderDelivery  = "X-Slipway-Delivery"
)

// zeroSHA is the after value of a deleted-ref push.
const zeroSHA = "0000000000000000000000000000000000000000"

type pushPayload struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Deleted    bool   `json:"deleted"`
	HeadCommit struct {
		ID string `json:"id"`
	} `json:"head_commit"`
}

func (api *conductorAPI) handlePushWebhook(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(api.webhookSecret) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	delivery := strings.TrimSpace(r.Header.Get(webhookHeaderDelivery))
	sig := strings.TrimSpace(r.Header.Get(webhookHeaderSignature))
	if sig == "" {
		api.auditWebhookReject(r, delivery, "", "missing_signature")
		api.writeError(w, r, http.StatusUnauthorized, "signature_required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		api.auditWebhookReject(r, delivery, "", "body_read_failed")
		api.writeError(w, r, http.StatusBadRequest, "invalid_body")
		return
	}

	if err := verifyWebhookSignature(api.webhookSecret, body, sig); err != nil {
		api.auditWebhookReject(r, delivery, "", "invalid_signature")
		api.writeError(w, r, http.StatusUnauthorized, "signature_invalid")
		return
	}

	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		api.auditWebhookReject(r, delivery, "", "invalid_json")
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	ref := strings.TrimSpace(payload.Ref)
	after := strings.TrimSpace(payload.After)
	if payload.Deleted || after == zeroSHA {
		api.logger.Info("push ignored", "ref", ref, "reason", "deleted_ref", "delivery", delivery)
		api.writeJSON(w, http.StatusOK, map[string]any{"status": "ignored", "reason": "deleted_ref"})
		return
	}

	tagName, isTag := strings.CutPrefix(ref, "refs/tags/")
	if !isTag || !domain.IsReleaseTag(tagName) {
		api.logger.Info("push ignored", "ref", ref, "delivery", delivery)
		api.writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	commit := strings.TrimSpace(payload.HeadCommit.ID)
	if commit == "" {
		commit = after
	}

	runID, err := api.triggers.Trigger(r.Context(), triggerRequest{
		Tag:       tagName,
		Commit:    commit,
		Source:    "webhook",
		Actor:     "webhook",
		Delivery:  delivery,
		RequestID: r.Header.Get("X-Request-Id"),
		IP:        requestIP(r.RemoteAddr),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		api.logger.Error("trigger run from webhook", "tag", tagName, "delivery", delivery, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.logger.Info("release run triggered", "run_id", runID, "tag", tagName, "delivery", delivery)
	w.Header().Set("Location", "/runs/"+runID)
	api.writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"run_id": runID,
		"tag":    tagName,
	})
}

// verifyWebhookSignature checks a sha256=<hex> HMAC of the raw body against
// the shared secret.
func verifyWebhookSignature(secret string, body []byte, header string) error {
	raw, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok {
		return errors.New("unsupported signature scheme")
	}
	got, err := hex.DecodeString(raw)
	if err != nil {
		return errors.New("invalid signature encoding")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return errors.New("invalid signature")
	}
	return nil
}

func (api *conductorAPI) auditWebhookReject(r *http.Request, delivery string, ref string, reason string) {
	payload := map[string]any{
		"service": "conductor",
		"reason":  reason,
	}
	if delivery != "" {
		payload["delivery"] = delivery
	}
	if ref != "" {
		payload["ref"] = ref
	}

	resourceID := delivery
	if resourceID == "" {
		resourceID = r.Header.Get("X-Request-Id")
	}
	_, _ = auditlog.Insert(r.Context(), api.db, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        "webhook",
		Action:       "push_webhook.reject",
		ResourceType: "push_webhook",
		ResourceID:   resourceID,
		RequestID:    r.Header.Get("X-Request-Id"),
		IP:           requestIP(r.RemoteAddr),
		UserAgent:    r.UserAgent(),
		Payload:      payload,
	})
}
