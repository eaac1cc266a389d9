package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testWebhookSecret = "hook-secret"

func signWebhookBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func signedPushRequest(body string) *http.Request {
	req := httptest.NewRequest("POST", "/webhooks/push", strings.NewReader(body))
	req.Header.Set(webhookHeaderSignature, signWebhookBody(testWebhookSecret, []byte(body)))
	req.Header.Set(webhookHeaderDelivery, "delivery-1")
	return req
}

func TestVerifyWebhookSignature_OK(t *testing.T) {
	body := []byte(`{"ref":"refs/tags/v1.2.3"}`)
	sig := signWebhookBody("s3cret", body)
	if err := verifyWebhookSignature("s3cret", body, sig); err != nil {
		t.Fatalf("verifyWebhookSignature failed: %v", err)
	}
}

func TestVerifyWebhookSignature_Rejects(t *testing.T) {
	body := []byte(`{"ref":"refs/tags/v1.2.3"}`)
	tests := []struct {
		name   string
		header string
	}{
		{"wrong scheme", "sha1=deadbeef"},
		{"bad hex", "sha256=zzzz"},
		{"wrong secret", signWebhookBody("other-secret", body)},
		{"empty", ""},
	}
	for _, tc := range tests {
		if err := verifyWebhookSignature("s3cret", body, tc.header); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestPushWebhookTriggersRunForReleaseTag(t *testing.T) {
	f := newTestAPI(t)
	body := `{"ref":"refs/tags/v1.2.3","after":"1111111111111111111111111111111111111111","deleted":false,"head_commit":{"id":"2222222222222222222222222222222222222222"}}`

	rec := f.do(signedPushRequest(body))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Location"); got != "/runs/"+testRunID {
		t.Fatalf("unexpected Location %q", got)
	}

	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["status"] != "accepted" || resp["tag"] != "v1.2.3" {
		t.Fatalf("unexpected body %v", resp)
	}

	reqs := f.trigger.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one trigger, got %d", len(reqs))
	}
	got := reqs[0]
	if got.Tag != "v1.2.3" || got.Source != "webhook" || got.Actor != "webhook" {
		t.Fatalf("unexpected trigger %+v", got)
	}
	if got.Commit != "2222222222222222222222222222222222222222" {
		t.Fatalf("commit must come from head_commit, got %q", got.Commit)
	}
	if got.Delivery != "delivery-1" {
		t.Fatalf("unexpected delivery %q", got.Delivery)
	}
}

func TestPushWebhookFallsBackToAfterCommit(t *testing.T) {
	f := newTestAPI(t)
	body := `{"ref":"refs/tags/v3.0.1","after":"3333333333333333333333333333333333333333"}`

	rec := f.do(signedPushRequest(body))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	reqs := f.trigger.requests()
	if len(reqs) != 1 || reqs[0].Commit != "3333333333333333333333333333333333333333" {
		t.Fatalf("unexpected trigger %+v", reqs)
	}
}

func TestPushWebhookIgnoresBranchPush(t *testing.T) {
	f := newTestAPI(t)
	body := `{"ref":"refs/heads/main","after":"1111111111111111111111111111111111111111"}`

	rec := f.do(signedPushRequest(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["status"] != "ignored" {
		t.Fatalf("unexpected body %v", resp)
	}
	if got := len(f.trigger.requests()); got != 0 {
		t.Fatalf("branch push must not trigger a run, got %d", got)
	}
}

func TestPushWebhookIgnoresNonReleaseTag(t *testing.T) {
	f := newTestAPI(t)
	for _, ref := range []string{"refs/tags/nightly", "refs/tags/v1.2", "refs/tags/v1.2.3-rc1", "refs/tags/1.2.3"} {
		body := `{"ref":"` + ref + `","after":"1111111111111111111111111111111111111111"}`
		rec := f.do(signedPushRequest(body))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", ref, rec.Code)
		}
	}
	if got := len(f.trigger.requests()); got != 0 {
		t.Fatalf("non-release tags must not trigger runs, got %d", got)
	}
}

func TestPushWebhookIgnoresDeletedTag(t *testing.T) {
	f := newTestAPI(t)

	deleted := `{"ref":"refs/tags/v1.2.3","after":"1111111111111111111111111111111111111111","deleted":true}`
	rec := f.do(signedPushRequest(deleted))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["reason"] != "deleted_ref" {
		t.Fatalf("unexpected body %v", resp)
	}

	zeroAfter := `{"ref":"refs/tags/v1.2.3","after":"` + zeroSHA + `"}`
	rec = f.do(signedPushRequest(zeroAfter))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}

	if got := len(f.trigger.requests()); got != 0 {
		t.Fatalf("deleted refs must not trigger runs, got %d", got)
	}
}

func TestPushWebhookRejectsMissingSignature(t *testing.T) {
	f := newTestAPI(t)
	req := httptest.NewRequest("POST", "/webhooks/push", strings.NewReader(`{"ref":"refs/tags/v1.2.3"}`))

	rec := f.do(req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["error"] != "signature_required" {
		t.Fatalf("unexpected error %v", resp)
	}
}

func TestPushWebhookRejectsBadSignature(t *testing.T) {
	f := newTestAPI(t)
	req := httptest.NewRequest("POST", "/webhooks/push", strings.NewReader(`{"ref":"refs/tags/v1.2.3"}`))
	req.Header.Set(webhookHeaderSignature, signWebhookBody(testWebhookSecret, []byte(`tampered`)))

	rec := f.do(req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["error"] != "signature_invalid" {
		t.Fatalf("unexpected error %v", resp)
	}
	if got := len(f.trigger.requests()); got != 0 {
		t.Fatalf("bad signatures must not trigger runs, got %d", got)
	}
}

func TestPushWebhookRejectsInvalidJSON(t *testing.T) {
	f := newTestAPI(t)

	rec := f.do(signedPushRequest(`not json`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["error"] != "invalid_json" {
		t.Fatalf("unexpected error %v", resp)
	}
}
