package payments_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shoplight/pos-backend/internal/models"
	"github.com/shoplight/pos-backend/internal/payments"
	"github.com/shoplight/pos-backend/internal/store"
)

func signWebhook(key, body string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(testBaseURL + "/api/square/webhook"))
	mac.Write([]byte(body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, handler http.HandlerFunc, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/square/webhook", strings.NewReader(body))
	if signature != "" {
		req.Header.Set("x-square-hmacsha256-signature", signature)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func checkoutEvent(checkoutID, status, paymentID string) string {
	return fmt.Sprintf(`{
		"type": "terminal.checkout.updated",
		"data": {
			"object": {
				"checkout": {"id": %q, "status": %q, "payment_id": %q}
			}
		}
	}`, checkoutID, status, paymentID)
}

func TestWebhookCompletesCheckout(t *testing.T) {
	svc, mem, _ := newTestService(t)
	connect(t, mem, testUser)
	if _, err := mem.CreateCheckout(context.Background(), "chk_1", testUser, 3998); err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}

	body := checkoutEvent("chk_1", "COMPLETED", "pay_1")
	rec := postWebhook(t, svc.WebhookHandler(), body, signWebhook("whsec_test", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	record, err := svc.CheckoutStatus(context.Background(), testUser, "chk_1")
	if err != nil {
		t.Fatalf("CheckoutStatus failed: %v", err)
	}
	if record.Status != models.CheckoutCompleted {
		t.Errorf("Expected COMPLETED, got %s", record.Status)
	}
	if record.PaymentID != "pay_1" {
		t.Errorf("Expected payment id pay_1, got %s", record.PaymentID)
	}
	if record.CompletedAt == nil {
		t.Error("Expected completed_at to be set")
	}
}

func TestWebhookReplayIsIdempotent(t *testing.T) {
	svc, mem, _ := newTestService(t)
	connect(t, mem, testUser)
	if _, err := mem.CreateCheckout(context.Background(), "chk_1", testUser, 3998); err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}

	body := checkoutEvent("chk_1", "COMPLETED", "pay_1")
	sig := signWebhook("whsec_test", body)

	postWebhook(t, svc.WebhookHandler(), body, sig)
	first, err := svc.CheckoutStatus(context.Background(), testUser, "chk_1")
	if err != nil || first.CompletedAt == nil {
		t.Fatalf("Expected completed record after first delivery, got %+v (err %v)", first, err)
	}

	time.Sleep(10 * time.Millisecond)
	rec := postWebhook(t, svc.WebhookHandler(), body, sig)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on replay, got %d", rec.Code)
	}

	second, err := svc.CheckoutStatus(context.Background(), testUser, "chk_1")
	if err != nil {
		t.Fatalf("CheckoutStatus failed: %v", err)
	}
	if !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Errorf("Expected completed_at unchanged on replay: first %v, second %v", first.CompletedAt, second.CompletedAt)
	}
}

func TestWebhookCannotRegressTerminalStatus(t *testing.T) {
	svc, mem, _ := newTestService(t)
	connect(t, mem, testUser)
	if _, err := mem.CreateCheckout(context.Background(), "chk_1", testUser, 3998); err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}

	canceled := checkoutEvent("chk_1", "CANCELED", "")
	postWebhook(t, svc.WebhookHandler(), canceled, signWebhook("whsec_test", canceled))

	record, err := svc.CheckoutStatus(context.Background(), testUser, "chk_1")
	if err != nil {
		t.Fatalf("CheckoutStatus failed: %v", err)
	}
	if record.Status != models.CheckoutCanceled {
		t.Fatalf("Expected CANCELED, got %s", record.Status)
	}
	if record.CompletedAt == nil {
		t.Error("Expected completed_at on terminal status")
	}

	// A late COMPLETED delivery must not overwrite the terminal state.
	completed := checkoutEvent("chk_1", "COMPLETED", "pay_late")
	rec := postWebhook(t, svc.WebhookHandler(), completed, signWebhook("whsec_test", completed))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	record, err = svc.CheckoutStatus(context.Background(), testUser, "chk_1")
	if err != nil {
		t.Fatalf("CheckoutStatus failed: %v", err)
	}
	if record.Status != models.CheckoutCanceled {
		t.Errorf("Expected CANCELED to stick, got %s", record.Status)
	}
	if record.PaymentID == "pay_late" {
		t.Error("Expected late payment id to be ignored")
	}
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	svc, mem, _ := newTestService(t)
	connect(t, mem, testUser)
	if _, err := mem.CreateCheckout(context.Background(), "chk_1", testUser, 3998); err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}

	body := checkoutEvent("chk_1", "COMPLETED", "pay_1")
	rec := postWebhook(t, svc.WebhookHandler(), body, signWebhook("wrong_key", body))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 for bad signature, got %d", rec.Code)
	}

	record, err := svc.CheckoutStatus(context.Background(), testUser, "chk_1")
	if err != nil {
		t.Fatalf("CheckoutStatus failed: %v", err)
	}
	if record.Status != models.CheckoutPending {
		t.Errorf("Expected record untouched after rejected webhook, got %s", record.Status)
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	svc, mem, _ := newTestService(t)
	connect(t, mem, testUser)
	if _, err := mem.CreateCheckout(context.Background(), "chk_1", testUser, 3998); err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}

	body := checkoutEvent("chk_1", "COMPLETED", "pay_1")
	rec := postWebhook(t, svc.WebhookHandler(), body, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 for missing signature, got %d", rec.Code)
	}

	record, err := svc.CheckoutStatus(context.Background(), testUser, "chk_1")
	if err != nil {
		t.Fatalf("CheckoutStatus failed: %v", err)
	}
	if record.Status != models.CheckoutPending {
		t.Errorf("Expected record untouched, got %s", record.Status)
	}
}

func TestWebhookEventArray(t *testing.T) {
	svc, mem, _ := newTestService(t)
	connect(t, mem, testUser)
	if _, err := mem.CreateCheckout(context.Background(), "chk_1", testUser, 3998); err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}
	if _, err := mem.CreateCheckout(context.Background(), "chk_2", testUser, 500); err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}

	body := `{
		"data": [
			{"type": "terminal.checkout.updated", "checkout": {"id": "chk_1", "status": "IN_PROGRESS"}},
			{"type": "terminal.checkout.updated", "checkout": {"id": "chk_2", "status": "COMPLETED", "payment_id": "pay_2"}},
			{"type": "payment.updated"}
		]
	}`
	rec := postWebhook(t, svc.WebhookHandler(), body, signWebhook("whsec_test", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	first, err := svc.CheckoutStatus(context.Background(), testUser, "chk_1")
	if err != nil {
		t.Fatalf("CheckoutStatus failed: %v", err)
	}
	if first.Status != models.CheckoutInProgress {
		t.Errorf("Expected chk_1 IN_PROGRESS, got %s", first.Status)
	}

	second, err := svc.CheckoutStatus(context.Background(), testUser, "chk_2")
	if err != nil {
		t.Fatalf("CheckoutStatus failed: %v", err)
	}
	if second.Status != models.CheckoutCompleted {
		t.Errorf("Expected chk_2 COMPLETED, got %s", second.Status)
	}
}

func TestWebhookSkipsMalformedEvent(t *testing.T) {
	svc, mem, _ := newTestService(t)
	connect(t, mem, testUser)
	if _, err := mem.CreateCheckout(context.Background(), "chk_1", testUser, 3998); err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}

	// Unknown status and missing checkout object: both skipped, delivery
	// still acknowledged.
	body := `{
		"data": [
			{"type": "terminal.checkout.updated", "checkout": {"id": "chk_1", "status": "EXPLODED"}},
			{"type": "terminal.checkout.updated"}
		]
	}`
	rec := postWebhook(t, svc.WebhookHandler(), body, signWebhook("whsec_test", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 despite malformed events, got %d", rec.Code)
	}

	record, err := svc.CheckoutStatus(context.Background(), testUser, "chk_1")
	if err != nil {
		t.Fatalf("CheckoutStatus failed: %v", err)
	}
	if record.Status != models.CheckoutPending {
		t.Errorf("Expected record untouched by malformed event, got %s", record.Status)
	}
}

func TestWebhookUnconfiguredKey(t *testing.T) {
	mem := store.NewMemory()
	vendor := &fakeVendor{}
	svc := payments.NewService(mem, vendor, nil, testSquareConfig(""), testSiteURL, testBaseURL, payments.NewStateSigner("s", time.Minute))

	rec := postWebhook(t, svc.WebhookHandler(), "{}", "sig")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500 without a signature key, got %d", rec.Code)
	}
}

func TestVerifySignature(t *testing.T) {
	body := `{"type":"terminal.checkout.updated"}`
	url := "https://example.com/api/square/webhook"
	mac := hmac.New(sha256.New, []byte("key"))
	mac.Write([]byte(url + body))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !payments.VerifySignature("key", url, body, sig) {
		t.Error("Expected valid signature to verify")
	}
	if payments.VerifySignature("other", url, body, sig) {
		t.Error("Expected wrong key to fail")
	}
	if payments.VerifySignature("key", url, body+" ", sig) {
		t.Error("Expected altered body to fail")
	}
}
