package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/shopforge/storefront-backend/internal/fulfillment"
	"github.com/shopforge/storefront-backend/internal/inventory"
	"github.com/shopforge/storefront-backend/pkg/db/models"
	pkgerrors "github.com/shopforge/storefront-backend/pkg/errors"
)

const testSecret = "whsec_test"

func TestStripeWebhook_FulfilledReturnsOrderID(t *testing.T) {
	orderID := uuid.New()
	service := &fakeFulfillmentService{
		outcome: &fulfillment.Outcome{
			Status: fulfillment.StatusFulfilled,
			Order:  &models.Order{ID: orderID, OrderNumber: 1001},
		},
	}
	guard := newTestGuard(t)
	handler := StripeWebhook(service, &fakeSigningClient{secret: testSecret}, guard, nil, nil)

	payload, header := buildSignedEvent(t)
	rec := performWebhook(handler, payload, header)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["received"])
	assert.Equal(t, orderID.String(), body["orderId"])
	assert.Equal(t, 1, service.calls)
}

func TestStripeWebhook_DuplicateEventShortCircuits(t *testing.T) {
	service := &fakeFulfillmentService{
		outcome: &fulfillment.Outcome{
			Status: fulfillment.StatusFulfilled,
			Order:  &models.Order{ID: uuid.New()},
		},
	}
	guard := newTestGuard(t)
	handler := StripeWebhook(service, &fakeSigningClient{secret: testSecret}, guard, nil, nil)

	payload, header := buildSignedEvent(t)
	rec := performWebhook(handler, payload, header)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, service.calls)

	rec2 := performWebhook(handler, payload, header)
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, 1, service.calls)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &body))
	assert.Equal(t, true, body["received"])
}

func TestStripeWebhook_InvalidSignatureRejected(t *testing.T) {
	service := &fakeFulfillmentService{}
	guard := newTestGuard(t)
	handler := StripeWebhook(service, &fakeSigningClient{secret: testSecret}, guard, nil, nil)

	payload, _ := buildSignedEvent(t)
	rec := performWebhook(handler, payload, "t=1,v1=deadbeef")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, service.calls)
}

func TestStripeWebhook_MissingSignatureRejected(t *testing.T) {
	handler := StripeWebhook(&fakeFulfillmentService{}, &fakeSigningClient{secret: testSecret}, newTestGuard(t), nil, nil)

	payload, _ := buildSignedEvent(t)
	rec := performWebhook(handler, payload, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStripeWebhook_StockFailureReturns500AndReleasesGuard(t *testing.T) {
	service := &fakeFulfillmentService{
		outcome: &fulfillment.Outcome{
			Status: fulfillment.StatusStockFailure,
			StockErr: &inventory.StockUnavailableError{
				ProductName: "Mug",
				Requested:   2,
				Available:   1,
			},
		},
	}
	guard := newTestGuard(t)
	handler := StripeWebhook(service, &fakeSigningClient{secret: testSecret}, guard, nil, nil)

	payload, header := buildSignedEvent(t)
	rec := performWebhook(handler, payload, header)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["received"])
	assert.Equal(t, "Stock unavailable", body["error"])
	assert.NotEmpty(t, body["message"])

	// Guard released: the gateway's retry reaches the service again.
	rec2 := performWebhook(handler, payload, header)
	require.Equal(t, http.StatusInternalServerError, rec2.Code)
	assert.Equal(t, 2, service.calls)
}

func TestStripeWebhook_ServiceErrorReleasesGuard(t *testing.T) {
	service := &fakeFulfillmentService{
		err: pkgerrors.New(pkgerrors.CodeDependency, "database unavailable"),
	}
	guard := newTestGuard(t)
	handler := StripeWebhook(service, &fakeSigningClient{secret: testSecret}, guard, nil, nil)

	payload, header := buildSignedEvent(t)
	rec := performWebhook(handler, payload, header)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec2 := performWebhook(handler, payload, header)
	require.Equal(t, http.StatusInternalServerError, rec2.Code)
	assert.Equal(t, 2, service.calls)
}

func TestStripeWebhook_IgnoredEventAcknowledged(t *testing.T) {
	service := &fakeFulfillmentService{
		outcome: &fulfillment.Outcome{Status: fulfillment.StatusIgnored},
	}
	handler := StripeWebhook(service, &fakeSigningClient{secret: testSecret}, newTestGuard(t), nil, nil)

	payload, header := buildSignedEvent(t)
	rec := performWebhook(handler, payload, header)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["received"])
	_, hasOrderID := body["orderId"]
	assert.False(t, hasOrderID)
}

func performWebhook(handler http.HandlerFunc, payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if header != "" {
		req.Header.Set("Stripe-Signature", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func buildSignedEvent(t *testing.T) ([]byte, string) {
	t.Helper()

	session := map[string]any{
		"id":             "cs_" + uuid.NewString(),
		"payment_status": "paid",
		"metadata": map[string]string{
			"cart_id": uuid.NewString(),
		},
	}
	rawSession, err := json.Marshal(session)
	require.NoError(t, err)

	event := map[string]any{
		"id":          "evt_" + uuid.NewString(),
		"object":      "event",
		"type":        string(stripe.EventTypeCheckoutSessionCompleted),
		"api_version": stripe.APIVersion,
		"data": map[string]any{
			"object": json.RawMessage(rawSession),
		},
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	header := buildStripeSignatureHeader(payload, testSecret, time.Now().Unix())
	return payload, header
}

func buildStripeSignatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type fakeFulfillmentService struct {
	calls   int
	outcome *fulfillment.Outcome
	err     error
}

func (f *fakeFulfillmentService) HandleEvent(ctx context.Context, event stripe.Event) (*fulfillment.Outcome, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

type fakeSigningClient struct {
	secret string
}

func (c *fakeSigningClient) SigningSecret() string {
	return c.secret
}

func (c *fakeSigningClient) Tolerance() time.Duration {
	return 5 * time.Minute
}

func newTestGuard(t *testing.T) *fulfillment.EventGuard {
	t.Helper()
	guard, err := fulfillment.NewEventGuard(newInMemoryStore(), time.Minute, "stripe-webhook")
	require.NoError(t, err)
	return guard
}

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: make(map[string]string)}
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("sf:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
