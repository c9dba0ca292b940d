package capisync

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/HarveySpecter85/SaaS-ADS-sub000/models"
	"github.com/HarveySpecter85/SaaS-ADS-sub000/utils"
)

// NOTE: These tests are intentionally DB-free. The account pass runs against
// a fake store and an httptest upload server, so reconciliation and
// bookkeeping are validated without MySQL. The store transitions themselves
// are covered by the integration tests in the models package.

type recordedSyncResult struct {
	accountId uint
	status    string
	count     int
}

type fakeSyncStore struct {
	events []models.ConversionEvent

	claimCalls int
	syncedIds  []uint
	failedIds  []uint
	failedMsg  string
	recorded   []recordedSyncResult
}

func (s *fakeSyncStore) ClaimPendingEvents(ctx context.Context, brandId string, limit int, retry models.RetryPolicy) ([]models.ConversionEvent, error) {
	s.claimCalls++
	if limit < len(s.events) {
		return s.events[:limit], nil
	}
	return s.events, nil
}

func (s *fakeSyncStore) MarkEventsSynced(ctx context.Context, ids []uint, syncedAt time.Time) error {
	s.syncedIds = append(s.syncedIds, ids...)
	return nil
}

func (s *fakeSyncStore) MarkEventsFailed(ctx context.Context, ids []uint, message string, retry models.RetryPolicy) error {
	s.failedIds = append(s.failedIds, ids...)
	s.failedMsg = message
	return nil
}

func (s *fakeSyncStore) RecordSyncResult(ctx context.Context, accountId uint, status string, count int) error {
	s.recorded = append(s.recorded, recordedSyncResult{accountId: accountId, status: status, count: count})
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestSyncAccountFullSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{},{}]}`))
	}))
	defer srv.Close()

	store := &fakeSyncStore{events: testEvents()}
	result := syncAccount(context.Background(), quietLogger(), newTestClient(t, srv.URL), store, testAccount(), models.DefaultRetryPolicy())

	if result.EventsProcessed != 2 || result.SuccessCount != 2 || result.FailureCount != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(store.syncedIds) != 2 || store.syncedIds[0] != 1 || store.syncedIds[1] != 2 {
		t.Fatalf("events not marked sent: %v", store.syncedIds)
	}
	if len(store.failedIds) != 0 {
		t.Fatalf("no event should be marked failed: %v", store.failedIds)
	}
	if len(store.recorded) != 1 || store.recorded[0] != (recordedSyncResult{accountId: 7, status: models.LastSyncStatusSuccess, count: 2}) {
		t.Fatalf("bookkeeping: %+v", store.recorded)
	}
}

func TestSyncAccountTotalFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"backend unavailable"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := &fakeSyncStore{events: testEvents()}
	result := syncAccount(context.Background(), quietLogger(), newTestClient(t, srv.URL), store, testAccount(), models.DefaultRetryPolicy())

	if result.EventsProcessed != 2 || result.SuccessCount != 0 || result.FailureCount != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(store.failedIds) != 2 || len(store.syncedIds) != 0 {
		t.Fatalf("all claimed events should fail together: synced=%v failed=%v", store.syncedIds, store.failedIds)
	}
	if store.failedMsg == "" {
		t.Fatalf("failure message not recorded")
	}
	if len(store.recorded) != 1 || store.recorded[0].status != models.LastSyncStatusPartialFailure || store.recorded[0].count != 2 {
		t.Fatalf("bookkeeping: %+v", store.recorded)
	}
}

func TestSyncAccountPartialFailureMarksAllSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"partialFailureError": {
				"code": 3,
				"message": "partial failure",
				"details": [{"errors": [{"message": "conversion action not found"}]}]
			}
		}`))
	}))
	defer srv.Close()

	store := &fakeSyncStore{events: testEvents()}
	result := syncAccount(context.Background(), quietLogger(), newTestClient(t, srv.URL), store, testAccount(), models.DefaultRetryPolicy())

	if result.SuccessCount != 1 || result.FailureCount != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	// A batch with any accepted conversion reconciles as fully sent.
	if len(store.syncedIds) != 2 || len(store.failedIds) != 0 {
		t.Fatalf("batch should reconcile as sent: synced=%v failed=%v", store.syncedIds, store.failedIds)
	}
	if len(result.Errors) != 1 || result.Errors[0] != "conversion action not found" {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(store.recorded) != 1 || store.recorded[0].status != models.LastSyncStatusPartialFailure {
		t.Fatalf("bookkeeping: %+v", store.recorded)
	}
}

func TestSyncAccountMissingCredential(t *testing.T) {
	account := testAccount()
	account.AccessToken = nil
	account.BatchSize = 2

	store := &fakeSyncStore{events: testEvents()}
	result := syncAccount(context.Background(), quietLogger(), newTestClient(t, "http://127.0.0.1:1"), store, account, models.DefaultRetryPolicy())

	if result.EventsProcessed != 0 || result.SuccessCount != 0 || result.FailureCount != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Errors) != 1 || result.Errors[0] != "No access token configured" {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if store.claimCalls != 0 || len(store.recorded) != 0 {
		t.Fatalf("misconfigured account must not touch the store: claims=%d recorded=%+v", store.claimCalls, store.recorded)
	}
}

func TestValidateAccountConfig(t *testing.T) {
	base := models.SyncAccountConfig{
		CustomerId:         "1234567890",
		ConversionActionId: "987654321",
		AccessToken:        utils.NewString("tok"),
	}

	if msg := validateAccountConfig(base); msg != "" {
		t.Fatalf("valid account rejected: %q", msg)
	}

	noCustomer := base
	noCustomer.CustomerId = "  "
	if msg := validateAccountConfig(noCustomer); msg != "No customer id configured" {
		t.Fatalf("missing customer id message = %q", msg)
	}

	noAction := base
	noAction.ConversionActionId = ""
	if msg := validateAccountConfig(noAction); msg != "No conversion action configured" {
		t.Fatalf("missing conversion action message = %q", msg)
	}

	noToken := base
	noToken.AccessToken = nil
	if msg := validateAccountConfig(noToken); msg != "No access token configured" {
		t.Fatalf("missing access token message = %q", msg)
	}

	blankToken := base
	blankToken.AccessToken = utils.NewString("   ")
	if msg := validateAccountConfig(blankToken); msg != "No access token configured" {
		t.Fatalf("blank access token message = %q", msg)
	}
}

func TestEffectiveBatchSize(t *testing.T) {
	if got := effectiveBatchSize(models.SyncAccountConfig{BatchSize: 25}); got != 25 {
		t.Fatalf("got %d", got)
	}
	if got := effectiveBatchSize(models.SyncAccountConfig{}); got != defaultBatchSize {
		t.Fatalf("zero batch size should default to %d, got %d", defaultBatchSize, got)
	}
	if got := effectiveBatchSize(models.SyncAccountConfig{BatchSize: -5}); got != defaultBatchSize {
		t.Fatalf("negative batch size should default, got %d", got)
	}
}

func TestRetryPolicyFromEnv(t *testing.T) {
	t.Setenv("CAPI_SYNC_MAX_ATTEMPTS", "")
	t.Setenv("CAPI_SYNC_BASE_BACKOFF_SECONDS", "")
	t.Setenv("CAPI_SYNC_MAX_BACKOFF_SECONDS", "")
	if got := RetryPolicyFromEnv(); got != models.DefaultRetryPolicy() {
		t.Fatalf("expected defaults, got %+v", got)
	}

	t.Setenv("CAPI_SYNC_MAX_ATTEMPTS", "4")
	t.Setenv("CAPI_SYNC_BASE_BACKOFF_SECONDS", "30")
	t.Setenv("CAPI_SYNC_MAX_BACKOFF_SECONDS", "600")
	got := RetryPolicyFromEnv()
	if got.MaxAttempts != 4 || got.BaseBackoff != 30*time.Second || got.MaxBackoff != 600*time.Second {
		t.Fatalf("unexpected policy: %+v", got)
	}

	t.Setenv("CAPI_SYNC_MAX_ATTEMPTS", "garbage")
	if got := RetryPolicyFromEnv(); got.MaxAttempts != models.DefaultRetryPolicy().MaxAttempts {
		t.Fatalf("invalid env should keep default, got %+v", got)
	}
}

func TestConversionDateTimeFormat(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	ts := time.Date(2024, 3, 1, 9, 5, 30, 0, loc)
	if got := conversionDateTime(ts); got != "2024-03-01 17:05:30+00:00" {
		t.Fatalf("conversionDateTime = %q", got)
	}
}

func TestEnvBoolDefault(t *testing.T) {
	t.Setenv("CAPI_TEST_FLAG", "")
	if !envBoolDefault("CAPI_TEST_FLAG", true) {
		t.Fatalf("empty should keep default true")
	}
	t.Setenv("CAPI_TEST_FLAG", "off")
	if envBoolDefault("CAPI_TEST_FLAG", true) {
		t.Fatalf("off should be false")
	}
	t.Setenv("CAPI_TEST_FLAG", "YES")
	if !envBoolDefault("CAPI_TEST_FLAG", false) {
		t.Fatalf("YES should be true")
	}
	t.Setenv("CAPI_TEST_FLAG", "maybe")
	if envBoolDefault("CAPI_TEST_FLAG", false) {
		t.Fatalf("unparsable should keep default false")
	}
}
