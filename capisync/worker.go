package capisync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/HarveySpecter85/SaaS-ADS-sub000/config"
	"github.com/HarveySpecter85/SaaS-ADS-sub000/models"
	"github.com/HarveySpecter85/SaaS-ADS-sub000/utils"
)

const (
	defaultBatchSize = 100
	accountLockTTL   = 5 * time.Minute
)

type SyncPassOptions struct {
	// AccountId restricts the pass to a single account when set.
	AccountId    *uint
	ClientConfig UploadClientConfig
	Retry        models.RetryPolicy
}

// syncStore is the slice of the event store and registry the orchestrator
// touches during one account pass.
type syncStore interface {
	ClaimPendingEvents(ctx context.Context, brandId string, limit int, retry models.RetryPolicy) ([]models.ConversionEvent, error)
	MarkEventsSynced(ctx context.Context, ids []uint, syncedAt time.Time) error
	MarkEventsFailed(ctx context.Context, ids []uint, message string, retry models.RetryPolicy) error
	RecordSyncResult(ctx context.Context, accountId uint, status string, count int) error
}

type dbSyncStore struct{}

func (dbSyncStore) ClaimPendingEvents(ctx context.Context, brandId string, limit int, retry models.RetryPolicy) ([]models.ConversionEvent, error) {
	return models.ClaimPendingEvents(ctx, brandId, limit, retry)
}

func (dbSyncStore) MarkEventsSynced(ctx context.Context, ids []uint, syncedAt time.Time) error {
	return models.MarkEventsSynced(ctx, ids, syncedAt)
}

func (dbSyncStore) MarkEventsFailed(ctx context.Context, ids []uint, message string, retry models.RetryPolicy) error {
	return models.MarkEventsFailed(ctx, ids, message, retry)
}

func (dbSyncStore) RecordSyncResult(ctx context.Context, accountId uint, status string, count int) error {
	return models.RecordSyncResult(ctx, accountId, status, count)
}

func RetryPolicyFromEnv() models.RetryPolicy {
	retry := models.DefaultRetryPolicy()
	if n := config.IntFromEnv("CAPI_SYNC_MAX_ATTEMPTS", 0); n > 0 {
		retry.MaxAttempts = n
	}
	if n := config.IntFromEnv("CAPI_SYNC_BASE_BACKOFF_SECONDS", 0); n > 0 {
		retry.BaseBackoff = time.Duration(n) * time.Second
	}
	if n := config.IntFromEnv("CAPI_SYNC_MAX_BACKOFF_SECONDS", 0); n > 0 {
		retry.MaxBackoff = time.Duration(n) * time.Second
	}
	return retry
}

// RunSyncPass walks the active accounts sequentially and pushes each one's
// pending conversions upstream. One account's failure never stops the pass;
// its result carries the error and the next account still runs.
func RunSyncPass(ctx context.Context, logger *logrus.Logger, opts SyncPassOptions) (*SyncRunResponse, error) {
	accounts, err := models.ListActiveSyncAccounts(ctx, opts.AccountId)
	if err != nil {
		config.LogError(logger, "worker.go", "RunSyncPass", "ListActiveSyncAccounts", opts.AccountId, err)
		return nil, err
	}

	client, err := newUploadClient(opts.ClientConfig)
	if err != nil {
		config.LogError(logger, "worker.go", "RunSyncPass", "newUploadClient", nil, err)
		return nil, err
	}

	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry = models.DefaultRetryPolicy()
	}

	resp := &SyncRunResponse{Results: make([]AccountSyncResult, 0, len(accounts))}
	for _, account := range accounts {
		result := syncAccount(ctx, logger, client, dbSyncStore{}, account, retry)
		resp.Summary.TotalProcessed += result.EventsProcessed
		resp.Summary.TotalSuccess += result.SuccessCount
		resp.Summary.TotalFailure += result.FailureCount
		resp.Results = append(resp.Results, result)
	}
	resp.Message = fmt.Sprintf("sync pass completed for %d account(s)", len(accounts))

	logger.WithFields(logrus.Fields{
		"field":           "capiSyncPass",
		"accounts":        len(accounts),
		"total_processed": resp.Summary.TotalProcessed,
		"total_success":   resp.Summary.TotalSuccess,
		"total_failure":   resp.Summary.TotalFailure,
	}).Info("capi sync pass finished")

	return resp, nil
}

func syncAccount(ctx context.Context, logger *logrus.Logger, client *uploadClient, store syncStore, account models.SyncAccountConfig, retry models.RetryPolicy) (result AccountSyncResult) {
	result = AccountSyncResult{
		AccountId:  account.ID,
		BrandId:    account.BrandId,
		CustomerId: account.CustomerId,
	}

	defer func() {
		if r := recover(); r != nil {
			config.LogError(logger, "worker.go", "syncAccount", "panic recovered", account.ID, fmt.Errorf("%v", r))
			result.Errors = append(result.Errors, fmt.Sprintf("panic during account sync: %v", r))
		}
	}()

	ctx = utils.SetBrandIdInContext(ctx, account.BrandId)
	ctx = utils.SetAccountIdInContext(ctx, account.ID)

	// Best-effort per-account lock so overlapping scheduler triggers don't race.
	// The claim transaction still serializes safely when Redis is unavailable.
	if locker := config.GetRedisLock(); locker == nil {
		logger.WithFields(logrus.Fields{
			"field":      "syncAccount",
			"account_id": account.ID,
		}).Warn("redis lock not ready; proceeding without redis lock")
	} else {
		lock, err := locker.Obtain(ctx, fmt.Sprintf("capisync:%d", account.ID), accountLockTTL, nil)
		if err == redislock.ErrNotObtained {
			result.Errors = append(result.Errors, "sync already in progress for account")
			return result
		} else if err != nil {
			logger.WithFields(logrus.Fields{
				"field":      "syncAccount",
				"account_id": account.ID,
			}).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
		} else {
			defer func() {
				_ = lock.Release(ctx)
			}()
		}
	}

	if msg := validateAccountConfig(account); msg != "" {
		result.FailureCount = effectiveBatchSize(account)
		result.Errors = append(result.Errors, msg)
		config.LogError(logger, "worker.go", "syncAccount", "account misconfigured", account.ID, fmt.Errorf("%s", msg))
		return result
	}

	events, err := store.ClaimPendingEvents(ctx, account.BrandId, effectiveBatchSize(account), retry)
	if err != nil {
		config.LogError(logger, "worker.go", "syncAccount", "ClaimPendingEvents", account.BrandId, err)
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	if len(events) == 0 {
		if err := store.RecordSyncResult(ctx, account.ID, models.LastSyncStatusSuccess, 0); err != nil {
			config.LogError(logger, "worker.go", "syncAccount", "RecordSyncResult empty pass", account.ID, err)
		}
		return result
	}

	result.EventsProcessed = len(events)
	ids := make([]uint, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.ID)
	}

	uploadCtx, span := otel.Tracer("capisync").Start(ctx, "capisync.uploadConversions")
	upload := client.UploadConversions(uploadCtx, account, events)
	span.End()

	now := time.Now().UTC()
	if upload.SuccessCount > 0 {
		// The platform reports failures per batch, not per event id, so a batch
		// with any accepted conversion reconciles as fully sent.
		if err := store.MarkEventsSynced(ctx, ids, now); err != nil {
			config.LogError(logger, "worker.go", "syncAccount", "MarkEventsSynced", ids, err)
			result.Errors = append(result.Errors, err.Error())
		}
		result.SuccessCount = upload.SuccessCount
		result.FailureCount = upload.FailureCount
	} else {
		message := strings.Join(upload.Errors, "; ")
		if message == "" {
			message = "upload failed"
		}
		if err := store.MarkEventsFailed(ctx, ids, message, retry); err != nil {
			config.LogError(logger, "worker.go", "syncAccount", "MarkEventsFailed", ids, err)
			result.Errors = append(result.Errors, err.Error())
		}
		result.FailureCount = len(events)
	}
	result.Errors = append(result.Errors, upload.Errors...)

	status := models.LastSyncStatusSuccess
	if result.FailureCount > 0 {
		status = models.LastSyncStatusPartialFailure
	}
	if err := store.RecordSyncResult(ctx, account.ID, status, result.EventsProcessed); err != nil {
		config.LogError(logger, "worker.go", "syncAccount", "RecordSyncResult", account.ID, err)
	}

	logger.WithFields(logrus.Fields{
		"field":            "syncAccount",
		"account_id":       account.ID,
		"brand_id":         account.BrandId,
		"events_processed": result.EventsProcessed,
		"success_count":    result.SuccessCount,
		"failure_count":    result.FailureCount,
	}).Info("account sync finished")

	return result
}

// validateAccountConfig returns a human readable reason when the account
// cannot reach the platform. Checked before any event is claimed so a
// misconfigured account never moves events out of pending.
func validateAccountConfig(account models.SyncAccountConfig) string {
	if strings.TrimSpace(account.CustomerId) == "" {
		return "No customer id configured"
	}
	if strings.TrimSpace(account.ConversionActionId) == "" {
		return "No conversion action configured"
	}
	if strings.TrimSpace(utils.DereferencePtr(account.AccessToken, "")) == "" {
		return "No access token configured"
	}
	return ""
}

func effectiveBatchSize(account models.SyncAccountConfig) int {
	if account.BatchSize > 0 {
		return account.BatchSize
	}
	return defaultBatchSize
}
