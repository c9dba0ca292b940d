package models

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/HarveySpecter85/SaaS-ADS-sub000/config"
	"github.com/HarveySpecter85/SaaS-ADS-sub000/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	EventNamePurchase  = "purchase"
	EventNameLead      = "lead"
	EventNameSignup    = "signup"
	EventNameAddToCart = "add_to_cart"
	EventNamePageView  = "page_view"
	EventNameCustom    = "custom"
)

const (
	SyncStatusPending = "pending"
	SyncStatusQueued  = "queued"
	SyncStatusSent    = "sent"
	SyncStatusFailed  = "failed"
	SyncStatusSkipped = "skipped"
)

const DefaultCurrency = "USD"

// ConversionEvent is the durable queue row behind the CAPI pipeline. Raw PII
// never reaches this table: identifying fields are hashed on insert and only
// the hashed form is persisted.
type ConversionEvent struct {
	ID                uint             `gorm:"primary_key" json:"id"`
	BrandId           string           `gorm:"index;size:36;not null" json:"brand_id"`
	EventName         string           `gorm:"size:50;not null" json:"event_name"`
	EventId           string           `gorm:"index;size:100" json:"event_id"`
	UserEmailHash     *string          `gorm:"size:64" json:"user_email_hash"`
	UserPhoneHash     *string          `gorm:"size:64" json:"user_phone_hash"`
	UserFirstNameHash *string          `gorm:"size:64" json:"user_first_name_hash"`
	UserLastNameHash  *string          `gorm:"size:64" json:"user_last_name_hash"`
	UserIp            *string          `gorm:"size:45" json:"user_ip"`
	UserAgent         *string          `gorm:"size:512" json:"user_agent"`
	EventValue        *decimal.Decimal `gorm:"type:decimal(18,6)" json:"event_value"`
	Currency          string           `gorm:"size:3;not null;default:USD" json:"currency"`
	TransactionId     *string          `gorm:"size:128" json:"transaction_id"`
	CustomParamsJSON  []byte           `gorm:"type:json" json:"custom_params"`
	Source            *string          `gorm:"size:100" json:"source"`
	CampaignId        *string          `gorm:"size:64" json:"campaign_id"`
	SyncStatus        string           `gorm:"index;size:20;not null;default:pending" json:"sync_status"`
	SyncAttempts      int              `gorm:"not null;default:0" json:"sync_attempts"`
	SyncedAt          *time.Time       `json:"synced_at"`
	SyncError         *string          `gorm:"type:text" json:"sync_error"`
	NextAttemptAt     *time.Time       `gorm:"index" json:"next_attempt_at"`
	EventTime         time.Time        `gorm:"index;not null" json:"event_time"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewConversionEvent is the producer-facing insert payload. It carries raw
// identifying fields that exist only in flight; CreateConversionEvent hashes
// them before anything touches the database.
type NewConversionEvent struct {
	BrandId       string                 `json:"brand_id" validate:"required"`
	EventName     string                 `json:"event_name" validate:"required,oneof=purchase lead signup add_to_cart page_view custom"`
	EventId       *string                `json:"event_id"`
	UserEmail     *string                `json:"user_email" validate:"omitempty,email"`
	UserPhone     *string                `json:"user_phone"`
	UserFirstName *string                `json:"user_first_name"`
	UserLastName  *string                `json:"user_last_name"`
	UserIp        *string                `json:"user_ip" validate:"omitempty,ip"`
	UserAgent     *string                `json:"user_agent"`
	EventValue    *decimal.Decimal       `json:"event_value"`
	Currency      string                 `json:"currency" validate:"omitempty,len=3"`
	TransactionId *string                `json:"transaction_id"`
	CustomParams  map[string]interface{} `json:"custom_params"`
	Source        *string                `json:"source"`
	CampaignId    *string                `json:"campaign_id"`
	EventTime     *time.Time             `json:"event_time"`
}

// RetryPolicy bounds failed -> queued re-selection. Events whose attempts
// reach MaxAttempts stay failed and are no longer picked up.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 10,
		BaseBackoff: time.Minute,
		MaxBackoff:  time.Hour,
	}
}

func CreateConversionEvent(ctx context.Context, input *NewConversionEvent, phoneCountryCode string) (*ConversionEvent, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database not initialized")
	}

	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}

	eventTime := time.Now().UTC()
	if input.EventTime != nil {
		eventTime = input.EventTime.UTC()
	}

	eventId := strings.TrimSpace(utils.DereferencePtr(input.EventId, ""))
	if eventId == "" {
		eventId = utils.GenerateEventId("evt")
	}

	var customParams []byte
	if len(input.CustomParams) > 0 {
		b, err := json.Marshal(input.CustomParams)
		if err != nil {
			return nil, err
		}
		customParams = b
	}

	event := ConversionEvent{
		BrandId:           input.BrandId,
		EventName:         input.EventName,
		EventId:           eventId,
		UserEmailHash:     utils.HashPII(input.UserEmail),
		UserPhoneHash:     utils.HashPhone(input.UserPhone, phoneCountryCode),
		UserFirstNameHash: utils.HashPII(input.UserFirstName),
		UserLastNameHash:  utils.HashPII(input.UserLastName),
		UserIp:            input.UserIp,
		UserAgent:         input.UserAgent,
		EventValue:        input.EventValue,
		Currency:          currency,
		TransactionId:     input.TransactionId,
		CustomParamsJSON:  customParams,
		Source:            input.Source,
		CampaignId:        input.CampaignId,
		SyncStatus:        SyncStatusPending,
		EventTime:         eventTime,
	}
	if err := db.WithContext(ctx).Create(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// ClaimPendingEvents selects the oldest dispatchable events for a brand and
// transitions them to queued in the same transaction. The conditional update
// over locked rows is the claim; two overlapping passes on the same account
// cannot double-select a row (SKIP LOCKED + prior-status guard).
func ClaimPendingEvents(ctx context.Context, brandId string, limit int, retry RetryPolicy) ([]ConversionEvent, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	var claimed []ConversionEvent
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("brand_id = ?", brandId).
			Where("sync_status IN ?", []string{SyncStatusPending, SyncStatusFailed}).
			Where("sync_attempts < ?", retry.MaxAttempts).
			Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
			Order("event_time ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]uint, 0, len(claimed))
		for i := range claimed {
			ids = append(ids, claimed[i].ID)
		}
		res := tx.Model(&ConversionEvent{}).
			Where("id IN ?", ids).
			Where("sync_status IN ?", []string{SyncStatusPending, SyncStatusFailed}).
			Updates(map[string]interface{}{
				"sync_status":   SyncStatusQueued,
				"sync_attempts": gorm.Expr("sync_attempts + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(ids)) {
			return errors.New("claim update affected fewer rows than selected")
		}
		for i := range claimed {
			claimed[i].SyncStatus = SyncStatusQueued
			claimed[i].SyncAttempts++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkEventsSynced transitions queued -> sent. The prior-status guard keeps
// sent terminal: a row that already left queued is never rewritten.
func MarkEventsSynced(ctx context.Context, ids []uint, syncedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	db := config.GetDB()
	if db == nil {
		return errors.New("database not initialized")
	}
	return db.WithContext(ctx).Model(&ConversionEvent{}).
		Where("id IN ?", ids).
		Where("sync_status = ?", SyncStatusQueued).
		Updates(map[string]interface{}{
			"sync_status":     SyncStatusSent,
			"synced_at":       syncedAt,
			"sync_error":      nil,
			"next_attempt_at": nil,
		}).Error
}

// MarkEventsFailed transitions queued -> failed, recording the error text
// verbatim and scheduling the next retry with exponential backoff keyed off
// sync_attempts (already incremented at claim time).
func MarkEventsFailed(ctx context.Context, ids []uint, message string, retry RetryPolicy) error {
	if len(ids) == 0 {
		return nil
	}
	db := config.GetDB()
	if db == nil {
		return errors.New("database not initialized")
	}
	now := time.Now().UTC()
	baseSeconds := int64(retry.BaseBackoff / time.Second)
	maxSeconds := int64(retry.MaxBackoff / time.Second)
	return db.WithContext(ctx).Model(&ConversionEvent{}).
		Where("id IN ?", ids).
		Where("sync_status = ?", SyncStatusQueued).
		Updates(map[string]interface{}{
			"sync_status": SyncStatusFailed,
			"sync_error":  message,
			"next_attempt_at": gorm.Expr(
				"DATE_ADD(?, INTERVAL LEAST(? * POW(2, GREATEST(sync_attempts - 1, 0)), ?) SECOND)",
				now, baseSeconds, maxSeconds,
			),
		}).Error
}

// PendingEventCountsByBrand groups the store by sync_status for the status
// endpoint: brand_id -> count of pending events.
func PendingEventCountsByBrand(ctx context.Context) (map[string]int64, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database not initialized")
	}
	var rows []struct {
		BrandId string
		Total   int64
	}
	if err := db.WithContext(ctx).Model(&ConversionEvent{}).
		Select("brand_id, COUNT(*) AS total").
		Where("sync_status = ?", SyncStatusPending).
		Group("brand_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.BrandId] = row.Total
	}
	return counts, nil
}

// ListConversionEvents returns recent events for a brand, newest first.
// Used by the export report.
func ListConversionEvents(ctx context.Context, brandId string, limit int) ([]ConversionEvent, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}
	q := db.WithContext(ctx).Model(&ConversionEvent{})
	if strings.TrimSpace(brandId) != "" {
		q = q.Where("brand_id = ?", brandId)
	}
	var events []ConversionEvent
	if err := q.Order("event_time DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
