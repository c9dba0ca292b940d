package models

import (
	"context"
	"errors"
	"time"

	"github.com/HarveySpecter85/SaaS-ADS-sub000/config"
)

const (
	LastSyncStatusSuccess        = "success"
	LastSyncStatusPartialFailure = "partial_failure"
)

// SyncAccountConfig is the per-destination-account configuration. It is
// created and edited by the dashboard CRUD layer; the sync service reads it
// and writes back only the last_sync_* bookkeeping fields.
type SyncAccountConfig struct {
	ID                  uint       `gorm:"primary_key" json:"id"`
	BrandId             string     `gorm:"index;size:36;not null" json:"brand_id"`
	CustomerId          string     `gorm:"size:32;not null" json:"customer_id"`
	ConversionActionId  string     `gorm:"size:32;not null" json:"conversion_action_id"`
	AccessToken         *string    `gorm:"type:text" json:"access_token"`
	RefreshToken        *string    `gorm:"type:text" json:"refresh_token"`
	TokenExpiresAt      *time.Time `json:"token_expires_at"`
	IsActive            bool       `gorm:"index;default:true" json:"is_active"`
	BatchSize           int        `gorm:"not null;default:100" json:"batch_size"`
	SyncIntervalMinutes int        `gorm:"not null;default:60" json:"sync_interval_minutes"`
	LastSyncAt          *time.Time `json:"last_sync_at"`
	LastSyncStatus      *string    `gorm:"size:20" json:"last_sync_status"`
	LastSyncCount       int        `json:"last_sync_count"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ListActiveSyncAccounts returns accounts eligible for a sync pass, optionally
// scoped to a single account for manual/ad-hoc triggers.
func ListActiveSyncAccounts(ctx context.Context, accountId *uint) ([]SyncAccountConfig, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database not initialized")
	}
	q := db.WithContext(ctx).Where("is_active = ?", true)
	if accountId != nil {
		q = q.Where("id = ?", *accountId)
	}
	var accounts []SyncAccountConfig
	if err := q.Order("id ASC").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// ListSyncAccounts returns every configured account, active or not, for the
// status snapshot.
func ListSyncAccounts(ctx context.Context) ([]SyncAccountConfig, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database not initialized")
	}
	var accounts []SyncAccountConfig
	if err := db.WithContext(ctx).Order("id ASC").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// RecordSyncResult writes the only registry fields this subsystem may mutate.
func RecordSyncResult(ctx context.Context, accountId uint, status string, count int) error {
	db := config.GetDB()
	if db == nil {
		return errors.New("database not initialized")
	}
	now := time.Now().UTC()
	return db.WithContext(ctx).Model(&SyncAccountConfig{}).
		Where("id = ?", accountId).
		Updates(map[string]interface{}{
			"last_sync_at":     now,
			"last_sync_status": status,
			"last_sync_count":  count,
		}).Error
}
