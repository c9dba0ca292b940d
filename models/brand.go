package models

import (
	"context"
	"errors"
	"time"

	"github.com/HarveySpecter85/SaaS-ADS-sub000/config"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Brand is owned by the dashboard CRUD layer; this service only reads it to
// label sync status output.
type Brand struct {
	ID        uuid.UUID `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetBrandById(ctx context.Context, brandId string) (*Brand, error) {
	var brand Brand
	exists, err := config.GetRedisObject("Brand:"+brandId, &brand)
	if err == nil && exists {
		return &brand, nil
	}

	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database not initialized")
	}
	if err := db.WithContext(ctx).Where("id = ?", brandId).Take(&brand).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	_ = config.SetRedisObject("Brand:"+brandId, &brand, 10*time.Minute)
	return &brand, nil
}
