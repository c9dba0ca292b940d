package capisync

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/HarveySpecter85/SaaS-ADS-sub000/config"
	"github.com/HarveySpecter85/SaaS-ADS-sub000/models"
	"github.com/HarveySpecter85/SaaS-ADS-sub000/utils"
)

// TriggerSyncHandler runs a sync pass inline and returns the per-account
// results. account_id narrows the pass to one account.
func TriggerSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		var accountId *uint
		if v := strings.TrimSpace(c.Query("account_id")); v != "" {
			parsed, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account_id"})
				return
			}
			id := uint(parsed)
			accountId = &id
		}

		resp, err := RunSyncPass(c.Request.Context(), logger, SyncPassOptions{
			AccountId:    accountId,
			ClientConfig: UploadClientConfigFromEnv(),
			Retry:        RetryPolicyFromEnv(),
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// StatusHandler reports every configured account with its last sync outcome
// and the live pending backlog per brand.
func StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		accounts, err := models.ListSyncAccounts(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		pendingCounts, err := models.PendingEventCountsByBrand(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]AccountStatus, 0, len(accounts))
		for _, account := range accounts {
			item := AccountStatus{
				BrandId:        account.BrandId,
				IsActive:       account.IsActive,
				LastSyncAt:     formatTime(account.LastSyncAt),
				LastSyncStatus: account.LastSyncStatus,
				LastSyncCount:  account.LastSyncCount,
				PendingEvents:  pendingCounts[account.BrandId],
			}
			if brand, err := models.GetBrandById(ctx, account.BrandId); err == nil && brand != nil {
				item.BrandName = brand.Name
			}
			items = append(items, item)
		}

		c.JSON(http.StatusOK, StatusResponse{Accounts: items})
	}
}

// CreateConversionHandler ingests one conversion event. PII is hashed before
// the row is written; raw identifiers never reach storage.
func CreateConversionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewConversionEvent
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := utils.ValidateStruct(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}

		ctx := utils.SetBrandIdInContext(c.Request.Context(), input.BrandId)
		event, err := models.CreateConversionEvent(ctx, &input, utils.CountryCallingCode(defaultPhoneRegion()))
		if err != nil {
			logger := config.GetLogger()
			config.LogError(logger, "handlers.go", "CreateConversionHandler", "CreateConversionEvent", input.BrandId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, event)
	}
}

func defaultPhoneRegion() string {
	if v := strings.TrimSpace(os.Getenv("CAPI_DEFAULT_PHONE_REGION")); v != "" {
		return strings.ToUpper(v)
	}
	return "US"
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
