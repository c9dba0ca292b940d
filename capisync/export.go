package capisync

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"github.com/HarveySpecter85/SaaS-ADS-sub000/models"
	"github.com/HarveySpecter85/SaaS-ADS-sub000/utils"
)

// ExportConversionsHandler streams the stored conversion events as an xlsx
// workbook. Only hashed identifiers are stored, so the export carries no raw
// PII either.
func ExportConversionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		brandId := strings.TrimSpace(c.Query("brand_id"))
		limit := 0
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = parsed
		}

		events, err := models.ListConversionEvents(c.Request.Context(), brandId, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		f := excelize.NewFile()

		// Add headers
		f.SetCellValue("Sheet1", "A1", "EventId")
		f.SetCellValue("Sheet1", "B1", "BrandId")
		f.SetCellValue("Sheet1", "C1", "EventName")
		f.SetCellValue("Sheet1", "D1", "EventTime")
		f.SetCellValue("Sheet1", "E1", "EventValue")
		f.SetCellValue("Sheet1", "F1", "Currency")
		f.SetCellValue("Sheet1", "G1", "TransactionId")
		f.SetCellValue("Sheet1", "H1", "SyncStatus")
		f.SetCellValue("Sheet1", "I1", "SyncAttempts")
		f.SetCellValue("Sheet1", "J1", "SyncedAt")
		f.SetCellValue("Sheet1", "K1", "SyncError")

		// Add data
		for i, event := range events {
			row := fmt.Sprint(i + 2)
			f.SetCellValue("Sheet1", "A"+row, event.EventId)
			f.SetCellValue("Sheet1", "B"+row, event.BrandId)
			f.SetCellValue("Sheet1", "C"+row, event.EventName)
			f.SetCellValue("Sheet1", "D"+row, event.EventTime.UTC().Format(time.RFC3339))
			if event.EventValue != nil {
				value, _ := event.EventValue.Float64()
				f.SetCellValue("Sheet1", "E"+row, value)
			}
			f.SetCellValue("Sheet1", "F"+row, event.Currency)
			f.SetCellValue("Sheet1", "G"+row, utils.DereferencePtr(event.TransactionId, ""))
			f.SetCellValue("Sheet1", "H"+row, event.SyncStatus)
			f.SetCellValue("Sheet1", "I"+row, event.SyncAttempts)
			if event.SyncedAt != nil {
				f.SetCellValue("Sheet1", "J"+row, event.SyncedAt.UTC().Format(time.RFC3339))
			}
			f.SetCellValue("Sheet1", "K"+row, utils.DereferencePtr(event.SyncError, ""))
		}

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=conversion_events.xlsx")
		if err := f.Write(c.Writer); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to write export"})
		}
	}
}
