package audit

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/shopledger_backend/config"
	"github.com/mmdatafocus/shopledger_backend/models"
	"github.com/mmdatafocus/shopledger_backend/utils"
	"github.com/xuri/excelize/v2"
)

// ExportHandler streams the verification history as a spreadsheet, for
// owners who reconcile shrinkage in Excel rather than in the app.
func ExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		businessId, ok := utils.GetBusinessIdFromContext(ctx)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		events, err := models.GetVerificationEvents(ctx, businessId, 1000)
		if err != nil {
			config.LogError(config.GetLogger(), "audit", "ExportHandler", "load events", businessId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
			return
		}

		f := excelize.NewFile()
		sheet := "Sheet1"
		if _, err := f.NewSheet(sheet); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
			return
		}

		f.SetCellValue(sheet, "A1", "VerifiedAt")
		f.SetCellValue(sheet, "B1", "ProductId")
		f.SetCellValue(sheet, "C1", "ExpectedQty")
		f.SetCellValue(sheet, "D1", "CountedQty")
		f.SetCellValue(sheet, "E1", "Variance")
		f.SetCellValue(sheet, "F1", "ReasonCode")
		f.SetCellValue(sheet, "G1", "VerifiedBy")
		f.SetCellValue(sheet, "H1", "RiskBefore")
		f.SetCellValue(sheet, "I1", "RiskAfter")

		for i, e := range events {
			row := fmt.Sprint(i + 2)
			f.SetCellValue(sheet, "A"+row, e.CreatedAt.Format(time.RFC3339))
			f.SetCellValue(sheet, "B"+row, e.ProductId)
			f.SetCellValue(sheet, "C"+row, utils.FromMilli(e.ExpectedQty))
			f.SetCellValue(sheet, "D"+row, utils.FromMilli(e.CountedQty))
			f.SetCellValue(sheet, "E"+row, utils.FromMilli(e.Variance))
			f.SetCellValue(sheet, "F"+row, e.ReasonCode)
			f.SetCellValue(sheet, "G"+row, e.VerifiedBy)
			f.SetCellValue(sheet, "H"+row, e.RiskBefore)
			f.SetCellValue(sheet, "I"+row, e.RiskAfter)
		}

		filename := "stock-verifications-" + time.Now().Format("2006-01-02") + ".xlsx"
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename="+filename)
		if err := f.Write(c.Writer); err != nil {
			config.LogError(config.GetLogger(), "audit", "ExportHandler", "write file", businessId, err)
		}
	}
}
