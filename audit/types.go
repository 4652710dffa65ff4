package audit

import (
	"time"

	"github.com/mmdatafocus/shopledger_backend/models"
	"github.com/mmdatafocus/shopledger_backend/utils"
)

// Wire DTOs for the audit endpoints. Field names follow the device
// protocol's camelCase, same as the sync payloads.
type QueueEntryResponse struct {
	ProductId      string     `json:"productId"`
	Name           string     `json:"name"`
	Category       string     `json:"category"`
	BaseUnit       string     `json:"baseUnit"`
	ExpectedQty    float64    `json:"expectedQty"`
	StockValue     float64    `json:"stockValue"`
	RiskScore      int        `json:"riskScore"`
	LastVerifiedAt *time.Time `json:"lastVerifiedAt"`
}

type QueueResponse struct {
	Queue    []QueueEntryResponse             `json:"queue"`
	Reason   string                           `json:"reason"`
	Settings models.StockVerificationSettings `json:"settings"`
}

type VerifyRequest struct {
	ProductId              string  `json:"productId" binding:"required"`
	CountedQty             float64 `json:"countedQty"`
	ExpectedQtyAtOpen      float64 `json:"expectedQtyAtOpen"`
	ReasonCode             string  `json:"reasonCode" binding:"required"`
	ConfirmChangedExpected bool    `json:"confirmChangedExpected"`
}

type VerifyResponse struct {
	ProductId   string  `json:"productId"`
	ExpectedQty float64 `json:"expectedQty"`
	CountedQty  float64 `json:"countedQty"`
	Variance    float64 `json:"variance"`
	RiskBefore  int     `json:"riskBefore"`
	RiskAfter   int     `json:"riskAfter"`
	EventId     string  `json:"eventId"`
}

func queueToResponse(queue *models.VerificationQueue) QueueResponse {
	resp := QueueResponse{
		Queue:    make([]QueueEntryResponse, 0, len(queue.Entries)),
		Reason:   queue.Reason,
		Settings: queue.Settings,
	}
	for _, entry := range queue.Entries {
		p := entry.Product
		resp.Queue = append(resp.Queue, QueueEntryResponse{
			ProductId:      p.ProductId,
			Name:           p.Name,
			Category:       p.Category,
			BaseUnit:       p.BaseUnit,
			ExpectedQty:    utils.FromMilli(p.Stock),
			StockValue:     utils.FromMilli(p.StockValue()),
			RiskScore:      entry.Score,
			LastVerifiedAt: p.LastVerifiedAt,
		})
	}
	return resp
}

func verifyToResponse(result *models.VerifiedCountResult) VerifyResponse {
	return VerifyResponse{
		ProductId:   result.Product.ProductId,
		ExpectedQty: utils.FromMilli(result.ExpectedQty),
		CountedQty:  utils.FromMilli(result.CountedQty),
		Variance:    utils.FromMilli(result.Variance),
		RiskBefore:  result.RiskBefore,
		RiskAfter:   result.RiskAfter,
		EventId:     result.Event.ID,
	}
}
