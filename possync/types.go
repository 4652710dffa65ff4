package possync

import (
	"encoding/json"
	"time"

	"github.com/mmdatafocus/shopledger_backend/models"
	"github.com/mmdatafocus/shopledger_backend/utils"
)

// Wire types for the device sync protocol. Quantities, multipliers and
// currency amounts travel as plain JSON numbers; all conversion to the
// internal milli-scaled form happens here, once, at the boundary.

type ProductUnitPayload struct {
	Name       string  `json:"name"`
	Multiplier float64 `json:"multiplier"`
	Price      float64 `json:"price"`
}

type ProductPayload struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	Category       string               `json:"category"`
	BaseUnit       string               `json:"baseUnit"`
	CurrentStock   float64              `json:"currentStock"`
	SellingPrice   float64              `json:"sellingPrice"`
	CostPrice      float64              `json:"costPrice"`
	Units          []ProductUnitPayload `json:"units"`
	IsManualUpdate bool                 `json:"isManualUpdate"`
}

type TransactionItemPayload struct {
	ProductId  string  `json:"productId"`
	Name       string  `json:"name"`
	Quantity   float64 `json:"quantity"`
	UnitName   string  `json:"unitName"`
	Multiplier float64 `json:"multiplier"`
	UnitPrice  float64 `json:"unitPrice"`
}

type TransactionPayload struct {
	ID             string                   `json:"id"`
	Items          []TransactionItemPayload `json:"items"`
	Total          float64                  `json:"total"`
	PaymentMethod  string                   `json:"paymentMethod"`
	DiscountCodeId *string                  `json:"discountCodeId"`
	Timestamp      time.Time                `json:"timestamp"`
}

type ExpenditurePayload struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Amount      float64   `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}

// BusinessPayload is the optional profile snapshot sent with a batch.
// Email and theme-style presentation fields are accepted from older
// clients but never applied server-side.
type BusinessPayload struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`

	IsSubscribed     bool            `json:"isSubscribed"`
	Theme            json.RawMessage `json:"theme"`
	StaffPermissions json.RawMessage `json:"staffPermissions"`
}

func (b *BusinessPayload) ToProfileInput() *models.SyncBusinessInput {
	return &models.SyncBusinessInput{
		Name:    b.Name,
		Address: b.Address,
		Phone:   b.Phone,
	}
}

type SyncRequest struct {
	Products     []ProductPayload     `json:"products"`
	Transactions []TransactionPayload `json:"transactions"`
	Expenditures []ExpenditurePayload `json:"expenditures"`
	Business     *BusinessPayload     `json:"business"`
}

type SyncResponse struct {
	Products     []ProductPayload     `json:"products"`
	Transactions []TransactionPayload `json:"transactions"`
	Expenditures []ExpenditurePayload `json:"expenditures"`
	Stats        *models.SyncStats    `json:"stats,omitempty"`
}

func (r *SyncRequest) ToBatchInput() *models.SyncBatchInput {
	batch := &models.SyncBatchInput{}

	for _, p := range r.Products {
		units := make(models.ProductUnitList, 0, len(p.Units))
		for _, u := range p.Units {
			units = append(units, models.ProductUnit{
				Name:       u.Name,
				Multiplier: utils.ToMilli(u.Multiplier),
				Price:      utils.ToMilli(u.Price),
			})
		}
		batch.Products = append(batch.Products, models.SyncProductInput{
			ProductId:      p.ID,
			Name:           p.Name,
			Category:       p.Category,
			BaseUnit:       p.BaseUnit,
			CurrentStock:   utils.ToMilli(p.CurrentStock),
			SellingPrice:   utils.ToMilli(p.SellingPrice),
			CostPrice:      utils.ToMilli(p.CostPrice),
			Units:          units,
			IsManualUpdate: p.IsManualUpdate,
		})
	}

	for _, t := range r.Transactions {
		items := make(models.TransactionItemList, 0, len(t.Items))
		for _, it := range t.Items {
			multiplier := it.Multiplier
			if multiplier == 0 {
				multiplier = 1
			}
			items = append(items, models.TransactionItem{
				ProductId:  it.ProductId,
				Name:       it.Name,
				Quantity:   utils.ToMilli(it.Quantity),
				UnitName:   it.UnitName,
				Multiplier: utils.ToMilli(multiplier),
				UnitPrice:  utils.ToMilli(it.UnitPrice),
			})
		}
		batch.Transactions = append(batch.Transactions, models.SyncTransactionInput{
			TransactionId:  t.ID,
			Items:          items,
			Total:          utils.ToMilli(t.Total),
			PaymentMethod:  t.PaymentMethod,
			DiscountCodeId: t.DiscountCodeId,
			Timestamp:      t.Timestamp,
		})
	}

	for _, e := range r.Expenditures {
		batch.Expenditures = append(batch.Expenditures, models.SyncExpenditureInput{
			ExpenditureId: e.ID,
			Description:   e.Description,
			Category:      e.Category,
			Amount:        utils.ToMilli(e.Amount),
			Timestamp:     e.Timestamp,
		})
	}

	return batch
}

func productToPayload(p *models.Product) ProductPayload {
	units := make([]ProductUnitPayload, 0, len(p.Units))
	for _, u := range p.Units {
		units = append(units, ProductUnitPayload{
			Name:       u.Name,
			Multiplier: utils.FromMilli(u.Multiplier),
			Price:      utils.FromMilli(u.Price),
		})
	}
	return ProductPayload{
		ID:             p.ProductId,
		Name:           p.Name,
		Category:       p.Category,
		BaseUnit:       p.BaseUnit,
		CurrentStock:   utils.FromMilli(p.Stock),
		SellingPrice:   utils.FromMilli(p.SellingPrice),
		CostPrice:      utils.FromMilli(p.CostPrice),
		Units:          units,
		IsManualUpdate: utils.DereferencePtr(p.IsManualUpdate),
	}
}

func transactionToPayload(t *models.Transaction) TransactionPayload {
	items := make([]TransactionItemPayload, 0, len(t.Items))
	for _, it := range t.Items {
		items = append(items, TransactionItemPayload{
			ProductId:  it.ProductId,
			Name:       it.Name,
			Quantity:   utils.FromMilli(it.Quantity),
			UnitName:   it.UnitName,
			Multiplier: utils.FromMilli(it.Multiplier),
			UnitPrice:  utils.FromMilli(it.UnitPrice),
		})
	}
	return TransactionPayload{
		ID:             t.TransactionId,
		Items:          items,
		Total:          utils.FromMilli(t.Total),
		PaymentMethod:  t.PaymentMethod,
		DiscountCodeId: t.DiscountCodeId,
		Timestamp:      t.Timestamp,
	}
}

func expenditureToPayload(e *models.Expenditure) ExpenditurePayload {
	return ExpenditurePayload{
		ID:          e.ExpenditureId,
		Description: e.Description,
		Category:    e.Category,
		Amount:      utils.FromMilli(e.Amount),
		Timestamp:   e.Timestamp,
	}
}

func snapshotToResponse(snapshot *models.SyncSnapshot, stats *models.SyncStats) SyncResponse {
	resp := SyncResponse{
		Products:     make([]ProductPayload, 0, len(snapshot.Products)),
		Transactions: make([]TransactionPayload, 0, len(snapshot.Transactions)),
		Expenditures: make([]ExpenditurePayload, 0, len(snapshot.Expenditures)),
		Stats:        stats,
	}
	for _, p := range snapshot.Products {
		resp.Products = append(resp.Products, productToPayload(p))
	}
	for _, t := range snapshot.Transactions {
		resp.Transactions = append(resp.Transactions, transactionToPayload(t))
	}
	for _, e := range snapshot.Expenditures {
		resp.Expenditures = append(resp.Expenditures, expenditureToPayload(e))
	}
	return resp
}
