package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/shopledger_backend/config"
	"github.com/mmdatafocus/shopledger_backend/utils"
	"gorm.io/gorm"
)

type SyncProductInput struct {
	ProductId      string
	Name           string
	Category       string
	BaseUnit       string
	CurrentStock   int64
	SellingPrice   int64
	CostPrice      int64
	Units          ProductUnitList
	IsManualUpdate bool
}

type SyncTransactionInput struct {
	TransactionId  string
	Items          TransactionItemList
	Total          int64
	PaymentMethod  string
	DiscountCodeId *string
	Timestamp      time.Time
}

type SyncExpenditureInput struct {
	ExpenditureId string
	Description   string
	Category      string
	Amount        int64
	Timestamp     time.Time
}

type SyncBatchInput struct {
	Products     []SyncProductInput
	Transactions []SyncTransactionInput
	Expenditures []SyncExpenditureInput
}

// SyncStats reports what a batch actually did. Skipped entities were either
// duplicates (already applied) or individually bad records; the rest of the
// batch proceeds regardless.
type SyncStats struct {
	NewTransactions     int `json:"new_transactions"`
	DuplicateSkipped    int `json:"duplicate_skipped"`
	ProductsUpserted    int `json:"products_upserted"`
	ExpendituresUpsert  int `json:"expenditures_upserted"`
	ItemErrors          int `json:"item_errors"`
}

// ApplySyncBatch is the write half of the sync protocol. Order matters:
//
//  1. Diff the batch's transaction ids against the ledger (fail-closed: a
//     lookup error aborts everything before any stock moves).
//  2. Apply stock deductions for NEW transactions only, one DB transaction
//     per sale so a partial failure rolls its own deductions back.
//  3. Upsert product master data; stock is taken from the client only for
//     rows that don't exist yet or that the client flagged as a manual edit.
//  4. Upsert expenditures.
//
// Every step is idempotent on its own, so a client retry after any failure
// converges to the same ledger state.
func ApplySyncBatch(ctx context.Context, businessId string, input *SyncBatchInput) (*SyncStats, error) {
	db := config.GetDB()
	logger := config.GetLogger()
	stats := &SyncStats{}

	ids := make([]string, 0, len(input.Transactions))
	for _, t := range input.Transactions {
		ids = append(ids, t.TransactionId)
	}
	newIds, err := FilterNewTransactionIds(ctx, db, businessId, ids)
	if err != nil {
		return nil, err
	}
	isNew := make(map[string]bool, len(newIds))
	for _, id := range newIds {
		isNew[id] = true
	}

	for _, txnInput := range input.Transactions {
		if !isNew[txnInput.TransactionId] {
			// Already applied (or empty id). Refresh metadata only; the
			// deduction happened on a previous sync.
			if txnInput.TransactionId != "" {
				if err := updateTransactionMetadata(ctx, db, businessId, txnInput); err != nil {
					config.LogError(logger, "sync.go", "ApplySyncBatch", "updateTransactionMetadata", txnInput.TransactionId, err)
					stats.ItemErrors++
					continue
				}
			}
			stats.DuplicateSkipped++
			continue
		}

		if err := applyNewTransaction(ctx, db, businessId, txnInput); err != nil {
			config.LogError(logger, "sync.go", "ApplySyncBatch", "applyNewTransaction", txnInput.TransactionId, err)
			stats.ItemErrors++
			continue
		}
		stats.NewTransactions++
	}

	for _, productInput := range input.Products {
		if productInput.ProductId == "" {
			stats.ItemErrors++
			continue
		}
		if err := upsertSyncProduct(ctx, db, businessId, productInput); err != nil {
			config.LogError(logger, "sync.go", "ApplySyncBatch", "upsertSyncProduct", productInput.ProductId, err)
			stats.ItemErrors++
			continue
		}
		stats.ProductsUpserted++
	}

	for _, expInput := range input.Expenditures {
		if expInput.ExpenditureId == "" {
			stats.ItemErrors++
			continue
		}
		if err := upsertSyncExpenditure(ctx, db, businessId, expInput); err != nil {
			config.LogError(logger, "sync.go", "ApplySyncBatch", "upsertSyncExpenditure", expInput.ExpenditureId, err)
			stats.ItemErrors++
			continue
		}
		stats.ExpendituresUpsert++
	}

	return stats, nil
}

// applyNewTransaction deducts stock and persists the sale atomically. The
// unique (business_id, transaction_id) index is the backstop: if a
// concurrent retry slipped past the id diff, the insert fails and the whole
// transaction — deductions included — rolls back.
func applyNewTransaction(ctx context.Context, db *gorm.DB, businessId string, input SyncTransactionInput) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range input.Items {
			if item.ProductId == "" || item.Quantity <= 0 {
				return utils.NewValidationError("transaction item needs productId and positive quantity")
			}
			err := AdjustProductStock(tx, businessId, item.ProductId, DeductionForItem(item))
			if err != nil && err != utils.ErrorRecordNotFound {
				return err
			}
			// ErrorRecordNotFound: product row doesn't exist yet. Its
			// creation below (batch products) carries the client's
			// post-sale stock, so skipping the deduction is correct.
		}

		timestamp := input.Timestamp
		if timestamp.IsZero() {
			timestamp = time.Now()
		}
		record := Transaction{
			BusinessId:     businessId,
			TransactionId:  input.TransactionId,
			Items:          input.Items,
			Total:          input.Total,
			PaymentMethod:  input.PaymentMethod,
			DiscountCodeId: input.DiscountCodeId,
			Timestamp:      timestamp,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		if input.DiscountCodeId != nil && *input.DiscountCodeId != "" {
			if err := markDiscountCodeUsed(tx, businessId, *input.DiscountCodeId, input.TransactionId, timestamp); err != nil {
				return err
			}
		}
		return nil
	})
}

func updateTransactionMetadata(ctx context.Context, db *gorm.DB, businessId string, input SyncTransactionInput) error {
	return db.WithContext(ctx).Model(&Transaction{}).
		Where("business_id = ? AND transaction_id = ?", businessId, input.TransactionId).
		Updates(map[string]interface{}{
			"total":          input.Total,
			"payment_method": input.PaymentMethod,
		}).Error
}

func upsertSyncProduct(ctx context.Context, db *gorm.DB, businessId string, input SyncProductInput) error {
	existing, err := GetProduct(ctx, businessId, input.ProductId)
	if err != nil && err != utils.ErrorRecordNotFound {
		return err
	}

	if existing == nil {
		record := Product{
			BusinessId:     businessId,
			ProductId:      input.ProductId,
			Name:           input.Name,
			Category:       input.Category,
			BaseUnit:       input.BaseUnit,
			Stock:          input.CurrentStock,
			SellingPrice:   input.SellingPrice,
			CostPrice:      input.CostPrice,
			Units:          input.Units,
			IsManualUpdate: &input.IsManualUpdate,
		}
		return db.WithContext(ctx).Create(&record).Error
	}

	// Master data always follows the client; it has no concurrency hazard.
	update := map[string]interface{}{
		"name":          input.Name,
		"category":      input.Category,
		"base_unit":     input.BaseUnit,
		"selling_price": input.SellingPrice,
		"cost_price":    input.CostPrice,
		"units":         input.Units,
	}
	if input.IsManualUpdate {
		// A manual stock edit is the user overriding the ledger on purpose.
		// It wins over whatever the server advanced to meanwhile.
		update["stock"] = input.CurrentStock
		update["is_manual_update"] = true
		update["recent_manual_edits"] = gorm.Expr("recent_manual_edits + 1")
	}
	// Otherwise the client's currentStock is a stale snapshot: the server
	// value already includes this batch's deductions. Leave it alone.

	return db.WithContext(ctx).Model(&Product{}).
		Where("business_id = ? AND product_id = ?", businessId, input.ProductId).
		Updates(update).Error
}

func upsertSyncExpenditure(ctx context.Context, db *gorm.DB, businessId string, input SyncExpenditureInput) error {
	timestamp := input.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	var count int64
	err := db.WithContext(ctx).Model(&Expenditure{}).
		Where("business_id = ? AND expenditure_id = ?", businessId, input.ExpenditureId).
		Count(&count).Error
	if err != nil {
		return err
	}

	if count == 0 {
		record := Expenditure{
			BusinessId:    businessId,
			ExpenditureId: input.ExpenditureId,
			Description:   input.Description,
			Category:      input.Category,
			Amount:        input.Amount,
			Timestamp:     timestamp,
		}
		return db.WithContext(ctx).Create(&record).Error
	}

	return db.WithContext(ctx).Model(&Expenditure{}).
		Where("business_id = ? AND expenditure_id = ?", businessId, input.ExpenditureId).
		Updates(map[string]interface{}{
			"description": input.Description,
			"category":    input.Category,
			"amount":      input.Amount,
			"timestamp":   timestamp,
		}).Error
}

type SyncSnapshot struct {
	Products     []*Product
	Transactions []*Transaction
	Expenditures []*Expenditure
}

// GetSyncSnapshot returns the full authoritative state the client should
// replace its local cache with.
func GetSyncSnapshot(ctx context.Context, businessId string) (*SyncSnapshot, error) {
	products, err := GetProducts(ctx, businessId)
	if err != nil {
		return nil, err
	}
	transactions, err := GetTransactions(ctx, businessId)
	if err != nil {
		return nil, err
	}
	expenditures, err := GetExpenditures(ctx, businessId)
	if err != nil {
		return nil, err
	}
	return &SyncSnapshot{
		Products:     products,
		Transactions: transactions,
		Expenditures: expenditures,
	}, nil
}

// DeleteTransaction removes a sale; with restock the deductions it caused
// are reversed through the same atomic mutator that applied them.
func DeleteTransaction(ctx context.Context, businessId string, transactionId string, restock bool) error {
	db := config.GetDB()
	logger := config.GetLogger()

	txn, err := GetTransaction(ctx, businessId, transactionId)
	if err != nil {
		return err
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if restock {
			for _, item := range txn.Items {
				err := AdjustProductStock(tx, businessId, item.ProductId, -DeductionForItem(item))
				if err != nil && err != utils.ErrorRecordNotFound {
					return err
				}
				if err == utils.ErrorRecordNotFound {
					// Product has since been removed; nothing to restock.
					config.LogError(logger, "sync.go", "DeleteTransaction", "restock missing product", item.ProductId, err)
				}
			}
		}
		return tx.Where("business_id = ? AND transaction_id = ?", businessId, transactionId).
			Delete(&Transaction{}).Error
	})
}
