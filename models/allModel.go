package models

import (
	"github.com/mmdatafocus/shopledger_backend/config"
)

// MigrateTable runs gorm auto-migration for every table this service owns.
func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{},
		&Product{},
		&Transaction{},
		&Expenditure{},
		&DiscountCode{},
		&StockVerificationEvent{},
		&Notification{},
		&IdempotencyKey{},
	)
	if err != nil {
		panic(err)
	}
}
