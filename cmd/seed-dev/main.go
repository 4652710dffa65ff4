// seed-dev creates a verified demo business with a small catalog so the
// sync and audit endpoints can be exercised locally without a device.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-dev
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mmdatafocus/shopledger_backend/config"
	"github.com/mmdatafocus/shopledger_backend/models"
	"github.com/mmdatafocus/shopledger_backend/utils"
	"gorm.io/gorm"
)

const (
	demoName  = "Demo Provisions Store"
	demoEmail = "demo@shopledger.dev"
	demoPin   = "1234"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	var existing models.Business
	err := db.WithContext(ctx).Where("email = ?", demoEmail).First(&existing).Error
	if err == nil {
		fmt.Printf("demo business already exists: %s\n", existing.ID)
		seedCatalog(ctx, db, existing.ID.String())
		return
	}
	if err != gorm.ErrRecordNotFound {
		fmt.Fprintf(os.Stderr, "failed to lookup business: %v\n", err)
		os.Exit(1)
	}

	business, err := models.RegisterBusiness(ctx, &models.NewBusiness{
		Name:     demoName,
		Email:    demoEmail,
		Country:  "NG",
		Timezone: "Africa/Lagos",
		Pin:      demoPin,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to register business: %v\n", err)
		os.Exit(1)
	}

	// Skip the email round trip for local development.
	err = db.WithContext(ctx).Model(business).
		UpdateColumn("email_verified", true).Error
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to mark email verified: %v\n", err)
		os.Exit(1)
	}
	business.RemoveRedis()

	fmt.Printf("created business %s (email %s, pin %s)\n", business.ID, demoEmail, demoPin)
	seedCatalog(ctx, db, business.ID.String())
}

func seedCatalog(ctx context.Context, db *gorm.DB, businessId string) {
	ctx = utils.SetBusinessIdInContext(ctx, businessId)

	products := []models.Product{
		{
			BusinessId:   businessId,
			ProductId:    "prod-rice-50kg",
			Name:         "Rice 50kg Bag",
			Category:     "Grains",
			BaseUnit:     "bag",
			Stock:        utils.ToMilli(12),
			SellingPrice: utils.ToMilli(68000),
			CostPrice:    utils.ToMilli(61500),
			Units: models.ProductUnitList{
				{Name: "paint bucket", Multiplier: utils.ToMilli(0.04), Price: utils.ToMilli(2900)},
			},
		},
		{
			BusinessId:   businessId,
			ProductId:    "prod-oil-25l",
			Name:         "Vegetable Oil 25L",
			Category:     "Cooking",
			BaseUnit:     "jerrican",
			Stock:        utils.ToMilli(8),
			SellingPrice: utils.ToMilli(52000),
			CostPrice:    utils.ToMilli(47000),
			Units: models.ProductUnitList{
				{Name: "litre", Multiplier: utils.ToMilli(0.04), Price: utils.ToMilli(2200)},
			},
		},
		{
			BusinessId:   businessId,
			ProductId:    "prod-sugar-1kg",
			Name:         "Sugar 1kg",
			Category:     "Baking",
			BaseUnit:     "pack",
			Stock:        utils.ToMilli(40),
			SellingPrice: utils.ToMilli(1800),
			CostPrice:    utils.ToMilli(1500),
		},
	}

	for i := range products {
		p := &products[i]
		err := db.WithContext(ctx).
			Where("business_id = ? AND product_id = ?", businessId, p.ProductId).
			FirstOrCreate(p).Error
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed product %s: %v\n", p.ProductId, err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded %d products for business %s\n", len(products), businessId)

	codes := []models.DiscountCode{
		{BusinessId: businessId, CodeId: "code-welcome10", Code: "WELCOME10", Percent: 10},
		{BusinessId: businessId, CodeId: "code-bulk5", Code: "BULK5", Percent: 5},
	}
	for i := range codes {
		dc := &codes[i]
		err := db.WithContext(ctx).
			Where("business_id = ? AND code_id = ?", businessId, dc.CodeId).
			FirstOrCreate(dc).Error
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed discount code %s: %v\n", dc.CodeId, err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded %d discount codes for business %s\n", len(codes), businessId)
}
