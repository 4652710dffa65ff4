package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/shopledger_backend/config"
	"github.com/mmdatafocus/shopledger_backend/models"
	"github.com/mmdatafocus/shopledger_backend/utils"
)

// Replays the transaction log from each product's last verified checkpoint
// and reports where the ledger's quantity-on-hand has drifted. With --apply
// the recomputed quantities are written back.
func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	productID := flag.String("product-id", "", "Optional: limit to one product")
	apply := flag.Bool("apply", false, "Write recomputed stock back instead of just reporting")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := utils.SetBusinessIdInContext(context.Background(), *businessID)

	products, err := models.GetProducts(ctx, *businessID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load products: %v\n", err)
		os.Exit(1)
	}

	drifted := 0
	for _, p := range products {
		if *productID != "" && p.ProductId != *productID {
			continue
		}

		// Checkpoint: last physical count, or the row's creation if never
		// verified (stock at creation equals the client's reported quantity,
		// so the replay window starts there with the current value).
		var baseline int64
		var since time.Time
		if p.LastVerifiedAt != nil {
			baseline = p.LastVerifiedQty
			since = *p.LastVerifiedAt
		} else {
			fmt.Printf("SKIP   %-24s never verified, no checkpoint to replay from\n", p.ProductId)
			continue
		}

		transactions, err := models.GetTransactionsSince(ctx, *businessID, since)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load transactions for %s: %v\n", p.ProductId, err)
			os.Exit(1)
		}

		expected := baseline
		for _, t := range transactions {
			for _, item := range t.Items {
				if item.ProductId == p.ProductId {
					expected += models.DeductionForItem(item)
				}
			}
		}

		if expected == p.Stock {
			fmt.Printf("OK     %-24s stock=%.3f\n", p.ProductId, utils.FromMilli(p.Stock))
			continue
		}

		drifted++
		fmt.Printf("DRIFT  %-24s ledger=%.3f replayed=%.3f delta=%.3f\n",
			p.ProductId, utils.FromMilli(p.Stock), utils.FromMilli(expected), utils.FromMilli(expected-p.Stock))

		if *apply {
			// Guard against racing a live sync: only overwrite the value we read.
			res := db.WithContext(ctx).Model(&models.Product{}).
				Where("business_id = ? AND product_id = ? AND stock = ?", *businessID, p.ProductId, p.Stock).
				UpdateColumn("stock", expected)
			if res.Error != nil {
				fmt.Fprintf(os.Stderr, "apply %s: %v\n", p.ProductId, res.Error)
				os.Exit(1)
			}
			if res.RowsAffected == 0 {
				fmt.Printf("RACE   %-24s stock moved during rebuild, skipped\n", p.ProductId)
				continue
			}
			fmt.Printf("FIXED  %-24s stock=%.3f\n", p.ProductId, utils.FromMilli(expected))
		}
	}

	if drifted == 0 {
		fmt.Println("No drift found")
		return
	}
	if !*apply {
		fmt.Printf("%d drifted products; rerun with --apply to fix\n", drifted)
	}
}
