package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/shopledger_backend/config"
	"github.com/mmdatafocus/shopledger_backend/models"
	"github.com/mmdatafocus/shopledger_backend/utils"
)

// Full-stack regression: retried sync batches must converge to the same
// ledger state, and interleaved batches from two devices must not lose
// deductions.
func TestSyncIdempotenceAndConcurrency(t *testing.T) {
	ctx, businessID := setupIntegration(t)

	// Seed the catalog the way a first sync would: product arrives with the
	// client's stock.
	stats, err := models.ApplySyncBatch(ctx, businessID, &models.SyncBatchInput{
		Products: []models.SyncProductInput{{
			ProductId:    "prod-rice",
			Name:         "Rice 50kg",
			BaseUnit:     "bag",
			CurrentStock: utils.ToMilli(10),
			SellingPrice: utils.ToMilli(68000),
		}},
	})
	if err != nil {
		t.Fatalf("seed batch: %v", err)
	}
	if stats.ProductsUpserted != 1 {
		t.Fatalf("expected 1 product upserted, got %+v", stats)
	}
	assertStock(t, ctx, businessID, "prod-rice", utils.ToMilli(10))

	// A sale of 3 bags. The client reports its own post-sale stock (7), but
	// the server must derive 7 from the deduction, not trust the snapshot.
	saleBatch := &models.SyncBatchInput{
		Transactions: []models.SyncTransactionInput{{
			TransactionId: "txn-1",
			Items: models.TransactionItemList{{
				ProductId:  "prod-rice",
				Name:       "Rice 50kg",
				Quantity:   utils.ToMilli(3),
				UnitName:   "bag",
				Multiplier: utils.ToMilli(1),
				UnitPrice:  utils.ToMilli(68000),
			}},
			Total:         utils.ToMilli(204000),
			PaymentMethod: "cash",
			Timestamp:     time.Now(),
		}},
		Products: []models.SyncProductInput{{
			ProductId:    "prod-rice",
			Name:         "Rice 50kg",
			BaseUnit:     "bag",
			CurrentStock: utils.ToMilli(7),
			SellingPrice: utils.ToMilli(68000),
		}},
	}

	stats, err = models.ApplySyncBatch(ctx, businessID, saleBatch)
	if err != nil {
		t.Fatalf("sale batch: %v", err)
	}
	if stats.NewTransactions != 1 || stats.ItemErrors != 0 {
		t.Fatalf("unexpected sale stats: %+v", stats)
	}
	assertStock(t, ctx, businessID, "prod-rice", utils.ToMilli(7))

	// Device retries the exact same batch after a dropped response. The
	// deduction must not run twice.
	stats, err = models.ApplySyncBatch(ctx, businessID, saleBatch)
	if err != nil {
		t.Fatalf("retried batch: %v", err)
	}
	if stats.NewTransactions != 0 || stats.DuplicateSkipped != 1 {
		t.Fatalf("retry should skip the duplicate, got %+v", stats)
	}
	assertStock(t, ctx, businessID, "prod-rice", utils.ToMilli(7))

	// Two devices sell one bag each, syncing separately. Each device's
	// currentStock snapshot is stale (both saw 7), but relative deltas keep
	// both sales: 7 - 1 - 1 = 5.
	for _, txnID := range []string{"txn-dev-a", "txn-dev-b"} {
		_, err = models.ApplySyncBatch(ctx, businessID, &models.SyncBatchInput{
			Transactions: []models.SyncTransactionInput{{
				TransactionId: txnID,
				Items: models.TransactionItemList{{
					ProductId:  "prod-rice",
					Name:       "Rice 50kg",
					Quantity:   utils.ToMilli(1),
					UnitName:   "bag",
					Multiplier: utils.ToMilli(1),
					UnitPrice:  utils.ToMilli(68000),
				}},
				Total:         utils.ToMilli(68000),
				PaymentMethod: "cash",
				Timestamp:     time.Now(),
			}},
			Products: []models.SyncProductInput{{
				ProductId:    "prod-rice",
				Name:         "Rice 50kg",
				BaseUnit:     "bag",
				CurrentStock: utils.ToMilli(6), // stale on both devices
				SellingPrice: utils.ToMilli(68000),
			}},
		})
		if err != nil {
			t.Fatalf("batch %s: %v", txnID, err)
		}
	}
	assertStock(t, ctx, businessID, "prod-rice", utils.ToMilli(5))

	// A manual stock edit is the one case where the client's absolute value
	// wins over the server's ledger.
	_, err = models.ApplySyncBatch(ctx, businessID, &models.SyncBatchInput{
		Products: []models.SyncProductInput{{
			ProductId:      "prod-rice",
			Name:           "Rice 50kg",
			BaseUnit:       "bag",
			CurrentStock:   utils.ToMilli(20),
			SellingPrice:   utils.ToMilli(68000),
			IsManualUpdate: true,
		}},
	})
	if err != nil {
		t.Fatalf("manual edit batch: %v", err)
	}
	assertStock(t, ctx, businessID, "prod-rice", utils.ToMilli(20))

	p, err := models.GetProduct(ctx, businessID, "prod-rice")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if p.RecentManualEdits != 1 {
		t.Fatalf("expected recent_manual_edits=1, got %d", p.RecentManualEdits)
	}
}

// Sub-unit sales deduct fractional base units: selling 2 paint buckets of
// 0.04 bag each must remove 0.08 bags exactly.
func TestSyncSubUnitDeduction(t *testing.T) {
	ctx, businessID := setupIntegration(t)

	_, err := models.ApplySyncBatch(ctx, businessID, &models.SyncBatchInput{
		Products: []models.SyncProductInput{{
			ProductId:    "prod-oil",
			Name:         "Vegetable Oil 25L",
			BaseUnit:     "jerrican",
			CurrentStock: utils.ToMilli(8),
			SellingPrice: utils.ToMilli(52000),
			Units: models.ProductUnitList{{
				Name:       "litre",
				Multiplier: utils.ToMilli(0.04),
				Price:      utils.ToMilli(2200),
			}},
		}},
	})
	if err != nil {
		t.Fatalf("seed batch: %v", err)
	}

	_, err = models.ApplySyncBatch(ctx, businessID, &models.SyncBatchInput{
		Transactions: []models.SyncTransactionInput{{
			TransactionId: "txn-litres",
			Items: models.TransactionItemList{{
				ProductId:  "prod-oil",
				Name:       "Vegetable Oil 25L",
				Quantity:   utils.ToMilli(2),
				UnitName:   "litre",
				Multiplier: utils.ToMilli(0.04),
				UnitPrice:  utils.ToMilli(2200),
			}},
			Total:         utils.ToMilli(4400),
			PaymentMethod: "cash",
			Timestamp:     time.Now(),
		}},
	})
	if err != nil {
		t.Fatalf("sale batch: %v", err)
	}

	assertStock(t, ctx, businessID, "prod-oil", utils.ToMilli(7.92))
}

// Voiding a sale with restock reverses every line's deduction atomically.
func TestDeleteTransactionRestock(t *testing.T) {
	ctx, businessID := setupIntegration(t)

	_, err := models.ApplySyncBatch(ctx, businessID, &models.SyncBatchInput{
		Products: []models.SyncProductInput{{
			ProductId:    "prod-sugar",
			Name:         "Sugar 1kg",
			BaseUnit:     "pack",
			CurrentStock: utils.ToMilli(40),
			SellingPrice: utils.ToMilli(1800),
		}},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err = models.ApplySyncBatch(ctx, businessID, &models.SyncBatchInput{
		Transactions: []models.SyncTransactionInput{{
			TransactionId: "txn-void-me",
			Items: models.TransactionItemList{{
				ProductId:  "prod-sugar",
				Name:       "Sugar 1kg",
				Quantity:   utils.ToMilli(5),
				UnitName:   "pack",
				Multiplier: utils.ToMilli(1),
				UnitPrice:  utils.ToMilli(1800),
			}},
			Total:         utils.ToMilli(9000),
			PaymentMethod: "transfer",
			Timestamp:     time.Now(),
		}},
	})
	if err != nil {
		t.Fatalf("sale: %v", err)
	}
	assertStock(t, ctx, businessID, "prod-sugar", utils.ToMilli(35))

	if err := models.DeleteTransaction(ctx, businessID, "txn-void-me", true); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}
	assertStock(t, ctx, businessID, "prod-sugar", utils.ToMilli(40))

	if _, err := models.GetTransaction(ctx, businessID, "txn-void-me"); err != utils.ErrorRecordNotFound {
		t.Fatalf("expected transaction gone, got err=%v", err)
	}

	if err := models.DeleteTransaction(ctx, businessID, "txn-void-me", true); err != utils.ErrorRecordNotFound {
		t.Fatalf("second delete should report not found, got %v", err)
	}
}

// A count taken against a stale expected quantity must conflict, and the
// confirmed retry must land exactly once.
func TestVerifiedCountConflict(t *testing.T) {
	ctx, businessID := setupIntegration(t)

	_, err := models.ApplySyncBatch(ctx, businessID, &models.SyncBatchInput{
		Products: []models.SyncProductInput{{
			ProductId:    "prod-flour",
			Name:         "Flour 10kg",
			BaseUnit:     "bag",
			CurrentStock: utils.ToMilli(10),
			SellingPrice: utils.ToMilli(9000),
		}},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Count sheet opened when stock was 10; a sale of 2 lands before the
	// count is submitted.
	_, err = models.ApplySyncBatch(ctx, businessID, &models.SyncBatchInput{
		Transactions: []models.SyncTransactionInput{{
			TransactionId: "txn-meanwhile",
			Items: models.TransactionItemList{{
				ProductId:  "prod-flour",
				Name:       "Flour 10kg",
				Quantity:   utils.ToMilli(2),
				UnitName:   "bag",
				Multiplier: utils.ToMilli(1),
				UnitPrice:  utils.ToMilli(9000),
			}},
			Total:         utils.ToMilli(18000),
			PaymentMethod: "cash",
			Timestamp:     time.Now(),
		}},
	})
	if err != nil {
		t.Fatalf("interleaved sale: %v", err)
	}

	_, err = models.ApplyVerifiedCount(ctx, businessID, &models.NewVerifiedCount{
		ProductId:         "prod-flour",
		CountedQty:        utils.ToMilli(9),
		ExpectedQtyAtOpen: utils.ToMilli(10),
		ReasonCode:        models.VerifyReasonCycleCount,
		VerifiedBy:        "Tester",
	})
	if err != utils.ErrorStaleExpectedQty {
		t.Fatalf("expected stale-expected conflict, got %v", err)
	}
	// The rejected count must not have touched anything.
	assertStock(t, ctx, businessID, "prod-flour", utils.ToMilli(8))

	result, err := models.ApplyVerifiedCount(ctx, businessID, &models.NewVerifiedCount{
		ProductId:              "prod-flour",
		CountedQty:             utils.ToMilli(7),
		ExpectedQtyAtOpen:      utils.ToMilli(8),
		ReasonCode:             models.VerifyReasonCycleCount,
		ConfirmChangedExpected: true,
		VerifiedBy:             "Tester",
	})
	if err != nil {
		t.Fatalf("confirmed count: %v", err)
	}
	if result.Variance != utils.ToMilli(-1) {
		t.Fatalf("variance = %d, want %d", result.Variance, utils.ToMilli(-1))
	}
	if result.RiskAfter >= result.RiskBefore && result.RiskBefore != 0 {
		t.Fatalf("risk should decay after a count: before=%d after=%d", result.RiskBefore, result.RiskAfter)
	}
	assertStock(t, ctx, businessID, "prod-flour", utils.ToMilli(7))

	p, err := models.GetProduct(ctx, businessID, "prod-flour")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if p.LastVerifiedAt == nil || p.LastVerifiedQty != utils.ToMilli(7) {
		t.Fatalf("verification fields not updated: %+v", p)
	}
	if p.VarianceCount != 1 || p.LastAbsVariance != utils.ToMilli(1) {
		t.Fatalf("variance bookkeeping wrong: count=%d abs=%d", p.VarianceCount, p.LastAbsVariance)
	}

	events, err := models.GetVerificationEvents(ctx, businessID, 10)
	if err != nil {
		t.Fatalf("GetVerificationEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
}

// In clamp mode a deduction against a product already at zero leaves the
// row unchanged; the mutator must still treat the row as found rather than
// failing the sale as a missing product.
func TestClampedDeductionAtZeroStock(t *testing.T) {
	ctx, businessID := setupIntegration(t)
	t.Setenv("CLAMP_STOCK_AT_ZERO", "true")

	_, err := models.ApplySyncBatch(ctx, businessID, &models.SyncBatchInput{
		Products: []models.SyncProductInput{{
			ProductId:    "prod-salt",
			Name:         "Salt 500g",
			BaseUnit:     "pack",
			CurrentStock: 0,
			SellingPrice: utils.ToMilli(400),
		}},
	})
	if err != nil {
		t.Fatalf("seed batch: %v", err)
	}
	assertStock(t, ctx, businessID, "prod-salt", 0)

	// Direct mutator call: the clamped update leaves the row unchanged, but
	// the row exists, so this must not surface as a not-found error.
	err = models.AdjustProductStock(config.GetDB(), businessID, "prod-salt", -utils.ToMilli(2))
	if err != nil {
		t.Fatalf("clamped deduction on existing row: %v", err)
	}
	assertStock(t, ctx, businessID, "prod-salt", 0)

	stats, err := models.ApplySyncBatch(ctx, businessID, &models.SyncBatchInput{
		Transactions: []models.SyncTransactionInput{{
			TransactionId: "txn-salt-1",
			Items: models.TransactionItemList{{
				ProductId:  "prod-salt",
				Name:       "Salt 500g",
				Quantity:   utils.ToMilli(2),
				UnitName:   "pack",
				Multiplier: utils.ToMilli(1),
				UnitPrice:  utils.ToMilli(400),
			}},
			Total:         utils.ToMilli(800),
			PaymentMethod: "cash",
			Timestamp:     time.Now(),
		}},
	})
	if err != nil {
		t.Fatalf("sale against zero stock: %v", err)
	}
	if stats.NewTransactions != 1 || stats.ItemErrors != 0 {
		t.Fatalf("unexpected sale stats: %+v", stats)
	}
	assertStock(t, ctx, businessID, "prod-salt", 0)
}

// The profile snapshot sent with a sync batch updates the business record;
// blank fields leave the stored values alone.
func TestSyncBusinessProfileUpdate(t *testing.T) {
	ctx, businessID := setupIntegration(t)

	err := models.UpdateBusinessProfile(ctx, businessID, &models.SyncBusinessInput{
		Name:    fmt.Sprintf("Renamed Shop %d", time.Now().UnixNano()),
		Address: "12 Market Rd",
	})
	if err != nil {
		t.Fatalf("UpdateBusinessProfile: %v", err)
	}

	business, err := models.GetBusinessById(ctx, businessID)
	if err != nil {
		t.Fatalf("GetBusinessById: %v", err)
	}
	if business.Address != "12 Market Rd" {
		t.Errorf("address = %q, want 12 Market Rd", business.Address)
	}
	if !strings.HasPrefix(business.Name, "Renamed Shop") {
		t.Errorf("name = %q, want the renamed value", business.Name)
	}

	// Blank snapshot fields are a no-op.
	if err := models.UpdateBusinessProfile(ctx, businessID, &models.SyncBusinessInput{}); err != nil {
		t.Fatalf("empty profile update: %v", err)
	}
	unchanged, err := models.GetBusinessById(ctx, businessID)
	if err != nil {
		t.Fatalf("GetBusinessById: %v", err)
	}
	if unchanged.Name != business.Name || unchanged.Address != business.Address {
		t.Errorf("empty update changed the profile: %+v", unchanged)
	}
}

func setupIntegration(t *testing.T) (context.Context, string) {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "shopledger_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	business, err := models.RegisterBusiness(ctx, &models.NewBusiness{
		Name:  fmt.Sprintf("Sync Co %d", time.Now().UnixNano()),
		Email: fmt.Sprintf("owner-%d@sync.test", time.Now().UnixNano()),
		Pin:   "1234",
	})
	if err != nil {
		t.Fatalf("RegisterBusiness: %v", err)
	}
	businessID := business.ID.String()

	ctx = utils.SetBusinessIdInContext(ctx, businessID)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	return ctx, businessID
}

func assertStock(t *testing.T, ctx context.Context, businessID, productID string, want int64) {
	t.Helper()
	p, err := models.GetProduct(ctx, businessID, productID)
	if err != nil {
		t.Fatalf("GetProduct(%s): %v", productID, err)
	}
	if p.Stock != want {
		t.Fatalf("stock of %s = %d, want %d", productID, p.Stock, want)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("shopledger-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("shopledger-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=shopledger_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
