package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/itamarsh/cardledger/internal/detector"
	"github.com/itamarsh/cardledger/internal/domain"
	"github.com/itamarsh/cardledger/internal/eventbus"
	"github.com/itamarsh/cardledger/internal/parser"
	"github.com/itamarsh/cardledger/internal/reconcile"
	"github.com/itamarsh/cardledger/internal/storage"
	"github.com/itamarsh/cardledger/pkg/logger"
)

// captureBus records published events instead of delivering them.
type captureBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *captureBus) Publish(ctx context.Context, event eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *captureBus) Subscribe(eventbus.EventType, eventbus.Consumer) error { return nil }

func (b *captureBus) Start(context.Context) error { return nil }

func (b *captureBus) Shutdown(context.Context) error { return nil }

func (b *captureBus) published() []eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]eventbus.Event(nil), b.events...)
}

// stubRates serves fixed rates; currencies not listed are unknown.
type stubRates map[string]string

func (r stubRates) Rate(ctx context.Context, date time.Time, currency string) (*decimal.Decimal, error) {
	raw, ok := r[currency]
	if !ok {
		return nil, nil
	}
	d := decimal.RequireFromString(raw)
	return &d, nil
}

type testEnv struct {
	store    *storage.MemoryStore
	bus      *captureBus
	detector *detector.Service
	svc      *BatchService
}

func newTestEnv(t *testing.T, rates domain.RateLookup) *testEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	log := logger.NewNop()
	registry := parser.NewRegistry()
	det := detector.New(store, registry, log)
	bus := &captureBus{}
	if rates == nil {
		rates = stubRates{}
	}
	svc := NewBatchService(store, store, det, registry, reconcile.New(store, log), store, rates, bus, log, "ILS")
	return &testEnv{store: store, bus: bus, detector: det, svc: svc}
}

func (e *testEnv) registerMaxCard(t *testing.T, owner, last4 string) {
	t.Helper()
	_, err := e.detector.RegisterCard(context.Background(), owner, domain.CardInfo{Last4: last4, Issuer: parser.IssuerMax})
	require.NoError(t, err)
}

// writeMaxStatement builds a max-format export with the given data rows.
func writeMaxStatement(t *testing.T, dir, name, last4, month, total string, rows [][]string) string {
	t.Helper()
	const sheet = "עסקאות במועד החיוב"
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", sheet))
	require.NoError(t, f.SetCellValue(sheet, "A1", "פירוט עסקאות לכרטיס מסתיים ב-"+last4+", חשבון 557799"))
	require.NoError(t, f.SetCellValue(sheet, "A2", "חודש חיוב: "+month))
	if total != "" {
		require.NoError(t, f.SetCellValue(sheet, "A3", `סה"כ לחיוב: `+total))
	}
	header := []string{"תאריך עסקה", "שם בית עסק", "סכום עסקה", "מטבע", "סכום חיוב", "הערות", "קטגוריה"}
	for col, v := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 5)
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue(sheet, cell, v))
	}
	for r, row := range rows {
		for col, v := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, 6+r)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, v))
		}
	}
	path := filepath.Join(dir, name)
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func processOneBatch(t *testing.T, env *testEnv, batchID, owner string, files []UploadedFile) *domain.UploadBatch {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.store.CreateBatch(ctx, batchID))
	require.NoError(t, env.svc.ProcessBatch(ctx, batchID, owner, files))
	batch, err := env.svc.GetBatch(ctx, batchID)
	require.NoError(t, err)
	return batch
}

func TestProcessBatch_EndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registerMaxCard(t, "dana", "1234")
	dir := t.TempDir()

	path := writeMaxStatement(t, dir, "transaction-details_1234_export.xlsx", "1234", "05/2025", "233.90", [][]string{
		{"01-05-2025", "SUPERSAL", "50.00", "ILS", "50.00", "", ""},
		{"02-05-2025", "IKEA ISRAEL", "129.00", "ILS", "129.00", "תשלום 1 מתוך 3, סך עסקה: 387.00", ""},
		{"03-05-2025", "NETFLIX.COM", "54.90", "ILS", "54.90", "", ""},
	})

	batch := processOneBatch(t, env, "batch-1", "dana", []UploadedFile{
		{Path: path, Filename: "transaction-details_1234_export.xlsx"},
	})

	assert.Equal(t, domain.BatchStatusCompleted, batch.Status)
	require.Len(t, batch.Files, 1)
	file := batch.Files[0]
	assert.False(t, file.Skipped)
	assert.Equal(t, parser.IssuerMax, file.Issuer)
	assert.Equal(t, 3, file.NewCount)
	assert.Zero(t, file.UpdatedCount)
	assert.Zero(t, file.DuplicateCount)
	require.NotNil(t, file.Validation)
	assert.True(t, file.Validation.IsValid)

	// The installment plan was projected forward: 1 completed + 2 placeholders.
	groupID := reconcile.BaseGroupID("IKEA ISRAEL", decimal.RequireFromString("387.00"), 3,
		time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC))
	rows, err := env.store.ListGroupTransactions(context.Background(), groupID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, domain.TransactionStatusCompleted, rows[0].Status)
	assert.Equal(t, domain.TransactionStatusProjected, rows[1].Status)

	// Completion dispatched exactly one categorization job for the businesses
	// the batch touched.
	events := env.bus.published()
	require.Len(t, events, 1)
	assert.Equal(t, eventbus.EventTypeCategorization, events[0].Type)
	payload, ok := events[0].Payload.(eventbus.CategorizationEvent)
	require.True(t, ok)
	assert.Equal(t, "batch-1", payload.BatchID)
	assert.Len(t, payload.Businesses, 3)
}

func TestProcessBatch_ReuploadIsAllDuplicates(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registerMaxCard(t, "dana", "1234")
	dir := t.TempDir()

	rows := [][]string{
		{"01-05-2025", "SUPERSAL", "50.00", "ILS", "50.00", "", ""},
		{"02-05-2025", "IKEA ISRAEL", "129.00", "ILS", "129.00", "תשלום 1 מתוך 3, סך עסקה: 387.00", ""},
	}
	path := writeMaxStatement(t, dir, "transaction-details_1234_export.xlsx", "1234", "05/2025", "", rows)
	files := []UploadedFile{{Path: path, Filename: "transaction-details_1234_export.xlsx"}}

	first := processOneBatch(t, env, "batch-1", "dana", files)
	assert.Equal(t, 2, first.NewCount)

	second := processOneBatch(t, env, "batch-2", "dana", files)
	assert.Equal(t, 0, second.NewCount)
	assert.Equal(t, 0, second.UpdatedCount)
	assert.Equal(t, 2, second.DuplicateCount)
}

func TestProcessBatch_UnverifiedCardSkipsFile(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := t.TempDir()

	// Card 9999 was never registered: detection lands on NEW_CARD and the
	// file waits for a user decision instead of being parsed.
	path := writeMaxStatement(t, dir, "transaction-details_9999_export.xlsx", "9999", "05/2025", "", [][]string{
		{"01-05-2025", "SUPERSAL", "50.00", "ILS", "50.00", "", ""},
	})

	batch := processOneBatch(t, env, "batch-1", "dana", []UploadedFile{
		{Path: path, Filename: "transaction-details_9999_export.xlsx"},
	})

	assert.Equal(t, domain.BatchStatusCompleted, batch.Status)
	require.Len(t, batch.Files, 1)
	file := batch.Files[0]
	assert.True(t, file.Skipped)
	assert.Contains(t, file.SkipReason, string(domain.DetectionNewCard))
	assert.Zero(t, batch.NewCount)

	// Nothing was ingested, so no categorization job either.
	assert.Empty(t, env.bus.published())
}

func TestProcessBatch_BackfillThenPayment1AcrossBatches(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registerMaxCard(t, "dana", "1234")
	dir := t.TempDir()

	// June's statement shows payment 2 of 3 first.
	june := writeMaxStatement(t, dir, "transaction-details_1234_export_06.xlsx", "1234", "06/2025", "", [][]string{
		{"02-05-2025", "IKEA ISRAEL", "100.00", "ILS", "100.00", "תשלום 2 מתוך 3, סך עסקה: 300.00", ""},
	})
	first := processOneBatch(t, env, "batch-1", "dana", []UploadedFile{
		{Path: june, Filename: "transaction-details_1234_export_06.xlsx"},
	})
	assert.Equal(t, 1, first.NewCount)

	groupID := reconcile.BaseGroupID("IKEA ISRAEL", decimal.RequireFromString("300.00"), 3,
		time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC))
	rows, err := env.store.ListGroupTransactions(context.Background(), groupID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Nil(t, rows[0].ActualChargeDate) // ghost payment 1

	// May's statement arrives late with the real payment 1: the ghost row is
	// updated in place, no new row appears.
	may := writeMaxStatement(t, dir, "transaction-details_1234_export_05.xlsx", "1234", "05/2025", "", [][]string{
		{"02-05-2025", "IKEA ISRAEL", "100.00", "ILS", "100.00", "תשלום 1 מתוך 3, סך עסקה: 300.00", ""},
	})
	second := processOneBatch(t, env, "batch-2", "dana", []UploadedFile{
		{Path: may, Filename: "transaction-details_1234_export_05.xlsx"},
	})
	assert.Equal(t, 1, second.UpdatedCount)
	assert.Zero(t, second.NewCount)

	rows, err = env.store.ListGroupTransactions(context.Background(), groupID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, domain.TransactionStatusCompleted, rows[0].Status)
	require.NotNil(t, rows[0].ActualChargeDate)
	assert.Equal(t, "batch-2", rows[0].UploadBatchID)
}

func TestProcessBatch_CurrencyNormalization(t *testing.T) {
	env := newTestEnv(t, stubRates{"USD": "3.70"})
	env.registerMaxCard(t, "dana", "1234")
	dir := t.TempDir()

	// Zero charged amounts force the rate lookup: USD has a rate, GBP does not.
	path := writeMaxStatement(t, dir, "transaction-details_1234_export.xlsx", "1234", "05/2025", "", [][]string{
		{"01-05-2025", "AMAZON US", "100.00", "USD", "0", "", ""},
		{"02-05-2025", "HARRODS LONDON", "80.00", "GBP", "0", "", ""},
	})

	batch := processOneBatch(t, env, "batch-1", "dana", []UploadedFile{
		{Path: path, Filename: "transaction-details_1234_export.xlsx"},
	})
	require.Len(t, batch.Files, 1)
	file := batch.Files[0]
	assert.Equal(t, 2, file.NewCount)

	ctx := context.Background()
	converted, err := env.store.FindByHash(ctx, reconcile.ContentHash(
		1, 1, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		decimal.RequireFromString("370"), "USD", domain.PaymentTypeOneTime))
	require.NoError(t, err)
	require.NotNil(t, converted)
	require.NotNil(t, converted.ExchangeRateUsed)
	assert.True(t, converted.ExchangeRateUsed.Equal(decimal.RequireFromString("3.70")))

	degraded, err := env.store.FindByHash(ctx, reconcile.ContentHash(
		2, 1, time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC),
		decimal.RequireFromString("80"), "GBP", domain.PaymentTypeOneTime))
	require.NoError(t, err)
	require.NotNil(t, degraded)
	assert.Nil(t, degraded.ExchangeRateUsed)

	foundWarning := false
	for _, w := range file.Warnings {
		if w.Message == "no GBP rate for 2025-05-02, using original amount" {
			foundWarning = true
		}
	}
	assert.True(t, foundWarning)
}

func TestUploadBatch_Async(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registerMaxCard(t, "dana", "1234")
	dir := t.TempDir()

	path := writeMaxStatement(t, dir, "transaction-details_1234_export.xlsx", "1234", "05/2025", "", [][]string{
		{"01-05-2025", "SUPERSAL", "50.00", "ILS", "50.00", "", ""},
	})

	ctx := context.Background()
	batchID, err := env.svc.UploadBatch(ctx, "dana", []UploadedFile{
		{Path: path, Filename: "transaction-details_1234_export.xlsx"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, batchID)

	// The batch is registered before the call returns and completes shortly
	// after in the background.
	assert.Eventually(t, func() bool {
		batch, err := env.svc.GetBatch(ctx, batchID)
		return err == nil && batch.Status == domain.BatchStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}
