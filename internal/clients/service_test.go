package clients

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:clientbook_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Client{}, &Purchase{}, &PriceChange{}, &BalanceChange{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := func() time.Time { return time.Unix(1756500000, 0).UTC() }
	service, err := NewService(ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, db
}

func mustCreateClient(t *testing.T, service *Service, name string) ClientRecord {
	t.Helper()
	record, err := service.CreateClient(context.Background(), NewClient{Name: name})
	if err != nil {
		t.Fatalf("failed to create client %q: %v", name, err)
	}
	return record
}

func mustCreatePurchase(t *testing.T, service *Service, clientID uint, itemName string, price, balance float64) PurchaseRecord {
	t.Helper()
	record, err := service.CreatePurchase(context.Background(), NewPurchase{
		ClientID:         clientID,
		ItemName:         itemName,
		Price:            price,
		RemainingBalance: balance,
	})
	if err != nil {
		t.Fatalf("failed to create purchase %q: %v", itemName, err)
	}
	return record
}

func TestCreateClientRequiresName(t *testing.T) {
	service, db := newTestService(t)

	_, err := service.CreateClient(context.Background(), NewClient{Name: "   "})
	if err != ErrNameRequired {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}

	var count int64
	if err := db.Model(&Client{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count clients: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejected create must leave the store unchanged, found %d rows", count)
	}
}

func TestCreateClientTrimsFields(t *testing.T) {
	service, _ := newTestService(t)

	record, err := service.CreateClient(context.Background(), NewClient{
		Name:    "  Alice  ",
		Address: "  12 Harbor Rd  ",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Name != "Alice" {
		t.Fatalf("expected trimmed name, got %q", record.Name)
	}
	if record.Address != "12 Harbor Rd" {
		t.Fatalf("expected trimmed address, got %q", record.Address)
	}
	if record.Photos == nil || len(record.Photos) != 0 {
		t.Fatalf("expected empty photo list, got %#v", record.Photos)
	}
	if record.Items == nil || len(record.Items) != 0 {
		t.Fatalf("expected empty item list, got %#v", record.Items)
	}
}

func TestCreatePurchaseRejectsInvalidValues(t *testing.T) {
	service, db := newTestService(t)
	client := mustCreateClient(t, service, "Alice")

	cases := []struct {
		name    string
		price   float64
		balance float64
		want    error
	}{
		{name: "zero price", price: 0, balance: 0, want: ErrInvalidPurchase},
		{name: "negative price", price: -5, balance: 0, want: ErrInvalidPurchase},
		{name: "negative balance", price: 100, balance: -1, want: ErrInvalidBalance},
		{name: "balance above price", price: 100, balance: 150, want: ErrInvalidBalance},
	}
	for _, testCase := range cases {
		_, err := service.CreatePurchase(context.Background(), NewPurchase{
			ClientID:         client.ID,
			ItemName:         "Widget",
			Price:            testCase.price,
			RemainingBalance: testCase.balance,
		})
		if err != testCase.want {
			t.Fatalf("%s: expected %v, got %v", testCase.name, testCase.want, err)
		}
	}

	var count int64
	if err := db.Model(&Purchase{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count purchases: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejected creates must leave the store unchanged, found %d rows", count)
	}
}

func TestUpdatePurchaseAppendsAuditOnlyOnChange(t *testing.T) {
	service, db := newTestService(t)
	client := mustCreateClient(t, service, "Alice")
	purchase := mustCreatePurchase(t, service, client.ID, "Widget", 100, 100)

	ctx := context.Background()
	mutations := []float64{40, 40, 25, 25, 10}
	for _, balance := range mutations {
		value := balance
		_, err := service.UpdatePurchase(ctx, purchase.ID, PurchaseUpdate{RemainingBalance: &value})
		if err != nil {
			t.Fatalf("failed to update balance to %v: %v", balance, err)
		}
	}

	var balanceEntries []BalanceChange
	if err := db.Where("purchase_id = ?", purchase.ID).Find(&balanceEntries).Error; err != nil {
		t.Fatalf("failed to load balance history: %v", err)
	}
	// 100→40, 40→25, 25→10: the repeated values are no-ops.
	if len(balanceEntries) != 3 {
		t.Fatalf("expected 3 balance entries, got %d", len(balanceEntries))
	}
	if balanceEntries[0].PreviousAmount != 100 || balanceEntries[0].UpdatedAmount != 40 {
		t.Fatalf("unexpected first entry: %+v", balanceEntries[0])
	}

	var priceCount int64
	if err := db.Model(&PriceChange{}).Count(&priceCount).Error; err != nil {
		t.Fatalf("failed to count price history: %v", err)
	}
	if priceCount != 0 {
		t.Fatalf("balance-only updates must not write price history, found %d rows", priceCount)
	}
}

func TestUpdatePurchasePriceChangeWritesPriceHistory(t *testing.T) {
	service, db := newTestService(t)
	client := mustCreateClient(t, service, "Alice")
	purchase := mustCreatePurchase(t, service, client.ID, "Widget", 100, 50)

	newPrice := 120.0
	record, err := service.UpdatePurchase(context.Background(), purchase.ID, PurchaseUpdate{Price: &newPrice})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Price != 120 {
		t.Fatalf("expected updated price 120, got %v", record.Price)
	}
	if record.RemainingBalance != 50 {
		t.Fatalf("absent balance field must keep the stored value, got %v", record.RemainingBalance)
	}

	var entry PriceChange
	if err := db.Where("purchase_id = ?", purchase.ID).First(&entry).Error; err != nil {
		t.Fatalf("expected a price history row: %v", err)
	}
	if entry.PreviousPrice != 100 || entry.UpdatedPrice != 120 {
		t.Fatalf("unexpected price entry: %+v", entry)
	}

	var balanceCount int64
	if err := db.Model(&BalanceChange{}).Count(&balanceCount).Error; err != nil {
		t.Fatalf("failed to count balance history: %v", err)
	}
	if balanceCount != 0 {
		t.Fatalf("unsubmitted balance must not write balance history, found %d rows", balanceCount)
	}
}

func TestUpdatePurchaseRejectsBalanceAbovePrice(t *testing.T) {
	service, _ := newTestService(t)
	client := mustCreateClient(t, service, "Alice")
	purchase := mustCreatePurchase(t, service, client.ID, "Widget", 100, 50)

	balance := 150.0
	_, err := service.UpdatePurchase(context.Background(), purchase.ID, PurchaseUpdate{RemainingBalance: &balance})
	if err != ErrBalanceExceedsPrice {
		t.Fatalf("expected ErrBalanceExceedsPrice, got %v", err)
	}

	history, err := service.PurchaseHistory(context.Background(), purchase.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("rejected update must not write audit rows, got %d", len(history))
	}
}

func TestUpdatePurchaseNotFound(t *testing.T) {
	service, _ := newTestService(t)

	name := "Widget"
	_, err := service.UpdatePurchase(context.Background(), 404, PurchaseUpdate{ItemName: &name})
	if err != ErrPurchaseNotFound {
		t.Fatalf("expected ErrPurchaseNotFound, got %v", err)
	}
}

func TestUpdatePurchaseMergesImages(t *testing.T) {
	service, _ := newTestService(t)
	client := mustCreateClient(t, service, "Alice")

	created, err := service.CreatePurchase(context.Background(), NewPurchase{
		ClientID: client.ID,
		ItemName: "Widget",
		Price:    100,
		Images:   []string{"blob-a", "blob-b"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Drop blob-a, keep blob-b, add blob-c.
	kept := []string{"blob-b"}
	record, err := service.UpdatePurchase(context.Background(), created.ID, PurchaseUpdate{
		ExistingImages: &kept,
		NewImages:      []string{"blob-c"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(record.Images) != 2 || record.Images[0] != "blob-b" || record.Images[1] != "blob-c" {
		t.Fatalf("unexpected merged images: %#v", record.Images)
	}
}

func TestDeleteClientCascades(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	alice := mustCreateClient(t, service, "Alice")
	bob := mustCreateClient(t, service, "Bob")
	alicePurchase := mustCreatePurchase(t, service, alice.ID, "Widget", 100, 100)
	bobPurchase := mustCreatePurchase(t, service, bob.ID, "Gadget", 80, 80)

	for _, purchaseID := range []uint{alicePurchase.ID, bobPurchase.ID} {
		balance := 10.0
		price := 90.0
		_, err := service.UpdatePurchase(ctx, purchaseID, PurchaseUpdate{RemainingBalance: &balance, Price: &price})
		if err != nil {
			t.Fatalf("failed to seed history: %v", err)
		}
	}

	if err := service.DeleteClient(ctx, alice.ID); err != nil {
		t.Fatalf("failed to delete client: %v", err)
	}

	countRows := func(query string, arg any) int64 {
		t.Helper()
		var count int64
		if err := db.Raw(query, arg).Scan(&count).Error; err != nil {
			t.Fatalf("failed to count rows: %v", err)
		}
		return count
	}
	if countRows("SELECT COUNT(*) FROM clients WHERE id = ?", alice.ID) != 0 {
		t.Fatalf("expected the client row to be gone")
	}
	if countRows("SELECT COUNT(*) FROM purchases WHERE client_id = ?", alice.ID) != 0 {
		t.Fatalf("expected the client's purchases to be gone")
	}
	if countRows("SELECT COUNT(*) FROM price_history WHERE purchase_id = ?", alicePurchase.ID) != 0 {
		t.Fatalf("expected the client's price history to be gone")
	}
	if countRows("SELECT COUNT(*) FROM balance_history WHERE purchase_id = ?", alicePurchase.ID) != 0 {
		t.Fatalf("expected the client's balance history to be gone")
	}

	// The other client's data survives.
	history, err := service.PurchaseHistory(ctx, bobPurchase.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected bob's 2 audit rows to survive, got %d", len(history))
	}
}

func TestDeletePurchaseRemovesAuditRows(t *testing.T) {
	service, db := newTestService(t)
	client := mustCreateClient(t, service, "Alice")
	purchase := mustCreatePurchase(t, service, client.ID, "Widget", 100, 100)

	balance := 40.0
	if _, err := service.UpdatePurchase(context.Background(), purchase.ID, PurchaseUpdate{RemainingBalance: &balance}); err != nil {
		t.Fatalf("failed to seed history: %v", err)
	}

	if err := service.DeletePurchase(context.Background(), purchase.ID); err != nil {
		t.Fatalf("failed to delete purchase: %v", err)
	}

	for _, model := range []any{&Purchase{}, &BalanceChange{}, &PriceChange{}} {
		var count int64
		if err := db.Model(model).Count(&count).Error; err != nil {
			t.Fatalf("failed to count rows: %v", err)
		}
		if count != 0 {
			t.Fatalf("expected %T table to be empty, got %d rows", model, count)
		}
	}
}

func TestListPagePaginatesDescending(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	for i := 1; i <= 12; i++ {
		mustCreateClient(t, service, fmt.Sprintf("Client %02d", i))
	}

	first, err := service.ListPage(ctx, 0, Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != 10 {
		t.Fatalf("expected a full page of 10, got %d", len(first))
	}
	if first[0].Name != "Client 12" {
		t.Fatalf("expected newest client first, got %q", first[0].Name)
	}

	second, err := service.ListPage(ctx, 1, Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("expected 2 rows on the second page, got %d", len(second))
	}

	third, err := service.ListPage(ctx, 2, Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(third) != 0 {
		t.Fatalf("expected an empty page past the end, got %d rows", len(third))
	}
}

func TestListPageFilters(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	alice := mustCreateClient(t, service, "Alice")
	mustCreateClient(t, service, "Bob")
	mustCreatePurchase(t, service, alice.ID, "Copper Kettle", 60, 60)

	byName, err := service.ListPage(ctx, 0, Filter{Field: FilterName, Value: "ali"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(byName) != 1 || byName[0].Name != "Alice" {
		t.Fatalf("unexpected name-filter result: %#v", byName)
	}

	byItem, err := service.ListPage(ctx, 0, Filter{Field: FilterItem, Value: "kettle"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(byItem) != 1 || byItem[0].ID != alice.ID {
		t.Fatalf("unexpected item-filter result: %#v", byItem)
	}
	if len(byItem[0].Items) != 1 || byItem[0].Items[0].ItemName != "Copper Kettle" {
		t.Fatalf("expected nested purchases on the filtered row: %#v", byItem[0].Items)
	}

	byID, err := service.ListPage(ctx, 0, Filter{Field: FilterClientID, Value: fmt.Sprintf("%d", alice.ID)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(byID) != 1 || byID[0].ID != alice.ID {
		t.Fatalf("unexpected id-filter result: %#v", byID)
	}

	badID, err := service.ListPage(ctx, 0, Filter{Field: FilterClientID, Value: "not-a-number"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(badID) != 0 {
		t.Fatalf("non-numeric client id filter must match nothing, got %d rows", len(badID))
	}
}

func TestListPageCreatedDateFilter(t *testing.T) {
	service, _ := newTestService(t)
	mustCreateClient(t, service, "Alice")

	// The fixed test clock stamps created_at; its calendar date must match.
	day := time.Unix(1756500000, 0).UTC().Format("2006-01-02")
	matched, err := service.ListPage(context.Background(), 0, Filter{Field: FilterCreatedDate, Value: day})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 1 {
		t.Fatalf("expected the created-date filter to match, got %d rows", len(matched))
	}

	missed, err := service.ListPage(context.Background(), 0, Filter{Field: FilterCreatedDate, Value: "1999-01-01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(missed) != 0 {
		t.Fatalf("expected no rows for a different day, got %d", len(missed))
	}
}

func TestUpdateClientReplacesPhotosAndStampsUpdatedAt(t *testing.T) {
	service, db := newTestService(t)
	created, err := service.CreateClient(context.Background(), NewClient{
		Name:   "Alice",
		Photos: []string{"old-photo"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record, err := service.UpdateClient(context.Background(), created.ID, ClientUpdate{
		Name:    "Alice Cooper",
		Address: "5 Dock St",
		Photos:  []string{"old-photo", "new-photo"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Name != "Alice Cooper" {
		t.Fatalf("unexpected name: %q", record.Name)
	}
	if len(record.Photos) != 2 {
		t.Fatalf("unexpected photos: %#v", record.Photos)
	}

	var stored Client
	if err := db.Where("id = ?", created.ID).First(&stored).Error; err != nil {
		t.Fatalf("failed to load client: %v", err)
	}
	if stored.UpdatedAt == nil {
		t.Fatalf("expected updated_at to be stamped")
	}
}

func TestUpdateClientNotFound(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.UpdateClient(context.Background(), 999, ClientUpdate{Name: "Ghost"})
	if err != ErrClientNotFound {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
}

func TestPromotePhotoMovesPhotoToFront(t *testing.T) {
	service, _ := newTestService(t)
	created, err := service.CreateClient(context.Background(), NewClient{
		Name:   "Alice",
		Photos: []string{"a", "b", "c"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	photos, err := service.PromotePhoto(context.Background(), created.ID, "c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(photos) != 3 || photos[0] != "c" || photos[1] != "a" || photos[2] != "b" {
		t.Fatalf("unexpected photo order: %#v", photos)
	}
}

func TestPurchaseHistoryUnionMostRecentFirst(t *testing.T) {
	service, _ := newTestService(t)
	client := mustCreateClient(t, service, "Alice")
	purchase := mustCreatePurchase(t, service, client.ID, "Widget", 100, 100)

	balance := 40.0
	price := 110.0
	_, err := service.UpdatePurchase(context.Background(), purchase.ID, PurchaseUpdate{
		RemainingBalance: &balance,
		Price:            &price,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := service.PurchaseHistory(context.Background(), purchase.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(rows))
	}
	for _, row := range rows {
		balanceRow := row.PreviousAmount != nil && row.UpdatedAmount != nil && row.PreviousPrice == nil && row.UpdatedPrice == nil
		priceRow := row.PreviousPrice != nil && row.UpdatedPrice != nil && row.PreviousAmount == nil && row.UpdatedAmount == nil
		if !balanceRow && !priceRow {
			t.Fatalf("each row must carry exactly one change pair: %+v", row)
		}
	}
}

func TestMaxAttachmentsEnforced(t *testing.T) {
	service, _ := newTestService(t)

	photos := make([]string, MaxAttachments+1)
	for i := range photos {
		photos[i] = "blob"
	}
	_, err := service.CreateClient(context.Background(), NewClient{Name: "Alice", Photos: photos})
	if err != ErrTooManyAttachments {
		t.Fatalf("expected ErrTooManyAttachments, got %v", err)
	}
}
