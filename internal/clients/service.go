package clients

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	listPageSize      = 10
	unfilteredMaxRows = 20
)

var errMissingDatabase = errors.New("database handle is required")

// ServiceConfig carries the dependencies for the client/purchase service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service implements the client and purchase operations over the relational
// store. Multi-statement delete sequences run without a surrounding
// transaction; see DESIGN.md.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the service, defaulting the clock and logger.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("clients: %w", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// NewClient carries the fields for client creation. Photos are already
// base64-encoded blobs.
type NewClient struct {
	Name    string
	Address string
	Photos  []string
}

// ClientUpdate carries the full replacement photo list (existing plus new)
// alongside the editable fields.
type ClientUpdate struct {
	Name    string
	Address string
	Photos  []string
}

// NewPurchase carries the fields for purchase creation.
type NewPurchase struct {
	ClientID         uint
	ItemName         string
	Price            float64
	RemainingBalance float64
	Images           []string
}

// PurchaseUpdate carries a partial update: nil fields keep the stored value.
// The stored image list is replaced only when ExistingImages or NewImages is
// supplied; the replacement is the kept list (ExistingImages when given,
// otherwise the stored images) followed by the new uploads.
type PurchaseUpdate struct {
	ItemName         *string
	Price            *float64
	RemainingBalance *float64
	ExistingImages   *[]string
	NewImages        []string
}

// CreateClient validates and inserts a client row.
func (s *Service) CreateClient(ctx context.Context, input NewClient) (ClientRecord, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return ClientRecord{}, ErrNameRequired
	}
	if len(input.Photos) > MaxAttachments {
		return ClientRecord{}, ErrTooManyAttachments
	}

	now := s.clock()
	row := Client{
		Name:      name,
		Address:   strings.TrimSpace(input.Address),
		Photos:    encodeBlobList(input.Photos),
		CreatedAt: &now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return ClientRecord{}, fmt.Errorf("clients: create client: %w", err)
	}

	return ClientRecord{
		ID:      row.ID,
		Name:    row.Name,
		Address: row.Address,
		Photos:  decodeBlobList(row.Photos),
		Items:   []PurchaseRecord{},
	}, nil
}

// ListClients returns the unfiltered view: the first rows of the table with
// nested purchases.
func (s *Service) ListClients(ctx context.Context) ([]ClientRecord, error) {
	var rows []Client
	if err := s.db.WithContext(ctx).Limit(unfilteredMaxRows).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("clients: list clients: %w", err)
	}
	return s.assembleRecords(ctx, rows)
}

// ListPage returns one zero-based page of clients ordered id descending,
// optionally narrowed by the active filter. Unknown filter values that cannot
// be interpreted (a non-numeric client id) match nothing.
func (s *Service) ListPage(ctx context.Context, page int, filter Filter) ([]ClientRecord, error) {
	if page < 0 {
		page = 0
	}

	query := s.db.WithContext(ctx).Model(&Client{})
	value := strings.TrimSpace(filter.Value)
	switch filter.Field {
	case FilterName:
		query = query.Where("name LIKE ?", "%"+value+"%")
	case FilterAddress:
		query = query.Where("address LIKE ?", "%"+value+"%")
	case FilterClientID:
		id, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return []ClientRecord{}, nil
		}
		query = query.Where("id = ?", id)
	case FilterItem:
		query = query.Where("id IN (SELECT client_id FROM purchases WHERE item_name LIKE ?)", "%"+value+"%")
	case FilterCreatedDate:
		query = query.Where("DATE(created_at) = ?", value)
	case FilterUpdatedDate:
		query = query.Where("DATE(updated_at) = ?", value)
	}

	var rows []Client
	err := query.Order("id DESC").Limit(listPageSize).Offset(page * listPageSize).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("clients: list page: %w", err)
	}
	return s.assembleRecords(ctx, rows)
}

// UpdateClient replaces the editable fields and the photo list, stamping
// updated_at. The caller supplies the merged photo list (kept plus new).
func (s *Service) UpdateClient(ctx context.Context, clientID uint, update ClientUpdate) (ClientRecord, error) {
	name := strings.TrimSpace(update.Name)
	if name == "" {
		return ClientRecord{}, ErrNameRequired
	}
	if len(update.Photos) > MaxAttachments {
		return ClientRecord{}, ErrTooManyAttachments
	}

	var existing Client
	err := s.db.WithContext(ctx).Where("id = ?", clientID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ClientRecord{}, ErrClientNotFound
	}
	if err != nil {
		return ClientRecord{}, fmt.Errorf("clients: load client: %w", err)
	}

	now := s.clock()
	columns := map[string]any{
		"name":       name,
		"address":    strings.TrimSpace(update.Address),
		"photos":     encodeBlobList(update.Photos),
		"updated_at": now,
	}
	if err := s.db.WithContext(ctx).Model(&Client{}).Where("id = ?", clientID).Updates(columns).Error; err != nil {
		return ClientRecord{}, fmt.Errorf("clients: update client: %w", err)
	}

	items, err := s.loadItems(ctx, []uint{clientID})
	if err != nil {
		return ClientRecord{}, err
	}
	record := ClientRecord{
		ID:      clientID,
		Name:    name,
		Address: strings.TrimSpace(update.Address),
		Photos:  update.Photos,
		Items:   items[clientID],
	}
	if record.Photos == nil {
		record.Photos = []string{}
	}
	if record.Items == nil {
		record.Items = []PurchaseRecord{}
	}
	return record, nil
}

// PromotePhoto moves the named photo to the front of the client's photo
// list and returns the reordered list.
func (s *Service) PromotePhoto(ctx context.Context, clientID uint, photo string) ([]string, error) {
	var existing Client
	err := s.db.WithContext(ctx).Where("id = ?", clientID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("clients: load client: %w", err)
	}

	reordered := []string{photo}
	for _, candidate := range decodeBlobList(existing.Photos) {
		if candidate != photo {
			reordered = append(reordered, candidate)
		}
	}

	err = s.db.WithContext(ctx).Model(&Client{}).Where("id = ?", clientID).
		Update("photos", encodeBlobList(reordered)).Error
	if err != nil {
		return nil, fmt.Errorf("clients: promote photo: %w", err)
	}
	return reordered, nil
}

// DeleteClient removes the client, its purchases, and both audit logs as a
// sequence of statements. Audit-row failures are logged and the sequence
// continues, matching the persisted-store contract.
func (s *Service) DeleteClient(ctx context.Context, clientID uint) error {
	db := s.db.WithContext(ctx)
	err := db.Exec("DELETE FROM balance_history WHERE purchase_id IN (SELECT id FROM purchases WHERE client_id = ?)", clientID).Error
	if err != nil {
		s.logger.Error("delete client balance history failed", zap.Uint("client_id", clientID), zap.Error(err))
	}
	err = db.Exec("DELETE FROM price_history WHERE purchase_id IN (SELECT id FROM purchases WHERE client_id = ?)", clientID).Error
	if err != nil {
		s.logger.Error("delete client price history failed", zap.Uint("client_id", clientID), zap.Error(err))
	}
	if err := db.Exec("DELETE FROM purchases WHERE client_id = ?", clientID).Error; err != nil {
		return fmt.Errorf("clients: delete purchases: %w", err)
	}
	if err := db.Exec("DELETE FROM clients WHERE id = ?", clientID).Error; err != nil {
		return fmt.Errorf("clients: delete client: %w", err)
	}
	return nil
}

// CreatePurchase validates and inserts a purchase row.
func (s *Service) CreatePurchase(ctx context.Context, input NewPurchase) (PurchaseRecord, error) {
	itemName := strings.TrimSpace(input.ItemName)
	if input.ClientID == 0 || itemName == "" || math.IsNaN(input.Price) || input.Price <= 0 {
		return PurchaseRecord{}, ErrInvalidPurchase
	}
	if math.IsNaN(input.RemainingBalance) || input.RemainingBalance < 0 || input.RemainingBalance > input.Price {
		return PurchaseRecord{}, ErrInvalidBalance
	}
	if len(input.Images) > MaxAttachments {
		return PurchaseRecord{}, ErrTooManyAttachments
	}

	row := Purchase{
		ClientID:         input.ClientID,
		ItemName:         itemName,
		Price:            input.Price,
		RemainingBalance: input.RemainingBalance,
		Images:           encodeBlobList(input.Images),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return PurchaseRecord{}, fmt.Errorf("clients: create purchase: %w", err)
	}
	return purchaseRecord(row), nil
}

// UpdatePurchase merges the submitted fields over the stored row, validates
// the result, persists it, and appends audit entries for the fields whose
// values actually changed. A balance entry is written only when the balance
// field was part of the request.
func (s *Service) UpdatePurchase(ctx context.Context, purchaseID uint, update PurchaseUpdate) (PurchaseRecord, error) {
	var current Purchase
	err := s.db.WithContext(ctx).Where("id = ?", purchaseID).First(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PurchaseRecord{}, ErrPurchaseNotFound
	}
	if err != nil {
		return PurchaseRecord{}, fmt.Errorf("clients: load purchase: %w", err)
	}

	merged := current
	if update.ItemName != nil {
		merged.ItemName = strings.TrimSpace(*update.ItemName)
	}
	if update.Price != nil {
		merged.Price = *update.Price
	}
	if update.RemainingBalance != nil {
		merged.RemainingBalance = *update.RemainingBalance
	}
	if update.ExistingImages != nil || len(update.NewImages) > 0 {
		if len(update.NewImages) > MaxAttachments {
			return PurchaseRecord{}, ErrTooManyAttachments
		}
		kept := decodeBlobList(current.Images)
		if update.ExistingImages != nil {
			kept = *update.ExistingImages
		}
		merged.Images = encodeBlobList(append(kept, update.NewImages...))
	}

	if merged.ItemName == "" || math.IsNaN(merged.Price) || merged.Price <= 0 {
		return PurchaseRecord{}, ErrInvalidPurchase
	}
	if math.IsNaN(merged.RemainingBalance) || merged.RemainingBalance < 0 {
		return PurchaseRecord{}, ErrInvalidBalance
	}
	if merged.RemainingBalance > merged.Price {
		return PurchaseRecord{}, ErrBalanceExceedsPrice
	}

	columns := map[string]any{
		"item_name":         merged.ItemName,
		"price":             merged.Price,
		"remaining_balance": merged.RemainingBalance,
		"images":            merged.Images,
	}
	if err := s.db.WithContext(ctx).Model(&Purchase{}).Where("id = ?", purchaseID).Updates(columns).Error; err != nil {
		return PurchaseRecord{}, fmt.Errorf("clients: update purchase: %w", err)
	}

	stamp := s.clock().UTC().Format(LedgerTimeLayout)
	if current.Price != merged.Price {
		entry := PriceChange{
			PurchaseID:       purchaseID,
			PreviousPrice:    current.Price,
			UpdatedPrice:     merged.Price,
			ModificationDate: stamp,
		}
		if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
			s.logger.Error("insert price history failed", zap.Uint("purchase_id", purchaseID), zap.Error(err))
		}
	}
	if update.RemainingBalance != nil && current.RemainingBalance != merged.RemainingBalance {
		entry := BalanceChange{
			PurchaseID:       purchaseID,
			PreviousAmount:   current.RemainingBalance,
			UpdatedAmount:    merged.RemainingBalance,
			ModificationDate: stamp,
		}
		if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
			s.logger.Error("insert balance history failed", zap.Uint("purchase_id", purchaseID), zap.Error(err))
		}
	}

	return purchaseRecord(merged), nil
}

// DeletePurchase removes the purchase and its audit rows as a sequence of
// statements, audit failures logged and skipped.
func (s *Service) DeletePurchase(ctx context.Context, purchaseID uint) error {
	db := s.db.WithContext(ctx)
	if err := db.Exec("DELETE FROM balance_history WHERE purchase_id = ?", purchaseID).Error; err != nil {
		s.logger.Error("delete balance history failed", zap.Uint("purchase_id", purchaseID), zap.Error(err))
	}
	if err := db.Exec("DELETE FROM price_history WHERE purchase_id = ?", purchaseID).Error; err != nil {
		s.logger.Error("delete price history failed", zap.Uint("purchase_id", purchaseID), zap.Error(err))
	}
	if err := db.Exec("DELETE FROM purchases WHERE id = ?", purchaseID).Error; err != nil {
		return fmt.Errorf("clients: delete purchase: %w", err)
	}
	return nil
}

// PurchaseHistory returns the union of both audit logs for one purchase,
// most recent first.
func (s *Service) PurchaseHistory(ctx context.Context, purchaseID uint) ([]HistoryRow, error) {
	var balanceRows []BalanceChange
	err := s.db.WithContext(ctx).Where("purchase_id = ?", purchaseID).Find(&balanceRows).Error
	if err != nil {
		return nil, fmt.Errorf("clients: load balance history: %w", err)
	}
	var priceRows []PriceChange
	err = s.db.WithContext(ctx).Where("purchase_id = ?", purchaseID).Find(&priceRows).Error
	if err != nil {
		return nil, fmt.Errorf("clients: load price history: %w", err)
	}

	rows := make([]HistoryRow, 0, len(balanceRows)+len(priceRows))
	for _, row := range balanceRows {
		previous, updated := row.PreviousAmount, row.UpdatedAmount
		rows = append(rows, HistoryRow{
			ID:               row.ID,
			PurchaseID:       row.PurchaseID,
			PreviousAmount:   &previous,
			UpdatedAmount:    &updated,
			ModificationDate: row.ModificationDate,
		})
	}
	for _, row := range priceRows {
		previous, updated := row.PreviousPrice, row.UpdatedPrice
		rows = append(rows, HistoryRow{
			ID:               row.ID,
			PurchaseID:       row.PurchaseID,
			PreviousPrice:    &previous,
			UpdatedPrice:     &updated,
			ModificationDate: row.ModificationDate,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].ModificationDate > rows[j].ModificationDate
	})
	return rows, nil
}

func (s *Service) assembleRecords(ctx context.Context, rows []Client) ([]ClientRecord, error) {
	ids := make([]uint, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	items, err := s.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	records := make([]ClientRecord, 0, len(rows))
	for _, row := range rows {
		record := ClientRecord{
			ID:      row.ID,
			Name:    row.Name,
			Address: row.Address,
			Photos:  decodeBlobList(row.Photos),
			Items:   items[row.ID],
		}
		if record.Items == nil {
			record.Items = []PurchaseRecord{}
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *Service) loadItems(ctx context.Context, clientIDs []uint) (map[uint][]PurchaseRecord, error) {
	grouped := make(map[uint][]PurchaseRecord, len(clientIDs))
	if len(clientIDs) == 0 {
		return grouped, nil
	}
	var rows []Purchase
	err := s.db.WithContext(ctx).Where("client_id IN ?", clientIDs).Order("id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("clients: load purchases: %w", err)
	}
	for _, row := range rows {
		grouped[row.ClientID] = append(grouped[row.ClientID], purchaseRecord(row))
	}
	return grouped, nil
}

func purchaseRecord(row Purchase) PurchaseRecord {
	return PurchaseRecord{
		ID:               row.ID,
		ClientID:         row.ClientID,
		ItemName:         row.ItemName,
		Price:            row.Price,
		RemainingBalance: row.RemainingBalance,
		Images:           decodeBlobList(row.Images),
	}
}
