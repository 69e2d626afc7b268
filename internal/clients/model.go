package clients

import (
	"encoding/json"
	"errors"
	"time"
)

// MaxAttachments caps the number of photo/image blobs accepted per request.
const MaxAttachments = 15

// LedgerTimeLayout is the timestamp format written to the audit tables.
// UTC with millisecond precision and a literal Z suffix.
const LedgerTimeLayout = "2006-01-02T15:04:05.000Z"

var (
	// ErrNameRequired indicates a missing or blank client name.
	ErrNameRequired = errors.New("clients: name is required and cannot be empty")
	// ErrInvalidPurchase indicates missing purchase fields or a non-positive price.
	ErrInvalidPurchase = errors.New("clients: invalid purchase data")
	// ErrInvalidBalance indicates a remaining balance outside [0, price].
	ErrInvalidBalance = errors.New("clients: invalid remaining balance")
	// ErrBalanceExceedsPrice indicates a remaining balance greater than the price.
	ErrBalanceExceedsPrice = errors.New("clients: remaining balance cannot exceed price")
	// ErrClientNotFound indicates the referenced client row is absent.
	ErrClientNotFound = errors.New("clients: client not found")
	// ErrPurchaseNotFound indicates the referenced purchase row is absent.
	ErrPurchaseNotFound = errors.New("clients: purchase not found")
	// ErrTooManyAttachments indicates more than MaxAttachments blobs in one request.
	ErrTooManyAttachments = errors.New("clients: too many attachments")
)

// Client models a merchant customer row. Photos are stored as a JSON array
// of base64 strings in a text column.
type Client struct {
	ID        uint       `gorm:"column:id;primaryKey"`
	Name      string     `gorm:"column:name;not null"`
	Address   string     `gorm:"column:address"`
	Photos    string     `gorm:"column:photos;type:text"`
	CreatedAt *time.Time `gorm:"column:created_at"`
	UpdatedAt *time.Time `gorm:"column:updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Client) TableName() string {
	return "clients"
}

// Purchase models a priced item owned by a client. Current price and balance
// live here; the audit tables hold the change history.
type Purchase struct {
	ID               uint    `gorm:"column:id;primaryKey"`
	ClientID         uint    `gorm:"column:client_id;index"`
	ItemName         string  `gorm:"column:item_name"`
	Price            float64 `gorm:"column:price"`
	RemainingBalance float64 `gorm:"column:remaining_balance"`
	Images           string  `gorm:"column:images;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (Purchase) TableName() string {
	return "purchases"
}

// PriceChange is an append-only audit row recording one price mutation.
type PriceChange struct {
	ID               uint    `gorm:"column:id;primaryKey"`
	PurchaseID       uint    `gorm:"column:purchase_id;index"`
	PreviousPrice    float64 `gorm:"column:previous_price"`
	UpdatedPrice     float64 `gorm:"column:updated_price"`
	ModificationDate string  `gorm:"column:modification_date"`
}

// TableName provides the explicit table binding for GORM.
func (PriceChange) TableName() string {
	return "price_history"
}

// BalanceChange is an append-only audit row recording one balance mutation.
type BalanceChange struct {
	ID               uint    `gorm:"column:id;primaryKey"`
	PurchaseID       uint    `gorm:"column:purchase_id;index"`
	PreviousAmount   float64 `gorm:"column:previous_amount"`
	UpdatedAmount    float64 `gorm:"column:updated_amount"`
	ModificationDate string  `gorm:"column:modification_date"`
}

// TableName provides the explicit table binding for GORM.
func (BalanceChange) TableName() string {
	return "balance_history"
}

// PurchaseRecord is the service-level view of a purchase with decoded images.
type PurchaseRecord struct {
	ID               uint
	ClientID         uint
	ItemName         string
	Price            float64
	RemainingBalance float64
	Images           []string
}

// ClientRecord is the service-level view of a client with decoded photos and
// nested purchases.
type ClientRecord struct {
	ID      uint
	Name    string
	Address string
	Photos  []string
	Items   []PurchaseRecord
}

// HistoryRow is one entry of the unioned audit view for a purchase. Fields
// belonging to the other log stay nil, mirroring the persisted union query.
type HistoryRow struct {
	ID               uint
	PurchaseID       uint
	PreviousAmount   *float64
	UpdatedAmount    *float64
	PreviousPrice    *float64
	UpdatedPrice     *float64
	ModificationDate string
}

// encodeBlobList serializes attachment blobs for the text column. A nil or
// empty slice becomes "[]" so the column never holds SQL NULL semantics.
func encodeBlobList(blobs []string) string {
	if len(blobs) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(blobs)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

// decodeBlobList deserializes the text column defensively: malformed or empty
// payloads decode to an empty list rather than an error.
func decodeBlobList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var blobs []string
	if err := json.Unmarshal([]byte(raw), &blobs); err != nil || blobs == nil {
		return []string{}
	}
	return blobs
}
