package server

import "github.com/merchantdesk/clientbook/internal/clients"

type clientPayload struct {
	ID      uint              `json:"id"`
	Name    string            `json:"name"`
	Address *string           `json:"address"`
	Photos  []string          `json:"photos"`
	Items   []purchasePayload `json:"items"`
}

type purchasePayload struct {
	ID               uint     `json:"id"`
	ClientID         uint     `json:"client_id,omitempty"`
	ItemName         string   `json:"item_name"`
	Price            float64  `json:"price"`
	RemainingBalance float64  `json:"remaining_balance"`
	Images           []string `json:"images"`
}

type historyRowPayload struct {
	ID               uint     `json:"id"`
	PurchaseID       uint     `json:"purchase_id"`
	PreviousAmount   *float64 `json:"previous_amount"`
	UpdatedAmount    *float64 `json:"updated_amount"`
	ModificationDate string   `json:"modification_date"`
	PreviousPrice    *float64 `json:"previous_price"`
	UpdatedPrice     *float64 `json:"updated_price"`
}

func clientToPayload(record clients.ClientRecord) clientPayload {
	items := make([]purchasePayload, 0, len(record.Items))
	for _, item := range record.Items {
		payload := purchaseToPayload(item)
		payload.ClientID = 0
		items = append(items, payload)
	}
	return clientPayload{
		ID:      record.ID,
		Name:    record.Name,
		Address: nullableString(record.Address),
		Photos:  record.Photos,
		Items:   items,
	}
}

func clientsToPayload(records []clients.ClientRecord) []clientPayload {
	payloads := make([]clientPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, clientToPayload(record))
	}
	return payloads
}

func purchaseToPayload(record clients.PurchaseRecord) purchasePayload {
	return purchasePayload{
		ID:               record.ID,
		ClientID:         record.ClientID,
		ItemName:         record.ItemName,
		Price:            record.Price,
		RemainingBalance: record.RemainingBalance,
		Images:           record.Images,
	}
}

func historyToPayload(rows []clients.HistoryRow) []historyRowPayload {
	payloads := make([]historyRowPayload, 0, len(rows))
	for _, row := range rows {
		payloads = append(payloads, historyRowPayload{
			ID:               row.ID,
			PurchaseID:       row.PurchaseID,
			PreviousAmount:   row.PreviousAmount,
			UpdatedAmount:    row.UpdatedAmount,
			ModificationDate: row.ModificationDate,
			PreviousPrice:    row.PreviousPrice,
			UpdatedPrice:     row.UpdatedPrice,
		})
	}
	return payloads
}

// nullableString renders the optional address the way the store column does:
// empty means null.
func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
