package server

import (
	"context"

	"github.com/merchantdesk/clientbook/internal/clients"
)

// ServicePageFetcher adapts the clients service to the listview
// coordinator's fetch contract, letting the list state machinery run
// in-process against the store.
type ServicePageFetcher struct {
	Service *clients.Service
}

// FetchPage returns one page of client rows for the filter.
func (f ServicePageFetcher) FetchPage(ctx context.Context, page int, filter clients.Filter) ([]clients.ClientRecord, error) {
	return f.Service.ListPage(ctx, page, filter)
}
