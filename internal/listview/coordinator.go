// Package listview keeps the client-list page, filter, and navigation
// controls synchronized with what the backend returns.
package listview

import (
	"context"
	"errors"

	"github.com/merchantdesk/clientbook/internal/clients"
)

var errMissingFetcher = errors.New("listview: page fetcher is required")

// PageFetcher retrieves one page of client rows for the active filter.
type PageFetcher interface {
	FetchPage(ctx context.Context, page int, filter clients.Filter) ([]clients.ClientRecord, error)
}

// State is the coordinator's observable snapshot. NextDisabled reflects the
// speculative lookahead fetch; PrevDisabled is true exactly on page zero.
type State struct {
	Page         int
	Filter       clients.Filter
	Rows         []clients.ClientRecord
	NextDisabled bool
	PrevDisabled bool
}

// Coordinator drives page and filter navigation. Every transition fetches
// the target page plus a lookahead page; a failure in either request leaves
// the previously committed state untouched.
type Coordinator struct {
	fetcher PageFetcher
	state   State
}

// NewCoordinator returns a coordinator starting at page zero with no filter
// and both controls disabled until the first load.
func NewCoordinator(fetcher PageFetcher) (*Coordinator, error) {
	if fetcher == nil {
		return nil, errMissingFetcher
	}
	return &Coordinator{
		fetcher: fetcher,
		state: State{
			Rows:         []clients.ClientRecord{},
			NextDisabled: true,
			PrevDisabled: true,
		},
	}, nil
}

// State returns the last committed snapshot.
func (c *Coordinator) State() State {
	return c.state
}

// Load fetches the current page under the current filter.
func (c *Coordinator) Load(ctx context.Context) error {
	return c.refresh(ctx, c.state.Page, c.state.Filter)
}

// Next advances one page.
func (c *Coordinator) Next(ctx context.Context) error {
	return c.refresh(ctx, c.state.Page+1, c.state.Filter)
}

// Prev moves back one page, clamping at zero.
func (c *Coordinator) Prev(ctx context.Context) error {
	target := c.state.Page - 1
	if target < 0 {
		target = 0
	}
	return c.refresh(ctx, target, c.state.Filter)
}

// ApplyFilter activates a filter and returns to page zero. The zero Filter
// clears filtering.
func (c *Coordinator) ApplyFilter(ctx context.Context, filter clients.Filter) error {
	return c.refresh(ctx, 0, filter)
}

func (c *Coordinator) refresh(ctx context.Context, page int, filter clients.Filter) error {
	rows, err := c.fetcher.FetchPage(ctx, page, filter)
	if err != nil {
		return err
	}
	lookahead, err := c.fetcher.FetchPage(ctx, page+1, filter)
	if err != nil {
		return err
	}

	if rows == nil {
		rows = []clients.ClientRecord{}
	}
	c.state = State{
		Page:         page,
		Filter:       filter,
		Rows:         rows,
		NextDisabled: len(lookahead) == 0,
		PrevDisabled: page == 0,
	}
	return nil
}
