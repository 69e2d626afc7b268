// Package history reconstructs a per-timestamp view of an item's purchase
// ledger by merging the independent price and balance audit logs.
package history

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

const (
	// PageSize is the number of timestamp buckets shown per history page.
	PageSize = 5
	// bucketLayout is the formatted-timestamp granularity used for grouping.
	// Entries whose instants collide at second granularity share a bucket.
	bucketLayout = "2006-01-02 15:04:05"
	// Unchanged is rendered for a field with no contributing audit entry.
	Unchanged = "Unchanged"
)

// ItemRef identifies one purchase feeding the aggregation.
type ItemRef struct {
	PurchaseID uint
	Name       string
}

// Entry is one raw audit record. Exactly one of the balance pair or the
// price pair is set, depending on which log it came from.
type Entry struct {
	PreviousAmount *float64
	UpdatedAmount  *float64
	PreviousPrice  *float64
	UpdatedPrice   *float64
	Timestamp      string
}

// Row is one merged display row: at most one price change and one balance
// change for a single item within a single timestamp bucket.
type Row struct {
	PurchaseID    uint
	ItemName      string
	BalanceBefore *float64
	BalanceAfter  *float64
	PriceBefore   *float64
	PriceAfter    *float64
	Timestamp     string
	BalanceChange string
	PriceChange   string
}

// Bucket groups the merged rows sharing one formatted timestamp. Buckets are
// ordered most recent first.
type Bucket struct {
	Key  string
	Rows []Row
}

type flatEntry struct {
	item   ItemRef
	entry  Entry
	sortAt time.Time
}

// Aggregate flattens the per-item ledgers, sorts them most recent first with
// a stable tie-break on traversal order, buckets them by formatted
// timestamp, and merges same-item entries within a bucket. When two changes
// to the same field land in one bucket the later-merged one wins.
func Aggregate(items []ItemRef, ledgers map[uint][]Entry) []Bucket {
	flattened := make([]flatEntry, 0)
	for _, item := range items {
		for _, entry := range ledgers[item.PurchaseID] {
			flattened = append(flattened, flatEntry{
				item:   item,
				entry:  entry,
				sortAt: parseTimestamp(entry.Timestamp),
			})
		}
	}

	sort.SliceStable(flattened, func(i, j int) bool {
		return flattened[i].sortAt.After(flattened[j].sortAt)
	})

	buckets := make([]Bucket, 0)
	bucketIndex := make(map[string]int)
	rowIndex := make(map[string]map[string]int)

	for _, flat := range flattened {
		bucketKey := parseTimestamp(flat.entry.Timestamp).Local().Format(bucketLayout)
		position, seen := bucketIndex[bucketKey]
		if !seen {
			position = len(buckets)
			bucketIndex[bucketKey] = position
			buckets = append(buckets, Bucket{Key: bucketKey})
			rowIndex[bucketKey] = make(map[string]int)
		}

		itemKey := fmt.Sprintf("%d-%s", flat.item.PurchaseID, flat.item.Name)
		rowPosition, merged := rowIndex[bucketKey][itemKey]
		if !merged {
			rowPosition = len(buckets[position].Rows)
			rowIndex[bucketKey][itemKey] = rowPosition
			buckets[position].Rows = append(buckets[position].Rows, Row{
				PurchaseID: flat.item.PurchaseID,
				ItemName:   flat.item.Name,
				Timestamp:  flat.entry.Timestamp,
			})
		}

		row := &buckets[position].Rows[rowPosition]
		if flat.entry.PreviousAmount != nil || flat.entry.UpdatedAmount != nil {
			row.BalanceBefore = flat.entry.PreviousAmount
			row.BalanceAfter = flat.entry.UpdatedAmount
		}
		if flat.entry.PreviousPrice != nil || flat.entry.UpdatedPrice != nil {
			row.PriceBefore = flat.entry.PreviousPrice
			row.PriceAfter = flat.entry.UpdatedPrice
		}
	}

	for b := range buckets {
		for r := range buckets[b].Rows {
			row := &buckets[b].Rows[r]
			row.BalanceChange = renderChange(row.BalanceBefore, row.BalanceAfter)
			row.PriceChange = renderChange(row.PriceBefore, row.PriceAfter)
		}
	}
	return buckets
}

// PageCount returns the number of history pages for the bucket count.
func PageCount(bucketCount int) int {
	if bucketCount <= 0 {
		return 0
	}
	return (bucketCount + PageSize - 1) / PageSize
}

// Page returns the zero-based page of buckets. Out-of-range pages are empty.
func Page(buckets []Bucket, page int) []Bucket {
	if page < 0 {
		page = 0
	}
	start := page * PageSize
	if start >= len(buckets) {
		return []Bucket{}
	}
	end := start + PageSize
	if end > len(buckets) {
		end = len(buckets)
	}
	return buckets[start:end]
}

func renderChange(before, after *float64) string {
	if before == nil || after == nil {
		return Unchanged
	}
	return formatAmount(*before) + " → " + formatAmount(*after)
}

func formatAmount(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// parseTimestamp accepts the audit-table layout and plain RFC3339 variants.
// Unparseable values sort last and bucket together under the zero time.
func parseTimestamp(raw string) time.Time {
	parsed, err := time.Parse(time.RFC3339, raw)
	if err == nil {
		return parsed
	}
	parsed, err = time.Parse("2006-01-02T15:04:05.000Z", raw)
	if err == nil {
		return parsed
	}
	return time.Time{}
}
