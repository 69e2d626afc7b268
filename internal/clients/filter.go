package clients

import "strings"

// FilterField enumerates the supported list filters.
type FilterField string

const (
	FilterNone        FilterField = ""
	FilterName        FilterField = "name"
	FilterAddress     FilterField = "address"
	FilterClientID    FilterField = "clientid"
	FilterItem        FilterField = "item"
	FilterCreatedDate FilterField = "createdDate"
	FilterUpdatedDate FilterField = "updatedDate"
)

// Filter describes the single active list filter: one field and its value.
// The zero value means no filtering.
type Filter struct {
	Field FilterField
	Value string
}

// IsZero reports whether no filter is active.
func (f Filter) IsZero() bool {
	return f.Field == FilterNone
}

// ParseFilterField maps a raw route segment to a FilterField. Unknown names
// behave as no filter rather than erroring.
func ParseFilterField(raw string) FilterField {
	switch strings.TrimSpace(raw) {
	case string(FilterName):
		return FilterName
	case string(FilterAddress):
		return FilterAddress
	case string(FilterClientID):
		return FilterClientID
	case string(FilterItem):
		return FilterItem
	case string(FilterCreatedDate):
		return FilterCreatedDate
	case string(FilterUpdatedDate):
		return FilterUpdatedDate
	default:
		return FilterNone
	}
}
