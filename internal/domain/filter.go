package domain

import (
	"net/url"
	"strconv"
)

// AuctionFilter is the filter set for auction list queries. The same shape is
// written to and parsed back from the navigable URL, so the two codecs below
// must stay inverse of each other.
type AuctionFilter struct {
	Status   AuctionStatus
	City     string
	MinPrice float64
	MaxPrice float64
	Search   string
	Sort     string
}

// Values encodes the filter as URL query values, omitting zero values.
func (f AuctionFilter) Values() url.Values {
	v := url.Values{}
	if f.Status != "" {
		v.Set("status", string(f.Status))
	}
	if f.City != "" {
		v.Set("city", f.City)
	}
	if f.MinPrice > 0 {
		v.Set("min_price", strconv.FormatFloat(f.MinPrice, 'f', -1, 64))
	}
	if f.MaxPrice > 0 {
		v.Set("max_price", strconv.FormatFloat(f.MaxPrice, 'f', -1, 64))
	}
	if f.Search != "" {
		v.Set("search", f.Search)
	}
	if f.Sort != "" {
		v.Set("sort", f.Sort)
	}
	return v
}

// ParseFilterQuery parses a raw URL query back into a filter. Unknown keys
// and malformed numbers are ignored rather than rejected; the URL is user
// territory.
func ParseFilterQuery(rawQuery string) AuctionFilter {
	var f AuctionFilter
	v, err := url.ParseQuery(rawQuery)
	if err != nil {
		return f
	}
	f.Status = AuctionStatus(v.Get("status"))
	f.City = v.Get("city")
	if n, err := strconv.ParseFloat(v.Get("min_price"), 64); err == nil {
		f.MinPrice = n
	}
	if n, err := strconv.ParseFloat(v.Get("max_price"), 64); err == nil {
		f.MaxPrice = n
	}
	f.Search = v.Get("search")
	f.Sort = v.Get("sort")
	return f
}
