package reddit

import (
	"encoding/json"
	"fmt"
)

// TimeWindow is the "t" filter of a top listing.
type TimeWindow string

const (
	Hour  TimeWindow = "hour"
	Day   TimeWindow = "day"
	Week  TimeWindow = "week"
	Month TimeWindow = "month"
	Year  TimeWindow = "year"
	All   TimeWindow = "all"
)

func (w TimeWindow) Valid() bool {
	switch w {
	case Hour, Day, Week, Month, Year, All:
		return true
	}
	return false
}

// MaxLimit is the largest page Reddit serves for a listing.
const MaxLimit = 100

// Query selects the top posts of one subreddit.
type Query struct {
	Forum  string
	Window TimeWindow
	Limit  int
}

func (q Query) validate() error {
	if q.Forum == "" {
		return fmt.Errorf("forum is required")
	}
	if !q.Window.Valid() {
		return fmt.Errorf("invalid time window %q", q.Window)
	}
	if q.Limit < 1 || q.Limit > MaxLimit {
		return fmt.Errorf("limit %d out of range 1..%d", q.Limit, MaxLimit)
	}
	return nil
}

// RawPost is the subset of a listing child's data used downstream. Pointer
// fields are nil when the key was missing from the payload.
type RawPost struct {
	Title       *string    `json:"title"`
	Ups         *int       `json:"ups"`
	NumComments *int       `json:"num_comments"`
	Author      NullString `json:"author"`
	Permalink   *string    `json:"permalink"`
	CreatedUTC  *float64   `json:"created_utc"`
}

// NullString tells apart a missing key, an explicit null and a string.
type NullString struct {
	Value string
	Valid bool
	Set   bool
}

func (n *NullString) UnmarshalJSON(b []byte) error {
	n.Set = true
	if string(b) == "null" {
		n.Value, n.Valid = "", false
		return nil
	}
	if err := json.Unmarshal(b, &n.Value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

type listingResponse struct {
	Kind string `json:"kind"`
	Data struct {
		Children []listingChild `json:"children"`
		After    string         `json:"after"`
	} `json:"data"`
}

type listingChild struct {
	Kind string  `json:"kind"`
	Data RawPost `json:"data"`
}
