package record

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/letieu/reddit-trends/internal/reddit"
)

// TimeLayout formats created_utc and scraped_at.
const TimeLayout = "2006-01-02 15:04:05"

// NullAuthor is what a null author renders as. It mirrors how the first
// version of this tool stringified a missing author; downstream files
// already contain it, so keep it until consumers agree on another sentinel.
const NullAuthor = "None"

// PermalinkBase is prefixed to the relative permalinks of a listing.
const PermalinkBase = "https://www.reddit.com"

// Record is one row of the dataset. ScrapedAt is empty when the record was
// extracted without a fetch time.
type Record struct {
	Title      string `json:"title" validate:"required"`
	Upvotes    int    `json:"upvotes"`
	Comments   int    `json:"comments" validate:"gte=0"`
	Author     string `json:"author" validate:"required"`
	Permalink  string `json:"permalink" validate:"required,url"`
	CreatedUTC string `json:"created_utc" validate:"required"`
	ScrapedAt  string `json:"scraped_at,omitempty"`
}

// Clock supplies the fetch time stamped on records.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// MalformedRecordError reports a raw post lacking a required field or
// producing an invalid record.
type MalformedRecordError struct {
	Field string
	Err   error
}

func (e *MalformedRecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed post: field %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("malformed post: missing field %s", e.Field)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

var validate = validator.New()

// Extract maps a raw post to a Record. A zero scrapedAt leaves ScrapedAt
// empty. CRLF in the title becomes LF, which is what a CSV round trip yields.
func Extract(raw reddit.RawPost, scrapedAt time.Time) (Record, error) {
	switch {
	case raw.Title == nil:
		return Record{}, &MalformedRecordError{Field: "title"}
	case raw.Ups == nil:
		return Record{}, &MalformedRecordError{Field: "ups"}
	case raw.NumComments == nil:
		return Record{}, &MalformedRecordError{Field: "num_comments"}
	case !raw.Author.Set:
		return Record{}, &MalformedRecordError{Field: "author"}
	case raw.Permalink == nil:
		return Record{}, &MalformedRecordError{Field: "permalink"}
	case raw.CreatedUTC == nil:
		return Record{}, &MalformedRecordError{Field: "created_utc"}
	}

	rec := Record{
		Title:      strings.ReplaceAll(*raw.Title, "\r\n", "\n"),
		Upvotes:    *raw.Ups,
		Comments:   *raw.NumComments,
		Author:     author(raw.Author),
		Permalink:  absolutePermalink(*raw.Permalink),
		CreatedUTC: FormatTime(fromEpoch(*raw.CreatedUTC)),
	}
	if !scrapedAt.IsZero() {
		rec.ScrapedAt = FormatTime(scrapedAt)
	}

	if err := validate.Struct(rec); err != nil {
		field := "record"
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			field = strings.ToLower(verrs[0].Field())
		}
		return Record{}, &MalformedRecordError{Field: field, Err: err}
	}
	return rec, nil
}

// ExtractAll extracts every post, stamping them with the same scrapedAt.
// The first malformed post aborts the batch.
func ExtractAll(raws []reddit.RawPost, scrapedAt time.Time) ([]Record, error) {
	records := make([]Record, 0, len(raws))
	for i, raw := range raws {
		rec, err := Extract(raw, scrapedAt)
		if err != nil {
			return nil, fmt.Errorf("post %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// FormatTime renders t in UTC with TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func author(a reddit.NullString) string {
	if !a.Valid {
		return NullAuthor
	}
	return a.Value
}

func absolutePermalink(p string) string {
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	return PermalinkBase + p
}

func fromEpoch(secs float64) time.Time {
	return time.Unix(int64(secs), 0).UTC()
}
