package history

import (
	"sort"

	"github.com/letieu/reddit-trends/internal/record"
)

// Merge concatenates existing and incoming and keeps one record per
// permalink. The concatenation is stably ordered by scraped_at, records
// without one first, and the last occurrence of each permalink survives at
// its position. Without any scraped_at this keeps the incoming record.
func Merge(existing, incoming []record.Record) []record.Record {
	combined := make([]record.Record, 0, len(existing)+len(incoming))
	combined = append(combined, existing...)
	combined = append(combined, incoming...)

	// Fixed-width layout: lexical order is chronological.
	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].ScrapedAt < combined[j].ScrapedAt
	})

	last := make(map[string]int, len(combined))
	for i, r := range combined {
		last[r.Permalink] = i
	}

	merged := make([]record.Record, 0, len(last))
	for i, r := range combined {
		if last[r.Permalink] == i {
			merged = append(merged, r)
		}
	}
	return merged
}

// NewPermalinks returns the records of incoming whose permalink is absent
// from existing.
func NewPermalinks(existing, incoming []record.Record) []record.Record {
	seen := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		seen[r.Permalink] = struct{}{}
	}
	var fresh []record.Record
	for _, r := range incoming {
		if _, ok := seen[r.Permalink]; ok {
			continue
		}
		seen[r.Permalink] = struct{}{}
		fresh = append(fresh, r)
	}
	return fresh
}
