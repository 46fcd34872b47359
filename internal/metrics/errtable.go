package metrics

import "sort"

// CountRow is one labelled counter.
type CountRow struct {
	Name  string
	Count uint64
}

// FlattenCounts converts a label->count map into sorted rows.
// Rows are sorted by descending count, then by name for stability.
func FlattenCounts(counts map[string]uint64) []CountRow {
	if len(counts) == 0 {
		return nil
	}
	rows := make([]CountRow, 0, len(counts))
	for name, count := range counts {
		if count == 0 {
			continue
		}
		rows = append(rows, CountRow{Name: name, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Name < rows[j].Name
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
