package marketdata

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// Constituents tracks historical index membership: which tickers were in
// the index on any given date. Loaded from a CSV with a `date` column and
// a comma-separated `tickers` column, one row per membership change.
type Constituents struct {
	dates   []time.Time
	members map[time.Time]map[string]struct{}
}

// LoadConstituents reads a membership history CSV. Tickers in exclude are
// dropped permanently (recurring outliers that would skew aggregates).
func LoadConstituents(path string, exclude []string) (*Constituents, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening constituents file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading constituents header: %w", err)
	}
	dateIdx, tickersIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "date":
			dateIdx = i
		case "tickers":
			tickersIdx = i
		}
	}
	if dateIdx < 0 || tickersIdx < 0 {
		return nil, fmt.Errorf("constituents file missing date/tickers columns")
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, t := range exclude {
		excluded[strings.ToUpper(t)] = struct{}{}
	}

	c := &Constituents{members: make(map[time.Time]map[string]struct{})}
	for {
		row, err := r.Read()
		if err != nil {
			break
		}
		if len(row) <= tickersIdx {
			continue
		}
		date, err := time.Parse("2006-01-02", strings.TrimSpace(row[dateIdx]))
		if err != nil {
			continue
		}

		set := make(map[string]struct{})
		for _, t := range strings.Split(row[tickersIdx], ",") {
			t = strings.ToUpper(strings.TrimSpace(t))
			if t == "" {
				continue
			}
			if _, skip := excluded[t]; skip {
				continue
			}
			set[t] = struct{}{}
		}
		c.members[date] = set
		c.dates = append(c.dates, date)
	}

	sort.Slice(c.dates, func(i, j int) bool { return c.dates[i].Before(c.dates[j]) })
	if len(c.dates) == 0 {
		return nil, fmt.Errorf("constituents file %s has no usable rows", path)
	}
	return c, nil
}

// TickersOn returns the index membership on the given date: the most
// recent snapshot on or before it. Dates before the first snapshot use the
// earliest available.
func (c *Constituents) TickersOn(date time.Time) map[string]struct{} {
	day := truncateDay(date)
	idx := sort.Search(len(c.dates), func(i int) bool {
		return c.dates[i].After(day)
	})
	if idx == 0 {
		return c.members[c.dates[0]]
	}
	return c.members[c.dates[idx-1]]
}

// TickersBetween returns every ticker that was a member at any point in
// [start, end], sorted.
func (c *Constituents) TickersBetween(start, end time.Time) []string {
	all := make(map[string]struct{})

	// The snapshot in force at range start plus every change inside it.
	for t := range c.TickersOn(start) {
		all[t] = struct{}{}
	}
	for _, d := range c.dates {
		if d.After(end) {
			break
		}
		if d.Before(start) {
			continue
		}
		for t := range c.members[d] {
			all[t] = struct{}{}
		}
	}

	out := make([]string, 0, len(all))
	for t := range all {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
