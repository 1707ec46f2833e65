package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"dipscan/internal/domain"
)

var _ BarProvider = (*CachedProvider)(nil)

// coverageSlack is how far a cached series' first/last bar may sit inside
// the requested range and still count as covering it. Markets close for
// weekends and holidays, so an exact-edge match is too strict.
const coverageSlack = 7 * 24 * time.Hour

// barRecord is the Parquet schema for cached daily bars.
type barRecord struct {
	Ticker string  `parquet:"ticker"`
	Date   int64   `parquet:"date,timestamp(millisecond)"` // Unix ms
	Open   float64 `parquet:"open"`
	High   float64 `parquet:"high"`
	Low    float64 `parquet:"low"`
	Close  float64 `parquet:"close"`
	Volume int64   `parquet:"volume"`
}

// BarCache stores daily bars as Parquet files, one file per ticker per
// year: <dataDir>/us/daily/<TICKER>/<YYYY>.parquet. Writes merge with
// existing records, new bars winning on date collisions.
type BarCache struct {
	DataDir string
}

// NewBarCache creates a BarCache rooted at dataDir.
func NewBarCache(dataDir string) *BarCache {
	return &BarCache{DataDir: dataDir}
}

// barPath returns the file path for a ticker's year of bars.
func (c *BarCache) barPath(ticker string, year int) string {
	return filepath.Join(c.DataDir, "us", "daily", strings.ToUpper(ticker), fmt.Sprintf("%d.parquet", year))
}

// ReadBars returns the cached bars for a ticker within [start, end].
func (c *BarCache) ReadBars(ticker string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.Year(); year <= end.Year(); year++ {
		records, err := parquet.ReadFile[barRecord](c.barPath(ticker, year))
		if err != nil {
			// Missing year file means nothing cached for it.
			continue
		}
		for _, r := range records {
			date := time.UnixMilli(r.Date).UTC()
			if date.Before(start) || date.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Ticker: r.Ticker,
				Date:   date,
				Open:   r.Open,
				High:   r.High,
				Low:    r.Low,
				Close:  r.Close,
				Volume: r.Volume,
			})
		}
	}
	return bars, nil
}

// WriteBars merges bars into the cache, grouped by ticker and year.
func (c *BarCache) WriteBars(bars []domain.Bar) error {
	type key struct {
		ticker string
		year   int
	}
	groups := make(map[key][]barRecord)
	for _, b := range bars {
		k := key{ticker: strings.ToUpper(b.Ticker), year: b.Date.Year()}
		groups[k] = append(groups[k], barRecord{
			Ticker: k.ticker,
			Date:   b.Date.UnixMilli(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}

	for k, records := range groups {
		path := c.barPath(k.ticker, k.year)
		existing, _ := parquet.ReadFile[barRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating cache dir for %s: %w", k.ticker, err)
		}
		if err := parquet.WriteFile(path, merged); err != nil {
			return fmt.Errorf("writing cache for %s/%d: %w", k.ticker, k.year, err)
		}
	}
	return nil
}

// mergeBarRecords deduplicates records by date, preferring incoming over
// existing, and returns them sorted by date.
func mergeBarRecords(existing, incoming []barRecord) []barRecord {
	seen := make(map[int64]barRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Date] = r
	}
	for _, r := range incoming {
		seen[r.Date] = r
	}

	merged := make([]barRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Date < merged[j].Date })
	return merged
}

// CachedProvider layers a BarCache in front of an upstream BarProvider.
// Tickers whose cached series already covers the requested range are
// served locally; the rest are fetched upstream in one call and written
// back to the cache.
type CachedProvider struct {
	upstream BarProvider
	cache    *BarCache
	log      *slog.Logger
}

// NewCachedProvider wraps upstream with the given cache.
func NewCachedProvider(upstream BarProvider, cache *BarCache) *CachedProvider {
	return &CachedProvider{
		upstream: upstream,
		cache:    cache,
		log:      slog.Default().With("component", "barcache"),
	}
}

// DailyBars serves covered tickers from the cache and fetches the rest
// from the upstream provider.
func (p *CachedProvider) DailyBars(ctx context.Context, tickers []string, start, end time.Time) (map[string]*Series, error) {
	series := make(map[string]*Series, len(tickers))
	var missing []string

	for _, ticker := range tickers {
		ticker = strings.ToUpper(ticker)
		bars, err := p.cache.ReadBars(ticker, start, end)
		if err != nil || !covers(bars, start, end) {
			missing = append(missing, ticker)
			continue
		}
		series[ticker] = NewSeries(ticker, bars)
	}

	if len(missing) == 0 {
		return series, nil
	}

	p.log.Info("cache miss, fetching upstream", "missing", len(missing), "cached", len(series))

	fetched, err := p.upstream.DailyBars(ctx, missing, start, end)
	if err != nil {
		return nil, err
	}

	var toWrite []domain.Bar
	for ticker, s := range fetched {
		series[ticker] = s
		toWrite = append(toWrite, s.Bars()...)
	}
	if len(toWrite) > 0 {
		if err := p.cache.WriteBars(toWrite); err != nil {
			// Cache write failures degrade to uncached operation.
			p.log.Warn("writing bar cache", "error", err)
		}
	}
	return series, nil
}

// covers reports whether cached bars span the requested range within the
// coverage slack at both edges.
func covers(bars []domain.Bar, start, end time.Time) bool {
	if len(bars) == 0 {
		return false
	}
	first := bars[0].Date
	last := bars[len(bars)-1].Date
	for _, b := range bars {
		if b.Date.Before(first) {
			first = b.Date
		}
		if b.Date.After(last) {
			last = b.Date
		}
	}
	return !first.After(start.Add(coverageSlack)) && !last.Before(end.Add(-coverageSlack))
}
