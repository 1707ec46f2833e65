package marketdata

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"dipscan/internal/domain"
)

var _ FundamentalsSource = (*CSVFundamentals)(nil)

// CSVFundamentals serves per-ticker scoring attributes from a metadata CSV
// with columns Ticker, Industry, Dividend Yield, Volume. Rows with
// unparsable values degrade to the zero value field by field.
type CSVFundamentals struct {
	byTicker map[string]domain.Fundamentals
}

// LoadFundamentals reads a metadata CSV into memory.
func LoadFundamentals(path string) (*CSVFundamentals, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening fundamentals file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading fundamentals header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	tickerIdx, ok := col["ticker"]
	if !ok {
		return nil, fmt.Errorf("fundamentals file missing Ticker column")
	}

	fund := &CSVFundamentals{byTicker: make(map[string]domain.Fundamentals)}
	for {
		row, err := r.Read()
		if err != nil {
			break
		}
		if len(row) <= tickerIdx {
			continue
		}
		ticker := strings.ToUpper(strings.TrimSpace(row[tickerIdx]))
		if ticker == "" {
			continue
		}

		var fd domain.Fundamentals
		if i, ok := col["industry"]; ok && i < len(row) {
			fd.Industry = strings.ToLower(strings.TrimSpace(row[i]))
		}
		if fd.Industry == "" {
			fd.Industry = "unknown"
		}
		if i, ok := col["dividend yield"]; ok && i < len(row) {
			if v, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64); err == nil {
				fd.DividendYield = v
			}
		}
		if i, ok := col["volume"]; ok && i < len(row) {
			if v, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64); err == nil {
				fd.Volume = int64(v)
			}
		}
		fd.IsREIT = isREITIndustry(fd.Industry)

		fund.byTicker[ticker] = fd
	}
	return fund, nil
}

// Fundamentals returns the attributes for a ticker. Unknown tickers yield
// {industry "unknown", no dividend, no volume, non-REIT}.
func (f *CSVFundamentals) Fundamentals(ticker string) domain.Fundamentals {
	if fd, ok := f.byTicker[strings.ToUpper(ticker)]; ok {
		return fd
	}
	return domain.Fundamentals{Industry: "unknown"}
}

// Len returns the number of loaded tickers.
func (f *CSVFundamentals) Len() int { return len(f.byTicker) }

// isREITIndustry reports whether an industry label identifies a REIT. The
// metadata feed has no explicit REIT flag, so it is derived from the label.
func isREITIndustry(industry string) bool {
	s := strings.ToLower(industry)
	return strings.Contains(s, "reit") || strings.Contains(s, "real estate")
}
