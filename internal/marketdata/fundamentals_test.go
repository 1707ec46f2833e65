package marketdata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMetadata(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metadata.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFundamentals(t *testing.T) {
	csv := `Ticker,Industry,Dividend Yield,Volume
AAPL,Technology,0.55,58000000
O,Retail REIT,5.2,4800000
msft,Software - Infrastructure,0.8,31000000
JNK,,1.1,
`
	f, err := LoadFundamentals(writeMetadata(t, csv))
	require.NoError(t, err)
	assert.Equal(t, 4, f.Len())

	aapl := f.Fundamentals("AAPL")
	assert.Equal(t, "technology", aapl.Industry)
	assert.InDelta(t, 0.55, aapl.DividendYield, 1e-9)
	assert.Equal(t, int64(58_000_000), aapl.Volume)
	assert.False(t, aapl.IsREIT)

	// REIT derived from the industry label.
	o := f.Fundamentals("O")
	assert.True(t, o.IsREIT)

	// Ticker lookup is case-insensitive both ways.
	msft := f.Fundamentals("msft")
	assert.Equal(t, "software - infrastructure", msft.Industry)

	// Missing fields degrade, not error.
	jnk := f.Fundamentals("JNK")
	assert.Equal(t, "unknown", jnk.Industry)
	assert.Equal(t, int64(0), jnk.Volume)
}

func TestFundamentalsUnknownTicker(t *testing.T) {
	f, err := LoadFundamentals(writeMetadata(t, "Ticker,Industry,Dividend Yield,Volume\n"))
	require.NoError(t, err)

	fd := f.Fundamentals("GHOST")
	assert.Equal(t, "unknown", fd.Industry)
	assert.Equal(t, 0.0, fd.DividendYield)
	assert.Equal(t, int64(0), fd.Volume)
	assert.False(t, fd.IsREIT)
}

func TestLoadFundamentalsRequiresTickerColumn(t *testing.T) {
	_, err := LoadFundamentals(writeMetadata(t, "Symbol,Industry\nAAPL,tech\n"))
	assert.Error(t, err)
}

func TestIsREITIndustry(t *testing.T) {
	assert.True(t, isREITIndustry("Retail REIT"))
	assert.True(t, isREITIndustry("real estate services"))
	assert.False(t, isREITIndustry("technology"))
	assert.False(t, isREITIndustry(""))
}
