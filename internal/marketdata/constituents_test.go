package marketdata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConstituents(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "constituents.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const constituentsCSV = `date,tickers
2020-01-01,"AAA,BBB,CCC"
2020-06-15,"AAA,BBB,DDD"
2021-01-04,"AAA,DDD,EEE"
`

func TestTickersOnSnapshotLookup(t *testing.T) {
	c, err := LoadConstituents(writeConstituents(t, constituentsCSV), nil)
	require.NoError(t, err)

	// Exact snapshot date.
	set := c.TickersOn(d("2020-06-15"))
	assert.Contains(t, set, "DDD")
	assert.NotContains(t, set, "CCC")

	// Between snapshots: most recent on or before.
	set = c.TickersOn(d("2020-09-01"))
	assert.Contains(t, set, "DDD")
	assert.NotContains(t, set, "EEE")

	// Before the first snapshot: earliest available.
	set = c.TickersOn(d("2019-03-01"))
	assert.Contains(t, set, "CCC")
	assert.NotContains(t, set, "DDD")

	// After the last snapshot.
	set = c.TickersOn(d("2022-01-01"))
	assert.Contains(t, set, "EEE")
	assert.NotContains(t, set, "BBB")
}

func TestTickersBetween(t *testing.T) {
	c, err := LoadConstituents(writeConstituents(t, constituentsCSV), nil)
	require.NoError(t, err)

	// Range covering one membership change unions both snapshots.
	got := c.TickersBetween(d("2020-03-01"), d("2020-12-31"))
	assert.Equal(t, []string{"AAA", "BBB", "CCC", "DDD"}, got)

	// Range inside a single snapshot.
	got = c.TickersBetween(d("2020-07-01"), d("2020-08-01"))
	assert.Equal(t, []string{"AAA", "BBB", "DDD"}, got)

	// Full history.
	got = c.TickersBetween(d("2019-01-01"), d("2022-01-01"))
	assert.Equal(t, []string{"AAA", "BBB", "CCC", "DDD", "EEE"}, got)
}

func TestLoadConstituentsExcludes(t *testing.T) {
	c, err := LoadConstituents(writeConstituents(t, constituentsCSV), []string{"bbb"})
	require.NoError(t, err)

	// Exclusions are case-insensitive and permanent.
	set := c.TickersOn(d("2020-01-01"))
	assert.NotContains(t, set, "BBB")
	assert.Contains(t, set, "AAA")

	got := c.TickersBetween(d("2019-01-01"), d("2022-01-01"))
	assert.NotContains(t, got, "BBB")
}

func TestLoadConstituentsRejectsBadFiles(t *testing.T) {
	_, err := LoadConstituents(filepath.Join(t.TempDir(), "missing.csv"), nil)
	assert.Error(t, err)

	_, err = LoadConstituents(writeConstituents(t, "foo,bar\n1,2\n"), nil)
	assert.Error(t, err)

	_, err = LoadConstituents(writeConstituents(t, "date,tickers\n"), nil)
	assert.Error(t, err)
}
