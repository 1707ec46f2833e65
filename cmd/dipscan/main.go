// Command dipscan runs a backtest from the command line and prints the
// per-horizon summary, factor correlations, and suggested weights.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"

	"dipscan/internal/config"
	"dipscan/internal/domain"
	"dipscan/internal/marketdata"
	"dipscan/internal/run"
	"dipscan/internal/store"
	"dipscan/internal/util"
)

func main() {
	startFlag := flag.String("start", "", "backtest start date (YYYY-MM-DD)")
	endFlag := flag.String("end", "", "backtest end date (YYYY-MM-DD)")
	holdFlag := flag.String("hold", "", "holding horizons in years, comma separated (default from config)")
	flag.Parse()

	_ = godotenv.Load()

	cfgPath := "config/dipscan.yaml"
	if p := os.Getenv("DIPSCAN_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	start, err := time.Parse(domain.DateFormat, *startFlag)
	if err != nil {
		log.Fatalf("invalid -start: %v", err)
	}
	end, err := time.Parse(domain.DateFormat, *endFlag)
	if err != nil {
		log.Fatalf("invalid -end: %v", err)
	}
	holdYears, err := parseHoldYears(*holdFlag, cfg.Backtest.DefaultHoldYears)
	if err != nil {
		log.Fatalf("invalid -hold: %v", err)
	}

	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	cons, err := marketdata.LoadConstituents(cfg.Universe.ConstituentsFile, cfg.Universe.Exclude)
	if err != nil {
		log.Fatalf("failed to load constituents: %v", err)
	}
	funds, err := marketdata.LoadFundamentals(cfg.Universe.MetadataFile)
	if err != nil {
		log.Fatalf("failed to load metadata: %v", err)
	}

	alpaca := marketdata.NewAlpacaProvider(
		cfg.Alpaca.APIKey,
		cfg.Alpaca.APISecret,
		cfg.Alpaca.BaseURL,
		cfg.Alpaca.DataURL,
		cfg.Backtest.BatchSize,
		cfg.Backtest.MaxWorkers,
		cfg.Backtest.RateLimitPerMin,
	)
	bars := marketdata.NewCachedProvider(alpaca, marketdata.NewBarCache(cfg.Storage.DataDir))

	orch := run.NewOrchestrator(run.Options{
		Runs:         st,
		Models:       st,
		Bars:         bars,
		Calendar:     alpaca,
		Fundamentals: funds,
		Constituents: cons,
		Benchmark:    cfg.Universe.Benchmark,
		Logger:       logger,
	})

	ctx := context.Background()
	rec, err := orch.StartTraining(ctx, run.TrainingParams{
		StartDate: start,
		EndDate:   end,
		HoldYears: holdYears,
	})
	if err != nil {
		log.Fatalf("starting run: %v", err)
	}

	fmt.Printf("run %s: %s to %s, horizons %v\n",
		rec.ID, start.Format(domain.DateFormat), end.Format(domain.DateFormat), holdYears)

	final := waitForRun(ctx, orch, rec.ID)
	if final.Status != domain.RunStatusCompleted {
		log.Fatalf("run %s: %s", final.Status, final.Message)
	}

	res, err := orch.Results(ctx, rec.ID)
	if err != nil {
		log.Fatalf("fetching results: %v", err)
	}
	printResults(res)
}

// waitForRun polls the run until it reaches a terminal state, echoing
// progress transitions.
func waitForRun(ctx context.Context, orch *run.Orchestrator, id string) *domain.Run {
	lastMsg := ""
	for {
		rec, err := orch.Status(ctx, id)
		if err != nil {
			log.Fatalf("polling run: %v", err)
		}
		if rec.Message != lastMsg && rec.Message != "" {
			fmt.Printf("  [%5.1f%%] %s\n", rec.Progress, rec.Message)
			lastMsg = rec.Message
		}
		if rec.Status.Terminal() {
			return rec
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func printResults(res *run.Results) {
	fmt.Printf("\n%d picks\n\n", len(res.Picks))

	horizons := make([]int, 0, len(res.Horizons))
	for years := range res.Horizons {
		horizons = append(horizons, years)
	}
	sort.Ints(horizons)

	summary := tablewriter.NewWriter(os.Stdout)
	summary.Header("Horizon", "Picks", "Win%", "Avg%", "Median%", "Std", "Min%", "Max%", "SPY Avg%", "Beat SPY%")
	for _, years := range horizons {
		s := res.Horizons[years].Summary
		summary.Append(
			fmt.Sprintf("%dy", years),
			strconv.Itoa(s.TotalPicks),
			fmt.Sprintf("%.1f", s.WinRate),
			fmt.Sprintf("%.2f", s.AvgReturn),
			fmt.Sprintf("%.2f", s.MedianReturn),
			fmt.Sprintf("%.2f", s.StdReturn),
			fmt.Sprintf("%.2f", s.MinReturn),
			fmt.Sprintf("%.2f", s.MaxReturn),
			fmtPtr(s.SPYAvgReturn),
			fmtPtr(s.BeatSPYRate),
		)
	}
	summary.Render()

	for _, years := range horizons {
		a := res.Horizons[years]
		fmt.Printf("\nfactor analysis (%dy):\n", years)

		factors := tablewriter.NewWriter(os.Stdout)
		factors.Header("Factor", "Correlation", "P-value", "Significant", "Suggested W")
		for _, f := range a.Factors {
			corr, pval := "-", "-"
			if f.Correlation != nil {
				corr = fmt.Sprintf("%.4f", *f.Correlation)
			}
			if f.PValue != nil {
				pval = fmt.Sprintf("%.4f", *f.PValue)
			}
			sig := ""
			if f.Significant {
				sig = "yes"
			}
			if f.Note != "" {
				sig = f.Note
			}
			factors.Append(f.Factor, corr, pval, sig,
				fmt.Sprintf("%.1f", a.SuggestedWeights[f.Factor]))
		}
		factors.Render()
	}
}

func fmtPtr(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *v)
}

// parseHoldYears parses "1,2,5" into sorted years, falling back to the
// configured default when empty.
func parseHoldYears(s string, fallback []int) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return fallback, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		y, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", part, err)
		}
		out = append(out, y)
	}
	return out, nil
}
