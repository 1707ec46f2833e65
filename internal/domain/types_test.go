package domain

import (
	"testing"
)

func TestDefaultWeightsSumTo100(t *testing.T) {
	w := DefaultWeights()

	var total float64
	for _, name := range FactorNames {
		v, ok := w[name]
		if !ok {
			t.Errorf("DefaultWeights missing factor %q", name)
		}
		total += v
	}
	if total != 100 {
		t.Errorf("DefaultWeights sum = %v, want 100", total)
	}
	if len(w) != len(FactorNames) {
		t.Errorf("DefaultWeights has %d entries, want %d", len(w), len(FactorNames))
	}
}

func TestIndicatorsValue(t *testing.T) {
	in := Indicators{
		Industry: 1,
		Dividend: 0.5,
		REIT:     1,
		Severity: 0,
		Ranking:  0.75,
		Volume:   1,
	}

	cases := map[string]float64{
		FactorIndustry:  1,
		FactorDividends: 0.5,
		FactorREIT:      1,
		FactorSeverity:  0,
		FactorRanking:   0.75,
		FactorVolume:    1,
		"bogus":         0,
	}
	for factor, want := range cases {
		if got := in.Value(factor); got != want {
			t.Errorf("Value(%q) = %v, want %v", factor, got, want)
		}
	}
}

func TestRunStatusTerminal(t *testing.T) {
	cases := map[RunStatus]bool{
		RunStatusQueued:    false,
		RunStatusRunning:   false,
		RunStatusCompleted: true,
		RunStatusFailed:    true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestPickReturnHelpers(t *testing.T) {
	var p Pick
	if p.Return(1) != nil || p.SPYReturn(1) != nil {
		t.Error("nil maps should yield nil returns")
	}

	p.Returns = map[int]*float64{1: Float64Ptr(12.5), 2: nil}
	if got := p.Return(1); got == nil || *got != 12.5 {
		t.Errorf("Return(1) = %v, want 12.5", got)
	}
	if p.Return(2) != nil {
		t.Error("Return(2) should be nil for an unresolved horizon")
	}
	if p.Return(5) != nil {
		t.Error("Return(5) should be nil for an absent horizon")
	}
}
