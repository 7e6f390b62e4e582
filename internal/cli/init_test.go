package cli

import (
	"slices"
	"testing"

	"saldo/internal/config"
	"saldo/internal/core"
	"saldo/internal/services"
)

func TestLedgerConfig(t *testing.T) {
	cfg := &config.Config{
		CascadeWindow:   6,
		BaseCurrency:    "USD",
		ForeignCurrency: "ARS",
		CarryGroup:      "AHORRO",
	}

	lc := LedgerConfig(cfg)
	if lc.Cascade.Window != 6 || lc.Cascade.BaseCurrency != "USD" || lc.Cascade.Group != "AHORRO" {
		t.Errorf("cascade config = %+v", lc.Cascade)
	}
	if lc.Cascade.Label != services.DefaultCascadeConfig().Label {
		t.Errorf("carry label = %q, want the default", lc.Cascade.Label)
	}
	if !slices.Equal(lc.Currencies, []core.Currency{"USD", "ARS"}) {
		t.Errorf("currencies = %v", lc.Currencies)
	}
}

func TestInitSequenceUsesConfiguredYears(t *testing.T) {
	cfg := &config.Config{PeriodStartYear: 2026, PeriodEndYear: 2027}
	seq := InitSequence(SetupLogger("test"), cfg)
	if seq.Len() != 24 {
		t.Fatalf("len = %d, want 24", seq.Len())
	}
	if p, _ := seq.At(0); p.String() != "Enero 2026" {
		t.Errorf("first period = %s", p)
	}
}
