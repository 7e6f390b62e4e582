package formula

import (
	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

type AssetConfig struct {
	Base        decimal.Decimal
	MonthlyRate decimal.Decimal
}

func DefaultAssetConfig() AssetConfig {
	return AssetConfig{
		Base:        decimal.NewFromInt(13800),
		MonthlyRate: decimal.RequireFromString("0.04"),
	}
}

// Asset compounds Base by MonthlyRate once per position in the sequence.
type Asset struct {
	cfg    AssetConfig
	factor decimal.Decimal
}

func NewAsset(cfg AssetConfig) *Asset {
	return &Asset{cfg: cfg, factor: decimal.NewFromInt(1).Add(cfg.MonthlyRate)}
}

func (a *Asset) ID() string { return AssetID }

func (a *Asset) ValueFor(seq *core.PeriodSequence, p core.Period) (decimal.Decimal, bool) {
	if seq == nil {
		return decimal.Zero, false
	}
	i, ok := seq.IndexOf(p)
	if !ok {
		return decimal.Zero, false
	}
	growth := a.factor.Pow(decimal.NewFromInt(int64(i)))
	return a.cfg.Base.Mul(growth).Round(2), true
}
