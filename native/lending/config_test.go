package lending

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleMarkets = `
[params]
Treasury = "0x0000000000000000000000000000000000007e55"
CloseFactorBps = 5000
DustFloor = "2000"
RecoveryHealthFactor = "1.0"

[rate_strategies.stable]
BaseRate = "0"
Slope1 = "0.04"
Slope2 = "0.75"
Kink = "0.9"

[auction_strategies.blue-chip]
MaxMultiplierBps = 30000
MinMultiplierBps = 8000
StepLinearBps = 500
CrossoverTicks = 20
ExpDecay = "0.97"
TickSeconds = 600
BondingTicks = 1

[[reserves]]
Symbol = "DAI"
Asset = "0x00000000000000000000000000000000000000d1"
Vault = "0x00000000000000000000000000000000000001d1"
Decimals = 18
LTVBps = 7500
LiquidationThresholdBps = 8000
LiquidationBonusBps = 10500
ReserveFactorBps = 1000
BorrowingEnabled = true
RateStrategy = "stable"
Price = "1.0002"

[[reserves]]
Symbol = "APE"
Class = "erc721"
Asset = "0x00000000000000000000000000000000000000a1"
Vault = "0x00000000000000000000000000000000000001a1"
LTVBps = 3000
LiquidationThresholdBps = 7000
LiquidationBonusBps = 10500
AuctionEnabled = true
AuctionStrategy = "blue-chip"
Price = "12500"
`

func TestParseMarketsConfig(t *testing.T) {
	cfg, err := ParseMarketsConfig(sampleMarkets)
	require.NoError(t, err)
	require.Len(t, cfg.Reserves, 2)

	params, err := cfg.EngineParams()
	require.NoError(t, err)
	require.Equal(t, treasury, params.Treasury)
	require.Equal(t, usd(2_000), params.DustFloorBase)
	require.Equal(t, mustRay(t, "1"), params.RecoveryHealthFactor)

	class, err := cfg.Reserves[1].AssetClass()
	require.NoError(t, err)
	require.Equal(t, AssetClassNonFungible, class)
	require.True(t, cfg.Reserves[1].Configuration().Active)
	require.Equal(t, apeAsset, cfg.Reserves[1].AssetAddress())

	price, err := ParseDecimal(cfg.Reserves[0].Price, 8)
	require.NoError(t, err)
	require.Equal(t, int64(100_020_000), price.Int64())

	e := NewEngine(NewMemoryStore(), nil, nil, params)
	require.NoError(t, cfg.RegisterStrategies(e))
	require.Contains(t, e.rateStrategies, "stable")
	require.Contains(t, e.auctionStrategies, "blue-chip")
}

func TestLoadMarketsConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markets.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleMarkets), 0o600))
	cfg, err := LoadMarketsConfig(path)
	require.NoError(t, err)
	require.Equal(t, "DAI", cfg.Reserves[0].Symbol)
}

func TestMarketsConfigRejectsInvalidInput(t *testing.T) {
	cases := map[string]string{
		"unknown key":      "[params]\nBogus = 1\n",
		"unknown strategy": "[[reserves]]\nAsset = \"0x00000000000000000000000000000000000000d1\"\nVault = \"0x00000000000000000000000000000000000001d1\"\nRateStrategy = \"missing\"\n",
		"bad address":      "[[reserves]]\nAsset = \"dai\"\n",
		"bad class":        "[rate_strategies.s]\nKink = \"0.8\"\n[[reserves]]\nAsset = \"0x00000000000000000000000000000000000000d1\"\nVault = \"0x00000000000000000000000000000000000001d1\"\nClass = \"bond\"\nRateStrategy = \"s\"\n",
		"ltv above lt":     "[rate_strategies.s]\nKink = \"0.8\"\n[[reserves]]\nAsset = \"0x00000000000000000000000000000000000000d1\"\nVault = \"0x00000000000000000000000000000000000001d1\"\nLTVBps = 9000\nLiquidationThresholdBps = 8000\nLiquidationBonusBps = 10500\nRateStrategy = \"s\"\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMarketsConfig(doc)
			require.Error(t, err)
		})
	}
}
