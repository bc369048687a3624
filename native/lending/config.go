package lending

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"lendledger/native/lending/fixedpoint"
)

// MarketsConfig captures the markets file loaded by the daemon: engine
// parameters, named strategies and the reserves to list.
type MarketsConfig struct {
	Params            ParamsConfig                     `toml:"params"`
	RateStrategies    map[string]RateStrategyConfig    `toml:"rate_strategies"`
	AuctionStrategies map[string]AuctionStrategyConfig `toml:"auction_strategies"`
	Reserves          []ReserveConfig                  `toml:"reserves"`
}

// ParamsConfig mirrors Params in file form.
type ParamsConfig struct {
	Treasury       string `toml:"Treasury"`
	CloseFactorBps uint64 `toml:"CloseFactorBps"`
	// DustFloor is a base currency amount, e.g. "2000".
	DustFloor string `toml:"DustFloor"`
	// RecoveryHealthFactor is a decimal, e.g. "1.0".
	RecoveryHealthFactor string `toml:"RecoveryHealthFactor"`
}

// RateStrategyConfig describes a kinked interest model with decimal rates.
type RateStrategyConfig struct {
	BaseRate string `toml:"BaseRate"`
	Slope1   string `toml:"Slope1"`
	Slope2   string `toml:"Slope2"`
	Kink     string `toml:"Kink"`
}

// AuctionStrategyConfig describes a Dutch auction curve.
type AuctionStrategyConfig struct {
	MaxMultiplierBps uint64 `toml:"MaxMultiplierBps"`
	MinMultiplierBps uint64 `toml:"MinMultiplierBps"`
	StepLinearBps    uint64 `toml:"StepLinearBps"`
	CrossoverTicks   uint64 `toml:"CrossoverTicks"`
	ExpDecay         string `toml:"ExpDecay"`
	TickSeconds      uint64 `toml:"TickSeconds"`
	BondingTicks     uint64 `toml:"BondingTicks"`
}

// ReserveConfig lists one asset.
type ReserveConfig struct {
	Symbol                    string `toml:"Symbol"`
	Asset                     string `toml:"Asset"`
	Class                     string `toml:"Class"`
	Vault                     string `toml:"Vault"`
	Decimals                  uint8  `toml:"Decimals"`
	LTVBps                    uint64 `toml:"LTVBps"`
	LiquidationThresholdBps   uint64 `toml:"LiquidationThresholdBps"`
	LiquidationBonusBps       uint64 `toml:"LiquidationBonusBps"`
	ReserveFactorBps          uint64 `toml:"ReserveFactorBps"`
	LiquidationProtocolFeeBps uint64 `toml:"LiquidationProtocolFeeBps"`
	BorrowCap                 uint64 `toml:"BorrowCap"`
	SupplyCap                 uint64 `toml:"SupplyCap"`
	Frozen                    bool   `toml:"Frozen"`
	BorrowingEnabled          bool   `toml:"BorrowingEnabled"`
	SiloedBorrowing           bool   `toml:"SiloedBorrowing"`
	AuctionEnabled            bool   `toml:"AuctionEnabled"`
	RateStrategy              string `toml:"RateStrategy"`
	AuctionStrategy           string `toml:"AuctionStrategy"`
	// Price seeds the static oracle source, in base currency units.
	Price string `toml:"Price"`
}

// LoadMarketsConfig reads and validates a markets file.
func LoadMarketsConfig(path string) (*MarketsConfig, error) {
	cfg := new(MarketsConfig)
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode markets file: %w", err)
	}
	return finishMarkets(cfg, meta)
}

// ParseMarketsConfig decodes a markets document held in memory.
func ParseMarketsConfig(data string) (*MarketsConfig, error) {
	cfg := new(MarketsConfig)
	meta, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode markets: %w", err)
	}
	return finishMarkets(cfg, meta)
}

func finishMarkets(cfg *MarketsConfig, meta toml.MetaData) (*MarketsConfig, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("markets: unknown keys %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross references and address formats.
func (c *MarketsConfig) Validate() error {
	var errs []error
	if c.Params.Treasury != "" && !common.IsHexAddress(c.Params.Treasury) {
		errs = append(errs, fmt.Errorf("params: invalid treasury %q", c.Params.Treasury))
	}
	seen := make(map[common.Address]string)
	for i, r := range c.Reserves {
		name := r.Symbol
		if name == "" {
			name = fmt.Sprintf("reserves[%d]", i)
		}
		if !common.IsHexAddress(r.Asset) {
			errs = append(errs, fmt.Errorf("%s: invalid asset %q", name, r.Asset))
			continue
		}
		if !common.IsHexAddress(r.Vault) {
			errs = append(errs, fmt.Errorf("%s: invalid vault %q", name, r.Vault))
		}
		asset := common.HexToAddress(r.Asset)
		if prev, dup := seen[asset]; dup {
			errs = append(errs, fmt.Errorf("%s: asset already listed by %s", name, prev))
		}
		seen[asset] = name
		class, err := r.AssetClass()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if class == AssetClassFungible {
			if _, ok := c.RateStrategies[r.RateStrategy]; !ok {
				errs = append(errs, fmt.Errorf("%s: unknown rate strategy %q", name, r.RateStrategy))
			}
		}
		if r.AuctionEnabled {
			if _, ok := c.AuctionStrategies[r.AuctionStrategy]; !ok {
				errs = append(errs, fmt.Errorf("%s: unknown auction strategy %q", name, r.AuctionStrategy))
			}
		}
		if err := validateConfiguration(class, r.Configuration()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		if r.Price != "" {
			if _, err := ParseDecimal(r.Price, 8); err != nil {
				errs = append(errs, fmt.Errorf("%s: price: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// EngineParams converts the params section, falling back to defaults.
func (c *MarketsConfig) EngineParams() (Params, error) {
	p := DefaultParams()
	if c.Params.Treasury != "" {
		p.Treasury = common.HexToAddress(c.Params.Treasury)
	}
	if c.Params.CloseFactorBps != 0 {
		p.CloseFactor = c.Params.CloseFactorBps
	}
	if c.Params.DustFloor != "" {
		v, err := ParseDecimal(c.Params.DustFloor, 8)
		if err != nil {
			return Params{}, fmt.Errorf("params: dust floor: %w", err)
		}
		p.DustFloorBase = v
	}
	if c.Params.RecoveryHealthFactor != "" {
		v, err := ParseRay(c.Params.RecoveryHealthFactor)
		if err != nil {
			return Params{}, fmt.Errorf("params: recovery health factor: %w", err)
		}
		p.RecoveryHealthFactor = v
	}
	return p.normalize(), nil
}

// Model builds the interest model.
func (r RateStrategyConfig) Model() (*InterestModel, error) {
	return NewInterestModel(r.BaseRate, r.Slope1, r.Slope2, r.Kink)
}

// Strategy builds and validates the auction curve.
func (a AuctionStrategyConfig) Strategy() (*DefaultAuctionStrategy, error) {
	decay, err := ParseRay(a.ExpDecay)
	if err != nil {
		return nil, err
	}
	s := &DefaultAuctionStrategy{
		MaxMultiplier:  a.MaxMultiplierBps,
		MinMultiplier:  a.MinMultiplierBps,
		StepLinear:     a.StepLinearBps,
		CrossoverTicks: a.CrossoverTicks,
		ExpDecay:       decay,
		Tick:           a.TickSeconds,
		BondingTicks:   a.BondingTicks,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// AssetClass parses the reserve class; an empty class means fungible.
func (r ReserveConfig) AssetClass() (AssetClass, error) {
	switch strings.ToLower(strings.TrimSpace(r.Class)) {
	case "", "fungible", "erc20":
		return AssetClassFungible, nil
	case "nonfungible", "non-fungible", "erc721", "nft":
		return AssetClassNonFungible, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidAssetClass, r.Class)
	}
}

// Configuration converts the reserve's risk settings. Listed reserves start
// active and unpaused.
func (r ReserveConfig) Configuration() ReserveConfiguration {
	return ReserveConfiguration{
		LTV:                    r.LTVBps,
		LiquidationThreshold:   r.LiquidationThresholdBps,
		LiquidationBonus:       r.LiquidationBonusBps,
		ReserveFactor:          r.ReserveFactorBps,
		LiquidationProtocolFee: r.LiquidationProtocolFeeBps,
		Decimals:               r.Decimals,
		BorrowCap:              r.BorrowCap,
		SupplyCap:              r.SupplyCap,
		Active:                 true,
		Frozen:                 r.Frozen,
		BorrowingEnabled:       r.BorrowingEnabled,
		SiloedBorrowing:        r.SiloedBorrowing,
		AuctionEnabled:         r.AuctionEnabled,
	}
}

// AssetAddress returns the parsed asset address.
func (r ReserveConfig) AssetAddress() common.Address { return common.HexToAddress(r.Asset) }

// VaultAddress returns the parsed vault address.
func (r ReserveConfig) VaultAddress() common.Address { return common.HexToAddress(r.Vault) }

// RegisterStrategies registers every named strategy with the engine.
func (c *MarketsConfig) RegisterStrategies(e *Engine) error {
	for name, rs := range c.RateStrategies {
		m, err := rs.Model()
		if err != nil {
			return fmt.Errorf("rate strategy %s: %w", name, err)
		}
		e.RegisterInterestRateStrategy(name, m)
	}
	for name, as := range c.AuctionStrategies {
		s, err := as.Strategy()
		if err != nil {
			return fmt.Errorf("auction strategy %s: %w", name, err)
		}
		e.RegisterAuctionStrategy(name, s)
	}
	return nil
}

// ParseDecimal converts a non-negative decimal string to an integer with the
// given number of decimals, truncating extra precision.
func ParseDecimal(raw string, decimals uint8) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(raw))
	if !ok || r.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid decimal %q", ErrInvalidAmount, raw)
	}
	r.Mul(r, new(big.Rat).SetInt(fixedpoint.Pow10(decimals)))
	return new(big.Int).Quo(r.Num(), r.Denom()), nil
}
