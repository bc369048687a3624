package server

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"lendledger/native/lending"
	"lendledger/native/lending/fixedpoint"
	"lendledger/services/lendingd/journal"
)

const maxBodyBytes = 1 << 20

func decode(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: invalid payload: %v", errBadRequest, err)
	}
	return nil
}

func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %s must be a hex address", errBadRequest, field)
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s must not be the zero address", errBadRequest, field)
	}
	return addr, nil
}

func parseOptionalAddress(field, raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	return parseAddress(field, raw)
}

// parseAmount reads a base-10 integer. "max" maps to the engine's
// whole-balance sentinel when allowMax is set.
func parseAmount(field, raw string, allowMax bool) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if allowMax && strings.EqualFold(raw, "max") {
		return new(big.Int).Set(fixedpoint.MaxUint256), nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, field)
	}
	return value, nil
}

func parseOptionalAmount(field, raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseAmount(field, raw, false)
}

func parseTokenIDs(raw []string) ([]*big.Int, error) {
	ids := make([]*big.Int, 0, len(raw))
	for i, item := range raw {
		id, err := parseAmount(fmt.Sprintf("tokenIds[%d]", i), item, false)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func str(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func okResponse(fields map[string]any) map[string]any {
	out := map[string]any{"status": "ok"}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// isNonFungible resolves the asset class of a listed reserve.
func (s *Server) isNonFungible(asset common.Address) (bool, error) {
	reserve, err := s.engine.GetReserve(asset)
	if err != nil {
		return false, err
	}
	return reserve.IsNonFungible(), nil
}

type supplyRequest struct {
	Asset           string   `json:"asset"`
	User            string   `json:"user"`
	OnBehalfOf      string   `json:"onBehalfOf"`
	Amount          string   `json:"amount"`
	TokenIDs        []string `json:"tokenIds"`
	UseAsCollateral *bool    `json:"useAsCollateral"`
}

func (s *Server) supply(w http.ResponseWriter, r *http.Request) {
	var req supplyRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	onBehalfOf, err := parseOptionalAddress("onBehalfOf", req.OnBehalfOf)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	nft, err := s.isNonFungible(asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if nft {
		ids, err := parseTokenIDs(req.TokenIDs)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		useAsCollateral := req.UseAsCollateral == nil || *req.UseAsCollateral
		tokens := make([]lending.TokenData, 0, len(ids))
		for _, id := range ids {
			tokens = append(tokens, lending.TokenData{TokenID: id, UseAsCollateral: useAsCollateral})
		}
		if err := s.engine.SupplyERC721(lending.SupplyERC721Params{Asset: asset, User: user, OnBehalfOf: onBehalfOf, Tokens: tokens}); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, okResponse(nil))
		return
	}
	amount, err := parseAmount("amount", req.Amount, false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.Supply(lending.SupplyParams{Asset: asset, User: user, OnBehalfOf: onBehalfOf, Amount: amount}); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(nil))
}

type withdrawRequest struct {
	Asset    string   `json:"asset"`
	User     string   `json:"user"`
	To       string   `json:"to"`
	Amount   string   `json:"amount"`
	TokenIDs []string `json:"tokenIds"`
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := parseOptionalAddress("to", req.To)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	nft, err := s.isNonFungible(asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if nft {
		ids, err := parseTokenIDs(req.TokenIDs)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if err := s.engine.WithdrawERC721(lending.WithdrawERC721Params{Asset: asset, User: user, To: to, TokenIDs: ids}); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, okResponse(nil))
		return
	}
	amount, err := parseAmount("amount", req.Amount, true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	withdrawn, err := s.engine.Withdraw(lending.WithdrawParams{Asset: asset, User: user, To: to, Amount: amount})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]any{"amount": str(withdrawn)}))
}

type borrowRequest struct {
	Asset  string `json:"asset"`
	User   string `json:"user"`
	Amount string `json:"amount"`
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount, false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.Borrow(lending.BorrowParams{Asset: asset, User: user, Amount: amount}); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(nil))
}

type repayRequest struct {
	Asset      string `json:"asset"`
	User       string `json:"user"`
	OnBehalfOf string `json:"onBehalfOf"`
	Amount     string `json:"amount"`
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	onBehalfOf, err := parseOptionalAddress("onBehalfOf", req.OnBehalfOf)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount, true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	repaid, err := s.engine.Repay(lending.RepayParams{Asset: asset, User: user, OnBehalfOf: onBehalfOf, Amount: amount})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]any{"amount": str(repaid)}))
}

type collateralRequest struct {
	Asset           string   `json:"asset"`
	User            string   `json:"user"`
	UseAsCollateral bool     `json:"useAsCollateral"`
	TokenIDs        []string `json:"tokenIds"`
}

func (s *Server) setCollateral(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	nft, err := s.isNonFungible(asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if nft {
		ids, err := parseTokenIDs(req.TokenIDs)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		err = s.engine.SetUserUseERC721AsCollateral(lending.SetERC721CollateralParams{
			Asset: asset, User: user, TokenIDs: ids, UseAsCollateral: req.UseAsCollateral,
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
	} else if err := s.engine.SetUserUseERC20AsCollateral(asset, user, req.UseAsCollateral); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(nil))
}

type transferRequest struct {
	Asset   string `json:"asset"`
	From    string `json:"from"`
	To      string `json:"to"`
	Amount  string `json:"amount"`
	TokenID string `json:"tokenId"`
}

func (s *Server) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	from, err := parseAddress("from", req.From)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	nft, err := s.isNonFungible(asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if nft {
		tokenID, err := parseAmount("tokenId", req.TokenID, false)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		err = s.engine.TransferERC721Collateral(lending.TransferERC721Params{Asset: asset, From: from, To: to, TokenID: tokenID})
		if err != nil {
			s.fail(w, r, err)
			return
		}
	} else {
		amount, err := parseAmount("amount", req.Amount, false)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if err := s.engine.TransferCollateral(lending.TransferParams{Asset: asset, From: from, To: to, Amount: amount}); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, okResponse(nil))
}

type liquidateRequest struct {
	CollateralAsset string `json:"collateralAsset"`
	DebtAsset       string `json:"debtAsset"`
	User            string `json:"user"`
	Liquidator      string `json:"liquidator"`
	DebtToCover     string `json:"debtToCover"`
	ReceivePToken   bool   `json:"receivePToken"`
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	collateral, err := parseAddress("collateralAsset", req.CollateralAsset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	debt, err := parseAddress("debtAsset", req.DebtAsset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	liquidator, err := parseAddress("liquidator", req.Liquidator)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	debtToCover, err := parseAmount("debtToCover", req.DebtToCover, true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.engine.LiquidationCall(lending.LiquidationCallParams{
		CollateralAsset: collateral,
		DebtAsset:       debt,
		User:            user,
		Liquidator:      liquidator,
		DebtToCover:     debtToCover,
		ReceivePToken:   req.ReceivePToken,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]any{
		"debtRepaid":           str(result.DebtRepaid),
		"collateralLiquidated": str(result.CollateralLiquidated),
		"protocolFee":          str(result.ProtocolFee),
	}))
}

type startAuctionRequest struct {
	Asset   string `json:"asset"`
	TokenID string `json:"tokenId"`
	User    string `json:"user"`
}

func (s *Server) startAuction(w http.ResponseWriter, r *http.Request) {
	var req startAuctionRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tokenID, err := parseAmount("tokenId", req.TokenID, false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.StartAuction(lending.StartAuctionParams{Asset: asset, TokenID: tokenID, User: user}); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(nil))
}

type liquidateAuctionRequest struct {
	CollateralAsset      string `json:"collateralAsset"`
	LiquidationAsset     string `json:"liquidationAsset"`
	TokenID              string `json:"tokenId"`
	User                 string `json:"user"`
	Liquidator           string `json:"liquidator"`
	MaxLiquidationAmount string `json:"maxLiquidationAmount"`
	ReceiveNToken        bool   `json:"receiveNToken"`
}

func (s *Server) liquidateAuction(w http.ResponseWriter, r *http.Request) {
	var req liquidateAuctionRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	collateral, err := parseAddress("collateralAsset", req.CollateralAsset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	liquidationAsset, err := parseAddress("liquidationAsset", req.LiquidationAsset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	liquidator, err := parseAddress("liquidator", req.Liquidator)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tokenID, err := parseAmount("tokenId", req.TokenID, false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	maxAmount, err := parseOptionalAmount("maxLiquidationAmount", req.MaxLiquidationAmount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.engine.LiquidateERC721(lending.LiquidateERC721Params{
		CollateralAsset:      collateral,
		LiquidationAsset:     liquidationAsset,
		TokenID:              tokenID,
		User:                 user,
		Liquidator:           liquidator,
		MaxLiquidationAmount: maxAmount,
		ReceiveNToken:        req.ReceiveNToken,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]any{
		"price":      str(result.Price),
		"debtRepaid": str(result.DebtRepaid),
		"surplus":    str(result.Surplus),
		"badDebt":    str(result.BadDebt),
	}))
}

type mintToTreasuryRequest struct {
	Assets []string `json:"assets"`
}

func (s *Server) mintToTreasury(w http.ResponseWriter, r *http.Request) {
	var req mintToTreasuryRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	var assets []common.Address
	if len(req.Assets) == 0 {
		listed, err := s.engine.GetReservesList()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		for _, asset := range listed {
			nft, err := s.isNonFungible(asset)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			if !nft {
				assets = append(assets, asset)
			}
		}
	} else {
		for i, raw := range req.Assets {
			asset, err := parseAddress(fmt.Sprintf("assets[%d]", i), raw)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			assets = append(assets, asset)
		}
	}
	if err := s.engine.MintToTreasury(assets); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]any{"reserves": len(assets)}))
}

type priceUpdate struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

type setPricesRequest struct {
	Prices []priceUpdate `json:"prices"`
}

func (s *Server) setPrices(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		writeError(w, http.StatusServiceUnavailable, "price feed not configured")
		return
	}
	var req setPricesRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(req.Prices) == 0 {
		s.fail(w, r, fmt.Errorf("%w: prices required", errBadRequest))
		return
	}
	type parsed struct {
		asset common.Address
		price *big.Int
	}
	updates := make([]parsed, 0, len(req.Prices))
	for i, update := range req.Prices {
		asset, err := parseAddress(fmt.Sprintf("prices[%d].asset", i), update.Asset)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		price, err := parseAmount(fmt.Sprintf("prices[%d].price", i), update.Price, false)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if price.Sign() == 0 {
			s.fail(w, r, fmt.Errorf("%w: prices[%d].price must be positive", errBadRequest, i))
			return
		}
		updates = append(updates, parsed{asset: asset, price: price})
	}
	for _, update := range updates {
		if err := s.prices.SetPrice(update.asset, update.price); err != nil {
			s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}
	settled, err := s.engine.SettleAuctions()
	if err != nil {
		s.logger.Warn("auction settlement after price update failed", "error", err)
	}
	writeJSON(w, http.StatusOK, okResponse(map[string]any{"updated": len(updates), "auctionsSettled": settled}))
}

type configurationView struct {
	LTV                    uint64 `json:"ltv"`
	LiquidationThreshold   uint64 `json:"liquidationThreshold"`
	LiquidationBonus       uint64 `json:"liquidationBonus"`
	ReserveFactor          uint64 `json:"reserveFactor"`
	LiquidationProtocolFee uint64 `json:"liquidationProtocolFee"`
	Decimals               uint8  `json:"decimals"`
	BorrowCap              uint64 `json:"borrowCap"`
	SupplyCap              uint64 `json:"supplyCap"`
	Active                 bool   `json:"active"`
	Frozen                 bool   `json:"frozen"`
	Paused                 bool   `json:"paused"`
	BorrowingEnabled       bool   `json:"borrowingEnabled"`
	SiloedBorrowing        bool   `json:"siloedBorrowing"`
	AuctionEnabled         bool   `json:"auctionEnabled"`
}

type reserveView struct {
	Asset                     string            `json:"asset"`
	ID                        uint16            `json:"id"`
	Class                     string            `json:"class"`
	Vault                     string            `json:"vault"`
	LiquidityIndex            string            `json:"liquidityIndex"`
	VariableBorrowIndex       string            `json:"variableBorrowIndex"`
	NormalizedIncome          string            `json:"normalizedIncome"`
	NormalizedVariableDebt    string            `json:"normalizedVariableDebt"`
	CurrentLiquidityRate      string            `json:"currentLiquidityRate"`
	CurrentVariableBorrowRate string            `json:"currentVariableBorrowRate"`
	LastUpdateTimestamp       uint64            `json:"lastUpdateTimestamp"`
	AccruedToTreasury         string            `json:"accruedToTreasury"`
	InterestRateStrategy      string            `json:"interestRateStrategy,omitempty"`
	AuctionStrategy           string            `json:"auctionStrategy,omitempty"`
	Configuration             configurationView `json:"configuration"`
}

func (s *Server) reserveView(asset common.Address) (*reserveView, error) {
	reserve, err := s.engine.GetReserve(asset)
	if err != nil {
		return nil, err
	}
	income, err := s.engine.GetNormalizedIncome(asset)
	if err != nil {
		return nil, err
	}
	debt, err := s.engine.GetNormalizedVariableDebt(asset)
	if err != nil {
		return nil, err
	}
	cfg := reserve.Configuration
	return &reserveView{
		Asset:                     reserve.Asset.Hex(),
		ID:                        reserve.ID,
		Class:                     reserve.Class.String(),
		Vault:                     reserve.Vault.Hex(),
		LiquidityIndex:            str(reserve.LiquidityIndex),
		VariableBorrowIndex:       str(reserve.VariableBorrowIndex),
		NormalizedIncome:          str(income),
		NormalizedVariableDebt:    str(debt),
		CurrentLiquidityRate:      str(reserve.CurrentLiquidityRate),
		CurrentVariableBorrowRate: str(reserve.CurrentVariableBorrowRate),
		LastUpdateTimestamp:       reserve.LastUpdateTimestamp,
		AccruedToTreasury:         str(reserve.AccruedToTreasury),
		InterestRateStrategy:      reserve.InterestRateStrategy,
		AuctionStrategy:           reserve.AuctionStrategy,
		Configuration: configurationView{
			LTV:                    cfg.LTV,
			LiquidationThreshold:   cfg.LiquidationThreshold,
			LiquidationBonus:       cfg.LiquidationBonus,
			ReserveFactor:          cfg.ReserveFactor,
			LiquidationProtocolFee: cfg.LiquidationProtocolFee,
			Decimals:               cfg.Decimals,
			BorrowCap:              cfg.BorrowCap,
			SupplyCap:              cfg.SupplyCap,
			Active:                 cfg.Active,
			Frozen:                 cfg.Frozen,
			Paused:                 cfg.Paused,
			BorrowingEnabled:       cfg.BorrowingEnabled,
			SiloedBorrowing:        cfg.SiloedBorrowing,
			AuctionEnabled:         cfg.AuctionEnabled,
		},
	}, nil
}

func (s *Server) listReserves(w http.ResponseWriter, r *http.Request) {
	assets, err := s.engine.GetReservesList()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]*reserveView, 0, len(assets))
	for _, asset := range assets {
		view, err := s.reserveView(asset)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"reserves": views})
}

func (s *Server) getReserve(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.reserveView(asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type userReserveView struct {
	Asset              string   `json:"asset"`
	CollateralBalance  string   `json:"collateralBalance"`
	VariableDebt       string   `json:"variableDebt"`
	ScaledCollateral   string   `json:"scaledCollateral"`
	ScaledVariableDebt string   `json:"scaledVariableDebt"`
	UsageAsCollateral  bool     `json:"usageAsCollateral"`
	TokenIDs           []string `json:"tokenIds,omitempty"`
}

type accountView struct {
	User                          string             `json:"user"`
	TotalCollateralBase           string             `json:"totalCollateralBase"`
	TotalDebtBase                 string             `json:"totalDebtBase"`
	AvailableBorrowsBase          string             `json:"availableBorrowsBase"`
	AvgLTV                        uint64             `json:"avgLtv"`
	AvgLiquidationThreshold       uint64             `json:"avgLiquidationThreshold"`
	HealthFactor                  string             `json:"healthFactor"`
	ERC721CollateralBase          string             `json:"erc721CollateralBase"`
	AvgERC721LiquidationThreshold uint64             `json:"avgErc721LiquidationThreshold"`
	ERC721HealthFactor            string             `json:"erc721HealthFactor"`
	AuctionedCollateralBase       string             `json:"auctionedCollateralBase"`
	RecoveryHealthFactor          string             `json:"recoveryHealthFactor"`
	StaleAuctions                 bool               `json:"staleAuctions"`
	Reserves                      []*userReserveView `json:"reserves"`
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress("user", chi.URLParam(r, "user"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data, err := s.engine.GetUserAccountData(user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	assets, err := s.engine.GetReservesList()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view := accountView{
		User:                          user.Hex(),
		TotalCollateralBase:           str(data.TotalCollateralBase),
		TotalDebtBase:                 str(data.TotalDebtBase),
		AvailableBorrowsBase:          str(data.AvailableBorrowsBase),
		AvgLTV:                        data.AvgLTV,
		AvgLiquidationThreshold:       data.AvgLiquidationThreshold,
		HealthFactor:                  str(data.HealthFactor),
		ERC721CollateralBase:          str(data.ERC721CollateralBase),
		AvgERC721LiquidationThreshold: data.AvgERC721LiquidationThreshold,
		ERC721HealthFactor:            str(data.ERC721HealthFactor),
		AuctionedCollateralBase:       str(data.AuctionedCollateralBase),
		RecoveryHealthFactor:          str(data.RecoveryHealthFactor),
		StaleAuctions:                 data.StaleAuctions,
		Reserves:                      []*userReserveView{},
	}
	for _, asset := range assets {
		reserveData, err := s.engine.GetUserReserveData(asset, user)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if reserveData.CollateralBalance.Sign() == 0 && reserveData.VariableDebt.Sign() == 0 {
			continue
		}
		entry := &userReserveView{
			Asset:              asset.Hex(),
			CollateralBalance:  str(reserveData.CollateralBalance),
			VariableDebt:       str(reserveData.VariableDebt),
			ScaledCollateral:   str(reserveData.ScaledCollateral),
			ScaledVariableDebt: str(reserveData.ScaledVariableDebt),
			UsageAsCollateral:  reserveData.UsageAsCollateral,
		}
		for _, id := range reserveData.TokenIDs {
			entry.TokenIDs = append(entry.TokenIDs, id.String())
		}
		view.Reserves = append(view.Reserves, entry)
	}
	writeJSON(w, http.StatusOK, view)
}

type auctionView struct {
	Asset        string `json:"asset"`
	TokenID      string `json:"tokenId"`
	Owner        string `json:"owner"`
	StartTime    uint64 `json:"startTime"`
	TickLength   uint64 `json:"tickLength"`
	TicksElapsed uint64 `json:"ticksElapsed"`
	Multiplier   string `json:"multiplier"`
	Price        string `json:"price"`
	Stale        bool   `json:"stale"`
}

func (s *Server) getAuction(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tokenID, err := parseAmount("tokenId", chi.URLParam(r, "tokenId"), false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data, err := s.engine.GetAuctionData(asset, tokenID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auctionView{
		Asset:        data.Asset.Hex(),
		TokenID:      str(data.TokenID),
		Owner:        data.Owner.Hex(),
		StartTime:    data.StartTime,
		TickLength:   data.TickLength,
		TicksElapsed: data.TicksElapsed,
		Multiplier:   str(data.Multiplier),
		Price:        str(data.Price),
		Stale:        data.Stale,
	})
}

type eventView struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  string            `json:"createdAt"`
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event journal disabled")
		return
	}
	query := r.URL.Query()
	filter := journal.Filter{Type: query.Get("type")}
	if raw := query.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.fail(w, r, fmt.Errorf("%w: after must be an unsigned integer", errBadRequest))
			return
		}
		filter.After = after
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.fail(w, r, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest))
			return
		}
		filter.Limit = limit
	}
	entries, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]eventView, 0, len(entries))
	for _, entry := range entries {
		attrs, err := entry.Decoded()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		views = append(views, eventView{
			ID:         entry.ID.String(),
			Sequence:   entry.Sequence,
			Type:       entry.Type,
			Attributes: attrs,
			CreatedAt:  entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": views})
}
