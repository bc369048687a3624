package metrics

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	nativecommon "lendledger/native/common"
)

// LendingMetrics records lending engine activity. It satisfies the engine's
// Metrics interface.
type LendingMetrics struct {
	actions        *prometheus.CounterVec
	liquidations   *prometheus.CounterVec
	auctionsStarts *prometheus.CounterVec
	badDebt        *prometheus.CounterVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			actions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendledger",
				Subsystem: "engine",
				Name:      "actions_total",
				Help:      "Engine actions segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendledger",
				Subsystem: "engine",
				Name:      "liquidations_total",
				Help:      "Completed liquidations by kind and repaid asset.",
			}, []string{"kind", "asset"}),
			auctionsStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendledger",
				Subsystem: "engine",
				Name:      "auctions_started_total",
				Help:      "Dutch auctions opened per collateral asset.",
			}, []string{"asset"}),
			badDebt: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendledger",
				Subsystem: "engine",
				Name:      "bad_debt_units_total",
				Help:      "Debt left uncovered after auction settlement, in asset base units.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			lendingRegistry.actions,
			lendingRegistry.liquidations,
			lendingRegistry.auctionsStarts,
			lendingRegistry.badDebt,
		)
	})
	return lendingRegistry
}

func (m *LendingMetrics) ObserveAction(action string, err error) {
	if m == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	m.actions.WithLabelValues(action, outcome(err)).Inc()
}

func (m *LendingMetrics) ObserveLiquidation(kind string, debtAsset common.Address) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.liquidations.WithLabelValues(kind, debtAsset.Hex()).Inc()
}

func (m *LendingMetrics) ObserveAuctionStarted(asset common.Address) {
	if m == nil {
		return
	}
	m.auctionsStarts.WithLabelValues(asset.Hex()).Inc()
}

func (m *LendingMetrics) ObserveBadDebt(asset common.Address, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	value, _ := new(big.Float).SetInt(amount).Float64()
	m.badDebt.WithLabelValues(asset.Hex()).Add(value)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "paused"
	default:
		return "error"
	}
}
