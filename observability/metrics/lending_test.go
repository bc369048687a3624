package metrics

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	nativecommon "lendledger/native/common"
)

func TestLendingMetricsCountOutcomes(t *testing.T) {
	m := Lending()
	require.Same(t, m, Lending())

	before := testutil.ToFloat64(m.actions.WithLabelValues("supply", "success"))
	m.ObserveAction("supply", nil)
	require.Equal(t, before+1, testutil.ToFloat64(m.actions.WithLabelValues("supply", "success")))

	paused := testutil.ToFloat64(m.actions.WithLabelValues("borrow", "paused"))
	m.ObserveAction("borrow", fmt.Errorf("borrow: %w", nativecommon.ErrModulePaused))
	require.Equal(t, paused+1, testutil.ToFloat64(m.actions.WithLabelValues("borrow", "paused")))

	failed := testutil.ToFloat64(m.actions.WithLabelValues("borrow", "error"))
	m.ObserveAction("borrow", errors.New("boom"))
	require.Equal(t, failed+1, testutil.ToFloat64(m.actions.WithLabelValues("borrow", "error")))
}

func TestLendingMetricsBadDebt(t *testing.T) {
	m := Lending()
	asset := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	before := testutil.ToFloat64(m.badDebt.WithLabelValues(asset.Hex()))

	m.ObserveBadDebt(asset, big.NewInt(0))
	m.ObserveBadDebt(asset, nil)
	require.Equal(t, before, testutil.ToFloat64(m.badDebt.WithLabelValues(asset.Hex())))

	m.ObserveBadDebt(asset, big.NewInt(2500))
	require.Equal(t, before+2500, testutil.ToFloat64(m.badDebt.WithLabelValues(asset.Hex())))
}

func TestNilLendingMetricsIsSafe(t *testing.T) {
	var m *LendingMetrics
	m.ObserveAction("supply", nil)
	m.ObserveLiquidation("fungible", common.Address{})
	m.ObserveAuctionStarted(common.Address{})
	m.ObserveBadDebt(common.Address{}, big.NewInt(1))
}
