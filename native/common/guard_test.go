package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type pauseSet map[string]bool

func (p pauseSet) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	require.NoError(t, Guard(nil, "lending"))
	require.NoError(t, Guard(pauseSet{"lending": true}, ""))
	require.NoError(t, Guard(pauseSet{"swap": true}, "lending"))

	err := Guard(pauseSet{"lending": true}, " lending ")
	require.True(t, errors.Is(err, ErrModulePaused))
	require.Contains(t, err.Error(), "lending")
}
