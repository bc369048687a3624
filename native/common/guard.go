// Package common holds cross-module helpers shared by native modules.
package common

import (
	"errors"
	"fmt"
	"strings"
)

// ErrModulePaused is returned by Guard when the operator has halted a module.
var ErrModulePaused = errors.New("module paused")

// PauseView reports the operator pause switch for a module name.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects work for a paused module. A nil view never pauses.
func Guard(p PauseView, module string) error {
	module = strings.TrimSpace(module)
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}
