// Package journal stores the history of completed grid trades
package journal

import (
	"fmt"

	"grid_trader/internal/config"
	"grid_trader/internal/core"
)

// New opens the journal selected by configuration
func New(cfg config.JournalConfig) (core.IJournal, error) {
	switch cfg.Driver {
	case config.JournalMemory, "":
		return NewMemoryJournal(defaultMemoryCapacity), nil
	case config.JournalSQLite:
		return NewSQLiteJournal(cfg.Path)
	}
	return nil, fmt.Errorf("unsupported journal driver: %s", cfg.Driver)
}
