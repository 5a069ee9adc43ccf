package syncer

import (
	"github.com/roach88/treesync/internal/model"
)

// Mode selects how a controller talks to the store. Fixed at construction.
type Mode int

const (
	// ModeContinuous subscribes and syncs both ways.
	ModeContinuous Mode = iota
	// ModeOnce performs explicit one-shot reads and writes only.
	ModeOnce
)

// DefaultAutoSync is used when neither the caller nor the kind chooses.
const DefaultAutoSync = true

func (m Mode) String() string {
	switch m {
	case ModeContinuous:
		return "continuous"
	case ModeOnce:
		return "once"
	default:
		return "unknown"
	}
}

// ResolveMode picks the mode from an explicit autoSync choice, then the
// kind's declared default, then DefaultAutoSync.
func ResolveMode(explicit *bool, k *model.Kind) Mode {
	auto := DefaultAutoSync
	switch {
	case explicit != nil:
		auto = *explicit
	case k != nil && k.AutoSync != nil:
		auto = *k.AutoSync
	}
	if auto {
		return ModeContinuous
	}
	return ModeOnce
}
