package phase

import (
	"github.com/titan-scanner/core/internal/config"
	"github.com/titan-scanner/core/internal/detection"
	"github.com/titan-scanner/core/internal/router"
)

// Gates reads the global arm/circuit-breaker/ghost-mode switches from a
// config.Registry, giving both the detection engine and the execution
// router a live view of the same three booleans without either owning the
// registry directly.
type Gates struct {
	registry *config.Registry
}

// NewGates wraps registry as both a detection.GateSource and a source of
// router.Gates snapshots.
func NewGates(registry *config.Registry) *Gates {
	return &Gates{registry: registry}
}

func (g *Gates) flag(key string) bool {
	item, ok := g.registry.Get(key)
	if !ok {
		return false
	}
	b, _ := item.Value.(bool)
	return b
}

// Gates implements detection.GateSource.
func (g *Gates) Gates() detection.Gates {
	return detection.Gates{
		MasterArmDisabled: g.flag("master_arm_disabled"),
		CircuitBreaker:    g.flag("circuit_breaker"),
		GhostMode:         g.flag("ghost_mode"),
	}
}

// RouterGates returns the subset of gates the execution router checks.
func (g *Gates) RouterGates() router.Gates {
	return router.Gates{
		MasterArmDisabled: g.flag("master_arm_disabled"),
		CircuitBreaker:    g.flag("circuit_breaker"),
	}
}
