package common

const (
	ComponentSink        = "sink"
	ComponentAccumulator = "accumulator"
	ComponentWorkerPool  = "worker-pool"
	ComponentStore       = "store"
	ComponentSlotTracker = "slot-tracker"
	ComponentMigrations  = "migrations"
	ComponentReplay      = "replay"
)

var AllComponents = map[string]struct{}{
	ComponentSink:        {},
	ComponentAccumulator: {},
	ComponentWorkerPool:  {},
	ComponentStore:       {},
	ComponentSlotTracker: {},
	ComponentMigrations:  {},
	ComponentReplay:      {},
}
