package engine

type Stage int32

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is creating its device objects
	EngineStageInitializing
	// Engine accepts Compute and Draw calls
	EngineStageReady
	// Engine is waiting for the device and releasing its objects
	EngineStageTerminating
	// Every object was released
	EngineStageDestroyed
)

func (s Stage) String() string {
	switch s {
	case EngineStageUninitialized:
		return "uninitialized"
	case EngineStageInitializing:
		return "initializing"
	case EngineStageReady:
		return "ready"
	case EngineStageTerminating:
		return "terminating"
	case EngineStageDestroyed:
		return "destroyed"
	}
	return "unknown"
}
