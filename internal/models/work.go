package models

// WorkUnitKind tags a work unit as a push of a local change to the server or
// a pull of a remote change into the local tree.
type WorkUnitKind string

const (
	PushLocalChange  WorkUnitKind = "push_local_change"
	PullRemoteChange WorkUnitKind = "pull_remote_change"
)

// WorkUnit is one atomic pending change identified while diffing the local
// tree against a server snapshot. Units are produced fresh per calculation
// and never persisted.
type WorkUnit struct {
	Kind WorkUnitKind
	Meta FileMetadata

	// DuplicateOf names the file whose losing conflict edit this unit
	// preserves: the executor materializes Meta as a new sibling carrying
	// that file's local content before pushing it.
	DuplicateOf string
}

// WorkCalculated is the ordered result of one diff pass plus the server
// cursor it consumed. Units are ordered parent-before-child so an executor
// never references a not-yet-materialized parent.
type WorkCalculated struct {
	Units                      []WorkUnit
	MostRecentUpdateFromServer int64
}

// UnitFailure records one work unit that was rejected or skipped during
// execution. The remaining queue is unaffected unless the failure was a
// connectivity error.
type UnitFailure struct {
	ID   string
	Kind WorkUnitKind
	Err  string
}

// SyncReport summarizes one execution pass: which units committed, which
// failed and were left for the next calculation, and how many were never
// attempted because the pass aborted.
type SyncReport struct {
	Applied    []string
	Failed     []UnitFailure
	NotRun     int
	Pruned     int
	ServerTime int64
}
