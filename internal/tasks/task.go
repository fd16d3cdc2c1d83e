// Package tasks implements the durable task queue described in spec.md
// §3/§4.5: the Task/Batch data model, the append-only log, and the
// secondary bitmap indexes the scheduler (internal/scheduler) and the
// task-list API query against.
package tasks

import "time"

// Status is a task's position in its lifecycle. A task moves from
// enqueued to processing and then to succeeded, failed or canceled, or is
// canceled straight from enqueued; it never leaves a terminal state.
type Status string

const (
	StatusEnqueued   Status = "enqueued"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether s is one a task never transitions out of.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Kind identifies the operation a task carries out. The scheduler's
// autobatch rule (internal/scheduler) groups tasks by Kind compatibility.
type Kind string

const (
	KindDocumentAdditionOrUpdate Kind = "documentAdditionOrUpdate"
	KindDocumentDeletion         Kind = "documentDeletion"
	KindDocumentDeletionByFilter Kind = "documentDeletionByFilter"
	KindDocumentClear            Kind = "documentClear"
	KindIndexCreation            Kind = "indexCreation"
	KindIndexUpdate              Kind = "indexUpdate"
	KindIndexDeletion            Kind = "indexDeletion"
	KindIndexSwap                Kind = "indexSwap"
	KindSettingsUpdate           Kind = "settingsUpdate"
	KindDumpCreation             Kind = "dumpCreation"
	KindSnapshotCreation         Kind = "snapshotCreation"
	KindTaskCancelation          Kind = "taskCancelation"
	KindTaskDeletion             Kind = "taskDeletion"
	KindUpgradeDatabase          Kind = "upgradeDatabase"
	KindNetworkTopologyChange    Kind = "networkTopologyChange"
)

// Error is the terminal failure reason recorded on a failed task. It
// mirrors errors.SiftError's wire shape so the HTTP layer can surface it
// verbatim without re-deriving category/severity.
type Error struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Retryable bool              `json:"retryable"`
}

// Details carries kind-specific counters and parameters. Only the fields
// relevant to a task's Kind are populated; the rest stay at zero value.
type Details struct {
	ReceivedDocuments int64      `json:"receivedDocuments,omitempty"`
	IndexedDocuments  int64      `json:"indexedDocuments,omitempty"`
	DeletedDocuments  int64      `json:"deletedDocuments,omitempty"`
	MatchedDocuments  int64      `json:"matchedDocuments,omitempty"`
	CanceledTasks     int64      `json:"canceledTasks,omitempty"`
	DeletedTasks      int64      `json:"deletedTasks,omitempty"`
	OriginalFilter    string     `json:"originalFilter,omitempty"`
	PrimaryKey        string     `json:"primaryKey,omitempty"`
	ProvidedIDs       int64      `json:"providedIds,omitempty"`
	SwapIndexes       []SwapPair `json:"swaps,omitempty"`
	DumpUID           string     `json:"dumpUid,omitempty"`
	UpgradeFrom       string     `json:"upgradeFrom,omitempty"`
	UpgradeTo         string     `json:"upgradeTo,omitempty"`

	// NetworkVersion and RemoteMoved are populated by networkTopologyChange
	// tasks: the topology version the rebalance ran under, and per-remote
	// exported document counts keyed by remote name.
	NetworkVersion int64            `json:"networkVersion,omitempty"`
	RemoteMoved    map[string]int64 `json:"remoteMoved,omitempty"`
}

// SwapPair names the two index uids exchanged by an indexSwap task.
type SwapPair struct {
	IndexA string `json:"indexes.0"`
	IndexB string `json:"indexes.1"`
}

// Task is a single unit of asynchronous work. The queue (Queue) mints
// UID on Register and owns every field mutation thereafter.
type Task struct {
	UID      uint64 `json:"uid"`
	Status   Status `json:"status"`
	Kind     Kind   `json:"type"`
	IndexUID string `json:"indexUid,omitempty"`

	// ContentFile is the uuid naming the task's update-file payload (see
	// scheduler.UpdateFileStore). Empty when the task carries no payload.
	ContentFile string `json:"-"`

	CanceledBy *uint64 `json:"canceledBy,omitempty"`
	BatchUID   *uint64 `json:"batchUid,omitempty"`

	Details Details `json:"details"`
	Error   *Error  `json:"error,omitempty"`

	EnqueuedAt time.Time  `json:"enqueuedAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// IsCrossIndex reports whether the task's Kind targets no single index
// (task management and whole-instance operations).
func (t Task) IsCrossIndex() bool {
	switch t.Kind {
	case KindTaskCancelation, KindTaskDeletion, KindDumpCreation, KindSnapshotCreation,
		KindIndexSwap, KindUpgradeDatabase, KindNetworkTopologyChange:
		return true
	default:
		return false
	}
}
