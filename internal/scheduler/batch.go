package scheduler

import (
	"time"

	"github.com/siftengine/sift/internal/tasks"
)

// Action identifies the kind of work a Batch carries out, one level up
// from tasks.Kind: several document-mutating kinds collapse into a single
// ActionDocumentOperation because the autobatch rule groups them together.
type Action string

const (
	ActionDocumentOperation     Action = "documentOperation"
	ActionIndexCreation         Action = "indexCreation"
	ActionIndexUpdate           Action = "indexUpdate"
	ActionIndexDeletion         Action = "indexDeletion"
	ActionIndexSwap             Action = "indexSwap"
	ActionTaskCancelation       Action = "taskCancelation"
	ActionTaskDeletion          Action = "taskDeletion"
	ActionDumpCreation          Action = "dumpCreation"
	ActionSnapshotCreation      Action = "snapshotCreation"
	ActionUpgradeDatabase       Action = "upgradeDatabase"
	ActionNetworkTopologyChange Action = "networkTopologyChange"
)

// Batch is the unit the processing loop commits to "processing" and
// executes as one write transaction's worth of work. Every Task in
// TaskUIDs shares Action and, for index-scoped actions, IndexUID.
type Batch struct {
	UID        uint64
	TaskUIDs   []uint64
	IndexUID   string
	Action     Action
	Status     tasks.Status
	EnqueuedAt time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Details    tasks.Details
}

// actionForKind maps a task kind to the batch action it contributes to.
func actionForKind(k tasks.Kind) Action {
	switch k {
	case tasks.KindDocumentAdditionOrUpdate, tasks.KindDocumentDeletion,
		tasks.KindDocumentDeletionByFilter, tasks.KindDocumentClear, tasks.KindSettingsUpdate:
		return ActionDocumentOperation
	case tasks.KindIndexCreation:
		return ActionIndexCreation
	case tasks.KindIndexUpdate:
		return ActionIndexUpdate
	case tasks.KindIndexDeletion:
		return ActionIndexDeletion
	case tasks.KindIndexSwap:
		return ActionIndexSwap
	case tasks.KindTaskCancelation:
		return ActionTaskCancelation
	case tasks.KindTaskDeletion:
		return ActionTaskDeletion
	case tasks.KindDumpCreation:
		return ActionDumpCreation
	case tasks.KindSnapshotCreation:
		return ActionSnapshotCreation
	case tasks.KindUpgradeDatabase:
		return ActionUpgradeDatabase
	case tasks.KindNetworkTopologyChange:
		return ActionNetworkTopologyChange
	default:
		return ActionDocumentOperation
	}
}

// isSingleton reports whether k always forms a batch of exactly one task,
// regardless of autobatching: index lifecycle changes, task management,
// and whole-instance operations never share a batch with anything else.
func isSingleton(k tasks.Kind) bool {
	switch k {
	case tasks.KindIndexCreation, tasks.KindIndexUpdate, tasks.KindIndexDeletion, tasks.KindIndexSwap,
		tasks.KindDumpCreation, tasks.KindSnapshotCreation,
		tasks.KindTaskCancelation, tasks.KindTaskDeletion, tasks.KindUpgradeDatabase,
		tasks.KindNetworkTopologyChange:
		return true
	default:
		return false
	}
}

// isDocumentCompatible reports whether k is one of the document/settings
// kinds the autobatch rule groups together on a shared index.
func isDocumentCompatible(k tasks.Kind) bool {
	switch k {
	case tasks.KindDocumentAdditionOrUpdate, tasks.KindDocumentDeletion,
		tasks.KindDocumentDeletionByFilter, tasks.KindDocumentClear, tasks.KindSettingsUpdate:
		return true
	default:
		return false
	}
}

// selectBatch applies the autobatch rule to enqueued, oldest-first tasks:
// the first task always joins the batch; later tasks join only while they
// are document-compatible, target the same index, and autobatching is
// enabled. A singleton-kind first task always yields a batch of one.
func selectBatch(enqueued []tasks.Task, autobatch bool) []tasks.Task {
	if len(enqueued) == 0 {
		return nil
	}
	first := enqueued[0]
	if !autobatch || isSingleton(first.Kind) {
		return enqueued[:1]
	}

	batch := []tasks.Task{first}
	for _, t := range enqueued[1:] {
		if !isDocumentCompatible(t.Kind) || t.IndexUID != first.IndexUID {
			break
		}
		batch = append(batch, t)
	}
	return batch
}
