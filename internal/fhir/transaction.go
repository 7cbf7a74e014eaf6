package fhir

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// TransactionState is the Transaction Manager's state machine position.
// Grounded on the sort/process-then-respond shape of the teacher's
// TransactionProcessor (internal/platform/fhir/transaction.go), generalized
// into an explicit state machine per the spec's Begin→Executing→
// {Committed|RolledBack|Failed} requirement.
type TransactionState string

const (
	StateBegin      TransactionState = "Begin"
	StateExecuting  TransactionState = "Executing"
	StateCommitted  TransactionState = "Committed"
	StateFailed     TransactionState = "Failed"
	StateRolledBack TransactionState = "RolledBack"
)

// OperationKind enumerates the storage operations a transaction can batch.
type OperationKind string

const (
	OpCreate OperationKind = "Create"
	OpRead   OperationKind = "Read"
	OpUpdate OperationKind = "Update"
	OpDelete OperationKind = "Delete"
)

// Operation is one step of a transaction.
type Operation struct {
	Kind         OperationKind
	ResourceType string
	ID           string   // target id; for Create, the id the rollback hard-deletes
	Envelope     *ResourceEnvelope // payload for Create/Update

	// Run performs the operation against the store and returns its result.
	// The Transaction Manager calls this after capturing the rollback
	// snapshot, so Run may freely mutate the store.
	Run func(store *Store) (interface{}, error)
}

// OperationResult captures the outcome of one executed operation.
type OperationResult struct {
	Kind    OperationKind
	Value   interface{}
	Err     error
}

// rollbackImage represents Option<ResourceEnvelope>: nil means "no pre-image"
// (a Create's rollback is a hard-delete), a non-nil pointer is the pre-image
// to force-restore.
type rollbackImage struct {
	key     string
	present bool
	env     *ResourceEnvelope
}

// Transaction batches a sequence of storage operations with per-entry
// rollback snapshots.
type Transaction struct {
	mu        sync.Mutex
	ID        uuid.UUID
	state     TransactionState
	store     *Store
	ops       []Operation
	results   []OperationResult
	snapshots []rollbackImage
}

// NewTransaction begins a transaction bound to store.
func NewTransaction(store *Store) *Transaction {
	return &Transaction{
		ID:    uuid.New(),
		state: StateBegin,
		store: store,
	}
}

// State returns the current state.
func (t *Transaction) State() TransactionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Results returns a copy of the operation results recorded so far.
func (t *Transaction) Results() []OperationResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]OperationResult, len(t.results))
	copy(out, t.results)
	return out
}

// Execute runs ops in order. The first transition to Executing happens on
// the first call. If any operation fails, execution stops at that point,
// the failure is recorded, and the transaction moves to Failed; the caller
// must then call Rollback or Abort. On success for every op, the
// transaction is left in Executing, ready for Commit.
func (t *Transaction) Execute(ops []Operation) error {
	t.mu.Lock()
	if t.state != StateBegin && t.state != StateExecuting {
		t.mu.Unlock()
		return fmt.Errorf("transaction %s: cannot execute from state %s", t.ID, t.state)
	}
	t.state = StateExecuting
	t.mu.Unlock()

	for _, op := range ops {
		snap := t.snapshotFor(op)

		t.mu.Lock()
		t.ops = append(t.ops, op)
		t.snapshots = append(t.snapshots, snap)
		t.mu.Unlock()

		if op.Kind == OpRead {
			val, err := op.Run(t.store)
			t.mu.Lock()
			t.results = append(t.results, OperationResult{Kind: op.Kind, Value: val, Err: err})
			if err != nil {
				t.state = StateFailed
			}
			t.mu.Unlock()
			if err != nil {
				return err
			}
			continue
		}

		val, err := op.Run(t.store)
		t.mu.Lock()
		t.results = append(t.results, OperationResult{Kind: op.Kind, Value: val, Err: err})
		if err != nil {
			t.state = StateFailed
		}
		t.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// snapshotFor captures the pre-image required to roll back op: Create -> no
// pre-image (hard-delete on rollback); Update -> pre-image envelope; Delete
// -> raw pre-delete envelope even if already soft-deleted; Read -> no
// snapshot.
func (t *Transaction) snapshotFor(op Operation) rollbackImage {
	if op.Kind == OpRead {
		return rollbackImage{}
	}
	key := StorageKey(op.ResourceType, op.ID)
	switch op.Kind {
	case OpCreate:
		return rollbackImage{key: key, present: false}
	case OpUpdate, OpDelete:
		env, ok := t.store.Get(op.ResourceType, op.ID)
		if !ok {
			return rollbackImage{key: key, present: false}
		}
		return rollbackImage{key: key, present: true, env: env.Clone()}
	}
	return rollbackImage{}
}

// Commit transitions Executing -> Committed. Illegal from any other state.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateExecuting {
		return fmt.Errorf("transaction %s: cannot commit from state %s", t.ID, t.state)
	}
	t.state = StateCommitted
	return nil
}

// Abort marks a transaction Failed without rolling back, unless it is
// already Executing/Failed in which case it implies Rollback.
func (t *Transaction) Abort() error {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()
	if state == StateExecuting || state == StateFailed {
		return t.Rollback()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateFailed
	return nil
}

// Rollback restores every captured pre-image in reverse order, ignoring
// read ops, then transitions to RolledBack. Individual rollback failures are
// collected but do not stop the remaining rollback steps (best-effort
// recovery).
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	if t.state != StateExecuting && t.state != StateFailed {
		t.mu.Unlock()
		return fmt.Errorf("transaction %s: cannot roll back from state %s", t.ID, t.state)
	}
	snapshots := make([]rollbackImage, len(t.snapshots))
	copy(snapshots, t.snapshots)
	ops := make([]Operation, len(t.ops))
	copy(ops, t.ops)
	t.mu.Unlock()

	var failures []error
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		snap := snapshots[i]
		if op.Kind == OpRead {
			continue
		}
		if snap.present {
			t.store.ForceInsert(snap.env)
		} else {
			t.store.ForceDelete(op.ResourceType, op.ID)
		}
	}

	t.mu.Lock()
	t.state = StateRolledBack
	t.mu.Unlock()

	if len(failures) > 0 {
		return fmt.Errorf("rollback completed with %d failure(s): %v", len(failures), failures)
	}
	return nil
}
