package bounty

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"daoledger/core/events"
	"daoledger/core/types"
	"daoledger/native/authz"
	"daoledger/native/common"
	"daoledger/native/pool"
)

var (
	taskPrefix        = []byte("bounty/task/")
	taskIndexKey      = []byte("bounty/tasks")
	sequenceKey       = []byte("bounty/sequence")
	openCountKey      = []byte("bounty/open-count")
	contributorPrefix = []byte("bounty/contributor/")
)

func encodeID(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return buf[:]
}

func taskKey(id uint64) []byte {
	return append(append([]byte(nil), taskPrefix...), encodeID(id)...)
}

func contributorKey(addr [20]byte) []byte {
	return append(append([]byte(nil), contributorPrefix...), addr[:]...)
}

const maxSubmissionLength = 512

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte) ([][]byte, error)
}

type pools interface {
	Pool(id pool.ID) (*pool.Pool, error)
	Payout(id pool.ID, recipient [20]byte, amount *uint256.Int, reason string) error
	Vault() [20]byte
}

type balances interface {
	BalanceOf(addr [20]byte) (*uint256.Int, error)
}

// Engine runs the bounty task workflow. Rewards are paid from the task's
// category pool.
type Engine struct {
	state    engineState
	pools    pools
	balances balances
	auth     authz.Port
	pauses   common.PauseView
	emitter  events.Emitter
	nowFn    func() int64
}

// NewEngine creates a bounty engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPools configures the pool ledger rewards are paid from.
func (e *Engine) SetPools(p pools) { e.pools = p }

// SetBalances configures the balance view used to check the reward vault.
func (e *Engine) SetBalances(b balances) { e.balances = b }

// SetAuthorizer configures the capability port.
func (e *Engine) SetAuthorizer(port authz.Port) { e.auth = port }

// SetPauses configures the module pause view.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(types.Envelope{Evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.pools == nil {
		return errNilPools
	}
	return common.Guard(e.pauses, common.ModuleBounty)
}

func (e *Engine) require(capability authz.Capability, caller [20]byte) error {
	if e.auth == nil {
		return fmt.Errorf("%w: no authorizer configured", authz.ErrMissingCapability)
	}
	return e.auth.Require(capability, caller)
}

// TaskParams describes a new task. A zero Deadline means none.
type TaskParams struct {
	Pool       string
	Title      string
	Reward     *uint256.Int
	Difficulty uint8
	Deadline   int64
}

// CreateTask opens a new task against a category pool.
func (e *Engine) CreateTask(caller [20]byte, params TaskParams) (*Task, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.require(authz.CapTaskManager, caller); err != nil {
		return nil, err
	}
	if params.Reward == nil || params.Reward.IsZero() {
		return nil, fmt.Errorf("%w: reward must be positive", ErrInvalidTask)
	}
	if _, err := ReputationPoints(params.Difficulty); err != nil {
		return nil, err
	}
	now := e.now()
	if params.Deadline != 0 && params.Deadline <= now {
		return nil, fmt.Errorf("%w: deadline %d not in the future", ErrInvalidTask, params.Deadline)
	}
	poolID, err := pool.IDFromName(params.Pool)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	p, err := e.pools.Pool(poolID)
	if err != nil {
		return nil, err
	}
	var seq uint64
	if _, err := e.state.KVGet(sequenceKey, &seq); err != nil {
		return nil, err
	}
	seq++
	if err := e.state.KVPut(sequenceKey, seq); err != nil {
		return nil, err
	}
	task := &Task{
		ID:         seq,
		PoolID:     p.ID,
		PoolName:   p.Name,
		Title:      strings.TrimSpace(params.Title),
		Reward:     params.Reward.Clone(),
		Difficulty: params.Difficulty,
		Status:     TaskOpen,
		Creator:    caller,
		Deadline:   params.Deadline,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store(task); err != nil {
		return nil, err
	}
	if err := e.state.KVAppend(taskIndexKey, encodeID(task.ID)); err != nil {
		return nil, err
	}
	if err := e.adjustOpenCount(1); err != nil {
		return nil, err
	}
	e.emit(NewTaskEvent(EventTypeTaskCreated, task, TaskOpen, caller))
	return task.Clone(), nil
}

func (e *Engine) load(id uint64) (*Task, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var stored storedTask
	ok, err := e.state.KVGet(taskKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	return stored.toTask(), nil
}

func (e *Engine) store(t *Task) error {
	if !t.Status.Valid() {
		return fmt.Errorf("bounty: task %d has invalid status %d", t.ID, t.Status)
	}
	if t.Status.HasAssignee() != (t.Assignee != [20]byte{}) {
		return fmt.Errorf("bounty: task %d assignee inconsistent with status %s", t.ID, t.Status)
	}
	return e.state.KVPut(taskKey(t.ID), newStoredTask(t))
}

// transition loads the task and checks that from -> to is permitted.
func (e *Engine) transition(id uint64, to TaskStatus) (*Task, error) {
	t, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(t.Status, to) {
		return nil, fmt.Errorf("%w: task %d %s -> %s", ErrInvalidTransition, id, t.Status, to)
	}
	return t, nil
}

func (e *Engine) commit(t *Task, previous TaskStatus, caller [20]byte, eventType string) (*Task, error) {
	t.UpdatedAt = e.now()
	if err := e.store(t); err != nil {
		return nil, err
	}
	e.emit(NewTaskEvent(eventType, t, previous, caller))
	return t.Clone(), nil
}

// Claim assigns an open task to caller.
func (e *Engine) Claim(caller [20]byte, id uint64) (*Task, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if caller == ([20]byte{}) {
		return nil, fmt.Errorf("%w: caller required", ErrInvalidTask)
	}
	t, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if t.Status != TaskOpen {
		return nil, fmt.Errorf("%w: task %d is %s", ErrInvalidTransition, id, t.Status)
	}
	now := e.now()
	if t.Deadline != 0 && now > t.Deadline {
		return nil, fmt.Errorf("%w: task %d deadline %d", ErrDeadlinePassed, id, t.Deadline)
	}
	t.Status = TaskClaimed
	t.Assignee = caller
	t.ClaimedAt = now
	if err := e.adjustOpenCount(-1); err != nil {
		return nil, err
	}
	return e.commit(t, TaskOpen, caller, EventTypeTaskClaimed)
}

// Unclaim returns a claimed task to the open set. Only the assignee may do so.
func (e *Engine) Unclaim(caller [20]byte, id uint64) (*Task, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	t, err := e.transition(id, TaskOpen)
	if err != nil {
		return nil, err
	}
	if t.Assignee != caller {
		return nil, ErrNotAssignee
	}
	t.Status = TaskOpen
	t.Assignee = [20]byte{}
	t.ClaimedAt = 0
	if err := e.adjustOpenCount(1); err != nil {
		return nil, err
	}
	return e.commit(t, TaskClaimed, caller, EventTypeTaskUnclaimed)
}

// Submit records the assignee's submission reference.
func (e *Engine) Submit(caller [20]byte, id uint64, submissionURL string) (*Task, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	url := strings.TrimSpace(submissionURL)
	if url == "" {
		return nil, ErrEmptySubmission
	}
	if len(url) > maxSubmissionLength {
		return nil, fmt.Errorf("%w: submission longer than %d bytes", ErrInvalidTask, maxSubmissionLength)
	}
	t, err := e.transition(id, TaskSubmitted)
	if err != nil {
		return nil, err
	}
	if t.Assignee != caller {
		return nil, ErrNotAssignee
	}
	t.Status = TaskSubmitted
	t.SubmissionURL = url
	t.SubmittedAt = e.now()
	return e.commit(t, TaskClaimed, caller, EventTypeTaskSubmitted)
}

// Approve pays the reward to the assignee and closes the task.
func (e *Engine) Approve(caller [20]byte, id uint64) (*Task, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.require(authz.CapTaskReviewer, caller); err != nil {
		return nil, err
	}
	t, err := e.transition(id, TaskApproved)
	if err != nil {
		return nil, err
	}
	p, err := e.pools.Pool(t.PoolID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, fmt.Errorf("%w: %s", pool.ErrPoolInactive, p.Name)
	}
	if available := p.Available(); available.Lt(t.Reward) {
		return nil, fmt.Errorf("%w: %s available %s reward %s", ErrInsufficientBudget, p.Name, available.Dec(), t.Reward.Dec())
	}
	if e.balances != nil {
		bal, err := e.balances.BalanceOf(e.pools.Vault())
		if err != nil {
			return nil, err
		}
		if bal.Lt(t.Reward) {
			return nil, fmt.Errorf("%w: vault holds %s reward %s", ErrInsufficientBudget, bal.Dec(), t.Reward.Dec())
		}
	}
	points, err := ReputationPoints(t.Difficulty)
	if err != nil {
		return nil, err
	}
	stats, err := e.ContributorStats(t.Assignee)
	if err != nil {
		return nil, err
	}
	stats.Completed++
	stats.TotalEarned = new(uint256.Int).Add(stats.TotalEarned, t.Reward)
	stats.Reputation += points
	t.Status = TaskApproved
	t.UpdatedAt = e.now()
	if err := e.store(t); err != nil {
		return nil, err
	}
	if err := e.state.KVPut(contributorKey(t.Assignee), &storedStats{
		Completed:   stats.Completed,
		TotalEarned: stats.TotalEarned.Bytes(),
		Reputation:  stats.Reputation,
	}); err != nil {
		return nil, err
	}
	if err := e.pools.Payout(t.PoolID, t.Assignee, t.Reward, "bounty:"+strconv.FormatUint(t.ID, 10)); err != nil {
		return nil, err
	}
	e.emit(NewTaskEvent(EventTypeTaskApproved, t, TaskSubmitted, caller))
	return t.Clone(), nil
}

// Reject sends a submission back with a reason.
func (e *Engine) Reject(caller [20]byte, id uint64, reason string) (*Task, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.require(authz.CapTaskReviewer, caller); err != nil {
		return nil, err
	}
	t, err := e.transition(id, TaskRejected)
	if err != nil {
		return nil, err
	}
	t.Status = TaskRejected
	t.RejectionReason = strings.TrimSpace(reason)
	return e.commit(t, TaskSubmitted, caller, EventTypeTaskRejected)
}

// AllowResubmission reopens a rejected task for its assignee.
func (e *Engine) AllowResubmission(caller [20]byte, id uint64) (*Task, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.require(authz.CapTaskReviewer, caller); err != nil {
		return nil, err
	}
	t, err := e.transition(id, TaskClaimed)
	if err != nil {
		return nil, err
	}
	t.Status = TaskClaimed
	t.SubmissionURL = ""
	t.SubmittedAt = 0
	return e.commit(t, TaskRejected, caller, EventTypeTaskResubmissionAllowed)
}

// Cancel closes an open or claimed task. Cancelling a claimed task clears its
// assignee.
func (e *Engine) Cancel(caller [20]byte, id uint64) (*Task, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.require(authz.CapTaskManager, caller); err != nil {
		return nil, err
	}
	t, err := e.transition(id, TaskCancelled)
	if err != nil {
		return nil, err
	}
	previous := t.Status
	if previous == TaskOpen {
		if err := e.adjustOpenCount(-1); err != nil {
			return nil, err
		}
	}
	t.Status = TaskCancelled
	t.Assignee = [20]byte{}
	return e.commit(t, previous, caller, EventTypeTaskCancelled)
}

// Task returns the task identified by id.
func (e *Engine) Task(id uint64) (*Task, error) {
	return e.load(id)
}

// Tasks lists every task in creation order.
func (e *Engine) Tasks() ([]*Task, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.KVGetList(taskIndexKey)
	if err != nil {
		return nil, err
	}
	out := make([]*Task, 0, len(ids))
	for _, raw := range ids {
		if len(raw) != 8 {
			return nil, fmt.Errorf("bounty: malformed task index entry %x", raw)
		}
		t, err := e.load(binary.BigEndian.Uint64(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// TasksByStatus lists the tasks currently in status.
func (e *Engine) TasksByStatus(status TaskStatus) ([]*Task, error) {
	all, err := e.Tasks()
	if err != nil {
		return nil, err
	}
	out := make([]*Task, 0)
	for _, t := range all {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

// ContributorStats returns the approved-work totals of addr.
func (e *Engine) ContributorStats(addr [20]byte) (*ContributorStats, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var stored storedStats
	ok, err := e.state.KVGet(contributorKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &ContributorStats{TotalEarned: uint256.NewInt(0)}, nil
	}
	return &ContributorStats{
		Completed:   stored.Completed,
		TotalEarned: new(uint256.Int).SetBytes(stored.TotalEarned),
		Reputation:  stored.Reputation,
	}, nil
}

// OpenTaskCount returns the cached number of open tasks.
func (e *Engine) OpenTaskCount() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	var count uint64
	if _, err := e.state.KVGet(openCountKey, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// RecountOpenTasks recomputes the open-task cache from the task set and
// stores the result.
func (e *Engine) RecountOpenTasks() (uint64, error) {
	open, err := e.TasksByStatus(TaskOpen)
	if err != nil {
		return 0, err
	}
	count := uint64(len(open))
	if err := e.state.KVPut(openCountKey, count); err != nil {
		return 0, err
	}
	return count, nil
}

func (e *Engine) adjustOpenCount(delta int) error {
	count, err := e.OpenTaskCount()
	if err != nil {
		return err
	}
	switch {
	case delta > 0:
		count += uint64(delta)
	case uint64(-delta) > count:
		return fmt.Errorf("bounty: open task count underflow")
	default:
		count -= uint64(-delta)
	}
	return e.state.KVPut(openCountKey, count)
}
