package bounty

import (
	"fmt"

	"github.com/holiman/uint256"

	"daoledger/native/pool"
)

// TaskStatus enumerates the bounty lifecycle.
type TaskStatus uint8

const (
	TaskOpen TaskStatus = iota
	TaskClaimed
	TaskSubmitted
	TaskApproved
	TaskRejected
	TaskCancelled
)

var statusNames = map[TaskStatus]string{
	TaskOpen:      "open",
	TaskClaimed:   "claimed",
	TaskSubmitted: "submitted",
	TaskApproved:  "approved",
	TaskRejected:  "rejected",
	TaskCancelled: "cancelled",
}

// Statuses returns every status in declaration order.
func Statuses() []TaskStatus {
	return []TaskStatus{TaskOpen, TaskClaimed, TaskSubmitted, TaskApproved, TaskRejected, TaskCancelled}
}

// String implements fmt.Stringer.
func (s TaskStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Valid reports whether the status value is within the supported range.
func (s TaskStatus) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// ParseStatus resolves a status name.
func ParseStatus(name string) (TaskStatus, error) {
	for status, n := range statusNames {
		if n == name {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown task status %q", name)
}

// HasAssignee reports whether a task in this status carries an assignee.
func (s TaskStatus) HasAssignee() bool {
	switch s {
	case TaskClaimed, TaskSubmitted, TaskApproved, TaskRejected:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition leaves the status.
func (s TaskStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

var transitions = map[TaskStatus][]TaskStatus{
	TaskOpen:      {TaskClaimed, TaskCancelled},
	TaskClaimed:   {TaskOpen, TaskSubmitted, TaskCancelled},
	TaskSubmitted: {TaskApproved, TaskRejected},
	TaskRejected:  {TaskClaimed},
	TaskApproved:  nil,
	TaskCancelled: nil,
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next returns the statuses reachable in one step from s.
func Next(s TaskStatus) []TaskStatus {
	return append([]TaskStatus(nil), transitions[s]...)
}

// reputationByDifficulty maps difficulty tiers 1..5 to reputation points.
var reputationByDifficulty = [...]uint64{1, 3, 5, 10, 20}

const (
	MinDifficulty uint8 = 1
	MaxDifficulty uint8 = uint8(len(reputationByDifficulty))
)

// ReputationPoints returns the points awarded for approving a task of the
// given difficulty.
func ReputationPoints(difficulty uint8) (uint64, error) {
	if difficulty < MinDifficulty || difficulty > MaxDifficulty {
		return 0, fmt.Errorf("%w: %d", ErrInvalidDifficulty, difficulty)
	}
	return reputationByDifficulty[difficulty-1], nil
}

// Task is one bounty unit of work.
type Task struct {
	ID              uint64
	PoolID          pool.ID
	PoolName        string
	Title           string
	Reward          *uint256.Int
	Difficulty      uint8
	Status          TaskStatus
	Creator         [20]byte
	Assignee        [20]byte
	Deadline        int64
	SubmissionURL   string
	RejectionReason string
	CreatedAt       int64
	ClaimedAt       int64
	SubmittedAt     int64
	UpdatedAt       int64
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Reward = cloneAmount(t.Reward)
	return &clone
}

// ContributorStats aggregates an assignee's approved work.
type ContributorStats struct {
	Completed   uint64
	TotalEarned *uint256.Int
	Reputation  uint64
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v.Clone()
}

type storedTask struct {
	ID              uint64
	PoolID          [32]byte
	PoolName        string
	Title           string
	Reward          []byte
	Difficulty      uint8
	Status          uint8
	Creator         [20]byte
	Assignee        [20]byte
	Deadline        uint64
	SubmissionURL   string
	RejectionReason string
	CreatedAt       uint64
	ClaimedAt       uint64
	SubmittedAt     uint64
	UpdatedAt       uint64
}

func newStoredTask(t *Task) *storedTask {
	return &storedTask{
		ID:              t.ID,
		PoolID:          t.PoolID,
		PoolName:        t.PoolName,
		Title:           t.Title,
		Reward:          cloneAmount(t.Reward).Bytes(),
		Difficulty:      t.Difficulty,
		Status:          uint8(t.Status),
		Creator:         t.Creator,
		Assignee:        t.Assignee,
		Deadline:        uint64(t.Deadline),
		SubmissionURL:   t.SubmissionURL,
		RejectionReason: t.RejectionReason,
		CreatedAt:       uint64(t.CreatedAt),
		ClaimedAt:       uint64(t.ClaimedAt),
		SubmittedAt:     uint64(t.SubmittedAt),
		UpdatedAt:       uint64(t.UpdatedAt),
	}
}

func (s *storedTask) toTask() *Task {
	return &Task{
		ID:              s.ID,
		PoolID:          pool.ID(s.PoolID),
		PoolName:        s.PoolName,
		Title:           s.Title,
		Reward:          new(uint256.Int).SetBytes(s.Reward),
		Difficulty:      s.Difficulty,
		Status:          TaskStatus(s.Status),
		Creator:         s.Creator,
		Assignee:        s.Assignee,
		Deadline:        int64(s.Deadline),
		SubmissionURL:   s.SubmissionURL,
		RejectionReason: s.RejectionReason,
		CreatedAt:       int64(s.CreatedAt),
		ClaimedAt:       int64(s.ClaimedAt),
		SubmittedAt:     int64(s.SubmittedAt),
		UpdatedAt:       int64(s.UpdatedAt),
	}
}

type storedStats struct {
	Completed   uint64
	TotalEarned []byte
	Reputation  uint64
}
