package bounty

import (
	"encoding/hex"
	"strconv"

	"daoledger/core/types"
)

const (
	EventTypeTaskCreated             = "bounty.task.created"
	EventTypeTaskClaimed             = "bounty.task.claimed"
	EventTypeTaskUnclaimed           = "bounty.task.unclaimed"
	EventTypeTaskSubmitted           = "bounty.task.submitted"
	EventTypeTaskApproved            = "bounty.task.approved"
	EventTypeTaskRejected            = "bounty.task.rejected"
	EventTypeTaskResubmissionAllowed = "bounty.task.resubmission_allowed"
	EventTypeTaskCancelled           = "bounty.task.cancelled"
)

// NewTaskEvent returns the payload describing a task after a transition.
// previous is the status the task left; caller is the identity that acted.
func NewTaskEvent(eventType string, t *Task, previous TaskStatus, caller [20]byte) *types.Event {
	attrs := map[string]string{
		"id":         strconv.FormatUint(t.ID, 10),
		"pool":       t.PoolName,
		"reward":     cloneAmount(t.Reward).Dec(),
		"difficulty": strconv.FormatUint(uint64(t.Difficulty), 10),
		"status":     t.Status.String(),
		"from":       previous.String(),
		"creator":    hex.EncodeToString(t.Creator[:]),
		"caller":     hex.EncodeToString(caller[:]),
	}
	if t.Status.HasAssignee() {
		attrs["assignee"] = hex.EncodeToString(t.Assignee[:])
	}
	if t.Deadline != 0 {
		attrs["deadline"] = strconv.FormatInt(t.Deadline, 10)
	}
	if t.SubmissionURL != "" {
		attrs["submission"] = t.SubmissionURL
	}
	if t.Status == TaskRejected && t.RejectionReason != "" {
		attrs["reason"] = t.RejectionReason
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
