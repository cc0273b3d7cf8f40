package gateway

import (
	"encoding/hex"

	"github.com/holiman/uint256"

	"daoledger/native/bounty"
	"daoledger/native/pool"
	"daoledger/native/training"
	"daoledger/native/vesting"
)

type scheduleView struct {
	ID          string `json:"id"`
	Beneficiary string `json:"beneficiary"`
	Category    string `json:"category,omitempty"`
	Total       string `json:"total"`
	Released    string `json:"released"`
	Vested      string `json:"vested"`
	Releasable  string `json:"releasable"`
	Start       int64  `json:"start"`
	CliffEnd    int64  `json:"cliffEnd"`
	End         int64  `json:"end"`
	Revocable   bool   `json:"revocable"`
	Revoked     bool   `json:"revoked"`
	RevokedAt   int64  `json:"revokedAt,omitempty"`
}

type summaryView struct {
	Beneficiary string         `json:"beneficiary"`
	Schedules   int            `json:"schedules"`
	Active      int            `json:"active"`
	Total       string         `json:"total"`
	Vested      string         `json:"vested"`
	Released    string         `json:"released"`
	Releasable  string         `json:"releasable"`
	Items       []scheduleView `json:"items"`
}

type poolView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Limit       string `json:"limit"`
	Allocated   string `json:"allocated"`
	Distributed string `json:"distributed"`
	Reserved    string `json:"reserved"`
	Available   string `json:"available"`
	Capped      bool   `json:"capped"`
	Active      bool   `json:"active"`
	UpdatedAt   int64  `json:"updatedAt"`
}

type campaignView struct {
	ID        string   `json:"id"`
	Pool      poolView `json:"pool"`
	Reward    string   `json:"reward"`
	Budget    string   `json:"budget"`
	Active    bool     `json:"active"`
	Creator   string   `json:"creator"`
	CreatedAt int64    `json:"createdAt"`
}

type completionView struct {
	Learner   string `json:"learner"`
	Campaign  string `json:"campaign"`
	Reward    string `json:"reward"`
	Mode      string `json:"mode"`
	Authority string `json:"authority"`
	Digest    string `json:"digest,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type learnerView struct {
	Learner     string `json:"learner"`
	Completions uint64 `json:"completions"`
	TotalEarned string `json:"totalEarned"`
}

type taskView struct {
	ID              uint64 `json:"id"`
	Pool            string `json:"pool"`
	Title           string `json:"title"`
	Reward          string `json:"reward"`
	Difficulty      uint8  `json:"difficulty"`
	Status          string `json:"status"`
	Creator         string `json:"creator"`
	Assignee        string `json:"assignee,omitempty"`
	Deadline        int64  `json:"deadline,omitempty"`
	SubmissionURL   string `json:"submissionUrl,omitempty"`
	RejectionReason string `json:"rejectionReason,omitempty"`
	CreatedAt       int64  `json:"createdAt"`
	UpdatedAt       int64  `json:"updatedAt"`
}

type contributorView struct {
	Contributor string `json:"contributor"`
	Completed   uint64 `json:"completed"`
	TotalEarned string `json:"totalEarned"`
	Reputation  uint64 `json:"reputation"`
}

func newScheduleView(s *vesting.Schedule, now int64) scheduleView {
	return scheduleView{
		ID:          s.IDHex(),
		Beneficiary: addressHex(s.Beneficiary),
		Category:    s.Category,
		Total:       amount(s.Total),
		Released:    amount(s.Released),
		Vested:      amount(vesting.VestedAmount(s, now)),
		Releasable:  amount(vesting.ReleasableAmount(s, now)),
		Start:       s.Start,
		CliffEnd:    s.CliffEnd(),
		End:         s.End(),
		Revocable:   s.Revocable,
		Revoked:     s.Revoked,
		RevokedAt:   s.RevokedAt,
	}
}

func newSummaryView(sum *vesting.Summary, schedules []*vesting.Schedule, now int64) summaryView {
	view := summaryView{
		Beneficiary: addressHex(sum.Beneficiary),
		Schedules:   sum.Schedules,
		Active:      sum.Active,
		Total:       amount(sum.Total),
		Vested:      amount(sum.Vested),
		Released:    amount(sum.Released),
		Releasable:  amount(sum.Releasable),
		Items:       make([]scheduleView, 0, len(schedules)),
	}
	for _, s := range schedules {
		view.Items = append(view.Items, newScheduleView(s, now))
	}
	return view
}

func newPoolView(p *pool.Pool) poolView {
	return poolView{
		ID:          p.ID.Hex(),
		Name:        p.Name,
		Limit:       amount(p.Limit),
		Allocated:   amount(p.Allocated),
		Distributed: amount(p.Distributed),
		Reserved:    amount(p.Reserved),
		Available:   amount(p.Available()),
		Capped:      p.Capped(),
		Active:      p.Active,
		UpdatedAt:   p.UpdatedAt,
	}
}

func newCampaignView(c *training.Campaign, p *pool.Pool) campaignView {
	view := campaignView{
		ID:        c.ID,
		Reward:    amount(c.Reward),
		Budget:    amount(c.Budget),
		Active:    c.Active,
		Creator:   addressHex(c.Creator),
		CreatedAt: c.CreatedAt,
	}
	if p != nil {
		view.Pool = newPoolView(p)
	} else {
		view.Pool = poolView{ID: c.PoolID.Hex(), Name: c.PoolName}
	}
	return view
}

func newCompletionView(r *training.CompletionRecord) completionView {
	view := completionView{
		Learner:   addressHex(r.Learner),
		Campaign:  r.CampaignID,
		Reward:    amount(r.Reward),
		Mode:      r.Mode,
		Authority: addressHex(r.Authority),
		Timestamp: r.Timestamp,
	}
	if r.Digest != ([32]byte{}) {
		view.Digest = "0x" + hex.EncodeToString(r.Digest[:])
	}
	return view
}

func newTaskView(t *bounty.Task) taskView {
	view := taskView{
		ID:              t.ID,
		Pool:            t.PoolName,
		Title:           t.Title,
		Reward:          amount(t.Reward),
		Difficulty:      t.Difficulty,
		Status:          t.Status.String(),
		Creator:         addressHex(t.Creator),
		Deadline:        t.Deadline,
		SubmissionURL:   t.SubmissionURL,
		RejectionReason: t.RejectionReason,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
	if t.Assignee != ([20]byte{}) {
		view.Assignee = addressHex(t.Assignee)
	}
	return view
}

func addressHex(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func amount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
