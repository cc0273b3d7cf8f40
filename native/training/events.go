package training

import (
	"encoding/hex"
	"strconv"

	"daoledger/core/types"
)

const (
	EventTypeCampaignCreated       = "training.campaign.created"
	EventTypeCampaignStatusUpdated = "training.campaign.status_updated"
	EventTypeCompletionGranted     = "training.completion.granted"
)

func campaignAttributes(c *Campaign) map[string]string {
	attrs := make(map[string]string)
	if c == nil {
		return attrs
	}
	attrs["campaign"] = c.ID
	attrs["pool"] = c.PoolName
	attrs["reward"] = cloneAmount(c.Reward).Dec()
	attrs["budget"] = cloneAmount(c.Budget).Dec()
	attrs["active"] = strconv.FormatBool(c.Active)
	return attrs
}

// NewCampaignCreatedEvent returns the payload for a new campaign.
func NewCampaignCreatedEvent(c *Campaign) *types.Event {
	attrs := campaignAttributes(c)
	attrs["creator"] = hex.EncodeToString(c.Creator[:])
	return &types.Event{Type: EventTypeCampaignCreated, Attributes: attrs}
}

// NewCampaignStatusEvent returns the payload for an activation change.
func NewCampaignStatusEvent(c *Campaign, caller [20]byte) *types.Event {
	attrs := campaignAttributes(c)
	attrs["caller"] = hex.EncodeToString(caller[:])
	return &types.Event{Type: EventTypeCampaignStatusUpdated, Attributes: attrs}
}

// NewCompletionGrantedEvent returns the payload for a rewarded completion.
func NewCompletionGrantedEvent(r *CompletionRecord) *types.Event {
	attrs := map[string]string{
		"campaign":  r.CampaignID,
		"learner":   hex.EncodeToString(r.Learner[:]),
		"reward":    cloneAmount(r.Reward).Dec(),
		"mode":      r.Mode,
		"authority": hex.EncodeToString(r.Authority[:]),
		"timestamp": strconv.FormatInt(r.Timestamp, 10),
	}
	if r.Digest != ([32]byte{}) {
		attrs["digest"] = hex.EncodeToString(r.Digest[:])
	}
	return &types.Event{Type: EventTypeCompletionGranted, Attributes: attrs}
}
