package training

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"daoledger/core/events"
	"daoledger/core/types"
	"daoledger/native/authz"
	"daoledger/native/common"
	"daoledger/native/pool"
)

var (
	campaignPrefix   = []byte("training/campaign/")
	campaignIndexKey = []byte("training/campaigns")
	completionPrefix = []byte("training/completion/")
	digestPrefix     = []byte("training/digest/")
	learnerPrefix    = []byte("training/learner/")
)

func campaignKey(id string) []byte {
	key := CampaignKey(id)
	return append(append([]byte(nil), campaignPrefix...), key[:]...)
}

func completionKey(learner [20]byte, id string) []byte {
	campaign := CampaignKey(id)
	key := append(append([]byte(nil), completionPrefix...), campaign[:]...)
	return append(key, learner[:]...)
}

func digestKey(digest [32]byte) []byte {
	return append(append([]byte(nil), digestPrefix...), digest[:]...)
}

func learnerKey(learner [20]byte) []byte {
	return append(append([]byte(nil), learnerPrefix...), learner[:]...)
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte) ([][]byte, error)
}

type pools interface {
	Provision(name string, limit, funding *uint256.Int) (*pool.Pool, error)
	Pool(id pool.ID) (*pool.Pool, error)
	Payout(id pool.ID, recipient [20]byte, amount *uint256.Int, reason string) error
	Vault() [20]byte
}

type balances interface {
	BalanceOf(addr [20]byte) (*uint256.Int, error)
}

type signer interface {
	RequireSigned(capability authz.Capability, digest [32]byte, sig []byte) ([20]byte, error)
}

// Engine manages training campaigns and the completion authorization gate.
type Engine struct {
	state      engineState
	pools      pools
	balances   balances
	auth       authz.Port
	signatures signer
	pauses     common.PauseView
	emitter    events.Emitter
	nowFn      func() int64
	domain     Domain
}

// NewEngine creates a training engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPools configures the pool ledger campaigns draw from.
func (e *Engine) SetPools(p pools) { e.pools = p }

// SetBalances configures the balance view used to check the reward vault.
func (e *Engine) SetBalances(b balances) { e.balances = b }

// SetAuthorizer configures the role-based capability port.
func (e *Engine) SetAuthorizer(port authz.Port) { e.auth = port }

// SetSignatures configures the signature-based capability port.
func (e *Engine) SetSignatures(s signer) { e.signatures = s }

// SetPauses configures the module pause view.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetDomain configures the chain context bound into signed completions.
func (e *Engine) SetDomain(d Domain) { e.domain = d }

// Domain returns the configured signing domain.
func (e *Engine) Domain() Domain { return e.domain }

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
	return common.Guard(e.pauses, common.ModuleTraining)
}

func (e *Engine) require(capability authz.Capability, caller [20]byte) error {
	if e.auth == nil {
		return fmt.Errorf("%w: no authorizer configured", authz.ErrMissingCapability)
	}
	return e.auth.Require(capability, caller)
}

// CreateCampaign opens a campaign and provisions its backing pool with the
// full budget. An empty poolName derives one from the campaign id.
func (e *Engine) CreateCampaign(caller [20]byte, id, poolName string, reward, budget *uint256.Int) (*Campaign, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.require(authz.CapCampaignAdmin, caller); err != nil {
		return nil, err
	}
	normalized, err := NormalizeCampaignID(id)
	if err != nil {
		return nil, err
	}
	if reward == nil || reward.IsZero() {
		return nil, fmt.Errorf("%w: reward must be positive", ErrInvalidReward)
	}
	if budget == nil || budget.Lt(reward) {
		return nil, fmt.Errorf("%w: budget must cover at least one reward", ErrInvalidReward)
	}
	if poolName == "" {
		poolName = PoolPrefix + normalized
	}
	exists, err := e.state.KVGet(campaignKey(normalized), nil)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrCampaignExists, normalized)
	}
	p, err := e.pools.Provision(poolName, budget, budget)
	if err != nil {
		return nil, err
	}
	now := e.now()
	c := &Campaign{
		ID:        normalized,
		PoolID:    p.ID,
		PoolName:  p.Name,
		Reward:    reward.Clone(),
		Budget:    budget.Clone(),
		Active:    true,
		Creator:   caller,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.state.KVPut(campaignKey(normalized), newStoredCampaign(c)); err != nil {
		return nil, err
	}
	if err := e.state.KVAppend(campaignIndexKey, []byte(normalized)); err != nil {
		return nil, err
	}
	e.emit(NewCampaignCreatedEvent(c))
	return c.Clone(), nil
}

// SetCampaignActive toggles whether completions may be granted.
func (e *Engine) SetCampaignActive(caller [20]byte, id string, active bool) (*Campaign, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.require(authz.CapCampaignAdmin, caller); err != nil {
		return nil, err
	}
	c, err := e.Campaign(id)
	if err != nil {
		return nil, err
	}
	if c.Active == active {
		return c, nil
	}
	c.Active = active
	c.UpdatedAt = e.now()
	if err := e.state.KVPut(campaignKey(c.ID), newStoredCampaign(c)); err != nil {
		return nil, err
	}
	e.emit(NewCampaignStatusEvent(c, caller))
	return c.Clone(), nil
}

// Campaign returns the campaign registered under id.
func (e *Engine) Campaign(id string) (*Campaign, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeCampaignID(id)
	if err != nil {
		return nil, err
	}
	var stored storedCampaign
	ok, err := e.state.KVGet(campaignKey(normalized), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCampaignNotFound, normalized)
	}
	return stored.toCampaign(), nil
}

// Campaigns lists every campaign in creation order.
func (e *Engine) Campaigns() ([]*Campaign, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.KVGetList(campaignIndexKey)
	if err != nil {
		return nil, err
	}
	out := make([]*Campaign, 0, len(ids))
	for _, raw := range ids {
		c, err := e.Campaign(string(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Completion returns the completion record for (learner, campaign) or nil when
// the learner has not been rewarded.
func (e *Engine) Completion(learner [20]byte, id string) (*CompletionRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeCampaignID(id)
	if err != nil {
		return nil, err
	}
	var stored storedCompletion
	ok, err := e.state.KVGet(completionKey(learner, normalized), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.toRecord(), nil
}

// LearnerStats returns the learner's aggregate completions.
func (e *Engine) LearnerStats(learner [20]byte) (*LearnerStats, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var stored storedStats
	ok, err := e.state.KVGet(learnerKey(learner), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &LearnerStats{TotalEarned: uint256.NewInt(0)}, nil
	}
	return &LearnerStats{Completions: stored.Completions, TotalEarned: new(uint256.Int).SetBytes(stored.TotalEarned)}, nil
}

// DigestConsumed reports whether a signed authorization was already used.
func (e *Engine) DigestConsumed(digest [32]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.KVGet(digestKey(digest), nil)
}

// GrantWithSignature rewards learner on the strength of an instructor's
// signature over the completion digest. Anyone may relay the signature.
func (e *Engine) GrantWithSignature(caller [20]byte, learner [20]byte, campaignID string, nonce uint64, sig []byte) (*CompletionRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	c, err := e.prepareGrant(learner, campaignID)
	if err != nil {
		return nil, err
	}
	digest := CompletionDigest(e.domain, learner, c.ID, nonce)
	consumed, err := e.DigestConsumed(digest)
	if err != nil {
		return nil, err
	}
	if consumed {
		return nil, ErrDigestConsumed
	}
	if e.signatures == nil {
		return nil, fmt.Errorf("%w: no signature verifier configured", authz.ErrUnauthorizedSigner)
	}
	instructor, err := e.signatures.RequireSigned(authz.CapInstructor, digest, sig)
	if err != nil {
		return nil, err
	}
	if err := e.checkFunds(c); err != nil {
		return nil, err
	}
	if err := e.state.KVPut(digestKey(digest), true); err != nil {
		return nil, err
	}
	return e.grant(c, learner, ModeSignature, instructor, digest)
}

// GrantDirect rewards learner on the caller's own rewarder capability.
func (e *Engine) GrantDirect(caller [20]byte, learner [20]byte, campaignID string) (*CompletionRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.require(authz.CapRewarder, caller); err != nil {
		return nil, err
	}
	c, err := e.prepareGrant(learner, campaignID)
	if err != nil {
		return nil, err
	}
	if err := e.checkFunds(c); err != nil {
		return nil, err
	}
	return e.grant(c, learner, ModeDirect, caller, [32]byte{})
}

func (e *Engine) prepareGrant(learner [20]byte, campaignID string) (*Campaign, error) {
	if learner == ([20]byte{}) {
		return nil, ErrInvalidLearner
	}
	c, err := e.Campaign(campaignID)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return nil, fmt.Errorf("%w: %s", ErrCampaignInactive, c.ID)
	}
	existing, err := e.Completion(learner, c.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %x in %s", ErrAlreadyCompleted, learner, c.ID)
	}
	return c, nil
}

func (e *Engine) checkFunds(c *Campaign) error {
	p, err := e.pools.Pool(c.PoolID)
	if err != nil {
		return err
	}
	if !p.Active {
		return fmt.Errorf("%w: %s", pool.ErrPoolInactive, p.Name)
	}
	if available := p.Available(); available.Lt(c.Reward) {
		return fmt.Errorf("%w: %s spent %s of %s, reward %s", ErrBudgetExhausted, c.ID, p.Distributed.Dec(), p.Allocated.Dec(), c.Reward.Dec())
	}
	if e.balances != nil {
		bal, err := e.balances.BalanceOf(e.pools.Vault())
		if err != nil {
			return err
		}
		if bal.Lt(c.Reward) {
			return fmt.Errorf("%w: vault holds %s", ErrVaultUnderfunded, bal.Dec())
		}
	}
	return nil
}

func (e *Engine) grant(c *Campaign, learner [20]byte, mode string, authority [20]byte, digest [32]byte) (*CompletionRecord, error) {
	record := &CompletionRecord{
		Learner:    learner,
		CampaignID: c.ID,
		Reward:     c.Reward.Clone(),
		Timestamp:  e.now(),
		Mode:       mode,
		Authority:  authority,
		Digest:     digest,
	}
	if err := e.state.KVPut(completionKey(learner, c.ID), newStoredCompletion(record)); err != nil {
		return nil, err
	}
	stats, err := e.LearnerStats(learner)
	if err != nil {
		return nil, err
	}
	stats.Completions++
	stats.TotalEarned = new(uint256.Int).Add(stats.TotalEarned, c.Reward)
	if err := e.state.KVPut(learnerKey(learner), &storedStats{Completions: stats.Completions, TotalEarned: stats.TotalEarned.Bytes()}); err != nil {
		return nil, err
	}
	if err := e.pools.Payout(c.PoolID, learner, c.Reward, PoolPrefix+c.ID); err != nil {
		return nil, err
	}
	e.emit(NewCompletionGrantedEvent(record))
	return record, nil
}
