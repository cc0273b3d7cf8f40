package pool

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"daoledger/core/events"
	"daoledger/core/state"
	"daoledger/native/authz"
	"daoledger/native/bank"
	"daoledger/native/common"
	"daoledger/storage"
)

var (
	admin       = [20]byte{0xA0}
	allocator   = [20]byte{0xA1}
	distributor = [20]byte{0xA2}
	vault       = [20]byte{0xEE}
	alice       = [20]byte{0x01}
	bob         = [20]byte{0x02}
)

type harness struct {
	engine   *Engine
	ledger   *bank.Ledger
	recorder *events.Recorder
	manager  *state.Manager
}

func newHarness(t *testing.T, vaultFunds uint64) *harness {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	ledger := bank.NewLedger(mgr)
	if vaultFunds > 0 {
		if err := ledger.Credit(vault, uint256.NewInt(vaultFunds)); err != nil {
			t.Fatalf("seed vault: %v", err)
		}
	}
	oracle := authz.Static{}
	oracle.Grant(authz.CapPoolAdmin, admin)
	oracle.Grant(authz.CapAllocator, allocator)
	oracle.Grant(authz.CapDistributor, distributor)

	rec := &events.Recorder{}
	engine := NewEngine()
	engine.SetState(mgr)
	engine.SetBank(ledger)
	engine.SetAuthorizer(authz.NewRoles(oracle))
	engine.SetVault(vault)
	engine.SetEmitter(rec)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	return &harness{engine: engine, ledger: ledger, recorder: rec, manager: mgr}
}

func (h *harness) balance(t *testing.T, addr [20]byte) uint64 {
	t.Helper()
	bal, err := h.ledger.BalanceOf(addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal.Uint64()
}

func TestNormalizeName(t *testing.T) {
	name, err := NormalizeName("  Team ")
	if err != nil || name != "team" {
		t.Fatalf("unexpected normalisation %q %v", name, err)
	}
	if _, err := NormalizeName("   "); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if _, err := NormalizeName("bad\x00name"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected control character rejection, got %v", err)
	}
	if MustID("Team") != MustID("team") {
		t.Fatalf("interned identifiers must ignore case")
	}
}

func TestFundAndDistributeScenario(t *testing.T) {
	h := newHarness(t, 10_000)
	p, err := h.engine.CreatePool(admin, "grants", uint256.NewInt(1000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.engine.FundPool(allocator, p.ID, uint256.NewInt(600)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	err = h.engine.Distribute(distributor, p.ID, alice, uint256.NewInt(700), "overdraw")
	if !errors.Is(err, ErrInsufficientPoolBalance) {
		t.Fatalf("expected ErrInsufficientPoolBalance, got %v", err)
	}
	if err := h.engine.Distribute(distributor, p.ID, alice, uint256.NewInt(250), "milestone"); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if _, err := h.engine.FundPool(allocator, p.ID, uint256.NewInt(401)); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}

	got, err := h.engine.Pool(p.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Allocated.Uint64() != 600 || got.Distributed.Uint64() != 250 || got.Available().Uint64() != 350 {
		t.Fatalf("unexpected pool state %s", Describe(got))
	}
	if h.balance(t, alice) != 250 || h.balance(t, vault) != 9_750 {
		t.Fatalf("unexpected balances alice=%d vault=%d", h.balance(t, alice), h.balance(t, vault))
	}
	total, err := h.engine.RecipientTotal(p.ID, alice)
	if err != nil || total.Uint64() != 250 {
		t.Fatalf("unexpected recipient total %v %v", total, err)
	}
}

func TestCapabilitiesEnforced(t *testing.T) {
	h := newHarness(t, 1000)
	if _, err := h.engine.CreatePool(alice, "grants", nil); !errors.Is(err, authz.ErrMissingCapability) {
		t.Fatalf("expected missing capability on create, got %v", err)
	}
	p, err := h.engine.CreatePool(admin, "grants", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.engine.FundPool(admin, p.ID, uint256.NewInt(10)); !errors.Is(err, authz.ErrMissingCapability) {
		t.Fatalf("expected missing capability on fund, got %v", err)
	}
	if _, err := h.engine.FundPool(allocator, p.ID, uint256.NewInt(10)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := h.engine.Distribute(allocator, p.ID, alice, uint256.NewInt(1), ""); !errors.Is(err, authz.ErrMissingCapability) {
		t.Fatalf("expected missing capability on distribute, got %v", err)
	}
	if _, err := h.engine.UpdateLimit(distributor, p.ID, uint256.NewInt(5)); !errors.Is(err, authz.ErrMissingCapability) {
		t.Fatalf("expected missing capability on limit update, got %v", err)
	}
}

func TestCreateDuplicateRejected(t *testing.T) {
	h := newHarness(t, 0)
	if _, err := h.engine.CreatePool(admin, "Team", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.engine.CreatePool(admin, " team", nil); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	pools, err := h.engine.Pools()
	if err != nil || len(pools) != 1 {
		t.Fatalf("unexpected pool list %v %v", pools, err)
	}
}

func TestUncappedPool(t *testing.T) {
	h := newHarness(t, 0)
	p, err := h.engine.CreatePool(admin, "open", uint256.NewInt(0))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.engine.FundPool(allocator, p.ID, new(uint256.Int).Lsh(uint256.NewInt(1), 200)); err != nil {
		t.Fatalf("uncapped pool must accept large allocation: %v", err)
	}
}

func TestDistributeBatchIsAtomic(t *testing.T) {
	h := newHarness(t, 1000)
	p, err := h.engine.CreatePool(admin, "airdrop", uint256.NewInt(500))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.engine.FundPool(allocator, p.ID, uint256.NewInt(500)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	before := len(h.recorder.Events)

	err = h.engine.DistributeBatch(distributor, p.ID,
		[][20]byte{alice, bob},
		[]*uint256.Int{uint256.NewInt(300), uint256.NewInt(300)}, "drop")
	if !errors.Is(err, ErrInsufficientPoolBalance) {
		t.Fatalf("expected aggregate check failure, got %v", err)
	}
	if h.balance(t, alice) != 0 || h.balance(t, bob) != 0 {
		t.Fatalf("failed batch must not pay anyone")
	}
	if len(h.recorder.Events) != before {
		t.Fatalf("failed batch must not emit events")
	}

	err = h.engine.DistributeBatch(distributor, p.ID,
		[][20]byte{alice, bob},
		[]*uint256.Int{uint256.NewInt(200), uint256.NewInt(0)}, "drop")
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected zero amount rejection, got %v", err)
	}
	err = h.engine.DistributeBatch(distributor, p.ID, [][20]byte{alice}, nil, "drop")
	if !errors.Is(err, ErrBatchLengthMismatch) {
		t.Fatalf("expected length mismatch, got %v", err)
	}

	err = h.engine.DistributeBatch(distributor, p.ID,
		[][20]byte{alice, bob},
		[]*uint256.Int{uint256.NewInt(200), uint256.NewInt(300)}, "drop")
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if h.balance(t, alice) != 200 || h.balance(t, bob) != 300 {
		t.Fatalf("unexpected batch payouts")
	}
	got, _ := h.engine.Pool(p.ID)
	if got.Distributed.Uint64() != 500 {
		t.Fatalf("unexpected distributed %s", got.Distributed.Dec())
	}
	types := h.recorder.Types()
	if types[len(types)-1] != EventTypePoolBatchDistributed {
		t.Fatalf("expected batch summary event last, got %v", types)
	}
}

func TestVaultUnderfundedFailsBeforeMutation(t *testing.T) {
	h := newHarness(t, 50)
	p, err := h.engine.CreatePool(admin, "grants", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.engine.FundPool(allocator, p.ID, uint256.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := h.engine.Distribute(distributor, p.ID, alice, uint256.NewInt(80), ""); !errors.Is(err, ErrVaultUnderfunded) {
		t.Fatalf("expected ErrVaultUnderfunded, got %v", err)
	}
	got, _ := h.engine.Pool(p.ID)
	if !got.Distributed.IsZero() {
		t.Fatalf("pool mutated despite failed payout")
	}
}

func TestUpdateLimit(t *testing.T) {
	h := newHarness(t, 0)
	p, err := h.engine.CreatePool(admin, "grants", uint256.NewInt(1000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.engine.FundPool(allocator, p.ID, uint256.NewInt(600)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if _, err := h.engine.UpdateLimit(admin, p.ID, uint256.NewInt(599)); !errors.Is(err, ErrLimitBelowAllocated) {
		t.Fatalf("expected ErrLimitBelowAllocated, got %v", err)
	}
	updated, err := h.engine.UpdateLimit(admin, p.ID, uint256.NewInt(600))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Limit.Uint64() != 600 {
		t.Fatalf("unexpected limit %s", updated.Limit.Dec())
	}
	uncapped, err := h.engine.UpdateLimit(admin, p.ID, uint256.NewInt(0))
	if err != nil || uncapped.Capped() {
		t.Fatalf("zero limit must uncap: %v", err)
	}
}

func TestSetActiveBlocksSpending(t *testing.T) {
	h := newHarness(t, 1000)
	p, err := h.engine.CreatePool(admin, "grants", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.engine.FundPool(allocator, p.ID, uint256.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if _, err := h.engine.SetActive(admin, p.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := h.engine.Distribute(distributor, p.ID, alice, uint256.NewInt(10), ""); !errors.Is(err, ErrPoolInactive) {
		t.Fatalf("expected ErrPoolInactive, got %v", err)
	}
	if err := h.engine.Allocate(p.ID, uint256.NewInt(10)); !errors.Is(err, ErrPoolInactive) {
		t.Fatalf("expected ErrPoolInactive on allocate, got %v", err)
	}
	if _, err := h.engine.SetActive(admin, p.ID, true); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if err := h.engine.Distribute(distributor, p.ID, alice, uint256.NewInt(10), ""); err != nil {
		t.Fatalf("distribute after reactivation: %v", err)
	}
}

func TestAllocateDeallocate(t *testing.T) {
	h := newHarness(t, 1000)
	p, err := h.engine.Provision("vesting/team", uint256.NewInt(300), nil)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if err := h.engine.Allocate(p.ID, uint256.NewInt(200)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := h.engine.Allocate(p.ID, uint256.NewInt(101)); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
	if err := h.engine.Payout(p.ID, alice, uint256.NewInt(1), "release"); !errors.Is(err, ErrInsufficientPoolBalance) {
		t.Fatalf("reservation must not be spendable, got %v", err)
	}
	if err := h.engine.Deallocate(p.ID, uint256.NewInt(201)); !errors.Is(err, ErrDeallocateExceedsReserved) {
		t.Fatalf("expected ErrDeallocateExceedsReserved, got %v", err)
	}
	if err := h.engine.Deallocate(p.ID, uint256.NewInt(50)); err != nil {
		t.Fatalf("deallocate: %v", err)
	}
	if _, err := h.engine.FundPool(allocator, p.ID, uint256.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := h.engine.Payout(p.ID, alice, uint256.NewInt(101), "grant"); !errors.Is(err, ErrInsufficientPoolBalance) {
		t.Fatalf("expected ErrInsufficientPoolBalance, got %v", err)
	}
	if err := h.engine.Payout(p.ID, alice, uint256.NewInt(100), "grant"); err != nil {
		t.Fatalf("payout: %v", err)
	}
	if err := h.engine.Deallocate(p.ID, uint256.NewInt(150)); err != nil {
		t.Fatalf("deallocate rest: %v", err)
	}
	got, _ := h.engine.Pool(p.ID)
	if got.Allocated.Uint64() != 100 || got.Distributed.Uint64() != 100 || !got.Reserved.IsZero() {
		t.Fatalf("unexpected state %s", Describe(got))
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("conservation violated: %v", err)
	}
}

func TestProvisionFundingAboveLimit(t *testing.T) {
	h := newHarness(t, 0)
	if _, err := h.engine.Provision("campaign", uint256.NewInt(10), uint256.NewInt(11)); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
	if ok, _ := h.engine.Exists(MustID("campaign")); ok {
		t.Fatalf("failed provision must not create the pool")
	}
}

func TestPausedModuleRejectsWrites(t *testing.T) {
	h := newHarness(t, 0)
	h.engine.SetPauses(common.Pauses{common.ModulePool: true})
	if _, err := h.engine.CreatePool(admin, "grants", nil); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}

func TestConservationAcrossOperations(t *testing.T) {
	h := newHarness(t, 5000)
	p, err := h.engine.CreatePool(admin, "mixed", uint256.NewInt(2000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	steps := []func() error{
		func() error { _, err := h.engine.FundPool(allocator, p.ID, uint256.NewInt(800)); return err },
		func() error { return h.engine.Distribute(distributor, p.ID, alice, uint256.NewInt(300), "") },
		func() error { return h.engine.Distribute(distributor, p.ID, bob, uint256.NewInt(600), "") },
		func() error { _, err := h.engine.FundPool(allocator, p.ID, uint256.NewInt(1300)); return err },
		func() error { _, err := h.engine.FundPool(allocator, p.ID, uint256.NewInt(700)); return err },
		func() error { return h.engine.Allocate(p.ID, uint256.NewInt(200)) },
		func() error { return h.engine.Deallocate(p.ID, uint256.NewInt(600)) },
		func() error { return h.engine.Deallocate(p.ID, uint256.NewInt(150)) },
		func() error { return h.engine.Distribute(distributor, p.ID, bob, uint256.NewInt(400), "") },
	}
	for _, step := range steps {
		_ = step()
		got, err := h.engine.Pool(p.ID)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if err := got.Validate(); err != nil {
			t.Fatalf("conservation violated: %v", err)
		}
	}
	got, _ := h.engine.Pool(p.ID)
	paid := h.balance(t, alice) + h.balance(t, bob)
	if paid != got.Distributed.Uint64() {
		t.Fatalf("paid %d but distributed %s", paid, got.Distributed.Dec())
	}
}
