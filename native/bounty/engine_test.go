package bounty

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"daoledger/core/events"
	ledgererrors "daoledger/core/errors"
	"daoledger/core/state"
	"daoledger/native/authz"
	"daoledger/native/bank"
	"daoledger/native/pool"
	"daoledger/storage"
)

var (
	manager  = [20]byte{0x3A}
	reviewer = [20]byte{0x3B}
	vault    = [20]byte{0xEE}
	workerA  = [20]byte{0x0A}
	workerB  = [20]byte{0x0B}
)

type bountyEnv struct {
	engine   *Engine
	pools    *pool.Engine
	ledger   *bank.Ledger
	recorder *events.Recorder
	clock    int64
}

func newBountyEnv(t *testing.T, budget uint64) *bountyEnv {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	ledger := bank.NewLedger(mgr)
	require.NoError(t, ledger.Credit(vault, uint256.NewInt(10_000)))

	oracle := authz.Static{}
	oracle.Grant(authz.CapTaskManager, manager)
	oracle.Grant(authz.CapTaskReviewer, reviewer)

	env := &bountyEnv{ledger: ledger, recorder: &events.Recorder{}, clock: 1_000}
	clock := func() int64 { return env.clock }

	pools := pool.NewEngine()
	pools.SetState(mgr)
	pools.SetBank(ledger)
	pools.SetVault(vault)
	pools.SetNowFunc(clock)
	_, err := pools.Provision("bounty:core", uint256.NewInt(budget), uint256.NewInt(budget))
	require.NoError(t, err)

	engine := NewEngine()
	engine.SetState(mgr)
	engine.SetPools(pools)
	engine.SetBalances(ledger)
	engine.SetAuthorizer(authz.NewRoles(oracle))
	engine.SetEmitter(env.recorder)
	engine.SetNowFunc(clock)
	env.engine = engine
	env.pools = pools
	return env
}

func (env *bountyEnv) create(t *testing.T, reward uint64, difficulty uint8, deadline int64) *Task {
	t.Helper()
	task, err := env.engine.CreateTask(manager, TaskParams{
		Pool:       "bounty:core",
		Title:      "fix the indexer",
		Reward:     uint256.NewInt(reward),
		Difficulty: difficulty,
		Deadline:   deadline,
	})
	require.NoError(t, err)
	return task
}

func (env *bountyEnv) openCount(t *testing.T) uint64 {
	t.Helper()
	count, err := env.engine.OpenTaskCount()
	require.NoError(t, err)
	return count
}

func TestReputationTable(t *testing.T) {
	want := map[uint8]uint64{1: 1, 2: 3, 3: 5, 4: 10, 5: 20}
	for difficulty, points := range want {
		got, err := ReputationPoints(difficulty)
		require.NoError(t, err)
		require.Equal(t, points, got, "difficulty %d", difficulty)
	}
	for _, bad := range []uint8{0, 6, 255} {
		_, err := ReputationPoints(bad)
		require.ErrorIs(t, err, ErrInvalidDifficulty)
	}
}

func TestLifecycleReachability(t *testing.T) {
	for _, status := range Statuses() {
		terminal := status == TaskApproved || status == TaskCancelled
		require.Equal(t, terminal, status.Terminal(), "status %s", status)
		if !terminal {
			require.NotEmpty(t, Next(status), "status %s must have a forward transition", status)
		}
	}
	// Every status is reachable from OPEN.
	seen := map[TaskStatus]bool{TaskOpen: true}
	queue := []TaskStatus{TaskOpen}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range Next(cur) {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	require.Len(t, seen, len(Statuses()))
}

func TestUnclaimScenario(t *testing.T) {
	env := newBountyEnv(t, 1_000)
	task := env.create(t, 100, 2, 0)
	require.Equal(t, uint64(1), env.openCount(t))

	claimed, err := env.engine.Claim(workerA, task.ID)
	require.NoError(t, err)
	require.Equal(t, TaskClaimed, claimed.Status)
	require.Equal(t, workerA, claimed.Assignee)
	require.Equal(t, uint64(0), env.openCount(t))

	_, err = env.engine.Claim(workerB, task.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = env.engine.Unclaim(workerB, task.ID)
	require.ErrorIs(t, err, ErrNotAssignee)

	reopened, err := env.engine.Unclaim(workerA, task.ID)
	require.NoError(t, err)
	require.Equal(t, TaskOpen, reopened.Status)
	require.Equal(t, [20]byte{}, reopened.Assignee)
	require.Equal(t, uint64(1), env.openCount(t))

	claimed, err = env.engine.Claim(workerB, task.ID)
	require.NoError(t, err)
	require.Equal(t, workerB, claimed.Assignee)
}

func TestApprovePaysOnce(t *testing.T) {
	env := newBountyEnv(t, 1_000)
	task := env.create(t, 250, 4, 0)

	_, err := env.engine.Claim(workerA, task.ID)
	require.NoError(t, err)
	_, err = env.engine.Submit(workerA, task.ID, "   ")
	require.ErrorIs(t, err, ErrEmptySubmission)
	_, err = env.engine.Submit(workerB, task.ID, "https://example.org/pr/1")
	require.ErrorIs(t, err, ErrNotAssignee)
	_, err = env.engine.Submit(workerA, task.ID, "https://example.org/pr/1")
	require.NoError(t, err)

	_, err = env.engine.Reject(workerA, task.ID, "nope")
	require.ErrorIs(t, err, authz.ErrMissingCapability)
	rejected, err := env.engine.Reject(reviewer, task.ID, "missing tests")
	require.NoError(t, err)
	require.Equal(t, TaskRejected, rejected.Status)
	require.Equal(t, workerA, rejected.Assignee)

	_, err = env.engine.Approve(reviewer, task.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	resumed, err := env.engine.AllowResubmission(reviewer, task.ID)
	require.NoError(t, err)
	require.Equal(t, TaskClaimed, resumed.Status)
	require.Empty(t, resumed.SubmissionURL)

	_, err = env.engine.Submit(workerA, task.ID, "https://example.org/pr/2")
	require.NoError(t, err)
	approved, err := env.engine.Approve(reviewer, task.ID)
	require.NoError(t, err)
	require.Equal(t, TaskApproved, approved.Status)

	_, err = env.engine.Approve(reviewer, task.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = env.engine.Cancel(manager, task.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	bal, err := env.ledger.BalanceOf(workerA)
	require.NoError(t, err)
	require.Equal(t, uint64(250), bal.Uint64())

	stats, err := env.engine.ContributorStats(workerA)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.Completed)
	require.Equal(t, uint64(250), stats.TotalEarned.Uint64())
	require.Equal(t, uint64(10), stats.Reputation)

	p, err := env.pools.PoolByName("bounty:core")
	require.NoError(t, err)
	require.Equal(t, uint64(250), p.Distributed.Uint64())
}

func TestApproveRequiresBudget(t *testing.T) {
	env := newBountyEnv(t, 100)
	task := env.create(t, 150, 1, 0)
	_, err := env.engine.Claim(workerA, task.ID)
	require.NoError(t, err)
	_, err = env.engine.Submit(workerA, task.ID, "ipfs://proof")
	require.NoError(t, err)

	_, err = env.engine.Approve(reviewer, task.ID)
	require.ErrorIs(t, err, ErrInsufficientBudget)
	require.Equal(t, ledgererrors.KindResource, ledgererrors.KindOf(err))

	stored, err := env.engine.Task(task.ID)
	require.NoError(t, err)
	require.Equal(t, TaskSubmitted, stored.Status)
}

func TestCancel(t *testing.T) {
	env := newBountyEnv(t, 1_000)
	open := env.create(t, 10, 1, 0)
	claimed := env.create(t, 10, 1, 0)
	_, err := env.engine.Claim(workerA, claimed.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), env.openCount(t))

	_, err = env.engine.Cancel(reviewer, open.ID)
	require.ErrorIs(t, err, authz.ErrMissingCapability)

	cancelled, err := env.engine.Cancel(manager, open.ID)
	require.NoError(t, err)
	require.Equal(t, TaskCancelled, cancelled.Status)
	require.Equal(t, uint64(0), env.openCount(t))

	cancelled, err = env.engine.Cancel(manager, claimed.ID)
	require.NoError(t, err)
	require.Equal(t, [20]byte{}, cancelled.Assignee)
	require.Equal(t, uint64(0), env.openCount(t))

	_, err = env.engine.Claim(workerB, cancelled.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	submitted := env.create(t, 10, 1, 0)
	_, err = env.engine.Claim(workerA, submitted.ID)
	require.NoError(t, err)
	_, err = env.engine.Submit(workerA, submitted.ID, "ipfs://x")
	require.NoError(t, err)
	_, err = env.engine.Cancel(manager, submitted.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestClaimDeadline(t *testing.T) {
	env := newBountyEnv(t, 1_000)
	task := env.create(t, 10, 3, 2_000)
	env.clock = 2_001
	_, err := env.engine.Claim(workerA, task.ID)
	require.ErrorIs(t, err, ErrDeadlinePassed)

	env.clock = 2_000
	_, err = env.engine.Claim(workerA, task.ID)
	require.NoError(t, err)

	// The deadline is checked only at claim time.
	env.clock = 5_000
	_, err = env.engine.Submit(workerA, task.ID, "ipfs://late")
	require.NoError(t, err)
}

func TestCreateTaskValidation(t *testing.T) {
	env := newBountyEnv(t, 1_000)
	base := TaskParams{Pool: "bounty:core", Reward: uint256.NewInt(1), Difficulty: 1}

	_, err := env.engine.CreateTask(workerA, base)
	require.ErrorIs(t, err, authz.ErrMissingCapability)

	bad := base
	bad.Reward = uint256.NewInt(0)
	_, err = env.engine.CreateTask(manager, bad)
	require.ErrorIs(t, err, ErrInvalidTask)

	bad = base
	bad.Difficulty = 6
	_, err = env.engine.CreateTask(manager, bad)
	require.ErrorIs(t, err, ErrInvalidDifficulty)

	bad = base
	bad.Deadline = env.clock
	_, err = env.engine.CreateTask(manager, bad)
	require.ErrorIs(t, err, ErrInvalidTask)

	bad = base
	bad.Pool = "unknown"
	_, err = env.engine.CreateTask(manager, bad)
	require.True(t, errors.Is(err, pool.ErrPoolNotFound))
}

func TestRecountOpenTasksMatchesCache(t *testing.T) {
	env := newBountyEnv(t, 10_000)
	var ids []uint64
	for i := 0; i < 6; i++ {
		ids = append(ids, env.create(t, 10, 1, 0).ID)
	}
	_, err := env.engine.Claim(workerA, ids[0])
	require.NoError(t, err)
	_, err = env.engine.Claim(workerB, ids[1])
	require.NoError(t, err)
	_, err = env.engine.Unclaim(workerB, ids[1])
	require.NoError(t, err)
	_, err = env.engine.Cancel(manager, ids[2])
	require.NoError(t, err)
	_, err = env.engine.Claim(workerA, ids[3])
	require.NoError(t, err)
	_, err = env.engine.Submit(workerA, ids[3], "ipfs://3")
	require.NoError(t, err)
	_, err = env.engine.Approve(reviewer, ids[3])
	require.NoError(t, err)

	cached := env.openCount(t)
	recounted, err := env.engine.RecountOpenTasks()
	require.NoError(t, err)
	require.Equal(t, recounted, cached)
	require.Equal(t, uint64(3), recounted)

	open, err := env.engine.TasksByStatus(TaskOpen)
	require.NoError(t, err)
	require.Len(t, open, 3)

	for _, task := range mustTasks(t, env.engine) {
		require.Equal(t, task.Status.HasAssignee(), task.Assignee != [20]byte{}, "task %d", task.ID)
	}
}

func mustTasks(t *testing.T, e *Engine) []*Task {
	t.Helper()
	tasks, err := e.Tasks()
	require.NoError(t, err)
	return tasks
}
