package stakerewards

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stakeledger/core/events"
)

var (
	baseTime = time.Unix(1_700_000_000, 0)
	day      = 24 * time.Hour

	errInjected = errors.New("injected failure")
)

func at(offset time.Duration) time.Time { return baseTime.Add(offset) }

func makeAddress(suffix byte) common.Address {
	var addr common.Address
	addr[0] = 0xaa
	addr[len(addr)-1] = suffix
	return addr
}

func units(v int64) *big.Int { return big.NewInt(v) }

type mockEngineState struct {
	global    *GlobalState
	positions map[common.Address]*Position
	commits   int
	commitErr error
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{positions: make(map[common.Address]*Position)}
}

func (m *mockEngineState) GetGlobal() (*GlobalState, error) {
	return m.global, nil
}

func (m *mockEngineState) GetPosition(addr common.Address) (*Position, error) {
	if pos, ok := m.positions[addr]; ok {
		return pos, nil
	}
	return nil, nil
}

func (m *mockEngineState) Commit(global *GlobalState, position *Position) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.commits++
	m.global = global.Clone()
	if position != nil {
		m.positions[position.Address] = position.Clone()
	}
	return nil
}

// mockCustody tracks the net amounts moved through each custody call.
type mockCustody struct {
	in        *big.Int
	out       *big.Int
	paid      *big.Int
	deposited *big.Int
	calls     int
	fail      map[string]error
}

func newMockCustody() *mockCustody {
	return &mockCustody{
		in:        big.NewInt(0),
		out:       big.NewInt(0),
		paid:      big.NewInt(0),
		deposited: big.NewInt(0),
		fail:      make(map[string]error),
	}
}

func (c *mockCustody) record(op string, total *big.Int, amount *big.Int) error {
	if err := c.fail[op]; err != nil {
		return err
	}
	c.calls++
	total.Add(total, amount)
	return nil
}

func (c *mockCustody) TransferIn(_ common.Address, amount *big.Int) error {
	return c.record("in", c.in, amount)
}

func (c *mockCustody) TransferOut(_ common.Address, amount *big.Int) error {
	return c.record("out", c.out, amount)
}

func (c *mockCustody) PayReward(_ common.Address, amount *big.Int) error {
	return c.record("pay", c.paid, amount)
}

func (c *mockCustody) DepositReward(_ common.Address, amount *big.Int) error {
	return c.record("deposit", c.deposited, amount)
}

type testHarness struct {
	engine   *Engine
	state    *mockEngineState
	custody  *mockCustody
	recorder *events.Recorder
}

func newHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()
	h := &testHarness{
		engine:   NewEngine(cfg),
		state:    newMockEngineState(),
		custody:  newMockCustody(),
		recorder: &events.Recorder{},
	}
	h.engine.SetState(h.state)
	h.engine.SetCustody(h.custody)
	h.engine.SetEmitter(h.recorder)
	if err := h.engine.Initialize(baseTime); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return h
}

func (h *testHarness) stake(t *testing.T, who common.Address, amount int64, offset time.Duration) *Position {
	t.Helper()
	pos, err := h.engine.Stake(who, units(amount), at(offset))
	if err != nil {
		t.Fatalf("stake %d at %s: %v", amount, offset, err)
	}
	return pos
}

func (h *testHarness) fund(t *testing.T, amount int64, offset time.Duration) {
	t.Helper()
	if err := h.engine.Fund(makeAddress(0xf0), units(amount), at(offset)); err != nil {
		t.Fatalf("fund %d at %s: %v", amount, offset, err)
	}
}

func (h *testHarness) settled(t *testing.T, who common.Address, offset time.Duration) *big.Int {
	t.Helper()
	return h.stake(t, who, 0, offset).SettledReward
}

func requireWithin(t *testing.T, got *big.Int, want int64, tolerance int64) {
	t.Helper()
	diff := new(big.Int).Sub(got, big.NewInt(want))
	if diff.CmpAbs(big.NewInt(tolerance)) > 0 {
		t.Fatalf("expected %d ±%d, got %s", want, tolerance, got)
	}
}
