package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test logger
// ============================================================================

// TestLogger wraps AppLogger for test use with testing.T integration
type TestLogger struct {
	*AppLogger
	t *testing.T
}

// NewTestLogger creates a test logger; TEST_DEBUG=1 turns on debug output
func NewTestLogger(t *testing.T) *TestLogger {
	al := &AppLogger{debug: os.Getenv("TEST_DEBUG") == "1"}
	return &TestLogger{AppLogger: al, t: t}
}

// Debug logs a debug message using testing.T.Logf
func (tl *TestLogger) Debug(format string, args ...any) {
	if !tl.debug {
		return
	}
	tl.t.Logf("[DEBUG] "+format, args...)
}

// ============================================================================
// Fixtures
// ============================================================================

func newTestRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x5eed))
}

// newTestStore opens a fresh sqlite file per test.
func newTestStore(t *testing.T) *sqlStore {
	t.Helper()
	conn, err := openDB(filepath.Join(t.TempDir(), "werewolf.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return newSQLStore(conn)
}

// newTestGame builds a game past role assignment. Player i+1 gets roles[i].
func newTestGame(roles ...Role) *Game {
	names := []string{"Alice", "Bob", "Carol", "Dave", "Eve", "Frank", "Grace", "Heidi", "Ivan", "Judy"}
	g := NewGame("test", Player{ID: 1, Name: names[0]}, []Role{RoleVillager, RoleWerewolf})
	g.States = map[PlayerID]*PlayerState{}
	for i, r := range roles {
		id := PlayerID(i + 1)
		g.AddPlayer(Player{ID: id, Name: names[i]})
		g.States[id] = &PlayerState{Role: r, IsAlive: true, VeteranAlerts: 1}
	}
	g.State = GameState{Phase: PhaseNight, Night: 1, Potions: WitchPotions{Kill: true, Save: true}}
	return g
}

// ============================================================================
// Fakes
// ============================================================================

type sentMessage struct {
	to  Recipient
	msg Message
}

// recordingNotifier implements Notifier and Solicitor and keeps everything it was given.
type recordingNotifier struct {
	mu      sync.Mutex
	sent    []sentMessage
	prompts []sentMessage
	fail    map[PlayerID]bool // recipients that are unreachable
}

func (n *recordingNotifier) Notify(ctx context.Context, to Recipient, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail[to.Player] {
		return errors.New("recipient unreachable")
	}
	n.sent = append(n.sent, sentMessage{to: to, msg: msg})
	return nil
}

func (n *recordingNotifier) Solicit(ctx context.Context, to Recipient, p Prompt) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail[to.Player] {
		return errors.New("recipient unreachable")
	}
	n.prompts = append(n.prompts, sentMessage{to: to, msg: renderPrompt(p)})
	return nil
}

func (n *recordingNotifier) messages(kind MessageKind) []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentMessage
	for _, m := range n.sent {
		if m.msg.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (n *recordingNotifier) promptsFor(player PlayerID) []Prompt {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Prompt
	for _, m := range n.prompts {
		if m.to.Player == player {
			out = append(out, *m.msg.Prompt)
		}
	}
	return out
}

// manualClock hands every wait to the test, which decides when it elapses.
type manualClock struct {
	waits chan chan time.Time
}

func newManualClock() *manualClock {
	return &manualClock{waits: make(chan chan time.Time, 16)}
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.waits <- ch
	return ch
}

// next blocks until the phase loop waits on the clock, i.e. the current step is done.
func (c *manualClock) next(t *testing.T) chan time.Time {
	t.Helper()
	select {
	case ch := <-c.waits:
		return ch
	case <-time.After(5 * time.Second):
		t.Fatal("phase loop never waited on the clock")
		return nil
	}
}

// advance lets the pending wait elapse and blocks until the loop waits again.
func (c *manualClock) advance(t *testing.T, pending chan time.Time) chan time.Time {
	t.Helper()
	pending <- time.Now()
	return c.next(t)
}

type mockStoryteller struct {
	text  string
	err   error
	delay time.Duration

	mu      sync.Mutex
	history [][]string
}

func (m *mockStoryteller) Tell(ctx context.Context, history []string) (string, error) {
	m.mu.Lock()
	m.history = append(m.history, history)
	m.mu.Unlock()
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.text, m.err
}

func newTestEnv(t *testing.T) (*Env, *recordingNotifier, *manualClock) {
	t.Helper()
	n := &recordingNotifier{}
	clock := newManualClock()
	env := &Env{
		Store:     newTestStore(t),
		Notifier:  n,
		Solicitor: n,
		Clock:     clock,
		Rand:      newTestRand(1),
		Config: GameConfig{
			Roles:            []Role{RoleVillager, RoleWerewolf},
			MinPlayers:       4,
			WerewolfRatio:    4,
			NightWindow:      time.Minute,
			WitchWindow:      time.Minute,
			DiscussionWindow: time.Minute,
			Moderators:       []string{"Mod"},
		},
	}
	return env, n, clock
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
