package main

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
)

var (
	alice = Player{ID: 1, Name: "Alice"}
	bob   = Player{ID: 2, Name: "Bob"}
	carol = Player{ID: 3, Name: "Carol"}
	dave  = Player{ID: 4, Name: "Dave"}
)

func TestRegistryLobbyCommands(t *testing.T) {
	ctx := context.Background()
	env, n, clock := newTestEnv(t)
	r := NewRegistry(env)

	if err := r.Handle(ctx, alice, WSMessage{Action: "create", Channel: "village"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if toasts := n.messages(KindToast); len(toasts) != 1 || toasts[0].to.Player != alice.ID || toasts[0].msg.Type != toastSuccess {
		t.Errorf("Creator should get a success toast, got %+v", toasts)
	}
	if _, err := r.Create(ctx, "village", bob); !errors.Is(err, ErrForbidden) {
		t.Errorf("One game per channel, got %v", err)
	}

	steps := []struct {
		player Player
		msg    WSMessage
		want   error
	}{
		{bob, WSMessage{Action: "join", Channel: "village"}, nil},
		{bob, WSMessage{Action: "join", Channel: "village"}, ErrForbidden},
		{bob, WSMessage{Action: "join", Channel: "nowhere"}, ErrNotFound},
		{bob, WSMessage{Action: "settings", Channel: "village", Roles: []string{"Seer"}}, ErrForbidden},
		{alice, WSMessage{Action: "settings", Channel: "village", Roles: []string{"Seer", "Bogus"}}, ErrConfiguration},
		{alice, WSMessage{Action: "settings", Channel: "village", Roles: []string{"Seer", "Werewolf"}}, nil},
		{alice, WSMessage{Action: "start", Channel: "village"}, ErrConfiguration},
		{alice, WSMessage{Action: "day_vote", Channel: "village"}, ErrForbidden},
		{alice, WSMessage{Action: "dance", Channel: "village"}, ErrForbidden},
		{carol, WSMessage{Action: "join", Channel: "village"}, nil},
		{dave, WSMessage{Action: "join", Channel: "village"}, nil},
	}
	for _, s := range steps {
		err := r.Handle(ctx, s.player, s.msg)
		if s.want == nil && err != nil || s.want != nil && !errors.Is(err, s.want) {
			t.Errorf("%s %s: expected %v, got %v", s.player.Name, s.msg.Action, s.want, err)
		}
	}

	s, ok := r.Get("village")
	if !ok {
		t.Fatal("Session should be registered")
	}
	snap := s.Snapshot()
	if !slices.Equal(snap.Settings.Roles, []Role{RoleVillager, RoleWerewolf, RoleSeer}) {
		t.Errorf("Unexpected roles %v", snap.Settings.Roles)
	}
	if snap.State.Phase != PhaseWaiting {
		t.Errorf("A failed start must leave the lobby waiting, got %s", snap.State.Phase)
	}
	if got := r.Members("village"); !slices.Equal(got, []PlayerID{1, 2, 3, 4}) {
		t.Errorf("Unexpected members %v", got)
	}

	if err := r.Handle(ctx, alice, WSMessage{Action: "start", Channel: "village"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.next(t)
	defer r.Shutdown()

	snap = s.Snapshot()
	wolf := snap.PlayersWithRole(RoleWerewolf)[0]
	var prey PlayerID
	for _, id := range snap.AlivePlayers() {
		if id != wolf {
			prey = id
			break
		}
	}
	err := r.Handle(ctx, Player{ID: wolf, Name: snap.Name(wolf)}, WSMessage{Action: string(ActionWerewolfVote), Channel: "village", Targets: []PlayerID{prey}})
	if err != nil {
		t.Fatalf("werewolf_vote: %v", err)
	}
	if e, ok := s.Snapshot().Ledger.First(ActionWerewolfVote); !ok || e.Target() != prey {
		t.Error("The wolf vote should be in the ledger")
	}
	if err := r.Handle(ctx, bob, WSMessage{Action: "join", Channel: "village"}); !errors.Is(err, ErrState) {
		t.Errorf("Joining a running game should be a state error, got %v", err)
	}
}

func TestModeratorEndsGame(t *testing.T) {
	ctx := context.Background()
	env, n, _ := newTestEnv(t)
	r := NewRegistry(env)
	if _, err := r.Create(ctx, "village", alice); err != nil {
		t.Fatal(err)
	}

	if err := r.Handle(ctx, alice, WSMessage{Action: "end", Channel: "village"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("Only moderators can end a game, got %v", err)
	}
	if err := r.End(ctx, "elsewhere", Player{ID: 9, Name: "Mod"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Ending an unknown channel should be not found, got %v", err)
	}
	if err := r.End(ctx, "village", Player{ID: 9, Name: "Mod"}); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, ok := r.Get("village"); ok {
		t.Error("Ended sessions should leave the registry")
	}
	if _, err := env.Store.Load(ctx, "village"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Ended sessions should leave the store, got %v", err)
	}
	if len(n.messages(KindReveal)) != 1 {
		t.Error("Ending a game shows the reveal")
	}
	if _, err := r.Create(ctx, "village", bob); err != nil {
		t.Errorf("The channel should be free again, got %v", err)
	}
}

func TestRestoreResumesStoredGames(t *testing.T) {
	ctx := context.Background()
	env, _, clock := newTestEnv(t)

	live := newTestGame(RoleWerewolf, RoleVillager, RoleVillager, RoleVillager)
	live.ID = "live"
	live.State.Phase = PhaseVoting
	live.State.DayVotes = ballots([2]PlayerID{2, 1}, [2]PlayerID{3, 1})
	live.State.VoteSeq = 2
	over := newTestGame(RoleWerewolf, RoleVillager)
	over.ID = "over"
	over.State.Phase = PhaseEnded
	for _, g := range []*Game{live, over} {
		if err := env.Store.Persist(ctx, g.ID, "", g); err != nil {
			t.Fatal(err)
		}
	}

	r := NewRegistry(env)
	if err := r.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	defer r.Shutdown()
	clock.next(t)

	if _, ok := r.Get("over"); ok {
		t.Error("Ended games should not be restored")
	}
	if _, err := env.Store.Load(ctx, "over"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Ended games should be dropped from the store, got %v", err)
	}
	s, ok := r.Get("live")
	if !ok {
		t.Fatal("Live game should be restored")
	}
	snap := s.Snapshot()
	if snap.State.Phase != PhaseVoting || len(snap.State.DayVotes) != 2 {
		t.Errorf("A resumed vote keeps its ballots, got %+v", snap.State)
	}
	if err := s.Vote(ctx, 4, 1); err != nil {
		t.Errorf("Votes should be accepted after restore, got %v", err)
	}
	if got := s.Snapshot().State.DayVotes[4].Seq; got != 3 {
		t.Errorf("Vote sequence should continue from the stored value, got %d", got)
	}
}

func TestRejectionText(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrState, "You can't do that right now"},
		{ErrForbidden, "forbidden"},
		{ErrNotFound, "Not found"},
		{ErrMissingTarget, "Not found"},
		{errors.New("disk on fire"), "Something went wrong"},
	}
	for _, tt := range tests {
		if got := rejection(tt.err); !strings.HasPrefix(got, tt.want) {
			t.Errorf("rejection(%v) = %q, want prefix %q", tt.err, got, tt.want)
		}
	}
}
