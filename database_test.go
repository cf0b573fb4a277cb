package main

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestPersistAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	g := newTestGame(RoleWerewolf, RoleVillager, RoleWitch, RoleExecutioner)
	g.States[4].ExecutionerTarget = 2
	g.Ledger = NewActionLedger(1)
	g.Ledger.Submit(ActionWerewolfVote, 1, 2)

	if err := store.Persist(ctx, g.ID, "", g); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	loaded, err := store.Load(ctx, g.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !slices.Equal(loaded.JoinOrder, g.JoinOrder) || loaded.Name(3) != "Carol" {
		t.Errorf("Roster did not survive, got %v", loaded.Roster())
	}
	if loaded.States[3].Role != RoleWitch || loaded.States[4].ExecutionerTarget != 2 {
		t.Errorf("Player states did not survive: %+v %+v", *loaded.States[3], *loaded.States[4])
	}
	if !loaded.State.Potions.Kill || loaded.State.Phase != PhaseNight {
		t.Errorf("Game state did not survive: %+v", loaded.State)
	}
	if e, ok := loaded.Ledger.First(ActionWerewolfVote); !ok || e.Actor != 1 || e.Target() != 2 {
		t.Errorf("Ledger did not survive: %+v", loaded.Ledger)
	}
}

func TestPersistPartialPath(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	g := newTestGame(RoleWerewolf, RoleVillager, RoleSeer, RoleVillager)
	g.Ledger = NewActionLedger(1)
	if err := store.Persist(ctx, g.ID, "", g); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		path  string
		value any
	}{
		{"night_actions/entries/seer_pick/3", Submission{Targets: []PlayerID{1}, Seq: 1}},
		{"night_actions/seq", 1},
		{"player_states/2/is_alive", false},
		{"game_state/witch_potions", WitchPotions{Kill: false, Save: true}},
	}
	for _, s := range steps {
		if err := store.Persist(ctx, g.ID, s.path, s.value); err != nil {
			t.Fatalf("Persist %s: %v", s.path, err)
		}
	}

	loaded, err := store.Load(ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if e, ok := loaded.Ledger.First(ActionSeerPick); !ok || e.Target() != 1 || loaded.Ledger.Seq != 1 {
		t.Errorf("Expected the seer pick under the ledger, got %+v", loaded.Ledger)
	}
	if loaded.IsAlive(2) || !loaded.IsAlive(3) {
		t.Error("Only Bob's is_alive should have changed")
	}
	if loaded.State.Potions.Kill || !loaded.State.Potions.Save {
		t.Errorf("Unexpected potions %+v", loaded.State.Potions)
	}
	if loaded.States[3].Role != RoleSeer {
		t.Error("Siblings of a partial write must be kept")
	}
}

func TestPersistReplacesSubtree(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	g := newTestGame(RoleWerewolf, RoleVillager, RoleVillager, RoleVillager)
	g.State.DayVotes = ballots([2]PlayerID{1, 2}, [2]PlayerID{3, 2})
	if err := store.Persist(ctx, g.ID, "", g); err != nil {
		t.Fatal(err)
	}
	if err := store.Persist(ctx, g.ID, "game_state/day_votes", VoteLedger{4: {Target: 1, Seq: 3}}); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load(ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.State.DayVotes) != 1 || loaded.State.DayVotes[4].Target != 1 {
		t.Errorf("Old ballots should be gone, got %v", loaded.State.DayVotes)
	}
}

func TestPersistRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.Persist(ctx, "x", "", 42); err == nil {
		t.Error("A document root must be an object")
	}
	if err := store.Persist(ctx, "x", "settings", map[string]int{"a/b": 1}); err == nil {
		t.Error("Keys containing a slash must be rejected")
	}
}

func TestLoadDeleteAndSessions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	for _, id := range []string{"b", "a"} {
		g := newTestGame(RoleWerewolf, RoleVillager)
		g.ID = id
		if err := store.Persist(ctx, id, "", g); err != nil {
			t.Fatal(err)
		}
		if err := store.AppendHistory(ctx, id, 1, PhaseNight, "night of "+id); err != nil {
			t.Fatal(err)
		}
	}
	ids, err := store.Sessions(ctx)
	if err != nil || !slices.Equal(ids, []string{"a", "b"}) {
		t.Fatalf("Expected sessions [a b], got %v (%v)", ids, err)
	}

	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Deleted session should be gone, got %v", err)
	}
	if h, _ := store.History(ctx, "a"); len(h) != 0 {
		t.Errorf("History should be deleted too, got %v", h)
	}
	if h, _ := store.History(ctx, "b"); !slices.Equal(h, []string{"night of b"}) {
		t.Errorf("Other sessions keep their history, got %v", h)
	}
}

func TestHistoryOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for i, text := range []string{"first", "", "second", "third"} {
		if err := store.AppendHistory(ctx, "g", i, PhaseNight, text); err != nil {
			t.Fatal(err)
		}
	}
	h, err := store.History(ctx, "g")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(h, []string{"first", "second", "third"}) {
		t.Errorf("Expected history in order without blanks, got %v", h)
	}
}

func TestPlayersAndLogins(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	p, err := store.CreatePlayer(ctx, "Alice", "cafe")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreatePlayer(ctx, "Alice", "beef"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Duplicate name should be forbidden, got %v", err)
	}
	if _, err := store.FindPlayer(ctx, "Alice", "beef"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Wrong secret should not match, got %v", err)
	}
	found, err := store.FindPlayer(ctx, "Alice", "cafe")
	if err != nil || found != p {
		t.Errorf("Expected %+v, got %+v (%v)", p, found, err)
	}

	if err := store.CreateLogin(ctx, 1234, p.ID); err != nil {
		t.Fatal(err)
	}
	if id, err := store.LoginPlayer(ctx, 1234); err != nil || id != p.ID {
		t.Errorf("Expected login for %d, got %d (%v)", p.ID, id, err)
	}
	if err := store.DeleteLogin(ctx, 1234); err != nil {
		t.Fatal(err)
	}
	if _, err := store.LoginPlayer(ctx, 1234); !errors.Is(err, ErrNotFound) {
		t.Errorf("Deleted login should be gone, got %v", err)
	}
}
