package main

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

var (
	// ErrConfiguration rejects a start attempt: roster too small, mandatory role missing.
	ErrConfiguration = errors.New("invalid game configuration")
	// ErrState rejects a command issued in the wrong phase.
	ErrState = errors.New("not allowed in the current phase")
	// ErrMissingTarget marks a ledger entry pointing at a player outside the roster.
	ErrMissingTarget = errors.New("target is not in the roster")
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
)

type PlayerID int64

type Phase string

const (
	PhaseWaiting Phase = "WAITING"
	PhaseNight   Phase = "NIGHT"
	PhaseDay     Phase = "DAY"
	PhaseVoting  Phase = "VOTING"
	PhaseEnded   Phase = "ENDED"
)

// Winner names the side that ended the game. The zero value means the game goes on.
type Winner string

const (
	WinnerNone        Winner = ""
	WinnerVillage     Winner = "Village"
	WinnerWerewolves  Winner = "Werewolves"
	WinnerLovers      Winner = "Lovers"
	WinnerArsonist    Winner = "Arsonist"
	WinnerJester      Winner = "Jester"
	WinnerExecutioner Winner = "Executioner"
)

type Player struct {
	ID   PlayerID `json:"id" db:"id"`
	Name string   `json:"name" db:"name"`
}

// PlayerState is created at role assignment and mutated for the rest of the game.
type PlayerState struct {
	Role              Role     `json:"role"`
	IsAlive           bool     `json:"is_alive"`
	IsProtected       bool     `json:"is_protected"`
	IsHealedThisNight bool     `json:"is_healed_this_night"`
	IsDoused          bool     `json:"is_doused"`
	IsMayorRevealed   bool     `json:"is_mayor_revealed"`
	IsOnAlert         bool     `json:"is_on_alert"`
	VeteranAlerts     int      `json:"veteran_alerts"`
	Partner           PlayerID `json:"partner,omitempty"`
	ExecutionerTarget PlayerID `json:"executioner_target,omitempty"`
}

type WitchPotions struct {
	Kill bool `json:"kill"`
	Save bool `json:"save"`
}

type GameState struct {
	Phase    Phase        `json:"phase"`
	Night    int          `json:"night"`
	Potions  WitchPotions `json:"witch_potions"`
	DayVotes VoteLedger   `json:"day_votes,omitempty"`
	VoteSeq  uint64       `json:"vote_seq"`
}

type Settings struct {
	Roles []Role `json:"roles"`
}

// Game is the whole session document as persisted under its session id.
type Game struct {
	ID        string                    `json:"id"`
	CreatorID PlayerID                  `json:"creator_id"`
	Players   map[PlayerID]Player       `json:"players"`
	JoinOrder []PlayerID                `json:"join_order"`
	Settings  Settings                  `json:"settings"`
	States    map[PlayerID]*PlayerState `json:"player_states,omitempty"`
	State     GameState                 `json:"game_state"`
	Ledger    *ActionLedger             `json:"night_actions,omitempty"`
	Winner    Winner                    `json:"winner,omitempty"`
}

// NewGame opens a lobby with the creator as its first player.
func NewGame(id string, creator Player, roles []Role) *Game {
	g := &Game{
		ID:        id,
		CreatorID: creator.ID,
		Players:   map[PlayerID]Player{},
		Settings:  Settings{Roles: slices.Clone(roles)},
		State:     GameState{Phase: PhaseWaiting},
	}
	g.AddPlayer(creator)
	return g
}

// AddPlayer reports false when the player already sits in the lobby.
func (g *Game) AddPlayer(p Player) bool {
	if _, ok := g.Players[p.ID]; ok {
		return false
	}
	g.Players[p.ID] = p
	g.JoinOrder = append(g.JoinOrder, p.ID)
	return true
}

// Roster returns the players in join order.
func (g *Game) Roster() []Player {
	roster := make([]Player, 0, len(g.JoinOrder))
	for _, id := range g.JoinOrder {
		roster = append(roster, g.Players[id])
	}
	return roster
}

func (g *Game) Name(id PlayerID) string {
	if p, ok := g.Players[id]; ok {
		return p.Name
	}
	return fmt.Sprintf("player #%d", id)
}

func (g *Game) state(id PlayerID) (*PlayerState, bool) {
	st, ok := g.States[id]
	return st, ok && st != nil
}

func (g *Game) IsAlive(id PlayerID) bool {
	st, ok := g.state(id)
	return ok && st.IsAlive
}

// AlivePlayers lists living players in join order.
func (g *Game) AlivePlayers() []PlayerID {
	var alive []PlayerID
	for _, id := range g.JoinOrder {
		if g.IsAlive(id) {
			alive = append(alive, id)
		}
	}
	return alive
}

// PlayersWithRole lists players holding role in join order, dead or alive.
func (g *Game) PlayersWithRole(role Role) []PlayerID {
	var ids []PlayerID
	for _, id := range g.JoinOrder {
		if st, ok := g.state(id); ok && st.Role == role {
			ids = append(ids, id)
		}
	}
	return ids
}

// Bond links two living players. A game has at most one bonded pair.
func (g *Game) Bond(a, b PlayerID) error {
	if a == b {
		return fmt.Errorf("cannot bond a player to themselves: %w", ErrForbidden)
	}
	for _, st := range g.States {
		if st != nil && st.Partner != 0 {
			return fmt.Errorf("a bonded pair already exists: %w", ErrForbidden)
		}
	}
	sa, okA := g.state(a)
	sb, okB := g.state(b)
	if !okA || !okB {
		return ErrMissingTarget
	}
	if !sa.IsAlive || !sb.IsAlive {
		return fmt.Errorf("cannot bond a dead player: %w", ErrForbidden)
	}
	sa.Partner = b
	sb.Partner = a
	return nil
}

// Clone deep-copies everything the resolution passes mutate.
func (g *Game) Clone() *Game {
	c := *g
	c.Players = maps.Clone(g.Players)
	c.JoinOrder = slices.Clone(g.JoinOrder)
	c.Settings.Roles = slices.Clone(g.Settings.Roles)
	if g.States != nil {
		c.States = make(map[PlayerID]*PlayerState, len(g.States))
		for id, st := range g.States {
			if st == nil {
				continue
			}
			cp := *st
			c.States[id] = &cp
		}
	}
	c.State.DayVotes = maps.Clone(g.State.DayVotes)
	if g.Ledger != nil {
		c.Ledger = g.Ledger.Clone()
	}
	return &c
}
