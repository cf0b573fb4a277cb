package main

import (
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"slices"
)

// Randomizer is the only source of chance in the engine. *math/rand/v2.Rand
// satisfies it, which is what tests use for replayable games.
type Randomizer interface {
	IntN(n int) int
	Shuffle(n int, swap func(i, j int))
}

// cryptoRand draws from crypto/rand.
type cryptoRand struct{}

func (cryptoRand) IntN(n int) int {
	if n <= 1 {
		return 0
	}
	jBig, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		log.Printf("cryptoRand: %v", err)
		return 0
	}
	return int(jBig.Int64())
}

func (c cryptoRand) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		swap(i, c.IntN(i+1))
	}
}

// pick returns a uniformly chosen element of ids.
func pick(rng Randomizer, ids []PlayerID) PlayerID {
	return ids[rng.IntN(len(ids))]
}

// AssignRoles partitions the roster into roles and returns fresh player states.
// ratio is the number of players per werewolf; minPlayers the smallest roster allowed.
func AssignRoles(players []Player, enabled []Role, ratio, minPlayers int, rng Randomizer) (map[PlayerID]*PlayerState, error) {
	if len(players) < minPlayers {
		return nil, fmt.Errorf("need at least %d players, have %d: %w", minPlayers, len(players), ErrConfiguration)
	}
	for role, spec := range roleTable {
		if spec.Mandatory && !slices.Contains(enabled, role) {
			return nil, fmt.Errorf("role %s must be enabled: %w", role, ErrConfiguration)
		}
	}
	if ratio < 1 {
		ratio = 4
	}

	order := slices.Clone(players)
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	n := len(order)

	var specials []Role
	for _, r := range enabled {
		if r == RoleVillager || r == RoleWerewolf || r == RoleSorcerer || r == RoleAlphaWolf {
			continue
		}
		if !slices.Contains(specials, r) {
			specials = append(specials, r)
		}
	}
	rng.Shuffle(len(specials), func(i, j int) { specials[i], specials[j] = specials[j], specials[i] })

	wolves := max(1, n/ratio)
	var roles []Role
	for range wolves {
		roles = append(roles, RoleWerewolf)
	}
	if wolves > 1 && slices.Contains(enabled, RoleAlphaWolf) {
		roles[0] = RoleAlphaWolf
	}
	if slices.Contains(enabled, RoleSorcerer) {
		roles = append(roles, RoleSorcerer)
	}

	for _, r := range specials {
		if len(roles) >= n {
			break
		}
		roles = append(roles, r)
	}
	for len(roles) < n {
		roles = append(roles, RoleVillager)
	}
	// a tiny roster drops the sorcerer before any wolf
	roles = roles[:n]
	rng.Shuffle(len(roles), func(i, j int) { roles[i], roles[j] = roles[j], roles[i] })

	states := make(map[PlayerID]*PlayerState, n)
	var executioner PlayerID
	for i, p := range order {
		states[p.ID] = &PlayerState{
			Role:          roles[i],
			IsAlive:       true,
			VeteranAlerts: 1,
		}
		if roles[i] == RoleExecutioner && executioner == 0 {
			executioner = p.ID
		}
	}

	if executioner != 0 {
		var candidates []PlayerID
		for _, p := range players {
			r := states[p.ID].Role
			if r != RoleExecutioner && !r.IsWerewolfFaction() {
				candidates = append(candidates, p.ID)
			}
		}
		if len(candidates) > 0 {
			states[executioner].ExecutionerTarget = pick(rng, candidates)
		}
	}

	DebugLog("AssignRoles: %d players, %d werewolves, roles %v", n, wolves, roles)
	return states, nil
}
