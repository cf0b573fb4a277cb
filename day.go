package main

import (
	"fmt"
	"log"
	"slices"
	"strings"
)

const (
	quietDayStory = "The village could not make up its mind. No one was lynched today."
	mayorWeight   = 2
)

// LynchResult is the outcome of the day vote.
type LynchResult struct {
	Game      *Game
	Narrative string
	Target    PlayerID   // 0 when nobody was lynched
	Tied      []PlayerID // leaders of a tied vote, sorted by id
	Winner    Winner     // set by the jester and executioner hooks
	Converted PlayerID   // voter turned into a werewolf by the alpha hook
	Deaths    []PlayerID
}

// tallyVotes returns effective counts per target. A revealed mayor counts twice.
func tallyVotes(g *Game, votes VoteLedger) map[PlayerID]int {
	counts := map[PlayerID]int{}
	for voter, b := range votes {
		if !g.IsAlive(voter) {
			continue
		}
		if _, ok := g.state(b.Target); !ok {
			log.Printf("ResolveLynch: vote by %d targets %d: %v", voter, b.Target, ErrMissingTarget)
			continue
		}
		weight := 1
		// the reveal grants the weight, even if the mayor's role changes later
		if g.States[voter].IsMayorRevealed {
			weight = mayorWeight
		}
		counts[b.Target] += weight
	}
	return counts
}

// ResolveLynch tallies the day vote on a copy of g and applies the lynch.
// Day votes are cleared in the returned game whatever the outcome.
func ResolveLynch(g *Game, votes VoteLedger) LynchResult {
	res := LynchResult{Game: g.Clone()}
	ng := res.Game
	ng.State.DayVotes = VoteLedger{}

	counts := tallyVotes(ng, votes)
	if len(counts) == 0 {
		res.Narrative = quietDayStory
		return res
	}

	best := 0
	var leaders []PlayerID
	for id, n := range counts {
		switch {
		case n > best:
			best = n
			leaders = []PlayerID{id}
		case n == best:
			leaders = append(leaders, id)
		}
	}
	slices.Sort(leaders)
	if len(leaders) > 1 {
		names := make([]string, len(leaders))
		for i, id := range leaders {
			names[i] = ng.Name(id)
		}
		res.Tied = leaders
		res.Narrative = fmt.Sprintf("The vote is tied between %s with %d votes each. The village is in chaos and no one is lynched!", strings.Join(names, " and "), best)
		return res
	}

	target := leaders[0]
	res.Target = target
	st := ng.States[target]
	name := ng.Name(target)
	story := []string{fmt.Sprintf("The village has spoken. %s was lynched with %d votes. They were a %s.", name, best, st.Role)}

	switch roleTable[st.Role].OnLynch {
	case hookJesterWin:
		res.Winner = WinnerJester
		story = append(story, fmt.Sprintf("%s laughs from the gallows. The Jester wins!", name))
	case hookAlphaConvert:
		if convert := lastVoterFor(ng, votes, target); convert != 0 {
			ng.States[convert].Role = RoleWerewolf
			res.Converted = convert
			story = append(story, "With their dying breath, the Alpha Wolf cursed one of their accusers.")
		}
	}
	if res.Winner == WinnerNone {
		for _, exe := range ng.PlayersWithRole(RoleExecutioner) {
			if ng.States[exe].ExecutionerTarget == target {
				res.Winner = WinnerExecutioner
				story = append(story, fmt.Sprintf("%s got exactly what they wanted. The Executioner wins!", ng.Name(exe)))
				break
			}
		}
	}

	res.Deaths = killPlayer(ng, target, func(partner PlayerID) {
		story = append(story, fmt.Sprintf("Upon seeing their beloved's fate, %s died of a broken heart.", ng.Name(partner)))
	})
	res.Narrative = strings.Join(story, "\n")
	return res
}

// lastVoterFor returns the living voter whose ballot for target was cast last.
func lastVoterFor(g *Game, votes VoteLedger, target PlayerID) PlayerID {
	var last PlayerID
	for _, voter := range votes.Voters() {
		if votes[voter].Target == target && voter != target && g.IsAlive(voter) {
			last = voter
		}
	}
	return last
}
