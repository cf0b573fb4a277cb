package main

import (
	"fmt"
	"log"
	"slices"
	"strings"
)

const quietNightStory = "A new day dawns on the village, and the night was peacefully quiet. No one died!"

// Vision is a private result delivered to a seer or sorcerer at dawn.
type Vision struct {
	Kind   ActionKind // ActionSeerPick or ActionSorcererPick
	Actor  PlayerID
	Target PlayerID
	Role   Role // seer visions only
	IsSeer bool // sorcerer visions only
}

// NightResult is the outcome of one resolution pass over a night's ledger.
type NightResult struct {
	Game      *Game
	Story     []string
	Narrative string
	Deaths    []PlayerID
	Visions   []Vision
}

// nightResolver carries the state of a single pass.
type nightResolver struct {
	g      *Game
	l      *ActionLedger
	rng    Randomizer
	story  []string
	deaths []PlayerID
	visits map[PlayerID][]PlayerID
}

// ResolveNight applies the night's ledger to a copy of g and reports what happened.
// It never fails: malformed entries are logged and treated as no action.
func ResolveNight(g *Game, l *ActionLedger, rng Randomizer) NightResult {
	r := &nightResolver{
		g:      g.Clone(),
		l:      l,
		rng:    rng,
		visits: map[PlayerID][]PlayerID{},
	}
	if r.l == nil {
		r.l = NewActionLedger(g.State.Night)
	}

	attack := r.computeVisits()
	attack = r.ambush(attack)
	r.resolveAttack(attack)
	r.resolveWitchKill()
	r.douse()
	r.ignite()
	visions := r.visions()

	narrative := strings.Join(r.story, "\n")
	if narrative == "" {
		narrative = quietNightStory
	}
	return NightResult{
		Game:      r.g,
		Story:     r.story,
		Narrative: narrative,
		Deaths:    r.deaths,
		Visions:   visions,
	}
}

func (r *nightResolver) tell(format string, args ...any) {
	r.story = append(r.story, fmt.Sprintf(format, args...))
}

func (r *nightResolver) dead(id PlayerID) bool {
	return slices.Contains(r.deaths, id) || !r.g.IsAlive(id)
}

// acting returns the entries of kind whose actor holds a role allowed to
// submit it and is still alive at this point of the pass.
func (r *nightResolver) acting(kind ActionKind) []Entry {
	var out []Entry
	for _, e := range r.l.List(kind) {
		st, ok := r.g.state(e.Actor)
		if !ok {
			log.Printf("ResolveNight: %s from unknown actor %d: %v", kind, e.Actor, ErrMissingTarget)
			continue
		}
		if !st.Role.CanSubmit(kind) || r.dead(e.Actor) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// target validates an entry's target against the roster.
func (r *nightResolver) target(kind ActionKind, e Entry) (PlayerID, bool) {
	t := e.Target()
	if t == 0 {
		return 0, false
	}
	if _, ok := r.g.state(t); !ok {
		log.Printf("ResolveNight: %s by %d targets %d: %v", kind, e.Actor, t, ErrMissingTarget)
		return 0, false
	}
	return t, true
}

// first returns the earliest acting entry of kind that has a valid target.
func (r *nightResolver) first(kind ActionKind) (Entry, PlayerID, bool) {
	for _, e := range r.acting(kind) {
		if t, ok := r.target(kind, e); ok {
			return e, t, true
		}
	}
	return Entry{}, 0, false
}

// kill is the death helper: it marks id dead, takes a bonded partner along,
// and returns who died from this call. Already-dead ids are a no-op.
func (r *nightResolver) kill(id PlayerID) []PlayerID {
	newly := killPlayer(r.g, id, func(partner PlayerID) {
		r.tell("Upon seeing their beloved's fate, %s died of a broken heart.", r.g.Name(partner))
	})
	r.deaths = append(r.deaths, newly...)
	return newly
}

// killPlayer is shared by the night and day pipelines.
func killPlayer(g *Game, id PlayerID, heartbreak func(partner PlayerID)) []PlayerID {
	st, ok := g.state(id)
	if !ok || !st.IsAlive {
		return nil
	}
	st.IsAlive = false
	newly := []PlayerID{id}
	if st.Partner != 0 {
		if ps, ok := g.state(st.Partner); ok && ps.IsAlive {
			ps.IsAlive = false
			newly = append(newly, st.Partner)
			if heartbreak != nil {
				heartbreak(st.Partner)
			}
		}
	}
	return newly
}

// pluralityTarget picks the most voted target, breaking ties at random.
// preferred wins a tie when it is among the leaders.
func pluralityTarget(counts map[PlayerID]int, preferred PlayerID, rng Randomizer) PlayerID {
	best := 0
	var tied []PlayerID
	for id, n := range counts {
		switch {
		case n > best:
			best = n
			tied = []PlayerID{id}
		case n == best:
			tied = append(tied, id)
		}
	}
	if len(tied) == 0 {
		return 0
	}
	if preferred != 0 && slices.Contains(tied, preferred) {
		return preferred
	}
	slices.Sort(tied)
	return pick(rng, tied)
}

// computeVisits builds the target -> visitors map and returns the wolf target.
func (r *nightResolver) computeVisits() PlayerID {
	counts := map[PlayerID]int{}
	var wolves []PlayerID
	for _, e := range r.acting(ActionWerewolfVote) {
		voted := false
		for _, t := range e.Targets {
			if _, ok := r.g.state(t); !ok {
				log.Printf("ResolveNight: werewolf vote by %d targets %d: %v", e.Actor, t, ErrMissingTarget)
				continue
			}
			counts[t]++
			voted = true
		}
		if voted {
			wolves = append(wolves, e.Actor)
		}
	}
	attack := pluralityTarget(counts, r.l.AttackTarget, r.rng)
	if attack != 0 {
		r.visits[attack] = append(r.visits[attack], wolves...)
	}

	for _, kind := range visitKinds {
		for _, e := range r.acting(kind) {
			if t, ok := r.target(kind, e); ok {
				r.visits[t] = append(r.visits[t], e.Actor)
			}
		}
	}
	return attack
}

// ambush shoots everyone visiting an alert veteran and cancels an attack on them.
func (r *nightResolver) ambush(attack PlayerID) PlayerID {
	for _, e := range r.acting(ActionVeteranAlert) {
		vet := r.g.States[e.Actor]
		if vet.VeteranAlerts <= 0 {
			log.Printf("ResolveNight: veteran %d has no alerts left", e.Actor)
			continue
		}
		vet.VeteranAlerts--
		vet.IsOnAlert = true

		r.tell("A paranoid veteran, %s, was on alert tonight!", r.g.Name(e.Actor))
		visitors := r.visits[e.Actor]
		if len(visitors) == 0 {
			r.tell("They watched the door all night, but no one came.")
		}
		for _, v := range visitors {
			if v == e.Actor || r.dead(v) {
				continue
			}
			r.tell("%s was shot by the veteran!", r.g.Name(v))
			r.kill(v)
		}
		if attack == e.Actor {
			attack = 0
		}
	}
	return attack
}

func (r *nightResolver) resolveAttack(attack PlayerID) {
	if attack == 0 || r.dead(attack) {
		return
	}
	name := r.g.Name(attack)
	target := r.g.States[attack]

	if _, ok := r.witchSave(); ok {
		target.IsHealedThisNight = true
		r.tell("The werewolves targeted %s, but the witch brewed a potion of life and saved them from the brink!", name)
		return
	}
	if _, t, ok := r.first(ActionDoctorSave); ok && t == attack {
		target.IsHealedThisNight = true
		r.tell("A terrible howl was heard near %s's house, but a skilled doctor intervened and saved them!", name)
		return
	}
	if e, t, ok := r.first(ActionBodyguardProtect); ok && t == attack && e.Actor != attack {
		target.IsProtected = true
		r.tell("The werewolves descended upon %s, but the bodyguard %s died in their place. A true hero has fallen.", name, r.g.Name(e.Actor))
		r.kill(e.Actor)
		return
	}
	r.tell("A blood-curdling scream pierced the night. %s was killed by werewolves.", name)
	r.kill(attack)
}

// witchSave spends the save potion when a living witch asked for it.
func (r *nightResolver) witchSave() (Entry, bool) {
	for _, e := range r.acting(ActionWitchSave) {
		if !e.Flag && len(e.Targets) == 0 {
			continue
		}
		if !r.g.State.Potions.Save {
			log.Printf("ResolveNight: witch %d has no save potion left", e.Actor)
			return Entry{}, false
		}
		r.g.State.Potions.Save = false
		return e, true
	}
	return Entry{}, false
}

// resolveWitchKill spends the kill potion even when a doctor saves the target.
func (r *nightResolver) resolveWitchKill() {
	_, t, ok := r.first(ActionWitchKill)
	if !ok || r.dead(t) {
		return
	}
	if !r.g.State.Potions.Kill {
		log.Printf("ResolveNight: witch kill on %d ignored, potion already spent", t)
		return
	}
	r.g.State.Potions.Kill = false

	name := r.g.Name(t)
	if _, saved, ok := r.first(ActionDoctorSave); ok && saved == t {
		r.g.States[t].IsHealedThisNight = true
		r.tell("The witch threw a deadly potion at %s, but the doctor was one step ahead with an antidote!", name)
		return
	}
	r.tell("In the dead of night the witch brewed a deadly concoction, and %s was found lifeless at dawn.", name)
	r.kill(t)
}

func (r *nightResolver) douse() {
	for _, e := range r.acting(ActionArsonistDouse) {
		if t, ok := r.target(ActionArsonistDouse, e); ok && t != e.Actor {
			r.g.States[t].IsDoused = true
		}
	}
}

// ignite burns every doused living player, ignoring all protection.
func (r *nightResolver) ignite() {
	if len(r.acting(ActionArsonistIgnite)) == 0 {
		return
	}
	var burning []PlayerID
	for _, id := range r.g.JoinOrder {
		if st, ok := r.g.state(id); ok && st.IsDoused && !r.dead(id) {
			burning = append(burning, id)
		}
	}
	if len(burning) == 0 {
		return
	}
	r.tell("A brilliant inferno engulfs the village! The arsonist has revealed their fiery plot!")
	for _, id := range burning {
		if r.dead(id) {
			continue
		}
		r.tell("%s was consumed by the flames!", r.g.Name(id))
		r.kill(id)
	}
}

func (r *nightResolver) visions() []Vision {
	var out []Vision
	for _, e := range r.acting(ActionSeerPick) {
		if t, ok := r.target(ActionSeerPick, e); ok {
			out = append(out, Vision{Kind: ActionSeerPick, Actor: e.Actor, Target: t, Role: r.g.States[t].Role})
		}
	}
	for _, e := range r.acting(ActionSorcererPick) {
		if t, ok := r.target(ActionSorcererPick, e); ok {
			out = append(out, Vision{Kind: ActionSorcererPick, Actor: e.Actor, Target: t, IsSeer: r.g.States[t].Role == RoleSeer})
		}
	}
	return out
}

// previewAttack computes the wolf target as the witch will be told about it.
func previewAttack(g *Game, l *ActionLedger, rng Randomizer) PlayerID {
	r := &nightResolver{g: g, l: l, rng: rng, visits: map[PlayerID][]PlayerID{}}
	return r.computeVisits()
}
