package main

import (
	"maps"
	"slices"
	"sort"
)

// Submission is one actor's entry for one action kind. Seq stamps the write
// so "last submitted" never depends on map iteration order.
type Submission struct {
	Targets []PlayerID `json:"targets,omitempty"`
	Flag    bool       `json:"flag,omitempty"`
	Seq     uint64     `json:"seq"`
}

// Entry is a Submission together with its actor.
type Entry struct {
	Actor PlayerID
	Submission
}

// Target returns the first target, or 0 for flag-only submissions.
func (e Entry) Target() PlayerID {
	if len(e.Targets) == 0 {
		return 0
	}
	return e.Targets[0]
}

// ActionLedger collects one night's secret actions, keyed by kind then actor.
type ActionLedger struct {
	Night   int                                    `json:"night"`
	Seq     uint64                                 `json:"seq"`
	Entries map[ActionKind]map[PlayerID]Submission `json:"entries,omitempty"`
	// AttackTarget is the wolf target shown to the witch, 0 when none was shown.
	AttackTarget PlayerID `json:"attack_target,omitempty"`
	WitchCalled  bool     `json:"witch_called,omitempty"`
}

func NewActionLedger(night int) *ActionLedger {
	return &ActionLedger{Night: night, Entries: map[ActionKind]map[PlayerID]Submission{}}
}

func (l *ActionLedger) put(kind ActionKind, actor PlayerID, sub Submission) Submission {
	if l.Entries == nil {
		l.Entries = map[ActionKind]map[PlayerID]Submission{}
	}
	if l.Entries[kind] == nil {
		l.Entries[kind] = map[PlayerID]Submission{}
	}
	l.Seq++
	sub.Seq = l.Seq
	l.Entries[kind][actor] = sub
	return sub
}

// Submit records actor's targets for kind, replacing any earlier submission.
func (l *ActionLedger) Submit(kind ActionKind, actor PlayerID, targets ...PlayerID) Submission {
	return l.put(kind, actor, Submission{Targets: slices.Clone(targets)})
}

// SetFlag records a target-less submission such as an ignite or a witch save.
func (l *ActionLedger) SetFlag(kind ActionKind, actor PlayerID) Submission {
	return l.put(kind, actor, Submission{Flag: true})
}

// List returns every submission of kind in submission order.
func (l *ActionLedger) List(kind ActionKind) []Entry {
	if l == nil {
		return nil
	}
	subs := l.Entries[kind]
	entries := make([]Entry, 0, len(subs))
	for actor, sub := range subs {
		entries = append(entries, Entry{Actor: actor, Submission: sub})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Seq != entries[j].Seq {
			return entries[i].Seq < entries[j].Seq
		}
		return entries[i].Actor < entries[j].Actor
	})
	return entries
}

// First returns the earliest submission of kind.
func (l *ActionLedger) First(kind ActionKind) (Entry, bool) {
	entries := l.List(kind)
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[0], true
}

func (l *ActionLedger) Has(kind ActionKind) bool {
	return l != nil && len(l.Entries[kind]) > 0
}

// LockAttack remembers the attack target the witch was told about.
func (l *ActionLedger) LockAttack(target PlayerID) {
	l.AttackTarget = target
	l.WitchCalled = true
}

func (l *ActionLedger) Clone() *ActionLedger {
	c := *l
	c.Entries = make(map[ActionKind]map[PlayerID]Submission, len(l.Entries))
	for kind, subs := range l.Entries {
		cp := make(map[PlayerID]Submission, len(subs))
		for actor, sub := range subs {
			sub.Targets = slices.Clone(sub.Targets)
			cp[actor] = sub
		}
		c.Entries[kind] = cp
	}
	return &c
}

// Ballot is one day vote.
type Ballot struct {
	Target PlayerID `json:"target"`
	Seq    uint64   `json:"seq"`
}

// VoteLedger maps voter to ballot; a voter's later ballot replaces the earlier one.
type VoteLedger map[PlayerID]Ballot

// Cast records a ballot stamped with seq.
func (v VoteLedger) Cast(voter, target PlayerID, seq uint64) {
	v[voter] = Ballot{Target: target, Seq: seq}
}

// Voters returns voters in ballot order.
func (v VoteLedger) Voters() []PlayerID {
	voters := slices.Collect(maps.Keys(v))
	sort.Slice(voters, func(i, j int) bool {
		if v[voters[i]].Seq != v[voters[j]].Seq {
			return v[voters[i]].Seq < v[voters[j]].Seq
		}
		return voters[i] < voters[j]
	})
	return voters
}
