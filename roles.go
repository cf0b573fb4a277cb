package main

import (
	"fmt"
)

// Role is one of the closed set of roles a player can hold.
type Role string

const (
	RoleVillager    Role = "Villager"
	RoleWerewolf    Role = "Werewolf"
	RoleSeer        Role = "Seer"
	RoleDoctor      Role = "Doctor"
	RoleWitch       Role = "Witch"
	RoleHunter      Role = "Hunter"
	RoleCupid       Role = "Cupid"
	RoleBodyguard   Role = "Bodyguard"
	RoleJester      Role = "Jester"
	RoleExecutioner Role = "Executioner"
	RoleArsonist    Role = "Arsonist"
	RoleMayor       Role = "Mayor"
	RoleVeteran     Role = "Veteran"
	RoleAlphaWolf   Role = "Alpha Wolf"
	RoleSorcerer    Role = "Sorcerer"
)

// Faction groups roles that share a win condition.
type Faction string

const (
	FactionVillage  Faction = "village"
	FactionWerewolf Faction = "werewolf"
	FactionNeutral  Faction = "neutral"
)

// ActionKind names a secret submission. Night kinds live in the ActionLedger,
// ActionDayVote in the day VoteLedger.
type ActionKind string

const (
	ActionWerewolfVote     ActionKind = "werewolf_vote"
	ActionDoctorSave       ActionKind = "doctor_save"
	ActionBodyguardProtect ActionKind = "bodyguard_protect"
	ActionSeerPick         ActionKind = "seer_pick"
	ActionSorcererPick     ActionKind = "sorcerer_pick"
	ActionWitchKill        ActionKind = "witch_kill"
	ActionWitchSave        ActionKind = "witch_save"
	ActionArsonistDouse    ActionKind = "arsonist_douse"
	ActionArsonistIgnite   ActionKind = "arsonist_ignite"
	ActionVeteranAlert     ActionKind = "veteran_alert"
	ActionCupidLink        ActionKind = "cupid_link"
	ActionDayVote          ActionKind = "day_vote"
)

// lynchHook is a special effect triggered when a role is lynched.
type lynchHook int

const (
	hookNone lynchHook = iota
	hookJesterWin
	hookAlphaConvert
)

// roleSpec is one row of the role table.
type roleSpec struct {
	Faction     Faction
	Actions     []ActionKind // night actions the role may submit
	OnLynch     lynchHook
	Mandatory   bool
	Description string
}

var roleTable = map[Role]roleSpec{
	RoleVillager: {
		Faction:     FactionVillage,
		Mandatory:   true,
		Description: "No special powers. Find the werewolves and lynch them.",
	},
	RoleWerewolf: {
		Faction:     FactionWerewolf,
		Actions:     []ActionKind{ActionWerewolfVote},
		Mandatory:   true,
		Description: "Each night the pack votes on one villager to kill.",
	},
	RoleAlphaWolf: {
		Faction:     FactionWerewolf,
		Actions:     []ActionKind{ActionWerewolfVote},
		OnLynch:     hookAlphaConvert,
		Description: "Leader of the pack. If lynched, the last player who voted for you becomes a werewolf.",
	},
	RoleSorcerer: {
		Faction:     FactionWerewolf,
		Actions:     []ActionKind{ActionSorcererPick},
		Description: "A human who sides with the wolves. Each night, learn whether a player is the Seer.",
	},
	RoleSeer: {
		Faction:     FactionVillage,
		Actions:     []ActionKind{ActionSeerPick},
		Description: "Each night, learn the true role of one player.",
	},
	RoleDoctor: {
		Faction:     FactionVillage,
		Actions:     []ActionKind{ActionDoctorSave},
		Description: "Each night, save one player from death.",
	},
	RoleBodyguard: {
		Faction:     FactionVillage,
		Actions:     []ActionKind{ActionBodyguardProtect},
		Description: "Each night, guard one player. If the wolves attack them, you die in their place.",
	},
	RoleWitch: {
		Faction:     FactionVillage,
		Actions:     []ActionKind{ActionWitchKill, ActionWitchSave},
		Description: "One potion of life and one of death, each usable once per game.",
	},
	RoleHunter: {
		Faction:     FactionVillage,
		Description: "A villager who sleeps with a loaded rifle.",
	},
	RoleCupid: {
		Faction:     FactionVillage,
		Actions:     []ActionKind{ActionCupidLink},
		Description: "On the first night, bind two players together. If one dies, so does the other.",
	},
	RoleMayor: {
		Faction:     FactionVillage,
		Description: "Once per game, reveal yourself. From then on your day vote counts twice.",
	},
	RoleVeteran: {
		Faction:     FactionVillage,
		Actions:     []ActionKind{ActionVeteranAlert},
		Description: "Once per game, go on alert. Anyone who visits you that night is shot.",
	},
	RoleJester: {
		Faction:     FactionNeutral,
		OnLynch:     hookJesterWin,
		Description: "Get yourself lynched by the village and you win.",
	},
	RoleExecutioner: {
		Faction:     FactionNeutral,
		Description: "Convince the village to lynch your target and you win.",
	},
	RoleArsonist: {
		Faction:     FactionNeutral,
		Actions:     []ActionKind{ActionArsonistDouse, ActionArsonistIgnite},
		Description: "Douse players night after night, then ignite them all. Win as the last one standing.",
	},
}

// AllRoles lists every role in display order.
var AllRoles = []Role{
	RoleVillager, RoleWerewolf, RoleSeer, RoleDoctor, RoleWitch, RoleHunter,
	RoleCupid, RoleBodyguard, RoleJester, RoleExecutioner, RoleArsonist,
	RoleMayor, RoleVeteran, RoleAlphaWolf, RoleSorcerer,
}

// ParseRole validates a role name.
func ParseRole(name string) (Role, error) {
	r := Role(name)
	if _, ok := roleTable[r]; !ok {
		return "", fmt.Errorf("unknown role %q: %w", name, ErrConfiguration)
	}
	return r, nil
}

func (r Role) Faction() Faction {
	return roleTable[r].Faction
}

// IsWerewolfFaction reports whether r counts for the werewolves in win checks.
func (r Role) IsWerewolfFaction() bool {
	return roleTable[r].Faction == FactionWerewolf
}

// Description is the mission text sent with the role reveal.
func (r Role) Description() string {
	return roleTable[r].Description
}

// CanSubmit reports whether r may submit the given night action.
func (r Role) CanSubmit(kind ActionKind) bool {
	for _, k := range roleTable[r].Actions {
		if k == kind {
			return true
		}
	}
	return false
}

// visitKinds are the action kinds that place the actor at the target's house.
var visitKinds = []ActionKind{
	ActionDoctorSave,
	ActionBodyguardProtect,
	ActionSeerPick,
	ActionSorcererPick,
	ActionWitchKill,
}

// nightPromptKinds maps the role to the prompt it receives when night falls.
// The witch is prompted in a second pass.
var nightPromptKinds = map[Role]ActionKind{
	RoleWerewolf:  ActionWerewolfVote,
	RoleAlphaWolf: ActionWerewolfVote,
	RoleSorcerer:  ActionSorcererPick,
	RoleSeer:      ActionSeerPick,
	RoleDoctor:    ActionDoctorSave,
	RoleBodyguard: ActionBodyguardProtect,
	RoleArsonist:  ActionArsonistDouse,
	RoleVeteran:   ActionVeteranAlert,
	RoleCupid:     ActionCupidLink,
}
