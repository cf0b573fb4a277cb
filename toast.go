package main

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync/atomic"
)

// Toast types, as shown by the client.
const (
	toastError   = "error"
	toastWarning = "warning"
	toastSuccess = "success"
	toastInfo    = "info"
)

// MessageKind tells the client how to present a message.
type MessageKind string

const (
	KindNarrative MessageKind = "narrative" // public story of a night or a lynch
	KindPhase     MessageKind = "phase"
	KindPrivate   MessageKind = "private" // role DMs, visions, confirmations
	KindPrompt    MessageKind = "prompt"
	KindReveal    MessageKind = "reveal"
	KindStory     MessageKind = "story"
	KindToast     MessageKind = "toast"
)

// Recipient addresses a whole channel, or one player of it when Player is set.
type Recipient struct {
	Channel string
	Player  PlayerID
}

func (r Recipient) String() string {
	if r.Player == 0 {
		return "#" + r.Channel
	}
	return fmt.Sprintf("#%s/%d", r.Channel, r.Player)
}

// PromptOption is one selectable target.
type PromptOption struct {
	ID   PlayerID `json:"id"`
	Name string   `json:"name"`
}

// Prompt asks a player for a secret action.
type Prompt struct {
	Kind    ActionKind     `json:"kind"`
	Text    string         `json:"text"`
	Options []PromptOption `json:"options,omitempty"`
	Choices int            `json:"choices"` // targets to pick, 0 for a plain confirmation
}

// RoleReveal is one line of the end-of-game reveal.
type RoleReveal struct {
	ID    PlayerID `json:"id"`
	Name  string   `json:"name"`
	Role  Role     `json:"role"`
	Alive bool     `json:"alive"`
}

// Message is the JSON document the hub writes to a websocket.
type Message struct {
	ID      string       `json:"id"`
	Kind    MessageKind  `json:"kind"`
	Type    string       `json:"type,omitempty"`
	Channel string       `json:"channel,omitempty"`
	Phase   Phase        `json:"phase,omitempty"`
	Night   int          `json:"night,omitempty"`
	Text    string       `json:"text,omitempty"`
	Prompt  *Prompt      `json:"prompt,omitempty"`
	Winner  Winner       `json:"winner,omitempty"`
	Reveal  []RoleReveal `json:"reveal,omitempty"`
}

var toastCounter atomic.Int64

func newMessage(kind MessageKind, text string) Message {
	return Message{
		ID:   strconv.FormatInt(toastCounter.Add(1), 10),
		Kind: kind,
		Text: text,
	}
}

// renderToast builds a short status message of the given toast type.
func renderToast(toastType, message string) Message {
	m := newMessage(KindToast, message)
	m.Type = toastType
	return m
}

func renderPrompt(p Prompt) Message {
	m := newMessage(KindPrompt, p.Text)
	m.Prompt = &p
	return m
}

func renderPhase(g *Game, text string) Message {
	m := newMessage(KindPhase, text)
	m.Phase = g.State.Phase
	m.Night = g.State.Night
	return m
}

// renderReveal lists every role with a headline naming the winner.
func renderReveal(win WinResult) Message {
	var b strings.Builder
	switch win.Winner {
	case WinnerNone:
		b.WriteString("The game was ended early.")
	case WinnerLovers:
		b.WriteString("The lovers are the last ones standing. Love conquers all!")
	case WinnerVillage, WinnerWerewolves:
		fmt.Fprintf(&b, "The game is over. The %s win!", win.Winner)
	default:
		fmt.Fprintf(&b, "The game is over. The %s wins!", win.Winner)
	}
	for _, r := range win.Reveal {
		status := "alive"
		if !r.Alive {
			status = "dead"
		}
		fmt.Fprintf(&b, "\n%s was a %s (%s)", r.Name, r.Role, status)
	}
	m := newMessage(KindReveal, b.String())
	m.Winner = win.Winner
	m.Reveal = win.Reveal
	return m
}

// sendErrorToast tells one player why their command was rejected.
func sendErrorToast(ctx context.Context, n Notifier, to Recipient, message string) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, to, renderToast(toastError, message)); err != nil {
		log.Printf("sendErrorToast to %s: %v", to, err)
	}
}
