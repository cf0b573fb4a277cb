package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Registry owns the sessions of the process, one per channel.
type Registry struct {
	env *Env

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(env *Env) *Registry {
	return &Registry{env: env, sessions: map[string]*Session{}}
}

func (r *Registry) Get(channel string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[channel]
	return s, ok
}

func (r *Registry) session(channel string) (*Session, error) {
	if s, ok := r.Get(channel); ok {
		return s, nil
	}
	return nil, fmt.Errorf("no game in channel %q: %w", channel, ErrNotFound)
}

func (r *Registry) remove(channel string) {
	r.mu.Lock()
	delete(r.sessions, channel)
	r.mu.Unlock()
	DebugLog("Registry: session %s removed", channel)
}

// Members returns the seated players of a channel, for channel-wide delivery.
func (r *Registry) Members(channel string) []PlayerID {
	s, ok := r.Get(channel)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.game.JoinOrder)
}

// Create opens a lobby. An empty channel gets a generated id.
func (r *Registry) Create(ctx context.Context, channel string, creator Player) (*Session, error) {
	if channel == "" {
		channel = uuid.NewString()
	}
	r.mu.Lock()
	if _, ok := r.sessions[channel]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("a game is already running in channel %q: %w", channel, ErrForbidden)
	}
	g := NewGame(channel, creator, r.env.Config.Roles)
	s := newSession(g, r.env, r.remove)
	r.sessions[channel] = s
	r.mu.Unlock()

	if err := r.env.Store.Persist(ctx, channel, "", g); err != nil {
		logError("Registry.Create: persist", err)
	}
	log.Printf("Game %s created by %s", channel, creator.Name)
	LogDBState("after create: " + channel)
	return s, nil
}

// End force-ends a game. Only moderators may do this.
func (r *Registry) End(ctx context.Context, channel string, actor Player) error {
	if !slices.Contains(r.env.Config.Moderators, actor.Name) {
		return fmt.Errorf("only moderators can end a game: %w", ErrForbidden)
	}
	s, err := r.session(channel)
	if err != nil {
		return err
	}
	log.Printf("Game %s ended by moderator %s", channel, actor.Name)
	return s.End(ctx)
}

// Restore reloads every stored game and resumes its phase loop.
func (r *Registry) Restore(ctx context.Context) error {
	ids, err := r.env.Store.Sessions(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		g, err := r.env.Store.Load(ctx, id)
		if err != nil {
			logError("Registry.Restore: load "+id, err)
			continue
		}
		if g.State.Phase == PhaseEnded {
			if err := r.env.Store.Delete(ctx, id); err != nil {
				logError("Registry.Restore: delete "+id, err)
			}
			continue
		}
		s := newSession(g, r.env, r.remove)
		r.mu.Lock()
		r.sessions[id] = s
		r.mu.Unlock()
		s.Resume()
		log.Printf("Game %s restored in phase %s (night %d)", id, g.State.Phase, g.State.Night)
	}
	return nil
}

// Shutdown stops every phase loop. Stored games resume on the next Restore.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	for _, s := range sessions {
		s.stop()
	}
}

// Handle routes one inbound command.
func (r *Registry) Handle(ctx context.Context, player Player, msg WSMessage) error {
	switch msg.Action {
	case "create":
		s, err := r.Create(ctx, msg.Channel, player)
		if err != nil {
			return err
		}
		text := fmt.Sprintf("Game %s created. Invite players to join, then start when ready.", s.ID())
		if err := r.env.Notifier.Notify(ctx, Recipient{Channel: s.ID(), Player: player.ID}, renderToast(toastSuccess, text)); err != nil {
			log.Printf("Handle create: %v", err)
		}
		return nil
	case "end":
		return r.End(ctx, msg.Channel, player)
	}

	s, err := r.session(msg.Channel)
	if err != nil {
		return err
	}
	switch msg.Action {
	case "join":
		return s.Join(ctx, player)
	case "settings":
		roles := make([]Role, 0, len(msg.Roles))
		for _, name := range msg.Roles {
			role, err := ParseRole(strings.TrimSpace(name))
			if err != nil {
				return err
			}
			roles = append(roles, role)
		}
		return s.Configure(ctx, player.ID, roles)
	case "start":
		return s.Start(ctx, player.ID)
	case "reveal":
		return s.Reveal(ctx, player.ID)
	case string(ActionDayVote):
		if len(msg.Targets) != 1 {
			return fmt.Errorf("vote for exactly one player: %w", ErrForbidden)
		}
		return s.Vote(ctx, player.ID, msg.Targets[0])
	}

	kind := ActionKind(msg.Action)
	if !isNightAction(kind) {
		return fmt.Errorf("unknown action %q: %w", msg.Action, ErrForbidden)
	}
	return s.Act(ctx, player.ID, kind, msg.Targets)
}

func isNightAction(kind ActionKind) bool {
	for _, spec := range roleTable {
		if slices.Contains(spec.Actions, kind) {
			return true
		}
	}
	return false
}

// rejection turns a command error into the text shown to the player.
func rejection(err error) string {
	switch {
	case errors.Is(err, ErrState):
		return "You can't do that right now: " + err.Error()
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrConfiguration):
		return err.Error()
	case errors.Is(err, ErrMissingTarget), errors.Is(err, ErrNotFound):
		return "Not found: " + err.Error()
	}
	return "Something went wrong"
}
