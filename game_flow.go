package main

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"
)

const storyTimeout = 30 * time.Second

// Notifier delivers rendered content. Failures are logged by the caller and never retried.
type Notifier interface {
	Notify(ctx context.Context, to Recipient, msg Message) error
}

// Solicitor asks one player for a secret action. The reply arrives later as a command.
type Solicitor interface {
	Solicit(ctx context.Context, to Recipient, p Prompt) error
}

// Env holds what all sessions of the process share.
type Env struct {
	Store       Store
	Notifier    Notifier
	Solicitor   Solicitor
	Clock       Clock
	Rand        Randomizer
	Storyteller Storyteller // nil disables stories
	Config      GameConfig
}

// WinResult is the verdict of the win evaluator.
type WinResult struct {
	Winner Winner
	Reveal []RoleReveal
}

// EvaluateWin checks the win conditions in order; the first match wins.
func EvaluateWin(g *Game) WinResult {
	res := WinResult{Winner: evaluateWinner(g)}
	if res.Winner != WinnerNone {
		res.Reveal = revealRoles(g)
	}
	return res
}

func evaluateWinner(g *Game) Winner {
	alive := g.AlivePlayers()
	if len(alive) == 2 {
		a, b := g.States[alive[0]], g.States[alive[1]]
		if a.Partner == alive[1] && b.Partner == alive[0] {
			return WinnerLovers
		}
	}
	if len(alive) == 1 && g.States[alive[0]].Role == RoleArsonist {
		return WinnerArsonist
	}
	wolves := 0
	for _, id := range alive {
		if g.States[id].Role.IsWerewolfFaction() {
			wolves++
		}
	}
	if wolves == 0 {
		return WinnerVillage
	}
	if wolves >= len(alive)-wolves {
		return WinnerWerewolves
	}
	return WinnerNone
}

func revealRoles(g *Game) []RoleReveal {
	reveal := make([]RoleReveal, 0, len(g.JoinOrder))
	for _, id := range g.JoinOrder {
		r := RoleReveal{ID: id, Name: g.Name(id)}
		if st, ok := g.state(id); ok {
			r.Role = st.Role
			r.Alive = st.IsAlive
		}
		reveal = append(reveal, r)
	}
	return reveal
}

// stepFn is one state of the phase machine. It returns the next state, or nil to stop.
type stepFn func(ctx context.Context) stepFn

type outbound struct {
	to     Recipient
	msg    Message
	prompt *Prompt
}

// Session is one game in one channel. All reads and writes of the game go
// through mu; no lock is held while waiting or delivering.
type Session struct {
	id    string
	env   *Env
	onEnd func(id string)

	mu     sync.Mutex
	game   *Game
	cancel context.CancelFunc
	done   chan struct{}

	stories sync.WaitGroup
}

func newSession(g *Game, env *Env, onEnd func(id string)) *Session {
	return &Session{id: g.ID, game: g, env: env, onEnd: onEnd}
}

func (s *Session) ID() string { return s.id }

// Snapshot returns a copy of the game safe to read without the lock.
func (s *Session) Snapshot() *Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game.Clone()
}

// Done is closed when the phase loop stops. It is nil before the game starts.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Session) update(fn func(g *Game) ([]outbound, error)) ([]outbound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.game)
}

func (s *Session) everyone() Recipient          { return Recipient{Channel: s.id} }
func (s *Session) dm(player PlayerID) Recipient { return Recipient{Channel: s.id, Player: player} }

func (s *Session) persist(ctx context.Context, path string, value any) {
	if err := s.env.Store.Persist(ctx, s.id, path, value); err != nil {
		logError(fmt.Sprintf("Session %s: persist %q", s.id, path), err)
	}
}

func (s *Session) record(ctx context.Context, night int, phase Phase, text string) {
	if err := s.env.Store.AppendHistory(ctx, s.id, night, phase, text); err != nil {
		logError(fmt.Sprintf("Session %s: append history", s.id), err)
	}
}

func (s *Session) deliver(ctx context.Context, outs []outbound) {
	for _, o := range outs {
		var err error
		if o.prompt != nil {
			err = s.env.Solicitor.Solicit(ctx, o.to, *o.prompt)
		} else {
			err = s.env.Notifier.Notify(ctx, o.to, o.msg)
		}
		if err != nil {
			log.Printf("Session %s: delivery to %s failed: %v", s.id, o.to, err)
		}
	}
}

type phaseLoop struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// newLoop registers a phase loop so that End can always stop it. The caller holds s.mu.
func (s *Session) newLoop() phaseLoop {
	ctx, cancel := context.WithCancel(context.Background())
	l := phaseLoop{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	s.cancel, s.done = cancel, l.done
	return l
}

// run drives the loop until a step returns nil, the loop is stopped or the game has ended.
func (s *Session) run(l phaseLoop, first stepFn) {
	go func() {
		defer close(l.done)
		defer l.cancel()
		for step := first; step != nil; {
			if l.ctx.Err() != nil || s.ended() {
				return
			}
			step = step(l.ctx)
		}
	}()
}

func (s *Session) ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game.State.Phase == PhaseEnded
}

// after waits d on the session clock, then hands over to next.
func (s *Session) after(d time.Duration, next stepFn) stepFn {
	return func(ctx context.Context) stepFn {
		select {
		case <-ctx.Done():
			return nil
		case <-s.env.Clock.After(d):
			return next
		}
	}
}

// Join seats a player in the lobby.
func (s *Session) Join(ctx context.Context, p Player) error {
	outs, err := s.update(func(g *Game) ([]outbound, error) {
		if g.State.Phase != PhaseWaiting {
			return nil, fmt.Errorf("join: game already started: %w", ErrState)
		}
		if !g.AddPlayer(p) {
			return nil, fmt.Errorf("%s already joined: %w", p.Name, ErrForbidden)
		}
		s.persist(ctx, "players", g.Players)
		s.persist(ctx, "join_order", g.JoinOrder)
		text := fmt.Sprintf("%s joined the game. %d players are waiting.", p.Name, len(g.JoinOrder))
		return []outbound{{to: s.everyone(), msg: renderToast(toastInfo, text)}}, nil
	})
	if err != nil {
		return err
	}
	s.deliver(ctx, outs)
	return nil
}

// Configure replaces the enabled roles. Villager and Werewolf are always kept.
func (s *Session) Configure(ctx context.Context, actor PlayerID, roles []Role) error {
	outs, err := s.update(func(g *Game) ([]outbound, error) {
		if g.State.Phase != PhaseWaiting {
			return nil, fmt.Errorf("settings: game already started: %w", ErrState)
		}
		if actor != g.CreatorID {
			return nil, fmt.Errorf("only the game creator can change settings: %w", ErrForbidden)
		}
		enabled := []Role{RoleVillager, RoleWerewolf}
		for _, r := range roles {
			if _, ok := roleTable[r]; !ok {
				return nil, fmt.Errorf("unknown role %q: %w", r, ErrConfiguration)
			}
			if !slices.Contains(enabled, r) {
				enabled = append(enabled, r)
			}
		}
		g.Settings.Roles = enabled
		s.persist(ctx, "settings", g.Settings)
		text := "Roles in play: " + joinRoles(enabled)
		return []outbound{{to: s.everyone(), msg: renderToast(toastInfo, text)}}, nil
	})
	if err != nil {
		return err
	}
	s.deliver(ctx, outs)
	return nil
}

// Start assigns roles and launches the phase loop at night 1.
func (s *Session) Start(ctx context.Context, actor PlayerID) error {
	var loop phaseLoop
	outs, err := s.update(func(g *Game) ([]outbound, error) {
		if g.State.Phase != PhaseWaiting {
			return nil, fmt.Errorf("start: game is %s: %w", g.State.Phase, ErrState)
		}
		if actor != g.CreatorID {
			return nil, fmt.Errorf("only the game creator can start the game: %w", ErrForbidden)
		}
		cfg := s.env.Config
		states, err := AssignRoles(g.Roster(), g.Settings.Roles, cfg.WerewolfRatio, cfg.MinPlayers, s.env.Rand)
		if err != nil {
			return nil, err
		}
		g.States = states
		g.State.Potions = WitchPotions{Kill: true, Save: true}
		g.State.Phase = PhaseNight
		s.persist(ctx, "", g)
		log.Printf("Session %s: game started with %d players", s.id, len(g.JoinOrder))
		loop = s.newLoop()
		return s.introductions(g), nil
	})
	if err != nil {
		return err
	}
	s.deliver(ctx, outs)
	s.run(loop, s.nightfall(true))
	return nil
}

func (s *Session) introductions(g *Game) []outbound {
	outs := []outbound{{
		to:  s.everyone(),
		msg: renderPhase(g, fmt.Sprintf("The game begins with %d players. Check your messages for your role.", len(g.JoinOrder))),
	}}
	var pack []string
	for _, id := range g.JoinOrder {
		if r := g.States[id].Role; r == RoleWerewolf || r == RoleAlphaWolf {
			pack = append(pack, g.Name(id))
		}
	}
	for _, id := range g.JoinOrder {
		st := g.States[id]
		text := fmt.Sprintf("You are the %s. %s", st.Role, st.Role.Description())
		switch {
		case st.Role == RoleWerewolf || st.Role == RoleAlphaWolf:
			text += "\nYour pack: " + strings.Join(pack, ", ")
		case st.Role == RoleExecutioner && st.ExecutionerTarget != 0:
			text += fmt.Sprintf("\nYour target is %s.", g.Name(st.ExecutionerTarget))
		}
		outs = append(outs, outbound{to: s.dm(id), msg: newMessage(KindPrivate, text)})
	}
	return outs
}

// nightfall opens a night. A resumed night keeps its ledger and counter.
func (s *Session) nightfall(fresh bool) stepFn {
	return func(ctx context.Context) stepFn {
		outs, _ := s.update(func(g *Game) ([]outbound, error) {
			if fresh || g.Ledger == nil {
				g.State.Night++
				g.Ledger = NewActionLedger(g.State.Night)
				for _, st := range g.States {
					st.IsProtected = false
					st.IsHealedThisNight = false
					st.IsOnAlert = false
				}
			}
			g.State.Phase = PhaseNight
			s.persist(ctx, "", g)
			DebugLog("Session %s: night %d", s.id, g.State.Night)

			outs := []outbound{{
				to:  s.everyone(),
				msg: renderPhase(g, fmt.Sprintf("Night %d falls. Everyone goes to sleep...", g.State.Night)),
			}}
			for _, id := range g.AlivePlayers() {
				role := g.States[id].Role
				kind, ok := nightPromptKinds[role]
				if !ok {
					continue
				}
				if kind == ActionCupidLink && g.State.Night != 1 {
					continue
				}
				if kind == ActionVeteranAlert && g.States[id].VeteranAlerts <= 0 {
					continue
				}
				p := nightPrompt(g, id, kind)
				outs = append(outs, outbound{to: s.dm(id), prompt: &p})
			}
			return outs, nil
		})
		s.deliver(ctx, outs)
		return s.after(s.env.Config.NightWindow, s.witchHour)
	}
}

var promptTexts = map[ActionKind]string{
	ActionWerewolfVote:     "Choose a player to attack tonight.",
	ActionSorcererPick:     "Choose a player. You will learn whether they are the Seer.",
	ActionSeerPick:         "Choose a player whose true role you want to see.",
	ActionDoctorSave:       "Choose a player to save tonight.",
	ActionBodyguardProtect: "Choose a player to guard tonight.",
	ActionArsonistDouse:    "Choose a player to douse, or ignite everyone you have doused.",
	ActionCupidLink:        "Choose two players to fall in love.",
	ActionDayVote:          "Vote for the player to lynch.",
}

func nightPrompt(g *Game, actor PlayerID, kind ActionKind) Prompt {
	p := Prompt{Kind: kind, Text: promptTexts[kind], Choices: 1}
	switch kind {
	case ActionVeteranAlert:
		p.Choices = 0
		p.Text = fmt.Sprintf("Go on alert tonight? You have %d alert(s) left.", g.States[actor].VeteranAlerts)
		return p
	case ActionCupidLink:
		p.Choices = 2
	}
	for _, id := range g.AlivePlayers() {
		st := g.States[id]
		switch {
		case id == actor && kind != ActionDoctorSave && kind != ActionCupidLink:
			continue
		case kind == ActionWerewolfVote && (st.Role == RoleWerewolf || st.Role == RoleAlphaWolf):
			continue
		case kind == ActionArsonistDouse && st.IsDoused:
			continue
		}
		p.Options = append(p.Options, PromptOption{ID: id, Name: g.Name(id)})
	}
	return p
}

// witchHour shows the witch the locked-in wolf target.
func (s *Session) witchHour(ctx context.Context) stepFn {
	outs, _ := s.update(func(g *Game) ([]outbound, error) {
		if g.Ledger == nil {
			g.Ledger = NewActionLedger(g.State.Night)
		}
		attack := previewAttack(g, g.Ledger, s.env.Rand)
		g.Ledger.LockAttack(attack)
		s.persist(ctx, "night_actions/attack_target", g.Ledger.AttackTarget)
		s.persist(ctx, "night_actions/witch_called", g.Ledger.WitchCalled)

		var outs []outbound
		for _, id := range g.PlayersWithRole(RoleWitch) {
			if !g.IsAlive(id) {
				continue
			}
			outs = append(outs, s.witchPrompts(g, id, attack)...)
		}
		return outs, nil
	})
	s.deliver(ctx, outs)
	return s.after(s.env.Config.WitchWindow, s.dawn)
}

func (s *Session) witchPrompts(g *Game, witch, attack PlayerID) []outbound {
	potions := g.State.Potions
	if !potions.Kill && !potions.Save {
		return []outbound{{to: s.dm(witch), msg: newMessage(KindPrivate, "Your shelves are empty. You have no potions left.")}}
	}
	news := "The werewolves attack no one tonight."
	if attack != 0 {
		news = fmt.Sprintf("The werewolves are attacking %s tonight.", g.Name(attack))
	}
	var outs []outbound
	if potions.Save && attack != 0 {
		p := Prompt{Kind: ActionWitchSave, Text: news + " Use your potion of life to save them?"}
		outs = append(outs, outbound{to: s.dm(witch), prompt: &p})
	}
	if potions.Kill {
		p := nightPrompt(g, witch, ActionWitchKill)
		p.Text = news + " Use your potion of death on someone?"
		outs = append(outs, outbound{to: s.dm(witch), prompt: &p})
	}
	return outs
}

// dawn resolves the night and reports what happened.
func (s *Session) dawn(ctx context.Context) stepFn {
	var res NightResult
	var win WinResult
	var night int
	outs, _ := s.update(func(g *Game) ([]outbound, error) {
		res = ResolveNight(g, g.Ledger, s.env.Rand)
		ng := res.Game
		ng.Ledger = nil
		ng.State.Phase = PhaseDay
		s.game = ng
		night = ng.State.Night
		s.persist(ctx, "", ng)
		log.Printf("Session %s: night %d resolved, %d death(s)", s.id, night, len(res.Deaths))

		outs := []outbound{{to: s.everyone(), msg: newMessage(KindNarrative, res.Narrative)}}
		for _, v := range res.Visions {
			outs = append(outs, outbound{to: s.dm(v.Actor), msg: newMessage(KindPrivate, visionText(ng, v))})
		}
		win = EvaluateWin(ng)
		return outs, nil
	})
	s.deliver(ctx, outs)
	s.record(ctx, night, PhaseNight, res.Narrative)
	if len(res.Deaths) > 0 {
		s.tellStory(ctx, night, PhaseNight)
	}
	if win.Winner != WinnerNone {
		return s.finish(win)
	}
	return s.openVoting(true)
}

func visionText(g *Game, v Vision) string {
	name := g.Name(v.Target)
	if v.Kind == ActionSeerPick {
		return fmt.Sprintf("Your vision reveals that %s is a %s.", name, v.Role)
	}
	if v.IsSeer {
		return fmt.Sprintf("%s is the Seer!", name)
	}
	return fmt.Sprintf("%s is not the Seer.", name)
}

// openVoting starts the discussion window. A resumed vote keeps its ballots.
func (s *Session) openVoting(fresh bool) stepFn {
	return func(ctx context.Context) stepFn {
		window := s.env.Config.DiscussionWindow
		outs, _ := s.update(func(g *Game) ([]outbound, error) {
			g.State.Phase = PhaseVoting
			if fresh || g.State.DayVotes == nil {
				g.State.DayVotes = VoteLedger{}
			}
			s.persist(ctx, "game_state", g.State)

			outs := []outbound{{
				to:  s.everyone(),
				msg: renderPhase(g, fmt.Sprintf("The village gathers. You have %s to discuss and vote.", window)),
			}}
			for _, id := range g.AlivePlayers() {
				p := Prompt{Kind: ActionDayVote, Text: promptTexts[ActionDayVote], Choices: 1}
				for _, t := range g.AlivePlayers() {
					if t != id {
						p.Options = append(p.Options, PromptOption{ID: t, Name: g.Name(t)})
					}
				}
				outs = append(outs, outbound{to: s.dm(id), prompt: &p})
			}
			return outs, nil
		})
		s.deliver(ctx, outs)
		return s.after(window, s.verdict)
	}
}

// verdict closes the vote and applies the lynch.
func (s *Session) verdict(ctx context.Context) stepFn {
	var res LynchResult
	var win WinResult
	var night int
	outs, _ := s.update(func(g *Game) ([]outbound, error) {
		res = ResolveLynch(g, g.State.DayVotes)
		ng := res.Game
		s.game = ng
		night = ng.State.Night
		s.persist(ctx, "", ng)

		outs := []outbound{{to: s.everyone(), msg: newMessage(KindNarrative, res.Narrative)}}
		if res.Converted != 0 {
			outs = append(outs, outbound{
				to:  s.dm(res.Converted),
				msg: newMessage(KindPrivate, "The Alpha Wolf's curse takes hold. You are now a Werewolf."),
			})
			for _, id := range ng.AlivePlayers() {
				if r := ng.States[id].Role; id != res.Converted && (r == RoleWerewolf || r == RoleAlphaWolf) {
					text := fmt.Sprintf("%s has joined the pack.", ng.Name(res.Converted))
					outs = append(outs, outbound{to: s.dm(id), msg: newMessage(KindPrivate, text)})
				}
			}
		}
		if res.Winner != WinnerNone {
			win = WinResult{Winner: res.Winner, Reveal: revealRoles(ng)}
		} else {
			win = EvaluateWin(ng)
		}
		return outs, nil
	})
	s.deliver(ctx, outs)
	s.record(ctx, night, PhaseVoting, res.Narrative)
	if len(res.Deaths) > 0 {
		s.tellStory(ctx, night, PhaseVoting)
	}
	if win.Winner != WinnerNone {
		return s.finish(win)
	}
	return s.nightfall(true)
}

func (s *Session) finish(win WinResult) stepFn {
	return func(ctx context.Context) stepFn {
		if err := s.conclude(ctx, win); err != nil {
			log.Printf("Session %s: %v", s.id, err)
		}
		return nil
	}
}

// conclude moves the game to ENDED, drops its stored document and shows the reveal.
func (s *Session) conclude(ctx context.Context, win WinResult) error {
	// stories about the deciding deaths are told before the reveal
	s.stories.Wait()
	outs, err := s.update(func(g *Game) ([]outbound, error) {
		if g.State.Phase == PhaseEnded {
			return nil, fmt.Errorf("game already ended: %w", ErrState)
		}
		g.State.Phase = PhaseEnded
		g.Winner = win.Winner
		if err := s.env.Store.Delete(ctx, s.id); err != nil {
			logError(fmt.Sprintf("Session %s: delete", s.id), err)
		}
		log.Printf("Session %s: game over, winner %q", s.id, win.Winner)
		return []outbound{{to: s.everyone(), msg: renderReveal(win)}}, nil
	})
	if err != nil {
		return err
	}
	s.deliver(ctx, outs)
	if s.onEnd != nil {
		s.onEnd(s.id)
	}
	return nil
}

// stop abandons the pending wait of the phase loop and waits for the loop to exit.
func (s *Session) stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// End stops the phase loop and ends the game without a winner.
func (s *Session) End(ctx context.Context) error {
	s.stop()
	g := s.Snapshot()
	return s.conclude(ctx, WinResult{Reveal: revealRoles(g)})
}

// Resume re-enters a stored game at the start of its stored phase.
func (s *Session) Resume() {
	s.mu.Lock()
	var first stepFn
	switch s.game.State.Phase {
	case PhaseNight:
		first = s.nightfall(false)
	case PhaseDay:
		first = s.openVoting(true)
	case PhaseVoting:
		first = s.openVoting(false)
	}
	var loop phaseLoop
	if first != nil {
		loop = s.newLoop()
	}
	s.mu.Unlock()
	if first != nil {
		s.run(loop, first)
	}
}

// Act records a secret night action after checking it against the phase and roster.
func (s *Session) Act(ctx context.Context, actor PlayerID, kind ActionKind, targets []PlayerID) error {
	outs, err := s.update(func(g *Game) ([]outbound, error) {
		if g.State.Phase != PhaseNight || g.Ledger == nil {
			return nil, fmt.Errorf("%s is only allowed at night: %w", kind, ErrState)
		}
		st, ok := g.state(actor)
		if !ok || !st.IsAlive {
			return nil, fmt.Errorf("only living players act at night: %w", ErrForbidden)
		}
		if !st.Role.CanSubmit(kind) {
			return nil, fmt.Errorf("a %s cannot %s: %w", st.Role, kind, ErrForbidden)
		}
		if err := checkAction(g, actor, kind, targets); err != nil {
			return nil, err
		}

		var outs []outbound
		var sub Submission
		switch kind {
		case ActionWitchSave, ActionArsonistIgnite, ActionVeteranAlert:
			sub = g.Ledger.SetFlag(kind, actor)
		case ActionCupidLink:
			a, b := targets[0], targets[1]
			if err := g.Bond(a, b); err != nil {
				return nil, err
			}
			sub = g.Ledger.Submit(kind, actor, targets...)
			s.persist(ctx, fmt.Sprintf("player_states/%d/partner", a), b)
			s.persist(ctx, fmt.Sprintf("player_states/%d/partner", b), a)
			for _, pair := range [][2]PlayerID{{a, b}, {b, a}} {
				text := fmt.Sprintf("Cupid's arrow strikes! You are in love with %s. If one of you dies, so does the other.", g.Name(pair[1]))
				outs = append(outs, outbound{to: s.dm(pair[0]), msg: newMessage(KindPrivate, text)})
			}
		default:
			sub = g.Ledger.Submit(kind, actor, targets...)
		}
		s.persist(ctx, fmt.Sprintf("night_actions/entries/%s/%d", kind, actor), sub)
		s.persist(ctx, "night_actions/seq", g.Ledger.Seq)
		DebugLog("Session %s: %s by %s -> %v", s.id, kind, g.Name(actor), targets)

		outs = append(outs, outbound{to: s.dm(actor), msg: renderToast(toastSuccess, "Your choice has been recorded.")})
		if kind == ActionWerewolfVote {
			text := fmt.Sprintf("%s wants to attack %s.", g.Name(actor), g.Name(targets[0]))
			for _, id := range g.AlivePlayers() {
				if r := g.States[id].Role; id != actor && (r == RoleWerewolf || r == RoleAlphaWolf) {
					outs = append(outs, outbound{to: s.dm(id), msg: newMessage(KindPrivate, text)})
				}
			}
		}
		return outs, nil
	})
	if err != nil {
		return err
	}
	s.deliver(ctx, outs)
	return nil
}

// checkAction validates targets and once-per-game resources.
func checkAction(g *Game, actor PlayerID, kind ActionKind, targets []PlayerID) error {
	want := 1
	switch kind {
	case ActionWitchSave, ActionArsonistIgnite, ActionVeteranAlert:
		want = 0
	case ActionCupidLink:
		want = 2
	}
	if len(targets) != want {
		return fmt.Errorf("%s takes %d target(s), got %d: %w", kind, want, len(targets), ErrForbidden)
	}
	for _, t := range targets {
		if _, ok := g.state(t); !ok {
			return fmt.Errorf("player %d: %w", t, ErrMissingTarget)
		}
		if !g.IsAlive(t) {
			return fmt.Errorf("%s is dead: %w", g.Name(t), ErrForbidden)
		}
	}

	switch kind {
	case ActionWerewolfVote, ActionBodyguardProtect, ActionSeerPick, ActionSorcererPick, ActionArsonistDouse:
		if targets[0] == actor {
			return fmt.Errorf("%s: you cannot target yourself: %w", kind, ErrForbidden)
		}
	case ActionCupidLink:
		if g.State.Night != 1 {
			return fmt.Errorf("cupid only shoots on the first night: %w", ErrState)
		}
	case ActionVeteranAlert:
		if g.States[actor].VeteranAlerts <= 0 {
			return fmt.Errorf("no alerts left: %w", ErrForbidden)
		}
	case ActionWitchKill, ActionWitchSave:
		if !g.Ledger.WitchCalled {
			return fmt.Errorf("the witch acts after the werewolves: %w", ErrState)
		}
		if kind == ActionWitchKill && targets[0] == actor {
			return fmt.Errorf("%s: you cannot target yourself: %w", kind, ErrForbidden)
		}
		if kind == ActionWitchKill && !g.State.Potions.Kill {
			return fmt.Errorf("potion of death already used: %w", ErrForbidden)
		}
		if kind == ActionWitchSave && (!g.State.Potions.Save || g.Ledger.AttackTarget == 0) {
			return fmt.Errorf("nothing to save: %w", ErrForbidden)
		}
	}
	return nil
}

// Vote casts or replaces a day ballot.
func (s *Session) Vote(ctx context.Context, voter, target PlayerID) error {
	outs, err := s.update(func(g *Game) ([]outbound, error) {
		if g.State.Phase != PhaseVoting {
			return nil, fmt.Errorf("voting is closed: %w", ErrState)
		}
		if !g.IsAlive(voter) {
			return nil, fmt.Errorf("dead players cannot vote: %w", ErrForbidden)
		}
		if _, ok := g.state(target); !ok {
			return nil, fmt.Errorf("player %d: %w", target, ErrMissingTarget)
		}
		if !g.IsAlive(target) {
			return nil, fmt.Errorf("cannot vote for a dead player: %w", ErrForbidden)
		}
		if voter == target {
			return nil, fmt.Errorf("you cannot vote for yourself: %w", ErrForbidden)
		}
		if g.State.DayVotes == nil {
			g.State.DayVotes = VoteLedger{}
		}
		g.State.VoteSeq++
		g.State.DayVotes.Cast(voter, target, g.State.VoteSeq)
		s.persist(ctx, fmt.Sprintf("game_state/day_votes/%d", voter), g.State.DayVotes[voter])
		s.persist(ctx, "game_state/vote_seq", g.State.VoteSeq)

		text := fmt.Sprintf("%s voted to lynch %s.", g.Name(voter), g.Name(target))
		return []outbound{{to: s.everyone(), msg: renderToast(toastInfo, text)}}, nil
	})
	if err != nil {
		return err
	}
	s.deliver(ctx, outs)
	return nil
}

// Reveal publicly reveals the mayor, doubling their vote from now on.
func (s *Session) Reveal(ctx context.Context, actor PlayerID) error {
	outs, err := s.update(func(g *Game) ([]outbound, error) {
		if g.State.Phase != PhaseDay && g.State.Phase != PhaseVoting {
			return nil, fmt.Errorf("the mayor can only reveal during the day: %w", ErrState)
		}
		st, ok := g.state(actor)
		if !ok || !st.IsAlive || st.Role != RoleMayor {
			return nil, fmt.Errorf("only a living mayor can reveal: %w", ErrForbidden)
		}
		if st.IsMayorRevealed {
			return nil, fmt.Errorf("already revealed: %w", ErrForbidden)
		}
		st.IsMayorRevealed = true
		s.persist(ctx, fmt.Sprintf("player_states/%d/is_mayor_revealed", actor), true)

		text := fmt.Sprintf("%s has revealed themselves as the Mayor! Their vote now counts twice.", g.Name(actor))
		return []outbound{{to: s.everyone(), msg: renderToast(toastWarning, text)}}, nil
	})
	if err != nil {
		return err
	}
	s.deliver(ctx, outs)
	return nil
}

// tellStory asks the storyteller to embellish the latest deaths. It does not block
// the phase loop, and outlives it so the deaths that end a game still get their story.
func (s *Session) tellStory(ctx context.Context, night int, phase Phase) {
	teller := s.env.Storyteller
	if teller == nil {
		return
	}
	history, err := s.env.Store.History(ctx, s.id)
	if err != nil {
		logError("tellStory: history", err)
		return
	}
	s.stories.Add(1)
	go func() {
		defer s.stories.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storyTimeout)
		defer cancel()
		text, err := teller.Tell(ctx, history)
		if err != nil {
			log.Printf("tellStory: storyteller error: %v", err)
			return
		}
		if text == "" {
			return
		}
		s.record(ctx, night, phase, text)
		s.deliver(ctx, []outbound{{to: s.everyone(), msg: newMessage(KindStory, text)}})
	}()
}

func joinRoles(roles []Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}
