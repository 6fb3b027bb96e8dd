package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/gbimatch/matchmaker/internal/app"
	"github.com/gbimatch/matchmaker/internal/db"
	svcErr "github.com/gbimatch/matchmaker/internal/errors"
	"github.com/gbimatch/matchmaker/internal/repository"
	"github.com/gbimatch/matchmaker/internal/service/notify"
	"github.com/gbimatch/matchmaker/internal/service/relay"
	"github.com/gbimatch/matchmaker/internal/service/safety"
	"github.com/gbimatch/matchmaker/internal/service/selector"
	"github.com/gbimatch/matchmaker/internal/service/swipe"
	"github.com/gbimatch/matchmaker/internal/utils/kmutex"
)

// Action types accepted by the engine.
const (
	ActionStartOnboarding = "start_onboarding"
	ActionSubmitField     = "submit_field"
	ActionBeginSwiping    = "begin_swiping"
	ActionSwipe           = "swipe"
	ActionViewMatches     = "view_matches"
	ActionOpenChat        = "open_chat"
	ActionSendMessage     = "send_message"
	ActionBlock           = "block"
	ActionReport          = "report"
	ActionUnmatch         = "unmatch"
	ActionViewProfile     = "view_profile"
	ActionEditProfile     = "edit_profile"
	ActionDeleteAccount   = "delete_account"
	ActionConfirm         = "confirm"
	ActionCancel          = "cancel"
)

// Expect hints tell the presentation layer what kind of reply to collect.
const (
	ExpectText   = "text"
	ExpectChoice = "choice"
	ExpectNone   = "none"
)

const matchPageSize = 5

// Action is the inbound event from the presentation layer.
type Action struct {
	Type     string     `json:"type"`
	Text     string     `json:"text,omitempty"`
	Field    Field      `json:"field,omitempty"`
	Decision db.Verdict `json:"decision,omitempty"`
	MatchID  uint64     `json:"match_id,omitempty"`
	TargetID uint64     `json:"target_id,omitempty"`
	Cursor   string     `json:"cursor,omitempty"`
}

// MatchSummary is one row of a view_matches page.
type MatchSummary struct {
	MatchID     uint64 `json:"match_id"`
	Name        string `json:"name"`
	MutualCrush bool   `json:"mutual_crush,omitempty"`
}

// Output is the response descriptor rendered by the presentation layer.
type Output struct {
	Prompt        string                `json:"prompt"`
	Expect        string                `json:"expect"`
	Options       []string              `json:"options,omitempty"`
	Candidate     *db.ProfileCard       `json:"candidate,omitempty"`
	Profile       *db.ProfileCard       `json:"profile,omitempty"`
	LikeCount     int64                 `json:"like_count,omitempty"`
	Matches       []MatchSummary        `json:"matches,omitempty"`
	NextCursor    string                `json:"next_cursor,omitempty"`
	Notifications []notify.Notification `json:"notifications,omitempty"`
}

// Engine owns every user conversation. One action is processed per user at a
// time; durable effects go through the domain services, and the only engine
// state is the small per-user State record in Redis.
type Engine struct {
	appCtx    *app.AppContext
	profiles  *repository.ProfileRepository
	decisions *repository.DecisionRepository
	matches   *repository.MatchRepository
	selector  *selector.Service
	swipes    *swipe.Service
	safety    *safety.Service
	relay     *relay.Service
	users     *kmutex.KMutex[uint64]
}

func NewEngine(
	appCtx *app.AppContext,
	sel *selector.Service,
	sw *swipe.Service,
	sf *safety.Service,
	rl *relay.Service,
) *Engine {
	return &Engine{
		appCtx:    appCtx,
		profiles:  repository.NewProfileRepository(appCtx.DB),
		decisions: repository.NewDecisionRepository(appCtx.DB),
		matches:   repository.NewMatchRepository(appCtx.DB),
		selector:  sel,
		swipes:    sw,
		safety:    sf,
		relay:     rl,
		users:     kmutex.New[uint64](),
	}
}

// Handle processes one inbound action for userID and returns the response
// descriptor. Validation failures never surface as errors: they come back as
// re-prompts so the conversation continues. Returned errors are permission,
// not-found or infrastructure failures for the gateway to map.
func (e *Engine) Handle(ctx context.Context, userID uint64, a Action) (Output, error) {
	unlock := e.users.Lock(userID)
	defer unlock()

	// engine-level repository access shares the storage bound; the domain
	// services apply their own on top
	ctx, cancel := e.appCtx.StorageContext(ctx)
	defer cancel()

	st, err := e.loadState(ctx, userID)
	if err != nil {
		return Output{}, err
	}

	out, err := e.dispatch(ctx, userID, &st, a)
	if svcErr.IsKind(err, svcErr.KindValidation) {
		// re-prompt in place, state unchanged beyond what dispatch did
		out = e.rePrompt(st, svcErr.Message(err))
		err = nil
	}
	if err != nil {
		return Output{}, err
	}

	if saveErr := e.appCtx.RedisCache.SaveSession(ctx, userID, st.encode(), e.appCtx.Cfg.App.SessionTTL); saveErr != nil {
		// recoverable: next action re-derives state from the profile row
		e.appCtx.Logger.Warn("session save failed", "user", userID, "err", saveErr)
	}

	// Deferred notifications are delivered only at safe points, never in the
	// middle of onboarding or a confirmation exchange.
	switch st.Phase {
	case PhaseIdle, PhaseSwiping, PhaseChatting:
		out.Notifications = e.drainNotifications(ctx, userID)
	}
	return out, nil
}

// loadState restores the conversation state, re-deriving it from durable
// storage when the Redis record is gone. A user with a partially onboarded
// profile resumes at the first missing field.
func (e *Engine) loadState(ctx context.Context, userID uint64) (State, error) {
	raw, err := e.appCtx.RedisCache.LoadSession(ctx, userID)
	if err != nil {
		e.appCtx.Logger.Warn("session load failed", "user", userID, "err", err)
	}
	if st, ok := decodeState(raw); ok {
		return st, nil
	}

	p, err := e.profiles.Get(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return State{Phase: PhaseIdle}, nil
	}
	if err != nil {
		return State{}, svcErr.FromStorage(err)
	}
	if p.Status == db.ProfileOnboarding {
		if step, ok := firstIncomplete(p); ok {
			return State{Phase: PhaseOnboarding, Step: step}, nil
		}
	}
	return State{Phase: PhaseIdle}, nil
}

func (e *Engine) dispatch(ctx context.Context, userID uint64, st *State, a Action) (Output, error) {
	switch a.Type {
	case ActionStartOnboarding:
		return e.startOnboarding(ctx, userID, st)
	case ActionSubmitField:
		return e.submitField(ctx, userID, st, a)
	case ActionBeginSwiping:
		return e.beginSwiping(ctx, userID, st)
	case ActionSwipe:
		return e.swipeCandidate(ctx, userID, st, a)
	case ActionViewMatches:
		return e.viewMatches(ctx, userID, a)
	case ActionOpenChat:
		return e.openChat(ctx, userID, st, a)
	case ActionSendMessage:
		return e.sendMessage(ctx, userID, st, a)
	case ActionBlock:
		return e.confirmBlock(ctx, userID, st, a)
	case ActionConfirm:
		return e.applyConfirm(ctx, userID, st)
	case ActionReport:
		return e.askReportReason(st, a)
	case ActionUnmatch:
		return e.unmatch(ctx, userID, st, a)
	case ActionViewProfile:
		return e.viewProfile(ctx, userID)
	case ActionEditProfile:
		return e.editProfile(userID, st, a)
	case ActionDeleteAccount:
		st.reset(PhaseDeleteConfirm)
		return Output{
			Prompt:  "This removes your profile from matching. Your existing matches keep their history. Confirm?",
			Expect:  ExpectChoice,
			Options: []string{ActionConfirm, ActionCancel},
		}, nil
	case ActionCancel:
		st.reset(PhaseIdle)
		return Output{Prompt: "Cancelled.", Expect: ExpectNone}, nil
	default:
		return Output{
			Prompt: "I didn't get that. You can: start_onboarding, begin_swiping, " +
				"view_matches, view_profile, edit_profile, open_chat, block, report, unmatch, delete_account.",
			Expect: ExpectNone,
		}, nil
	}
}

// rePrompt repeats the current step's question prefixed with the validation
// message, so the user can correct the input.
func (e *Engine) rePrompt(st State, msg string) Output {
	out := Output{Prompt: msg, Expect: ExpectText}
	if st.Phase == PhaseOnboarding || st.Phase == PhaseEditing {
		prompt, options := fieldPrompt(e.appCtx.Cfg, st.Step)
		out.Prompt = fmt.Sprintf("%s %s", msg, prompt)
		out.Options = options
		if len(options) > 0 {
			out.Expect = ExpectChoice
		}
	}
	return out
}

func (e *Engine) startOnboarding(ctx context.Context, userID uint64, st *State) (Output, error) {
	p, err := e.profiles.Get(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		p = &db.Profile{UserID: userID, Status: db.ProfileOnboarding}
		if err := e.profiles.Save(ctx, p); err != nil {
			return Output{}, svcErr.FromStorage(err)
		}
	} else if err != nil {
		return Output{}, svcErr.FromStorage(err)
	}

	if p.Status == db.ProfileActive {
		st.reset(PhaseIdle)
		return Output{
			Prompt:  "You already have a profile. Use edit_profile to change it, or begin_swiping.",
			Expect:  ExpectNone,
			Profile: cardOf(p),
		}, nil
	}

	step, ok := firstIncomplete(p)
	if !ok {
		// everything collected earlier; just flip the switch
		return e.activate(ctx, userID, st)
	}
	st.reset(PhaseOnboarding)
	st.Step = step
	return e.promptFor(step), nil
}

func (e *Engine) promptFor(f Field) Output {
	prompt, options := fieldPrompt(e.appCtx.Cfg, f)
	out := Output{Prompt: prompt, Options: options, Expect: ExpectText}
	if len(options) > 0 {
		out.Expect = ExpectChoice
	}
	return out
}

func (e *Engine) submitField(ctx context.Context, userID uint64, st *State, a Action) (Output, error) {
	switch st.Phase {
	case PhaseOnboarding, PhaseEditing:
	case PhaseReportReason:
		return e.fileReport(ctx, userID, st, a.Text)
	default:
		return Output{Prompt: "Nothing to fill in right now. Try start_onboarding.", Expect: ExpectNone}, nil
	}

	p, err := e.profiles.Get(ctx, userID)
	if err != nil {
		return Output{}, svcErr.FromStorage(err)
	}
	if err := applyField(e.appCtx.Cfg, p, st.Step, a.Text); err != nil {
		return Output{}, err // KindValidation, becomes a re-prompt
	}
	if err := e.profiles.Save(ctx, p); err != nil {
		return Output{}, svcErr.FromStorage(err)
	}

	if st.Phase == PhaseEditing {
		st.reset(PhaseIdle)
		return Output{Prompt: "Profile updated.", Expect: ExpectNone, Profile: cardOf(p)}, nil
	}

	if next, ok := firstIncomplete(p); ok {
		st.Step = next
		return e.promptFor(next), nil
	}
	return e.activate(ctx, userID, st)
}

func (e *Engine) activate(ctx context.Context, userID uint64, st *State) (Output, error) {
	if err := e.profiles.SetStatus(ctx, userID, db.ProfileActive); err != nil {
		return Output{}, svcErr.FromStorage(err)
	}
	st.reset(PhaseIdle)
	return Output{
		Prompt: "Your profile is complete and visible. Use begin_swiping to meet people.",
		Expect: ExpectNone,
	}, nil
}

func (e *Engine) beginSwiping(ctx context.Context, userID uint64, st *State) (Output, error) {
	p, err := e.profiles.Get(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Output{Prompt: "Set up your profile first with start_onboarding.", Expect: ExpectNone}, nil
	}
	if err != nil {
		return Output{}, svcErr.FromStorage(err)
	}
	if p.Status != db.ProfileActive {
		return Output{Prompt: "Finish your profile first with start_onboarding.", Expect: ExpectNone}, nil
	}
	return e.showNextCandidate(ctx, p, st, "")
}

// showNextCandidate advances to the next candidate, or ends the swiping phase
// when the eligible set is exhausted.
func (e *Engine) showNextCandidate(ctx context.Context, p *db.Profile, st *State, prefix string) (Output, error) {
	c, err := e.selector.NextCandidate(ctx, p)
	if err != nil {
		return Output{}, err
	}
	if c == nil {
		st.reset(PhaseIdle)
		return Output{
			Prompt: prefix + "No more candidates right now. Check back later!",
			Expect: ExpectNone,
		}, nil
	}
	st.reset(PhaseSwiping)
	st.CandidateID = c.UserID
	return Output{
		Prompt:    prefix + "What do you think?",
		Expect:    ExpectChoice,
		Options:   []string{string(db.VerdictLike), string(db.VerdictPass), string(db.VerdictSecretCrush)},
		Candidate: cardOf(c),
	}, nil
}

func (e *Engine) swipeCandidate(ctx context.Context, userID uint64, st *State, a Action) (Output, error) {
	if st.Phase != PhaseSwiping || st.CandidateID == 0 {
		return Output{Prompt: "Use begin_swiping first.", Expect: ExpectNone}, nil
	}

	outcome, err := e.swipes.Record(ctx, userID, st.CandidateID, a.Decision)
	if svcErr.IsKind(err, svcErr.KindNotFound) {
		// candidate vanished mid-swipe; move on
		return e.nextAfterSwipe(ctx, userID, st, "That profile is no longer available. ")
	}
	if err != nil {
		return Output{}, err
	}

	var prefix string
	switch outcome.Result {
	case swipe.ResultMatchCreated:
		prefix = "It's a match! Check your notifications for details. "
	case swipe.ResultCrushPending:
		prefix = "Your secret crush is saved. They won't know unless they like you back. "
	}
	return e.nextAfterSwipe(ctx, userID, st, prefix)
}

func (e *Engine) nextAfterSwipe(ctx context.Context, userID uint64, st *State, prefix string) (Output, error) {
	p, err := e.profiles.Get(ctx, userID)
	if err != nil {
		return Output{}, svcErr.FromStorage(err)
	}
	return e.showNextCandidate(ctx, p, st, prefix)
}

func (e *Engine) viewMatches(ctx context.Context, userID uint64, a Action) (Output, error) {
	var token *string
	if a.Cursor != "" {
		token = &a.Cursor
	}
	matches, next, err := e.matches.ListActiveForUser(ctx, userID, token, matchPageSize)
	if err != nil {
		return Output{}, svcErr.FromStorage(err)
	}
	if len(matches) == 0 {
		return Output{Prompt: "No matches yet. Keep swiping!", Expect: ExpectNone}, nil
	}

	out := Output{
		Prompt: "Your matches. Use open_chat with a match id to talk.",
		Expect: ExpectNone,
	}
	for _, m := range matches {
		counterpart, err := e.profiles.Get(ctx, m.Counterpart(userID))
		if err != nil {
			return Output{}, svcErr.FromStorage(err)
		}
		out.Matches = append(out.Matches, MatchSummary{
			MatchID:     m.ID,
			Name:        counterpart.Name,
			MutualCrush: m.MutualCrush,
		})
	}
	if next != nil {
		out.NextCursor = *next
	}
	return out, nil
}

func (e *Engine) openChat(ctx context.Context, userID uint64, st *State, a Action) (Output, error) {
	m, err := e.matches.Get(ctx, a.MatchID)
	if err != nil {
		return Output{}, svcErr.FromStorage(err)
	}
	if !m.Includes(userID) {
		return Output{}, svcErr.Permission("not allowed")
	}
	if m.Status != db.MatchActive {
		return Output{Prompt: "That chat is closed.", Expect: ExpectNone}, nil
	}

	counterpart, err := e.profiles.Get(ctx, m.Counterpart(userID))
	if err != nil {
		return Output{}, svcErr.FromStorage(err)
	}

	st.reset(PhaseChatting)
	st.MatchID = m.ID
	return Output{
		Prompt: fmt.Sprintf("You're now chatting with %s. Everything you type is forwarded to them. Use cancel to leave.", counterpart.Name),
		Expect: ExpectText,
	}, nil
}

func (e *Engine) sendMessage(ctx context.Context, userID uint64, st *State, a Action) (Output, error) {
	if st.Phase != PhaseChatting || st.MatchID == 0 {
		return Output{Prompt: "Open a chat first with open_chat.", Expect: ExpectNone}, nil
	}

	err := e.relay.Relay(ctx, userID, st.MatchID, a.Text)
	if errors.Is(err, relay.ErrMatchClosed) {
		st.reset(PhaseIdle)
		return Output{Prompt: "This chat has been closed.", Expect: ExpectNone}, nil
	}
	if err != nil {
		return Output{}, err
	}
	return Output{Prompt: "Delivered.", Expect: ExpectText}, nil
}

// confirmBlock stages a block; the destructive step happens on confirm.
// Mid-chat the target defaults to the current counterpart.
func (e *Engine) confirmBlock(ctx context.Context, userID uint64, st *State, a Action) (Output, error) {
	target, err := e.resolveTarget(ctx, userID, st, a.TargetID)
	if err != nil {
		return Output{}, err
	}
	st.reset(PhaseBlockConfirm)
	st.TargetID = target
	return Output{
		Prompt:  "Blocking removes any match between you and they will never be shown to you again. Confirm?",
		Expect:  ExpectChoice,
		Options: []string{ActionConfirm, ActionCancel},
	}, nil
}

func (e *Engine) applyConfirm(ctx context.Context, userID uint64, st *State) (Output, error) {
	switch {
	case st.Phase == PhaseBlockConfirm && st.TargetID != 0:
		if err := e.safety.Block(ctx, userID, st.TargetID, ""); err != nil {
			return Output{}, err
		}
		st.reset(PhaseIdle)
		return Output{Prompt: "Blocked. You won't see each other again.", Expect: ExpectNone}, nil

	case st.Phase == PhaseDeleteConfirm:
		if err := e.profiles.SoftDelete(ctx, userID); err != nil {
			return Output{}, svcErr.FromStorage(err)
		}
		st.reset(PhaseIdle)
		return Output{Prompt: "Your profile has been deleted. Use start_onboarding if you change your mind.", Expect: ExpectNone}, nil

	default:
		return Output{Prompt: "Nothing to confirm.", Expect: ExpectNone}, nil
	}
}

func (e *Engine) askReportReason(st *State, a Action) (Output, error) {
	if a.TargetID == 0 && !(st.Phase == PhaseChatting && st.MatchID != 0) {
		return Output{}, svcErr.Validation("who do you want to report?")
	}
	target := a.TargetID
	matchID := st.MatchID
	st.reset(PhaseReportReason)
	st.TargetID = target
	st.MatchID = matchID
	return Output{
		Prompt: "Tell us what happened. Your report goes to the moderation team.",
		Expect: ExpectText,
	}, nil
}

func (e *Engine) fileReport(ctx context.Context, userID uint64, st *State, reason string) (Output, error) {
	target := st.TargetID
	if target == 0 {
		var err error
		if target, err = e.counterpartOf(ctx, userID, st.MatchID); err != nil {
			return Output{}, err
		}
	}
	if err := e.safety.Report(ctx, userID, target, reason); err != nil {
		return Output{}, err
	}
	st.reset(PhaseIdle)
	return Output{Prompt: "Thank you. The moderation team will review your report.", Expect: ExpectNone}, nil
}

func (e *Engine) unmatch(ctx context.Context, userID uint64, st *State, a Action) (Output, error) {
	matchID := a.MatchID
	if matchID == 0 && st.Phase == PhaseChatting {
		matchID = st.MatchID
	}
	if matchID == 0 {
		return Output{}, svcErr.Validation("which match do you want to end?")
	}
	if err := e.safety.Unmatch(ctx, userID, matchID); err != nil {
		return Output{}, err
	}
	st.reset(PhaseIdle)
	return Output{Prompt: "Unmatched.", Expect: ExpectNone}, nil
}

func (e *Engine) viewProfile(ctx context.Context, userID uint64) (Output, error) {
	p, err := e.profiles.Get(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Output{Prompt: "You don't have a profile yet. Use start_onboarding.", Expect: ExpectNone}, nil
	}
	if err != nil {
		return Output{}, svcErr.FromStorage(err)
	}

	likes, err := e.appCtx.RedisCache.GetLikeCount(ctx, userID)
	if err != nil || likes == 0 {
		if likes, err = e.decisions.CountLikers(ctx, userID); err == nil {
			_ = e.appCtx.RedisCache.UpdateLikeCount(ctx, userID, likes)
		}
	}

	return Output{
		Prompt:    fmt.Sprintf("%d people have liked you so far.", likes),
		Expect:    ExpectNone,
		Profile:   cardOf(p),
		LikeCount: likes,
	}, nil
}

func (e *Engine) editProfile(userID uint64, st *State, a Action) (Output, error) {
	valid := false
	for _, f := range fieldOrder {
		if a.Field == f {
			valid = true
			break
		}
	}
	if !valid {
		return Output{}, svcErr.Validation("unknown profile field %q", a.Field)
	}
	st.reset(PhaseEditing)
	st.Step = a.Field
	return e.promptFor(a.Field), nil
}

// resolveTarget picks the explicit target, falling back to the counterpart of
// the chat the user is currently in.
func (e *Engine) resolveTarget(ctx context.Context, userID uint64, st *State, explicit uint64) (uint64, error) {
	if explicit != 0 {
		if explicit == userID {
			return 0, svcErr.Validation("that's you")
		}
		return explicit, nil
	}
	if st.Phase == PhaseChatting && st.MatchID != 0 {
		return e.counterpartOf(ctx, userID, st.MatchID)
	}
	return 0, svcErr.Validation("who do you mean? Provide a target")
}

func (e *Engine) counterpartOf(ctx context.Context, userID, matchID uint64) (uint64, error) {
	m, err := e.matches.Get(ctx, matchID)
	if err != nil {
		return 0, svcErr.FromStorage(err)
	}
	if !m.Includes(userID) {
		return 0, svcErr.Permission("not allowed")
	}
	return m.Counterpart(userID), nil
}

func (e *Engine) drainNotifications(ctx context.Context, userID uint64) []notify.Notification {
	payloads, err := e.appCtx.RedisCache.DrainPending(ctx, userID)
	if err != nil {
		e.appCtx.Logger.Warn("notification drain failed", "user", userID, "err", err)
		return nil
	}
	var out []notify.Notification
	for _, raw := range payloads {
		var n notify.Notification
		if err := json.Unmarshal(raw, &n); err != nil {
			e.appCtx.Logger.Warn("dropping malformed notification", "user", userID, "err", err)
			continue
		}
		out = append(out, n)
	}
	return out
}

func cardOf(p *db.Profile) *db.ProfileCard {
	c := p.Card()
	return &c
}
