// Package session is the conversation engine: one explicit tagged state per
// user, pure transition logic, per-user single-owner locking and Redis
// persistence. Anything durable (profile fields, decisions, matches) is
// committed as it is produced, so a lost session record costs at most the
// current prompt, never data.
package session

import (
	"encoding/json"

	"github.com/gbimatch/matchmaker/internal/db"
)

// Phase names the conversation mode a user is in.
type Phase string

const (
	PhaseOnboarding    Phase = "onboarding"
	PhaseIdle          Phase = "idle"
	PhaseSwiping       Phase = "swiping"
	PhaseEditing       Phase = "editing"
	PhaseChatting      Phase = "chatting"
	PhaseBlockConfirm  Phase = "block_confirm"
	PhaseReportReason  Phase = "report_reason"
	PhaseDeleteConfirm Phase = "delete_confirm"
)

// Field names a profile field collected during onboarding or editing.
type Field string

const (
	FieldName       Field = "name"
	FieldAge        Field = "age"
	FieldGender     Field = "gender"
	FieldPhoto      Field = "photo"
	FieldUniversity Field = "university"
	FieldTargets    Field = "target_universities"
	FieldHobbies    Field = "hobbies"
	FieldBio        Field = "bio"
	FieldPreference Field = "preference"
)

// fieldOrder is the onboarding sequence. Resume after state loss walks this
// list against the stored profile and picks up at the first gap.
var fieldOrder = []Field{
	FieldName, FieldAge, FieldGender, FieldPhoto, FieldUniversity,
	FieldTargets, FieldHobbies, FieldBio, FieldPreference,
}

// State is the per-user conversation state persisted in Redis. Only the
// fields relevant to the current phase are set.
type State struct {
	Phase       Phase  `json:"phase"`
	Step        Field  `json:"step,omitempty"`
	CandidateID uint64 `json:"candidate_id,omitempty"`
	MatchID     uint64 `json:"match_id,omitempty"`
	TargetID    uint64 `json:"target_id,omitempty"`
}

func (s *State) reset(p Phase) {
	*s = State{Phase: p}
}

func (s State) encode() []byte {
	b, _ := json.Marshal(s)
	return b
}

func decodeState(b []byte) (State, bool) {
	var s State
	if err := json.Unmarshal(b, &s); err != nil || s.Phase == "" {
		return State{}, false
	}
	return s, true
}

// firstIncomplete returns the first onboarding field the profile has no value
// for, or false when the profile is complete.
func firstIncomplete(p *db.Profile) (Field, bool) {
	for _, f := range fieldOrder {
		if !fieldSet(p, f) {
			return f, true
		}
	}
	return "", false
}

func fieldSet(p *db.Profile, f Field) bool {
	switch f {
	case FieldName:
		return p.Name != ""
	case FieldAge:
		return p.Age != 0
	case FieldGender:
		return p.Gender != ""
	case FieldPhoto:
		return p.PhotoRef != ""
	case FieldUniversity:
		return p.University != ""
	case FieldTargets:
		return p.TargetUnis != ""
	case FieldHobbies:
		return p.Hobbies != ""
	case FieldBio:
		return p.Bio != ""
	case FieldPreference:
		return p.Preference != ""
	}
	return true
}
