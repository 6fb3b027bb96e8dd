package db

import (
	"encoding/json"
	"strings"
	"time"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Preference is what a user is looking for. OppositeSex keeps the plain
// binary matching behavior; every other value additionally narrows candidates
// to users who stated the same preference.
type Preference string

const (
	PrefOppositeSex     Preference = "opposite_sex"
	PrefCasualDating    Preference = "casual_dating"
	PrefLongTerm        Preference = "long_term"
	PrefFriendshipFirst Preference = "friendship_first"
	PrefSerious         Preference = "serious"
	PrefMarriage        Preference = "marriage"
	PrefStudyPartners   Preference = "study_partners"
)

var Preferences = []Preference{
	PrefOppositeSex, PrefCasualDating, PrefLongTerm,
	PrefFriendshipFirst, PrefSerious, PrefMarriage, PrefStudyPartners,
}

type ProfileStatus string

const (
	ProfileOnboarding ProfileStatus = "onboarding"
	ProfileActive     ProfileStatus = "active"
	ProfilePaused     ProfileStatus = "paused"
	ProfileDeleted    ProfileStatus = "deleted"
)

// TargetAll marks a target-university set meaning "any university".
const TargetAll = "All"

// Profile table. One row per platform user; soft-delete flips Status so
// historical matches keep a valid reference.
type Profile struct {
	UserID     uint64        `gorm:"primaryKey"`
	Name       string        `gorm:"size:100"`
	Age        int           `gorm:"not null;default:0"`
	Gender     Gender        `gorm:"size:16"`
	PhotoRef   string        `gorm:"size:255"`
	University string        `gorm:"size:100"`
	TargetUnis string        `gorm:"type:text"` // JSON-encoded set
	Hobbies    string        `gorm:"size:255"`  // comma-separated set
	Bio        string        `gorm:"type:text"`
	Preference Preference    `gorm:"size:32"`
	Status     ProfileStatus `gorm:"size:16;not null;default:onboarding;index:idx_status_created,priority:1"`
	CreatedAt  time.Time     `gorm:"autoCreateTime;index:idx_status_created,priority:2"`
	UpdatedAt  time.Time     `gorm:"autoUpdateTime"`
}

// TargetSet decodes the stored target-university set.
func (p *Profile) TargetSet() []string {
	if p.TargetUnis == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(p.TargetUnis), &out); err != nil {
		return nil
	}
	return out
}

// SetTargets encodes the target-university set for storage.
func (p *Profile) SetTargets(unis []string) {
	b, _ := json.Marshal(unis)
	p.TargetUnis = string(b)
}

// TargetsAll reports whether the profile accepts candidates from any university.
func (p *Profile) TargetsAll() bool {
	set := p.TargetSet()
	if len(set) == 0 {
		return true
	}
	for _, u := range set {
		if u == TargetAll {
			return true
		}
	}
	return false
}

// HobbyList splits the comma-separated hobbies field.
func (p *Profile) HobbyList() []string {
	if p.Hobbies == "" {
		return nil
	}
	var out []string
	for _, h := range strings.Split(p.Hobbies, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

type Verdict string

const (
	VerdictLike        Verdict = "like"
	VerdictPass        Verdict = "pass"
	VerdictSecretCrush Verdict = "secret_crush"
)

// Likes reports whether the verdict counts as interest for mutual-match checks.
func (v Verdict) Likes() bool { return v == VerdictLike || v == VerdictSecretCrush }

// Decision represents an actor's verdict on a target.
//
// Composite PK: (ActorID, TargetID)
//   - Ensures a single row per pair (overwrite guarantee).
//
// Indexes:
//   - idx_target_verdict(target_id, verdict) for "who liked me" counts.
//   - the PK covers the O(1) reverse-decision lookup for mutual checks.
type Decision struct {
	ActorID   uint64    `gorm:"primaryKey"`
	TargetID  uint64    `gorm:"primaryKey;index:idx_target_verdict,priority:1"`
	Verdict   Verdict   `gorm:"size:16;not null;index:idx_target_verdict,priority:2"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

type MatchStatus string

const (
	MatchActive    MatchStatus = "active"
	MatchUnmatched MatchStatus = "unmatched"
)

// Match is append-only history: unmatching flips Status, re-matching inserts a
// fresh row. UserAID < UserBID always (normalized unordered pair), so active
// pair uniqueness is a single indexed lookup.
type Match struct {
	ID          uint64      `gorm:"primaryKey;autoIncrement"`
	UserAID     uint64      `gorm:"not null;index:idx_pair_status,priority:1"`
	UserBID     uint64      `gorm:"not null;index:idx_pair_status,priority:2"`
	Status      MatchStatus `gorm:"size:16;not null;index:idx_pair_status,priority:3"`
	MutualCrush bool        `gorm:"not null;default:false"`
	CreatedAt   time.Time   `gorm:"autoCreateTime"`
	UpdatedAt   time.Time   `gorm:"autoUpdateTime"`
}

// Includes reports whether userID is one of the two match members.
func (m *Match) Includes(userID uint64) bool {
	return m.UserAID == userID || m.UserBID == userID
}

// Counterpart returns the other member of the match.
func (m *Match) Counterpart(userID uint64) uint64 {
	if m.UserAID == userID {
		return m.UserBID
	}
	return m.UserAID
}

// NormalizePair orders an unordered user pair as (min, max).
func NormalizePair(a, b uint64) (uint64, uint64) {
	if a > b {
		return b, a
	}
	return a, b
}

type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// ChatSession is owned by its Match: opened when the match is announced,
// closed when either party unmatches or blocks.
type ChatSession struct {
	ID        uint64        `gorm:"primaryKey;autoIncrement"`
	MatchID   uint64        `gorm:"not null;uniqueIndex"`
	Status    SessionStatus `gorm:"size:16;not null"`
	CreatedAt time.Time     `gorm:"autoCreateTime"`
	UpdatedAt time.Time     `gorm:"autoUpdateTime"`
}

// BlockRecord is unidirectional in storage; the selector and relay treat it
// symmetrically.
type BlockRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	ActorID   uint64    `gorm:"not null;uniqueIndex:idx_block_pair,priority:1"`
	TargetID  uint64    `gorm:"not null;uniqueIndex:idx_block_pair,priority:2;index"`
	Reason    string    `gorm:"size:255"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

type ReportRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	ActorID   uint64    `gorm:"not null;index"`
	TargetID  uint64    `gorm:"not null;index"`
	Reason    string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}
