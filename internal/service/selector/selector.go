package selector

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/gbimatch/matchmaker/internal/app"
	"github.com/gbimatch/matchmaker/internal/db"
	svcErr "github.com/gbimatch/matchmaker/internal/errors"
	"github.com/gbimatch/matchmaker/internal/repository"
)

// Service produces the next eligible candidate for a requesting user.
//
// Selection policy, in order: exclude self, already-decided profiles, blocked
// pairs (either direction) and non-active profiles; candidates are always of
// the opposite gender; a non-default relationship preference further narrows
// to candidates who stated the same preference; a non-"All" target-university
// set restricts universities. The remaining set is ordered by profile creation
// time, which is deterministic and fair: decided-on profiles leave the set, so
// nobody is shown twice.
type Service struct {
	appCtx   *app.AppContext
	profiles *repository.ProfileRepository
}

func New(appCtx *app.AppContext) *Service {
	return &Service{
		appCtx:   appCtx,
		profiles: repository.NewProfileRepository(appCtx.DB),
	}
}

// NextCandidate returns the next candidate profile for the requester, or
// (nil, nil) when the eligible set is empty. An empty set is a terminal
// "no more candidates" state for the caller, not an error.
func (s *Service) NextCandidate(ctx context.Context, requester *db.Profile) (*db.Profile, error) {
	if requester.Status != db.ProfileActive {
		return nil, svcErr.Permission("profile is not active")
	}

	wantGender := db.GenderFemale
	if requester.Gender == db.GenderFemale {
		wantGender = db.GenderMale
	}

	var samePref db.Preference
	if requester.Preference != db.PrefOppositeSex {
		samePref = requester.Preference
	}

	var targets []string
	if !requester.TargetsAll() {
		targets = requester.TargetSet()
	}

	ctx, cancel := s.appCtx.StorageContext(ctx)
	defer cancel()

	var candidate *db.Profile
	err := svcErr.Retry(ctx, 50*time.Millisecond, func(ctx context.Context) error {
		var qErr error
		candidate, qErr = s.profiles.FindCandidate(ctx, requester.UserID, wantGender, samePref, targets)
		if qErr != nil && !errors.Is(qErr, gorm.ErrRecordNotFound) {
			return svcErr.FromStorage(qErr)
		}
		return qErr
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.appCtx.Logger.Error("candidate query failed", "requester", requester.UserID, "err", err)
		return nil, svcErr.FromStorage(err)
	}

	s.appCtx.Logger.Debug("candidate selected", "requester", requester.UserID, "candidate", candidate.UserID)
	return candidate, nil
}
