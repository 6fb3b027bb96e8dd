package db

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gbimatch/matchmaker/internal/config"
)

// SeedTestData resets the database and populates it with demo profiles,
// decisions and a handful of matches.
//
// Behavior:
//  1. Clears existing rows in every engine table.
//  2. Creates 20 active profiles (10 male, 10 female) spread over the
//     configured universities.
//  3. Generates ~200 decisions with ~70% likes; every 3rd pair is made mutual
//     and gets a Match row with an open ChatSession.
//
// Compatible with both MySQL and SQLite.
func SeedTestData(gdb *gorm.DB, cfg *config.Config) error {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	for _, table := range []string{"report_records", "block_records", "chat_sessions", "matches", "decisions", "profiles"} {
		if err := gdb.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	log.Println("Cleared existing data")

	unis := cfg.App.Universities
	prefs := Preferences

	for i := 1; i <= 20; i++ {
		gender := GenderMale
		if i > 10 {
			gender = GenderFemale
		}

		p := Profile{
			UserID:     uint64(i),
			Name:       fmt.Sprintf("Demo User %d", i),
			Age:        cfg.App.AgeMin + r.Intn(cfg.App.AgeMax-cfg.App.AgeMin+1),
			Gender:     gender,
			PhotoRef:   fmt.Sprintf("photo-%d", i),
			University: unis[r.Intn(len(unis))],
			Hobbies:    "music, football, reading",
			Bio:        "Demo bio for seeding and local development.",
			Preference: prefs[r.Intn(len(prefs))],
			Status:     ProfileActive,
		}
		p.SetTargets([]string{TargetAll})

		if err := gdb.Create(&p).Error; err != nil {
			return fmt.Errorf("failed to seed profile: %w", err)
		}
	}
	log.Println("Seeded 20 profiles.")

	counter := 0
	for actorID := uint64(1); actorID <= 20; actorID++ {
		for j := 0; j < 12; j++ {
			targetID := uint64(r.Intn(20) + 1)
			if actorID == targetID {
				continue
			}

			var actor, target Profile
			if err := gdb.First(&actor, actorID).Error; err != nil {
				continue
			}
			if err := gdb.First(&target, targetID).Error; err != nil {
				continue
			}
			if actor.Gender == target.Gender {
				continue
			}

			verdict := VerdictPass
			if r.Intn(100) < 70 {
				verdict = VerdictLike
			}

			// guarantee mutual likes every 3rd pair
			if counter%3 == 0 {
				verdict = VerdictLike
				recip := Decision{ActorID: targetID, TargetID: actorID, Verdict: VerdictLike}
				gdb.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "actor_id"}, {Name: "target_id"}},
					DoUpdates: clause.AssignmentColumns([]string{"verdict", "updated_at"}),
				}).Create(&recip)

				a, b := NormalizePair(actorID, targetID)
				var existing Match
				err := gdb.Where("user_a_id = ? AND user_b_id = ? AND status = ?", a, b, MatchActive).
					First(&existing).Error
				if err == gorm.ErrRecordNotFound {
					m := Match{UserAID: a, UserBID: b, Status: MatchActive}
					if err := gdb.Create(&m).Error; err != nil {
						return fmt.Errorf("failed to seed match: %w", err)
					}
					if err := gdb.Create(&ChatSession{MatchID: m.ID, Status: SessionOpen}).Error; err != nil {
						return fmt.Errorf("failed to seed chat session: %w", err)
					}
				}
			}

			decision := Decision{ActorID: actorID, TargetID: targetID, Verdict: verdict}
			if err := gdb.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "actor_id"}, {Name: "target_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"verdict", "updated_at"}),
			}).Create(&decision).Error; err != nil {
				return fmt.Errorf("failed to seed decision: %w", err)
			}

			counter++
		}
	}

	return nil
}
