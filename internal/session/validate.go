package session

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gbimatch/matchmaker/internal/config"
	"github.com/gbimatch/matchmaker/internal/db"
	svcErr "github.com/gbimatch/matchmaker/internal/errors"
)

const (
	nameMin    = 3
	nameMax    = 50
	hobbiesMin = 3
	hobbiesMax = 200
	bioMin     = 10
	bioMax     = 500
)

// applyField validates raw input for field f and, on success, writes it into
// the profile. Validation failures are KindValidation errors whose message is
// shown to the user as a re-prompt.
func applyField(cfg *config.Config, p *db.Profile, f Field, raw string) error {
	raw = strings.TrimSpace(raw)

	switch f {
	case FieldName:
		if n := utf8.RuneCountInString(raw); n < nameMin || n > nameMax {
			return svcErr.Validation("name must be %d-%d characters", nameMin, nameMax)
		}
		p.Name = raw

	case FieldAge:
		age, err := strconv.Atoi(raw)
		if err != nil || age < cfg.App.AgeMin || age > cfg.App.AgeMax {
			return svcErr.Validation("age must be a number between %d and %d", cfg.App.AgeMin, cfg.App.AgeMax)
		}
		p.Age = age

	case FieldGender:
		switch db.Gender(strings.ToLower(raw)) {
		case db.GenderMale:
			p.Gender = db.GenderMale
		case db.GenderFemale:
			p.Gender = db.GenderFemale
		default:
			return svcErr.Validation("please choose male or female")
		}

	case FieldPhoto:
		if raw == "" {
			return svcErr.Validation("please send a photo")
		}
		p.PhotoRef = raw

	case FieldUniversity:
		if !inList(raw, cfg.App.Universities) {
			return svcErr.Validation("please choose a university from the list")
		}
		p.University = raw

	case FieldTargets:
		targets, err := parseTargets(raw, cfg.App.Universities)
		if err != nil {
			return err
		}
		p.SetTargets(targets)

	case FieldHobbies:
		if n := utf8.RuneCountInString(raw); n < hobbiesMin || n > hobbiesMax {
			return svcErr.Validation("hobbies must be %d-%d characters, comma-separated", hobbiesMin, hobbiesMax)
		}
		p.Hobbies = raw

	case FieldBio:
		if n := utf8.RuneCountInString(raw); n < bioMin || n > bioMax {
			return svcErr.Validation("bio must be %d-%d characters", bioMin, bioMax)
		}
		p.Bio = raw

	case FieldPreference:
		pref := db.Preference(strings.ToLower(strings.ReplaceAll(raw, " ", "_")))
		for _, known := range db.Preferences {
			if pref == known {
				p.Preference = pref
				return nil
			}
		}
		return svcErr.Validation("please choose one of the listed relationship types")

	default:
		return svcErr.Validation("unknown profile field %q", f)
	}
	return nil
}

// parseTargets accepts the "All" marker or a comma-separated subset of the
// configured university list.
func parseTargets(raw string, universities []string) ([]string, error) {
	if strings.EqualFold(raw, db.TargetAll) {
		return []string{db.TargetAll}, nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !inList(part, universities) {
			return nil, svcErr.Validation("%q is not in the university list", part)
		}
		out = append(out, part)
	}
	if len(out) == 0 {
		return nil, svcErr.Validation("pick at least one university, or All")
	}
	return out, nil
}

func inList(v string, list []string) bool {
	for _, item := range list {
		if v == item {
			return true
		}
	}
	return false
}

// fieldPrompt returns the user-facing prompt and, where the answer is a
// choice, the options for an onboarding/editing field.
func fieldPrompt(cfg *config.Config, f Field) (string, []string) {
	switch f {
	case FieldName:
		return "What's your name?", nil
	case FieldAge:
		return "How old are you?", nil
	case FieldGender:
		return "What's your gender?", []string{string(db.GenderMale), string(db.GenderFemale)}
	case FieldPhoto:
		return "Send a photo of yourself.", nil
	case FieldUniversity:
		return "Which university do you attend?", cfg.App.Universities
	case FieldTargets:
		return "Which universities would you like to match with? Pick from the list, or All.",
			append([]string{db.TargetAll}, cfg.App.Universities...)
	case FieldHobbies:
		return "List a few hobbies, comma-separated.", nil
	case FieldBio:
		return "Write a short bio.", nil
	case FieldPreference:
		opts := make([]string, len(db.Preferences))
		for i, pr := range db.Preferences {
			opts[i] = string(pr)
		}
		return "What are you looking for?", opts
	}
	return "", nil
}
