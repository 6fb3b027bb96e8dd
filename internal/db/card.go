package db

// ProfileCard is the rendering-agnostic view of a profile exposed to other
// users. It deliberately omits the platform user id: counterparts are
// addressed through match ids, which keeps the chat anonymous.
type ProfileCard struct {
	Name       string     `json:"name"`
	Age        int        `json:"age"`
	Gender     Gender     `json:"gender"`
	University string     `json:"university"`
	Hobbies    []string   `json:"hobbies,omitempty"`
	Bio        string     `json:"bio,omitempty"`
	Preference Preference `json:"preference"`
	PhotoRef   string     `json:"photo_ref,omitempty"`
}

// Card builds the shareable view of the profile.
func (p *Profile) Card() ProfileCard {
	return ProfileCard{
		Name:       p.Name,
		Age:        p.Age,
		Gender:     p.Gender,
		University: p.University,
		Hobbies:    p.HobbyList(),
		Bio:        p.Bio,
		Preference: p.Preference,
		PhotoRef:   p.PhotoRef,
	}
}
