package types

import "encoding/json"

// Optional is a field that is either unset or set to a value. A JSON field
// that is absent leaves it unset; an explicit null sets it to the zero value.
type Optional[T any] struct {
	value T
	set   bool
}

// Set returns an Optional holding v.
func Set[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// Get returns the value and whether it was set.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

func (o Optional[T]) IsSet() bool {
	return o.set
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	var v T
	if string(data) != "null" {
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
	}
	o.value = v
	o.set = true
	return nil
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UserPatch lists the profile fields a caller may change. Only set fields
// are applied.
type UserPatch struct {
	Username     Optional[string]   `json:"username"`
	Email        Optional[string]   `json:"email"`
	BirthDate    Optional[*Date]    `json:"birth_date"`
	City         Optional[string]   `json:"city"`
	Preferences  Optional[[]string] `json:"preferences"`
	AvatarURL    Optional[*string]  `json:"-"`
	PushToken    Optional[*string]  `json:"-"`
	RefreshToken Optional[*string]  `json:"-"`
	ThreadID     Optional[*string]  `json:"-"`
	AssistantID  Optional[*string]  `json:"-"`
	PasswordHash Optional[string]   `json:"-"`
}

// Apply copies every set field onto u.
func (p UserPatch) Apply(u *User) {
	if v, ok := p.Username.Get(); ok {
		u.Username = v
	}
	if v, ok := p.Email.Get(); ok {
		u.Email = v
	}
	if v, ok := p.BirthDate.Get(); ok {
		u.BirthDate = v
	}
	if v, ok := p.City.Get(); ok {
		u.City = v
	}
	if v, ok := p.Preferences.Get(); ok {
		u.Preferences = v
	}
	if v, ok := p.AvatarURL.Get(); ok {
		u.AvatarURL = v
	}
	if v, ok := p.PushToken.Get(); ok {
		u.PushToken = v
	}
	if v, ok := p.RefreshToken.Get(); ok {
		u.RefreshToken = v
	}
	if v, ok := p.ThreadID.Get(); ok {
		u.ThreadID = v
	}
	if v, ok := p.AssistantID.Get(); ok {
		u.AssistantID = v
	}
	// A password hash is only ever replaced, never cleared.
	if v, ok := p.PasswordHash.Get(); ok && v != "" {
		u.PasswordHash = v
	}
}

// TouchesRecommendations reports whether the patch sets city or
// preferences, the inputs of the recommendation service.
func (p UserPatch) TouchesRecommendations() bool {
	return p.City.IsSet() || p.Preferences.IsSet()
}

// IsEmpty reports whether no field is set.
func (p UserPatch) IsEmpty() bool {
	return !p.Username.IsSet() && !p.Email.IsSet() && !p.BirthDate.IsSet() &&
		!p.City.IsSet() && !p.Preferences.IsSet() && !p.AvatarURL.IsSet() &&
		!p.PushToken.IsSet() && !p.RefreshToken.IsSet() && !p.ThreadID.IsSet() &&
		!p.AssistantID.IsSet() && !p.PasswordHash.IsSet()
}
