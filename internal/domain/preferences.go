package domain

type NotificationPreferences struct {
	BadgerReminders  bool `json:"badger_reminders"`
	DeadlineWarnings bool `json:"deadline_warnings"`
	Milestones       bool `json:"milestones"`
}

type Preferences struct {
	CommunicationFrequency CommunicationFrequency  `json:"communication_frequency,omitempty"`
	Notifications          NotificationPreferences `json:"notifications"`
}

// DefaultPreferences opts a new user into every notification kind and leaves
// the reminder cadence to the delivery personality.
func DefaultPreferences() Preferences {
	return Preferences{
		Notifications: NotificationPreferences{
			BadgerReminders:  true,
			DeadlineWarnings: true,
			Milestones:       true,
		},
	}
}

// Allows reports whether the user has opted into notifications of kind k.
// Kinds without a preference switch are always delivered.
func (p Preferences) Allows(k NotificationKind) bool {
	switch k {
	case NotifyReminder:
		return p.Notifications.BadgerReminders
	case NotifyDeadlineWarning:
		return p.Notifications.DeadlineWarnings
	case NotifyMilestone:
		return p.Notifications.Milestones
	}
	return true
}

// Cadence resolves the reminder frequency: the user's own setting when present,
// else the delivery personality's.
func (p Preferences) Cadence(personality Personality) CommunicationFrequency {
	if p.CommunicationFrequency != "" {
		return p.CommunicationFrequency
	}
	if personality.CommunicationFrequency != "" {
		return personality.CommunicationFrequency
	}
	return FrequencyMedium
}

// PreferenceUpdate changes one preference field.
type PreferenceUpdate func(*Preferences) error

func WithCommunicationFrequency(f CommunicationFrequency) PreferenceUpdate {
	return func(p *Preferences) error {
		switch f {
		case FrequencyHigh, FrequencyMedium, FrequencyLow, "":
		default:
			return NewValidationError("preferences.communication_frequency", "unknown communication frequency "+string(f))
		}
		p.CommunicationFrequency = f
		return nil
	}
}

func WithBadgerReminders(on bool) PreferenceUpdate {
	return func(p *Preferences) error {
		p.Notifications.BadgerReminders = on
		return nil
	}
}

func WithDeadlineWarnings(on bool) PreferenceUpdate {
	return func(p *Preferences) error {
		p.Notifications.DeadlineWarnings = on
		return nil
	}
}

func WithMilestones(on bool) PreferenceUpdate {
	return func(p *Preferences) error {
		p.Notifications.Milestones = on
		return nil
	}
}

// ApplyPreferenceUpdates returns a copy of p with every update applied. The
// input is untouched when any update fails.
func ApplyPreferenceUpdates(p Preferences, updates ...PreferenceUpdate) (Preferences, error) {
	out := p
	for _, u := range updates {
		if err := u(&out); err != nil {
			return p, err
		}
	}
	return out, nil
}
