package clgate

import (
	"errors"
	"fmt"
	"time"
)

// TimestampLayout est un ISO-8601 à largeur fixe, triable comme une chaîne
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

var ErrMalformedTimestamp = errors.New("horodatage d'accès invalide")

// VisitorAccess est la ligne persistée de visitor_access
type VisitorAccess struct {
	VisitorID    string  `gorm:"column:visitor_id;primaryKey" json:"visitor_id"`
	StartTime    *string `gorm:"column:start_time;type:text" json:"start_time"`
	AccessStatus string  `gorm:"column:access_status;type:text" json:"access_status"`
	UnlockTime   *string `gorm:"column:unlock_time;type:text" json:"unlock_time"`
}

func (VisitorAccess) TableName() string {
	return "visitor_access"
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedTimestamp, s)
	}
	return t.UTC(), nil
}

func optionalTimestamp(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := FormatTimestamp(t)
	return &s
}

// ToRecord sérialise l'état pour la base
func (s AccessState) ToRecord() VisitorAccess {
	return VisitorAccess{
		VisitorID:    s.VisitorID,
		AccessStatus: string(s.Status),
		StartTime:    optionalTimestamp(s.TrialStartedAt),
		UnlockTime:   optionalTimestamp(s.UnlockedAt),
	}
}

// FromRecord relit une ligne; un horodatage illisible renvoie ErrMalformedTimestamp
// avec un état verrouillé pour le même visiteur.
func FromRecord(rec VisitorAccess) (AccessState, error) {
	state := AccessState{
		VisitorID: rec.VisitorID,
		Status:    Status(rec.AccessStatus),
	}

	if rec.StartTime != nil && *rec.StartTime != "" {
		t, err := ParseTimestamp(*rec.StartTime)
		if err != nil {
			return LockedState(rec.VisitorID), err
		}
		state.TrialStartedAt = t
	}
	if rec.UnlockTime != nil && *rec.UnlockTime != "" {
		t, err := ParseTimestamp(*rec.UnlockTime)
		if err != nil {
			return LockedState(rec.VisitorID), err
		}
		state.UnlockedAt = t
	}

	return state, nil
}
