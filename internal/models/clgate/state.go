package clgate

import (
	"time"
)

// Status est l'état d'accès d'un visiteur
type Status string

const (
	StatusFree     Status = "free"
	StatusLocked   Status = "locked"
	StatusUnlocked Status = "unlocked"
)

// Policy regroupe les durées de l'essai gratuit et du déverrouillage
type Policy struct {
	Trial  time.Duration
	Unlock time.Duration
}

// AccessState est l'état persistant d'un visiteur.
// Free porte TrialStartedAt, Unlocked porte UnlockedAt, Locked n'a aucun des deux.
type AccessState struct {
	VisitorID      string
	Status         Status
	TrialStartedAt time.Time
	UnlockedAt     time.Time
}

// Decision est le résultat d'une vérification d'accès
type Decision struct {
	Granted   bool          `json:"granted"`
	Status    Status        `json:"status"`
	Remaining time.Duration `json:"-"`
}

func NewState(visitorID string, now time.Time) AccessState {
	return AccessState{
		VisitorID:      visitorID,
		Status:         StatusFree,
		TrialStartedAt: now,
	}
}

func LockedState(visitorID string) AccessState {
	return AccessState{VisitorID: visitorID, Status: StatusLocked}
}

// Unlock passe en unlocked quel que soit l'état précédent
func Unlock(visitorID string, now time.Time) AccessState {
	return AccessState{
		VisitorID:  visitorID,
		Status:     StatusUnlocked,
		UnlockedAt: now,
	}
}

func denied() Decision {
	return Decision{Granted: false, Status: StatusLocked}
}

// Evaluate applique la machine à états à l'instant now.
// changed indique une transition qui doit être persistée avant de répondre.
func Evaluate(state AccessState, now time.Time, policy Policy) (next AccessState, decision Decision, changed bool) {
	switch state.Status {
	case StatusFree:
		if remaining, ok := remainingSince(state.TrialStartedAt, now, policy.Trial); ok {
			return state, Decision{Granted: true, Status: StatusFree, Remaining: remaining}, false
		}
	case StatusUnlocked:
		if remaining, ok := remainingSince(state.UnlockedAt, now, policy.Unlock); ok {
			return state, Decision{Granted: true, Status: StatusUnlocked, Remaining: remaining}, false
		}
	case StatusLocked:
		if state.TrialStartedAt.IsZero() && state.UnlockedAt.IsZero() {
			return state, denied(), false
		}
	}

	// expiré, état inconnu ou horodatage manquant: verrouillé
	return LockedState(state.VisitorID), denied(), true
}

func remainingSince(start, now time.Time, d time.Duration) (time.Duration, bool) {
	if start.IsZero() {
		return 0, false
	}
	elapsed := now.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= d {
		return 0, false
	}
	return d - elapsed, true
}
