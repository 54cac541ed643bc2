package clgate

import (
	"context"
	"errors"
	"fmt"
	"littlepage/internal/models/cllog"
	"time"

	"github.com/andskur/argon2-hashing"
	"github.com/robfig/cron/v3"
)

var ErrNoIdentity = errors.New("identifiant visiteur manquant")

// Gate décide à chaque requête si le visiteur voit le contenu protégé.
// Toute erreur de stockage ferme l'accès.
type Gate struct {
	store      Store
	policy     Policy
	secretHash []byte

	Now func() time.Time
}

// New crée le gate; secretHash est le hash argon2 du mot de passe partagé
func New(store Store, policy Policy, secretHash string) *Gate {
	return &Gate{
		store:      store,
		policy:     policy,
		secretHash: []byte(secretHash),
		Now:        time.Now,
	}
}

func (g *Gate) Policy() Policy {
	return g.policy
}

// CheckAccess évalue et persiste l'état du visiteur avant de répondre
func (g *Gate) CheckAccess(ctx context.Context, visitorID string) (Decision, error) {
	if visitorID == "" {
		return denied(), ErrNoIdentity
	}
	now := g.Now()

	state, err := g.store.Load(ctx, visitorID)
	switch {
	case errors.Is(err, ErrNotFound):
		state = NewState(visitorID, now)
		if err := g.store.Save(ctx, state); err != nil {
			return denied(), err
		}
		return Decision{Granted: true, Status: StatusFree, Remaining: g.policy.Trial}, nil

	case errors.Is(err, ErrMalformedTimestamp):
		cllog.Component("gate").Warn().Err(err).Str("visitor_id", visitorID).Msg("état illisible, visiteur verrouillé")
		if err := g.store.Save(ctx, LockedState(visitorID)); err != nil {
			return denied(), err
		}
		return denied(), nil

	case err != nil:
		return denied(), fmt.Errorf("état d'accès indisponible: %w", err)
	}

	next, decision, changed := Evaluate(state, now, g.policy)
	if changed {
		if err := g.store.Save(ctx, next); err != nil {
			return denied(), err
		}
		cllog.Component("gate").Debug().
			Str("visitor_id", visitorID).
			Str("from", string(state.Status)).
			Str("to", string(next.Status)).
			Msg("transition d'accès")
	}
	return decision, nil
}

// SubmitUnlock déverrouille pour la durée configurée si le mot de passe est bon.
// Un mauvais mot de passe ne touche pas à l'état.
func (g *Gate) SubmitUnlock(ctx context.Context, visitorID, passphrase string) (bool, error) {
	if visitorID == "" {
		return false, ErrNoIdentity
	}
	if !g.verify(passphrase) {
		return false, nil
	}

	if err := g.store.Save(ctx, Unlock(visitorID, g.Now())); err != nil {
		return false, err
	}
	return true, nil
}

func (g *Gate) verify(passphrase string) bool {
	if len(g.secretHash) == 0 {
		return false
	}
	return argon2.CompareHashAndPassword(g.secretHash, []byte(passphrase)) == nil
}

// Sweep persiste les expirations des visiteurs qui ne reviennent pas.
// Une ligne modifiée depuis la lecture est laissée telle quelle.
func (g *Gate) Sweep(ctx context.Context) (int, error) {
	recs, err := g.store.Active(ctx)
	if err != nil {
		return 0, err
	}

	now := g.Now()
	locked := 0
	for _, rec := range recs {
		next, readErr := FromRecord(rec)
		if readErr == nil {
			var changed bool
			next, _, changed = Evaluate(next, now, g.policy)
			if !changed {
				continue
			}
		}

		written, err := g.store.Expire(ctx, rec, next)
		if err != nil {
			return locked, err
		}
		if written {
			locked++
		}
	}
	return locked, nil
}

// NewSweeper planifie Sweep avec une expression cron; le cron n'est pas démarré
func NewSweeper(g *Gate, spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		n, err := g.Sweep(context.Background())
		logger := cllog.Component("gate")
		if err != nil {
			logger.Error().Err(err).Msg("Balayage des accès échoué")
			return
		}
		if n > 0 {
			logger.Info().Int("locked", n).Msg("Accès expirés verrouillés")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("expression de balayage invalide %q: %w", spec, err)
	}
	return c, nil
}
