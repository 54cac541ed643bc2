package clpage

import (
	"context"
	"littlepage/internal/models/clanalytics"
	"littlepage/internal/models/clgate"
	"littlepage/internal/models/cllog"
	"math"
	"time"
)

type RenderKind int

const (
	RenderContent RenderKind = iota
	RenderLocked
)

const (
	WarningAccess = "Accès momentanément indisponible, réessayez plus tard"
	WarningTrack  = "Votre visite n'a pas pu être comptée"
	WarningStats  = "Statistiques indisponibles"
)

// Render dit au handler quoi afficher
type Render struct {
	Kind     RenderKind
	Decision clgate.Decision
	Stats    clanalytics.Stats
	Warnings []string

	// RefreshAfter est le nombre de secondes avant la fin de l'essai gratuit, 0 sinon
	RefreshAfter int
}

func (r Render) Locked() bool {
	return r.Kind == RenderLocked
}

// Page enchaîne gate, comptage et lecture des statistiques pour une requête
type Page struct {
	Gate      *clgate.Gate
	Analytics *clanalytics.AnalyticsService
}

func NewPage(gate *clgate.Gate, analytics *clanalytics.AnalyticsService) *Page {
	return &Page{Gate: gate, Analytics: analytics}
}

// Evaluate renvoie l'instruction de rendu. Un visiteur verrouillé ne compte pas de visite.
func (p *Page) Evaluate(ctx context.Context, session clanalytics.Session, visitorID string, now time.Time) Render {
	logger := cllog.Component("page")

	decision, err := p.Gate.CheckAccess(ctx, visitorID)
	if err != nil {
		logger.Error().Err(err).Str("visitor_id", visitorID).Msg("Vérification d'accès échouée")
	}
	if !decision.Granted {
		render := Render{Kind: RenderLocked, Decision: decision}
		if err != nil {
			render.Warnings = append(render.Warnings, WarningAccess)
		}
		return render
	}

	render := Render{Kind: RenderContent, Decision: decision}
	if decision.Status == clgate.StatusFree {
		render.RefreshAfter = int(math.Ceil(decision.Remaining.Seconds()))
	}

	today := clanalytics.Today(now)
	if _, err := p.Analytics.Track(ctx, session, visitorID, today); err != nil {
		logger.Error().Err(err).Str("visitor_id", visitorID).Msg("Comptage de la visite échoué")
		render.Warnings = append(render.Warnings, WarningTrack)
	}

	stats, err := p.Analytics.GetStats(ctx, today)
	if err != nil {
		logger.Error().Err(err).Msg("Lecture des statistiques échouée")
		render.Warnings = append(render.Warnings, WarningStats)
		stats = clanalytics.Stats{}
	}
	render.Stats = stats

	return render
}
