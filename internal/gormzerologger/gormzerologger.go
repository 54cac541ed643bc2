package gormzerologger

import (
	"context"
	"errors"
	"time"

	"littlepage/internal/models/cllog"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type visitorKey struct{}

// WithVisitor marque le contexte pour que les requêtes SQL qui en découlent portent le visiteur
func WithVisitor(ctx context.Context, visitorID string) context.Context {
	if visitorID == "" {
		return ctx
	}
	return context.WithValue(ctx, visitorKey{}, visitorID)
}

// VisitorFrom relit le visiteur posé par WithVisitor
func VisitorFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(visitorKey{}).(string)
	return id
}

// GormZerologger envoie les traces GORM dans zerolog, composant "database"
type GormZerologger struct {
	Logger                    zerolog.Logger
	LogLevel                  logger.LogLevel
	SlowThreshold             time.Duration
	IgnoreRecordNotFoundError bool
}

func New(logLevel string) *GormZerologger {
	return &GormZerologger{
		Logger:                    *cllog.Component("database"),
		LogLevel:                  ParseGormLogLevel(logLevel),
		SlowThreshold:             200 * time.Millisecond,
		IgnoreRecordNotFoundError: true,
	}
}

// Level choisit le niveau GORM à partir de la config: tout en dev ou en debug, sinon warn
func Level(configLevel string, production bool) string {
	if configLevel == "debug" || !production {
		return "trace"
	}
	return "warn"
}

func ParseGormLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug", "trace", "info":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		return logger.Info
	}
}

func (l *GormZerologger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *l
	clone.LogLevel = level
	return &clone
}

// forContext ajoute le visiteur courant au logger s'il est connu
func (l *GormZerologger) forContext(ctx context.Context) zerolog.Logger {
	if id := VisitorFrom(ctx); id != "" {
		return l.Logger.With().Str("visitor_id", id).Logger()
	}
	return l.Logger
}

func (l *GormZerologger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.emit(ctx, logger.Info, zerolog.InfoLevel, msg, data...)
}

func (l *GormZerologger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.emit(ctx, logger.Warn, zerolog.WarnLevel, msg, data...)
}

func (l *GormZerologger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.emit(ctx, logger.Error, zerolog.ErrorLevel, msg, data...)
}

func (l *GormZerologger) emit(ctx context.Context, min logger.LogLevel, level zerolog.Level, msg string, data ...interface{}) {
	if l.LogLevel < min {
		return
	}
	log := l.forContext(ctx)
	log.WithLevel(level).Msgf(msg, data...)
}

func (l *GormZerologger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	failed := err != nil && !(l.IgnoreRecordNotFoundError && errors.Is(err, gorm.ErrRecordNotFound))
	slow := l.SlowThreshold != 0 && elapsed > l.SlowThreshold

	var event *zerolog.Event
	log := l.forContext(ctx)
	switch {
	case failed && l.LogLevel >= logger.Error:
		event = log.Error().Err(err)
	case slow && l.LogLevel >= logger.Warn:
		event = log.Warn().Dur("threshold", l.SlowThreshold)
	case l.LogLevel >= logger.Info:
		event = log.Trace()
	default:
		return
	}

	sql, rows := fc()
	msg := "database query"
	if failed {
		msg = "database query error"
	} else if slow {
		msg = "slow database query"
	}
	event.Dur("elapsed_ms", elapsed).Int64("rows", rows).Str("sql", sql).Msg(msg)
}
