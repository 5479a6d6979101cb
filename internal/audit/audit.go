// Package audit registra eventos de auditoría (decisiones de acceso) en el
// logger "audit". Hoy el sink es zap; si se necesita persistirlos alcanza
// con instalar un core que escriba a otro destino.
package audit

import (
	"context"

	"github.com/dropDatabas3/permgate/internal/observability/logger"
)

const (
	EventDecision = "access.decision"
	EventLogout   = "session.logout"
)

// Decision una decisión de acceso tomada por el servidor.
type Decision struct {
	RequestID  string
	UserID     int64
	Session    string
	Via        string // proxy | authorize
	Path       string
	ResourceID int64
	Action     string
	Rule       string
	Allowed    bool
	Ready      bool
}

// Log escribe un evento estructurado.
func Log(_ context.Context, event string, fields ...logger.Field) {
	logger.Named("audit").Info(event, fields...)
}

// LogDecision audita una decisión. Las denegaciones van siempre; las
// permitidas solo con nivel debug.
func LogDecision(ctx context.Context, d Decision) {
	fields := []logger.Field{
		logger.RequestID(d.RequestID),
		logger.UserID(d.UserID),
		logger.Session(d.Session),
		logger.String("via", d.Via),
		logger.ResourceID(d.ResourceID),
		logger.Action(d.Action),
		logger.Rule(d.Rule),
		logger.Bool("allowed", d.Allowed),
		logger.Bool("ready", d.Ready),
	}
	if d.Path != "" {
		fields = append(fields, logger.Path(d.Path))
	}
	if d.Allowed {
		logger.Named("audit").Debug(EventDecision, fields...)
		return
	}
	Log(ctx, EventDecision, fields...)
}
