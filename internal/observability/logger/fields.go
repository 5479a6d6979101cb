package logger

import (
	"time"

	"go.uber.org/zap"
)

// Field alias para no importar zap en cada caller.
type Field = zap.Field

// ─────────────── HTTP ───────────────

func RequestID(v string) zap.Field       { return zap.String("request_id", v) }
func Method(v string) zap.Field          { return zap.String("method", v) }
func Path(v string) zap.Field            { return zap.String("path", v) }
func Status(v int) zap.Field             { return zap.Int("status", v) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }
func Bytes(v int) zap.Field              { return zap.Int("bytes", v) }
func ClientIP(v string) zap.Field        { return zap.String("client_ip", v) }

// ─────────────── Permisos ───────────────

// UserID identifica al usuario dueño del mapa de permisos.
func UserID(v int64) zap.Field { return zap.Int64("user_id", v) }

// ResourceID identifica la opción (recurso) evaluada.
func ResourceID(v int64) zap.Field { return zap.Int64("resource_id", v) }

func Action(v string) zap.Field  { return zap.String("action", v) }
func Rule(v string) zap.Field    { return zap.String("rule", v) }
func Session(v string) zap.Field { return zap.String("session", v) }
func Source(v string) zap.Field  { return zap.String("source", v) }

// ─────────────── Sistema ───────────────

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Err(err error) zap.Field      { return zap.Error(err) }
func Count(v int) zap.Field        { return zap.Int("count", v) }
func Page(v int) zap.Field         { return zap.Int("page", v) }
func Key(v string) zap.Field       { return zap.String("key", v) }

func String(key, v string) zap.Field    { return zap.String(key, v) }
func Int(key string, v int) zap.Field   { return zap.Int(key, v) }
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }
func Any(key string, v any) zap.Field   { return zap.Any(key, v) }
