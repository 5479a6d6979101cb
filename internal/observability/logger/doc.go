// Package logger expone un logger zap único con scoping por contexto.
//
// Inicialización (una vez en main.go):
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
// En services/stores:
//
//	log := logger.From(ctx).With(logger.Component("permission.store"))
//	log.Info("grants loaded", logger.UserID(uid), logger.Count(n))
package logger
