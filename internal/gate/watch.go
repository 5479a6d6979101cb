package gate

import "context"

// Source entrega los inputs actuales y avisa cuando pueden haber cambiado
// (auth, usuario, carga de permisos).
type Source interface {
	Inputs() Inputs
	Changed() <-chan struct{}
}

// Watch re-evalúa el gate cada vez que src cambia, hasta que ctx termine o
// el gate se cierre. Bloquea; lanzarlo en una goroutine.
func (g *Gate) Watch(ctx context.Context, src Source) {
	for {
		// tomar el canal antes de leer inputs para no perder un cambio
		ch := src.Changed()
		g.Evaluate(src.Inputs())

		select {
		case <-ch:
		case <-ctx.Done():
			return
		case <-g.ctx.Done():
			return
		}
	}
}

// Settle evalúa src hasta que el gate quede en un estado final o ctx expire.
// Retorna el último estado observado.
func Settle(ctx context.Context, src Source, opts ...Option) (State, error) {
	g := New(ctx, opts...)
	defer g.Close()

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go g.Watch(wctx, src)

	return g.Wait(ctx, State.Settled)
}
