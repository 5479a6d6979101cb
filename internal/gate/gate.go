// Package gate convierte una decisión de autorización y el estado de auth /
// carga en una directiva de tres estados: loading, denied o allowed.
//
// Las denegaciones se difieren (debounce) para no parpadear mientras los
// permisos terminan de resolverse; una decisión positiva es inmediata.
package gate

import (
	"context"
	"sync"
	"time"

	"github.com/dropDatabas3/permgate/internal/metrics"
)

// DefaultDenyDelay es el debounce por defecto antes de pasar a Denied.
const DefaultDenyDelay = 500 * time.Millisecond

// State del gate.
type State int

const (
	StateInit State = iota
	StateCheckingAuth
	StateUnauthenticated
	StateEvaluating
	StateDenied
	StateAllowed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateCheckingAuth:
		return "checking_auth"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateEvaluating:
		return "evaluating"
	case StateDenied:
		return "denied"
	case StateAllowed:
		return "allowed"
	}
	return "unknown"
}

// Directive es lo que la vista debe renderizar.
type Directive string

const (
	DirectiveLoading Directive = "loading"
	DirectiveDenied  Directive = "denied"
	DirectiveAllowed Directive = "allowed"
)

// Directive mapea el estado a la directiva. Unauthenticated rinde "denied";
// redirigir al login es responsabilidad del caller.
func (s State) Directive() Directive {
	switch s {
	case StateAllowed:
		return DirectiveAllowed
	case StateDenied, StateUnauthenticated:
		return DirectiveDenied
	}
	return DirectiveLoading
}

// Settled reporta si el estado ya no va a cambiar sin nuevos inputs.
func (s State) Settled() bool {
	return s == StateAllowed || s == StateDenied || s == StateUnauthenticated
}

// Inputs son los disparadores de re-evaluación.
type Inputs struct {
	AuthLoading bool
	UserID      int64

	// Required es la opción exigida; InferFromRoute exige "la opción de la
	// ruta actual". Sin ninguno de los dos el contenido es público dentro del
	// área autenticada.
	Required       int64
	InferFromRoute bool

	PermissionsReady bool
	Decision         bool
}

func (in Inputs) protected() bool {
	return in.Required > 0 || in.InferFromRoute
}

// Option configura el Gate.
type Option func(*Gate)

// WithDenyDelay cambia el debounce de denegación.
func WithDenyDelay(d time.Duration) Option {
	return func(g *Gate) {
		if d >= 0 {
			g.delay = d
		}
	}
}

// Gate es la máquina de estados. Seguro para uso concurrente.
type Gate struct {
	delay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	state   State
	pending context.CancelFunc // denegación programada
	last    Inputs             // inputs de la denegación pendiente
	seq     uint64
	changed chan struct{}
}

// New crea un Gate atado al ciclo de vida de ctx: si ctx se cancela, la
// denegación pendiente se cancela igual que con Close.
func New(ctx context.Context, opts ...Option) *Gate {
	gctx, cancel := context.WithCancel(ctx)
	g := &Gate{
		delay:   DefaultDenyDelay,
		ctx:     gctx,
		cancel:  cancel,
		changed: make(chan struct{}),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// State estado actual.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Changes retorna un canal que se cierra en la próxima transición.
func (g *Gate) Changes() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.changed
}

// setLocked aplica la transición. Requiere mu.
func (g *Gate) setLocked(s State) {
	if g.state == s {
		return
	}
	g.state = s
	metrics.ObserveGate(s.String())
	close(g.changed)
	g.changed = make(chan struct{})
}

// cancelPendingLocked cancela la denegación programada. Requiere mu.
func (g *Gate) cancelPendingLocked() {
	if g.pending != nil {
		g.pending()
		g.pending = nil
	}
}

// Evaluate recalcula el estado con los inputs actuales. Cada llamada
// reemplaza a la anterior: una denegación pendiente se cancela, salvo que
// los inputs sean los mismos (la cuenta regresiva sigue corriendo).
func (g *Gate) Evaluate(in Inputs) State {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ctx.Err() != nil {
		return g.state
	}
	if g.pending != nil && in == g.last {
		return g.state
	}

	g.seq++
	g.cancelPendingLocked()

	switch {
	case in.AuthLoading:
		g.setLocked(StateCheckingAuth)
	case in.UserID <= 0:
		g.setLocked(StateUnauthenticated)
	case !in.protected():
		g.setLocked(StateAllowed)
	case !in.PermissionsReady:
		g.setLocked(StateEvaluating)
	case in.Decision:
		g.setLocked(StateAllowed)
	default:
		// Ya denegado con los mismos inputs: no reiniciar el debounce.
		if g.state != StateDenied {
			g.setLocked(StateEvaluating)
			g.last = in
			g.scheduleDenyLocked(g.seq)
		}
	}
	return g.state
}

// scheduleDenyLocked programa la transición a Denied como tarea cancelable.
func (g *Gate) scheduleDenyLocked(seq uint64) {
	if g.delay == 0 {
		g.setLocked(StateDenied)
		return
	}

	ctx, cancel := context.WithCancel(g.ctx)
	g.pending = cancel
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		t := time.NewTimer(g.delay)
		defer t.Stop()

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		g.mu.Lock()
		defer g.mu.Unlock()
		if ctx.Err() != nil || seq != g.seq {
			return
		}
		g.pending = nil
		g.setLocked(StateDenied)
	}()
}

// Wait bloquea hasta que done(state) sea true, ctx termine o el gate se cierre.
func (g *Gate) Wait(ctx context.Context, done func(State) bool) (State, error) {
	for {
		g.mu.Lock()
		s, ch := g.state, g.changed
		g.mu.Unlock()

		if done(s) {
			return s, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return s, ctx.Err()
		case <-g.ctx.Done():
			return g.State(), g.ctx.Err()
		}
	}
}

// Close cancela cualquier denegación pendiente y espera a que su goroutine
// termine. Después de Close el gate queda congelado.
func (g *Gate) Close() {
	g.mu.Lock()
	g.cancelPendingLocked()
	g.mu.Unlock()
	g.cancel()
	g.wg.Wait()
}
