package pluginhost

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/shaban/pluginhost/engine/setup"
)

// Environment is the engine's non-structural shared state. It has its own
// lock, independent of the action mailbox, and the audio goroutine never
// takes it.
type Environment struct {
	Name    string
	Options setup.Options
}

// WithEnvironment runs fn with the environment locked. fn must not call
// back into the engine.
//
// Changing Options.ProcessMode only takes effect at the next Init; the slot
// capacity is fixed for the lifetime of an initialized engine. The transport
// mode is picked up by the next audio cycle.
func (e *Engine) WithEnvironment(fn func(env *Environment)) {
	e.envMu.Lock()
	defer e.envMu.Unlock()
	fn(&e.env)
	e.transportMode.Store(int32(e.env.Options.TransportMode))
}

// Name returns the engine client name, empty while not initialized.
func (e *Engine) Name() string {
	var name string
	e.WithEnvironment(func(env *Environment) { name = env.Name })
	return name
}

// SetName renames the engine. The name is sanitized like Init's.
func (e *Engine) SetName(name string) error {
	clean := basicName(name)
	if clean == "" {
		return contractf(CodeInvalidArgument, "set-name", nil, "name must not be empty")
	}
	e.WithEnvironment(func(env *Environment) { env.Name = clean })
	return nil
}

// Options returns a copy of the engine options.
func (e *Engine) Options() setup.Options {
	var o setup.Options
	e.WithEnvironment(func(env *Environment) { o = env.Options })
	return o
}

// SetOptions replaces the engine options.
func (e *Engine) SetOptions(o setup.Options) {
	e.WithEnvironment(func(env *Environment) { env.Options = o })
}

// basicName keeps ASCII letters, digits and underscores; everything else
// becomes an underscore. Accents are stripped and surrounding whitespace is
// dropped.
func basicName(name string) string {
	// Decompose so accented letters keep their base letter.
	name = norm.NFKD.String(strings.TrimSpace(name))
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.Is(unicode.Mn, r):
			return -1
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
