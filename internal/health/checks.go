package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/MrWong99/voxstitch/pkg/provider/model"
	"github.com/MrWong99/voxstitch/pkg/voice"
)

// VoiceStore fails when the store directory is gone or holds no voices.
func VoiceStore(store *voice.Store) Checker {
	return Checker{
		Name: "voices",
		Check: func(ctx context.Context) error {
			if _, err := os.Stat(store.Dir()); err != nil {
				return err
			}
			names, err := store.List(ctx)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				return fmt.Errorf("no voices in %s", store.Dir())
			}
			return nil
		},
	}
}

// Model pings the backend if it implements [model.Pinger]. Backends that
// cannot report readiness always pass.
func Model(p model.Provider) Checker {
	return Checker{
		Name: "model",
		Check: func(ctx context.Context) error {
			if pinger, ok := p.(model.Pinger); ok {
				return pinger.Ping(ctx)
			}
			return nil
		},
	}
}

var errNotReady = errors.New("not ready")

// Gate is a readiness flag flipped once by the application, e.g. when
// start-up warm-up has finished. The zero value is closed.
type Gate struct {
	open atomic.Bool
}

// Open marks the gate as passed.
func (g *Gate) Open() { g.open.Store(true) }

// IsOpen reports whether Open has been called.
func (g *Gate) IsOpen() bool { return g.open.Load() }

// Checker returns a checker named name that fails until Open is called.
func (g *Gate) Checker(name string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !g.IsOpen() {
				return errNotReady
			}
			return nil
		},
	}
}
