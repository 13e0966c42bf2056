package policy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Provider publishes the current Engine. Readers get a consistent engine per
// call; reloads swap the pointer atomically.
type Provider struct {
	cur atomic.Pointer[Engine]
}

// NewProvider returns a provider serving e (or the default engine if nil).
func NewProvider(e *Engine) *Provider {
	if e == nil {
		e = Default()
	}
	p := &Provider{}
	p.cur.Store(e)
	return p
}

// Engine returns the engine currently in effect.
func (p *Provider) Engine() *Engine { return p.cur.Load() }

// Swap replaces the current engine.
func (p *Provider) Swap(e *Engine) {
	if e != nil {
		p.cur.Store(e)
	}
}

// ReloadFile parses path and swaps it in. On error the previous engine stays.
func (p *Provider) ReloadFile(path string) error {
	t, err := LoadTable(path)
	if err != nil {
		return err
	}
	e, err := New(t)
	if err != nil {
		return err
	}
	p.Swap(e)
	return nil
}

// Watcher reloads a policy file into a Provider when it changes on disk.
// Bursts of events (editors write, rename and chmod in quick succession) are
// collapsed into one reload after Debounce.
type Watcher struct {
	Path     string
	Provider *Provider
	Debounce time.Duration
	Logger   zerolog.Logger

	// OnReload is called after every reload attempt; used by tests.
	OnReload func(err error)
}

// Watch blocks until ctx is cancelled. The parent directory is watched so
// atomic-rename saves are observed.
func (w *Watcher) Watch(ctx context.Context) error {
	if w.Provider == nil || w.Path == "" {
		return errors.New("policy: watcher needs a path and a provider")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy: create watcher: %w", err)
	}
	defer fw.Close()

	abs, err := filepath.Abs(w.Path)
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("policy: watch %s: %w", filepath.Dir(abs), err)
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		err := w.Provider.ReloadFile(abs)
		if err != nil {
			w.Logger.Error().Err(err).Str("path", abs).Msg("policy reload failed; keeping previous table")
		} else {
			w.Logger.Info().Str("path", abs).Msg("policy reloaded")
		}
		if w.OnReload != nil {
			w.OnReload(err)
		}
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	w.Logger.Info().Str("path", abs).Dur("debounce", debounce).Msg("policy watcher started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("policy: watcher events channel closed")
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
			mu.Unlock()
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("policy: watcher errors channel closed")
			}
			w.Logger.Warn().Err(err).Msg("policy watcher error")
		}
	}
}
