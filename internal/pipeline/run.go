package pipeline

import (
	"context"
	"sync"

	"github.com/JonMunkholm/watchload/internal/watcher"
)

// Run processes watcher events until ctx is cancelled or events is closed.
// With one worker files are handled inline, in arrival order. With more,
// distinct files run in parallel up to the worker count. On return every
// in-flight file has finished.
func (p *Pipeline) Run(ctx context.Context, events <-chan watcher.Event) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	p.log.Info("pipeline receiving events", "dir", p.dir, "workers", p.limiter.MaxConcurrent(), "scope", string(p.scope))
	for {
		select {
		case <-ctx.Done():
			p.log.Info("pipeline stopping, waiting for in-flight files", "active", p.limiter.ActiveCount())
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !p.Accept(ev.Path) {
				p.log.Debug("event ignored", "path", ev.Path)
				continue
			}
			p.log.Debug("event received", "path", ev.Path, "op", ev.Op.String())

			if p.limiter.MaxConcurrent() == 1 {
				p.ProcessFile(ctx, ev.Path)
				continue
			}

			if err := p.limiter.Acquire(ctx); err != nil {
				return nil
			}
			wg.Add(1)
			go func(path string) {
				defer wg.Done()
				defer p.limiter.Release()
				p.ProcessFile(ctx, path)
			}(ev.Path)
		}
	}
}

// Active returns the number of files currently being processed by Run workers.
func (p *Pipeline) Active() int {
	return p.limiter.ActiveCount()
}

// Drain waits until Run workers are idle or ctx is done.
func (p *Pipeline) Drain(ctx context.Context) error {
	return p.limiter.WaitForDrain(ctx)
}
