package workers

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"streamq/logger"
	"streamq/queue"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Listener starts and stops consumer loops; *queue.Queue satisfies it.
type Listener interface {
	Listen(ctx context.Context, streamKey, group, consumerName string, handler queue.Handler, opts *queue.ListenOptions) *queue.ListenHandle
	StopListen(h *queue.ListenHandle) error
}

// PoolConfig describes the consumers a Pool runs.
type PoolConfig struct {
	StreamKey     string
	Group         string
	ConsumerName  string
	ConsumerCount int
	Options       queue.ListenOptions
}

// Pool runs a set of named consumers of one stream and group
type Pool struct {
	listener        Listener
	handler         queue.Handler
	logger          *logger.Logger
	cfg             PoolConfig
	names           []string
	handles         []*queue.ListenHandle
	shutdownTimeout time.Duration
	mu              sync.Mutex // protects handles
}

func NewPool(cfg PoolConfig, listener Listener, handler queue.Handler, logger *logger.Logger) *Pool {
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = DefaultConsumerName()
	}

	names := make([]string, cfg.ConsumerCount)
	for i := range cfg.ConsumerCount {
		names[i] = cfg.ConsumerName
		if cfg.ConsumerCount > 1 {
			names[i] = fmt.Sprintf("%s-%d", cfg.ConsumerName, i+1)
		}
	}

	return &Pool{
		listener:        listener,
		handler:         handler,
		logger:          logger,
		cfg:             cfg,
		names:           names,
		shutdownTimeout: 30 * time.Second,
	}
}

// DefaultConsumerName derives a consumer name unique to this process.
func DefaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "consumer"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// Start begins one consumer loop per configured name. Starting an already
// running pool does nothing.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handles != nil {
		p.logger.Warn("consumer pool already started", map[string]any{
			"stream": p.cfg.StreamKey,
			"group":  p.cfg.Group,
		})
		return
	}

	p.logger.Info("starting consumer pool", map[string]any{
		"stream":         p.cfg.StreamKey,
		"group":          p.cfg.Group,
		"consumer_count": len(p.names),
	})

	opts := p.cfg.Options
	handles := make([]*queue.ListenHandle, 0, len(p.names))
	for _, name := range p.names {
		handles = append(handles, p.listener.Listen(ctx, p.cfg.StreamKey, p.cfg.Group, name, p.handler, &opts))
	}
	p.handles = handles

	p.logger.Info("consumer pool started successfully", map[string]any{
		"active_consumers": len(handles),
	})
}

// Stop gracefully shuts down all consumers in parallel
func (p *Pool) Stop() {
	p.mu.Lock()
	handles := p.handles
	p.handles = nil
	timeout := p.shutdownTimeout
	p.mu.Unlock()

	if handles == nil {
		return
	}

	p.logger.Info("stopping consumer pool", map[string]any{
		"consumer_count": len(handles),
		"timeout":        timeout.String(),
	})

	var g errgroup.Group
	for _, h := range handles {
		g.Go(func() error {
			if err := p.listener.StopListen(h); err != nil {
				return fmt.Errorf("consumer %s: %w", h.ConsumerName, err)
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			p.logger.Warn("consumer pool stopped with errors", map[string]any{
				"error": err.Error(),
			})
			return
		}
		p.logger.Info("consumer pool stopped gracefully", map[string]any{
			"shutdown_time": "within_timeout",
		})
	case <-time.After(timeout):
		p.logger.Warn("consumer pool shutdown timed out", map[string]any{
			"timeout":         timeout.String(),
			"forced_shutdown": true,
		})
	}
}

// States reports the lifecycle state of every running consumer by name
func (p *Pool) States() map[string]queue.State {
	p.mu.Lock()
	defer p.mu.Unlock()

	states := make(map[string]queue.State, len(p.handles))
	for _, h := range p.handles {
		states[h.ConsumerName] = h.State()
	}
	return states
}

// ConsumerNames returns the names the pool's consumers register with
func (p *Pool) ConsumerNames() []string {
	return slices.Clone(p.names)
}

// GetConsumerCount returns the number of consumers in the pool
func (p *Pool) GetConsumerCount() int {
	return len(p.names)
}

// SetShutdownTimeout configures how long to wait for graceful shutdown
func (p *Pool) SetShutdownTimeout(timeout time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdownTimeout = timeout
}
