package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/polisai/polis-mam/pkg/domain"
)

// ReloadObserver is notified after every reload attempt.
type ReloadObserver interface {
	ObserveReload(status string, generation int64)
}

// Reload statuses reported to a ReloadObserver.
const (
	ReloadSuccess = "success"
	ReloadFailure = "failure"
)

// ProviderOption configures a FileProvider.
type ProviderOption func(*FileProvider)

// WithProviderLogger sets the provider logger.
func WithProviderLogger(logger *slog.Logger) ProviderOption {
	return func(p *FileProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithReloadObserver attaches a reload observer.
func WithReloadObserver(observer ReloadObserver) ProviderOption {
	return func(p *FileProvider) {
		p.observer = observer
	}
}

// WithWatch toggles fsnotify hot reload. Enabled by default.
func WithWatch(enabled bool) ProviderOption {
	return func(p *FileProvider) {
		p.watch = enabled
	}
}

// WithDebounce sets the delay between the last file event and the reload.
func WithDebounce(d time.Duration) ProviderOption {
	return func(p *FileProvider) {
		if d > 0 {
			p.debounce = d
		}
	}
}

// WithRegoCacheEntries bounds the Rego decision cache of built snapshots.
func WithRegoCacheEntries(n int) ProviderOption {
	return func(p *FileProvider) {
		p.regoCacheEntries = n
	}
}

// FileProvider implements domain.SnapshotService over a policy document on
// disk. A failed reload keeps the previous snapshot.
type FileProvider struct {
	path             string
	watch            bool
	debounce         time.Duration
	regoCacheEntries int
	logger           *slog.Logger
	observer         ReloadObserver

	reloadMu   sync.Mutex
	generation int64

	mu          sync.RWMutex
	snapshot    *domain.Snapshot
	subscribers []chan *domain.Snapshot

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewFileProvider loads the document at path and, unless disabled, starts
// watching its directory. The initial load must succeed.
func NewFileProvider(path string, opts ...ProviderOption) (*FileProvider, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	p := &FileProvider{
		path:     absPath,
		watch:    true,
		debounce: 100 * time.Millisecond,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.Reload(context.Background()); err != nil {
		return nil, fmt.Errorf("initial policy load: %w", err)
	}

	if !p.watch {
		close(p.done)
		return p, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory so atomic rename-over saves are seen.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.watcher = watcher
	p.cancel = cancel

	go p.watchLoop(ctx)

	return p, nil
}

// Path returns the absolute document path.
func (p *FileProvider) Path() string {
	return p.path
}

// CurrentSnapshot returns the active snapshot.
func (p *FileProvider) CurrentSnapshot() *domain.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// Subscribe returns a channel that receives every published snapshot,
// starting with the current one. Slow consumers miss intermediate updates.
func (p *FileProvider) Subscribe() <-chan *domain.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan *domain.Snapshot, 1)
	p.subscribers = append(p.subscribers, ch)
	if p.snapshot != nil {
		ch <- p.snapshot
	}
	return ch
}

// Reload re-reads the document and publishes a new generation on success.
func (p *FileProvider) Reload(ctx context.Context) error {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()

	next := p.generation + 1
	snapshot, err := p.build(ctx, next)
	if err != nil {
		p.notifyObserver(ReloadFailure, p.generation)
		return err
	}
	p.generation = next

	p.mu.Lock()
	p.snapshot = snapshot
	subscribers := make([]chan *domain.Snapshot, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.Unlock()

	for _, ch := range subscribers {
		publish(ch, snapshot)
	}

	p.notifyObserver(ReloadSuccess, next)
	p.logger.Info("policy snapshot published",
		"path", p.path,
		"generation", next,
		"snapshot_id", snapshot.ID,
	)
	return nil
}

// Close stops the watcher and cleans up resources.
func (p *FileProvider) Close() error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	err := p.watcher.Close()
	<-p.done
	return err
}

func (p *FileProvider) build(ctx context.Context, generation int64) (*domain.Snapshot, error) {
	doc, err := LoadDocument(p.path)
	if err != nil {
		return nil, err
	}
	return doc.ToDomain(ctx, BuildOptions{
		Generation:       generation,
		Source:           "file:" + p.path,
		BaseDir:          filepath.Dir(p.path),
		RegoCacheEntries: p.regoCacheEntries,
		Logger:           p.logger,
	})
}

func (p *FileProvider) notifyObserver(status string, generation int64) {
	if p.observer != nil {
		p.observer.ObserveReload(status, generation)
	}
}

func (p *FileProvider) watchLoop(ctx context.Context) {
	defer close(p.done)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != p.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(p.debounce, func() {
					if err := p.Reload(ctx); err != nil {
						p.logger.Error("policy reload failed, keeping previous snapshot",
							"path", p.path,
							"error", err,
						)
					}
				})
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("policy watcher error", "error", err)
		}
	}
}

// publish replaces any unread snapshot so subscribers see the latest one.
func publish(ch chan *domain.Snapshot, snapshot *domain.Snapshot) {
	select {
	case ch <- snapshot:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snapshot:
	default:
	}
}
