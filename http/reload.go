package http

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"strokerisk/ml"
	"strokerisk/monitoring"
)

// ErrModelUnavailable is returned while no model has been loaded.
var ErrModelUnavailable = errors.New("model is not loaded")

// ModelHolder owns the predictor currently serving requests. Swaps are
// atomic: a request sees either the old pair of artifacts or the new one.
type ModelHolder struct {
	modelPath string
	namesPath string
	logger    *zap.Logger

	current  atomic.Pointer[ml.Predictor]
	mu       sync.Mutex
	onReload []func(*ml.Predictor)
	loadedAt atomic.Int64
}

func NewModelHolder(modelPath, namesPath string, logger *zap.Logger) *ModelHolder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelHolder{modelPath: modelPath, namesPath: namesPath, logger: logger}
}

// Current returns the serving predictor or ErrModelUnavailable.
func (h *ModelHolder) Current() (*ml.Predictor, error) {
	p := h.current.Load()
	if p == nil {
		return nil, ErrModelUnavailable
	}
	return p, nil
}

// LoadedAt is the time of the last successful load, zero if none.
func (h *ModelHolder) LoadedAt() time.Time {
	ns := h.loadedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// OnReload registers a callback run after every successful swap.
func (h *ModelHolder) OnReload(fn func(*ml.Predictor)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onReload = append(h.onReload, fn)
}

// Set installs a predictor directly.
func (h *ModelHolder) Set(p *ml.Predictor) {
	h.current.Store(p)
	h.loadedAt.Store(time.Now().UnixNano())

	h.mu.Lock()
	callbacks := slices.Clone(h.onReload)
	h.mu.Unlock()
	for _, fn := range callbacks {
		fn(p)
	}
}

// Reload reads both artifact files. On failure the previous predictor keeps
// serving.
func (h *ModelHolder) Reload() error {
	p, err := ml.LoadPredictor(h.modelPath, h.namesPath)
	if err != nil {
		h.logger.Warn("model reload failed",
			zap.String("model_path", h.modelPath),
			zap.String("features_path", h.namesPath),
			zap.Error(err),
		)
		return err
	}
	h.Set(p)
	h.logger.Info("model loaded",
		zap.String("model_id", p.ModelID()),
		zap.Int("features", len(p.FeatureNames())),
		zap.String("digest", p.Digest()),
	)
	return nil
}

// Watch reloads the model whenever either artifact file changes, until ctx
// is done. Events are debounced because the trainer writes the pair one
// file after the other.
func (h *ModelHolder) Watch(ctx context.Context, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Directories are watched rather than files so renames into place are seen.
	targets := map[string]bool{
		filepath.Clean(h.modelPath): true,
		filepath.Clean(h.namesPath): true,
	}
	dirs := map[string]bool{}
	for path := range targets {
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		// a fresh checkout has no model directory until the first training run
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !targets[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			h.logger.Debug("model file changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Warn("model watcher error", zap.Error(err))
		case <-timer.C:
			_ = h.Reload()
		}
	}
}

// BroadcastReloads tells every websocket client when a new model is
// serving, so open forms can refresh their live estimate.
func BroadcastReloads(models *ModelHolder, hub *monitoring.Hub, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	models.OnReload(func(p *ml.Predictor) {
		msg, err := monitoring.NewMessage(monitoring.ModelReloaded, "", map[string]string{
			"model_id":       p.ModelID(),
			"feature_digest": p.Digest(),
		})
		if err != nil {
			logger.Error("failed to build reload message", zap.Error(err))
			return
		}
		if err := hub.Broadcast(msg); err != nil {
			logger.Warn("failed to broadcast model reload", zap.Error(err))
		}
	})
}
