package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
)

// Adapter saves and restores JSON values on a BlobStore. Every failure is
// logged and swallowed; callers treat a failed load as "nothing saved".
type Adapter struct {
	store  BlobStore
	logger *zap.Logger
}

// NewAdapter wraps store. A nil store disables persistence.
func NewAdapter(store BlobStore, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{store: store, logger: logger.With(zap.String("component", "persistence"))}
}

// Save writes v under key.
func (a *Adapter) Save(ctx context.Context, key string, v any) {
	if a == nil || a.store == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		a.logger.Warn("failed to encode blob", zap.String("key", key), zap.Error(err))
		return
	}
	if err := a.store.Put(ctx, key, data); err != nil {
		a.logger.Warn("failed to save blob", zap.String("key", key), zap.Error(err))
	}
}

// Load decodes the value under key into dst and reports whether it did.
func (a *Adapter) Load(ctx context.Context, key string, dst any) bool {
	if a == nil || a.store == nil {
		return false
	}

	data, err := a.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrBlobNotFound) {
			a.logger.Warn("failed to load blob", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		a.logger.Warn("discarding unreadable blob", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}
