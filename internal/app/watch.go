package app

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prism-ai/prism/internal/modules/gateway"
	"github.com/prism-ai/prism/internal/pkg/kvstore"
	"go.uber.org/zap"
)

type scopePublisher interface {
	PublishLocal(scope, event string, payload interface{})
}

// relayStoreChanges tells every open tab of a scope that one of its stored
// settings changed, so the tabs refetch instead of trusting stale state.
// With Redis each instance sees every write and tells its own sockets.
func relayStoreChanges(ctx context.Context, store kvstore.Store, pub scopePublisher, logger *zap.Logger) {
	changes, stop := store.Subscribe(ctx)
	defer stop()
	for ch := range changes {
		scope, key, ok := kvstore.SplitScope(ch.Key)
		if !ok {
			continue
		}
		logger.Debug("scoped key changed", zap.String("scope", scope), zap.String("key", key), zap.Bool("deleted", ch.Deleted))
		pub.PublishLocal(scope, gateway.EventSettingsChanged, gin.H{"key": key, "deleted": ch.Deleted})
	}
}
