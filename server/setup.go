package server

import (
	"context"
	"kbmigrate/logger"
	"kbmigrate/server/archive"
	"kbmigrate/server/content"
	"kbmigrate/server/content/pg"
	"kbmigrate/server/document"
	"kbmigrate/server/migration"
	"kbmigrate/server/noti"
	"kbmigrate/server/worker"
	"kbmigrate/utils"
	"time"

	"github.com/pkg/errors"
)

var storeConnectTimeout = 30 * time.Second

//OpenStore opens the content store selected by STORE_TYPE.
func OpenStore(ctx context.Context, config *utils.AppConfig) (content.Store, error) {
	switch config.StoreType {
	case utils.StoreTypeMemory:
		logger.Warn("Using the in-memory content store, nothing will survive a restart")
		return content.NewMemoryStore(), nil
	case utils.StoreTypePostgres:
		store, err := pg.Open(ctx, config.DbConnectionUrl, config.DbTablePrefix, storeConnectTimeout)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	}
	return nil, errors.Errorf("unknown store type '%s'", config.StoreType)
}

//NewService wires the migration service from the configuration.
func NewService(ctx context.Context, config *utils.AppConfig) (*migration.Service, error) {
	store, err := OpenStore(ctx, config)
	if err != nil {
		return nil, err
	}
	service := migration.NewService(
		worker.New(store, config.HomeUrl),
		archive.New(config.ExportDir, config.ExportUrl, config.SiteName, config.MaxUploadSize),
		document.NewCache(config.DocumentCacheSize),
		config.HomeUrl,
	)
	if config.NotifyUrl != "" {
		hub, err := noti.NewHub(noti.REST, config.NotifyUrl)
		if err != nil {
			return nil, err
		}
		service.SetNotifier(hub)
	}
	return service, nil
}
