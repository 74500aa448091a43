package main

import (
	"context"
	"fmt"

	"github.com/PaulBabatuyi/pairchat/internal/config"
	"github.com/PaulBabatuyi/pairchat/internal/data"
	"github.com/PaulBabatuyi/pairchat/internal/db"
	"go.uber.org/zap"
)

// storeHandle is an opened backend plus its schema and teardown hooks.
type storeHandle struct {
	store   data.Store
	migrate func(ctx context.Context) error
	close   func(ctx context.Context) error
}

func openStore(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (*storeHandle, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		client, err := db.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		log.Info("connected to mongo", zap.String("database", cfg.MongoDatabase))
		return &storeHandle{
			store:   data.NewMongoStore(client),
			migrate: client.CreateIndexes,
			close:   client.Close,
		}, nil

	case config.DriverPostgres, config.DriverSQLite:
		dialect := db.Postgres
		if cfg.Driver == config.DriverSQLite {
			dialect = db.SQLite
		}
		conn, err := db.OpenSQL(ctx, dialect, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Info("connected to sql database", zap.Stringer("dialect", dialect))
		return &storeHandle{
			store:   data.NewSQLStore(conn),
			migrate: conn.Migrate,
			close:   func(context.Context) error { return conn.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
