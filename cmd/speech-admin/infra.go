package main

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/laviprog/speech-api/internal/bootstrap"
)

// infra holds the connections a command opened.
type infra struct {
	DB       *sql.DB
	Redis    redis.UniversalClient
	Services bootstrap.ServiceContainer
}

func (i *infra) Close() error {
	var closeErr error
	if i.DB != nil {
		if err := i.DB.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close db: %w", err))
		}
	}
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	return closeErr
}

// withDatabase runs fn with only a Postgres connection.
func withDatabase(cmdCtx *commandContext, fn func(*infra) error) error {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	conns := &infra{DB: db}
	defer closeInfra(cmdCtx, conns)
	return fn(conns)
}

// withServices runs fn with Postgres, Redis and the submission-side services.
func withServices(cmdCtx *commandContext, fn func(*infra) error) error {
	dbCfg := bootstrap.DatabaseConfig{
		DBConfig:    cmdCtx.Config.Postgres,
		RedisConfig: cmdCtx.Config.Redis,
		Logger:      cmdCtx.Logger,
	}
	db, err := bootstrap.ConnectDB(dbCfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	conns := &infra{DB: db}
	defer closeInfra(cmdCtx, conns)

	conns.Redis, err = bootstrap.ConnectRedis(dbCfg)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	conns.Services, err = bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      &cmdCtx.Config,
		DB:          conns.DB,
		RedisClient: conns.Redis,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return err
	}
	return fn(conns)
}

func closeInfra(cmdCtx *commandContext, conns *infra) {
	if err := conns.Close(); err != nil {
		cmdCtx.Logger.Warn("close connections failed", "error", err)
	}
}
