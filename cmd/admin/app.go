package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"famfin/internal/domain/account"
	"famfin/internal/domain/banking"
	"famfin/internal/domain/banksync"
	"famfin/internal/domain/family"
	"famfin/internal/infrastructure/crypto"
	"famfin/internal/infrastructure/gocardless"
	"famfin/internal/infrastructure/postgres"
	redisstore "famfin/internal/infrastructure/redis"
	"famfin/internal/shared/config"
)

// app is the subset of the API wiring the sync commands need. Commands run
// without push or NATS notifications.
type app struct {
	service *banksync.Service
	logger  *zap.Logger
	closers []func()
}

func newApp() (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{logger: logger}
	a.closers = append(a.closers, func() { logger.Sync() })

	db, err := openDB(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() { db.Close() })

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	var store banksync.TokenStore
	if cfg.Redis.Addr != "" {
		client, err := redisstore.Connect(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { client.Close() })
		store = redisstore.NewTokenStore(client, cfg.Redis.KeyPrefix)
	}

	accountRepo := postgres.NewAccountRepository(db)
	bankingRepo := postgres.NewBankingRepository(db, encryptor)
	transactionRepo := postgres.NewTransactionRepository(db)
	familyRepo := postgres.NewFamilyRepository(db)

	client, tokens := newAggregator(cfg, store, logger)
	importer := banksync.NewImporter(client, tokens, bankingRepo, account.NewService(accountRepo), transactionRepo, logger)
	resolver := banksync.NewInstitutionResolver(client, logger)
	flow := banksync.NewLinkFlow(client, tokens, resolver, importer, bankingRepo, cfg.GoCardless.UserLanguage, logger)

	dispatcher := banksync.NewDispatcher()
	dispatcher.Register(banking.ProviderGoCardless, importer)

	window := time.Duration(cfg.Scheduler.ImportWindowDays) * 24 * time.Hour
	a.service = banksync.NewService(flow, importer, dispatcher, bankingRepo, family.NewService(familyRepo), window, logger)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func openDB(cfg *config.Config, logger *zap.Logger) (*postgres.DB, error) {
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))
	return db, nil
}

// newAggregator builds the GoCardless client and its token manager. A nil
// store keeps the token in memory for the lifetime of the command.
func newAggregator(cfg *config.Config, store banksync.TokenStore, logger *zap.Logger) (*gocardless.Client, *banksync.TokenManager) {
	client := gocardless.NewClient(cfg.GoCardless.BaseURL, cfg.GoCardless.Timeout)
	return client, banksync.NewTokenManager(client, cfg.GoCardless.SecretID, cfg.GoCardless.SecretKey, store, logger)
}
