package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"famfin/internal/domain/account"
	"famfin/internal/domain/banking"
	"famfin/internal/domain/banksync"
	"famfin/internal/domain/family"
	"famfin/internal/domain/notification"
	"famfin/internal/infrastructure/crypto"
	"famfin/internal/infrastructure/firebase"
	"famfin/internal/infrastructure/gocardless"
	natspub "famfin/internal/infrastructure/nats"
	"famfin/internal/infrastructure/plaid"
	"famfin/internal/infrastructure/postgres"
	"famfin/internal/infrastructure/postgres/listener"
	redisstore "famfin/internal/infrastructure/redis"
	httphandlers "famfin/internal/interfaces/http"
	"famfin/internal/interfaces/scheduler"
	"famfin/internal/shared/auth"
	"famfin/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	BankingHandler      *httphandlers.BankingHandler
	AccountHandler      *httphandlers.AccountHandler
	NotificationHandler *httphandlers.NotificationHandler
	CronHandler         *httphandlers.CronHandler

	JWT *auth.JWT

	BankSync  *banksync.Service
	Scheduler *scheduler.Scheduler
	Listener  *listener.SyncListener

	closers []func()
}

// NewDependencies connects the stores and builds the services and handlers.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	d := &Dependencies{}

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	d.DB = db
	d.closers = append(d.closers, func() { db.Close() })
	logger.Info("connected to database", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))

	if err := db.Migrate(ctx); err != nil {
		d.Close()
		return nil, err
	}

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	// Repositories
	accountRepo := postgres.NewAccountRepository(db)
	bankingRepo := postgres.NewBankingRepository(db, encryptor)
	transactionRepo := postgres.NewTransactionRepository(db)
	familyRepo := postgres.NewFamilyRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)

	// Domain services
	accountService := account.NewService(accountRepo)
	bankingService := banking.NewService(bankingRepo)
	familyService := family.NewService(familyRepo)

	var messenger notification.Messenger
	if cfg.Firebase.CredentialsFile != "" {
		fcm, err := firebase.NewClient(ctx, cfg.Firebase.CredentialsFile, notificationRepo.DeactivateToken, logger)
		if err != nil {
			d.Close()
			return nil, err
		}
		messenger = fcm
	} else {
		logger.Warn("FIREBASE_CREDENTIALS_FILE not set, push notifications disabled")
	}
	notificationService := notification.NewService(notificationRepo, messenger, logger)

	tokenStore, err := d.tokenStore(cfg, logger)
	if err != nil {
		d.Close()
		return nil, err
	}

	gcClient := gocardless.NewClient(cfg.GoCardless.BaseURL, cfg.GoCardless.Timeout)
	tokens := banksync.NewTokenManager(gcClient, cfg.GoCardless.SecretID, cfg.GoCardless.SecretKey, tokenStore, logger)
	importer := banksync.NewImporter(gcClient, tokens, bankingRepo, accountService, transactionRepo, logger)
	resolver := banksync.NewInstitutionResolver(gcClient, logger)
	flow := banksync.NewLinkFlow(gcClient, tokens, resolver, importer, bankingRepo, cfg.GoCardless.UserLanguage, logger)

	dispatcher := banksync.NewDispatcher()
	dispatcher.Register(banking.ProviderGoCardless, importer)

	notifiers := []banksync.Notifier{banksync.NewPushNotifier(notificationService)}
	if cfg.NATS.URL != "" {
		nc, err := natspub.Connect(cfg.NATS.URL, logger)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, func() { nc.Drain() })
		notifiers = append(notifiers, natspub.NewPublisher(nc, cfg.NATS.Subject))
	}

	window := time.Duration(cfg.Scheduler.ImportWindowDays) * 24 * time.Hour
	d.BankSync = banksync.NewService(flow, importer, dispatcher, bankingRepo, familyService, window, logger, notifiers...)

	if cfg.Plaid.Enabled() {
		plaidClient := plaid.NewClient(cfg.Plaid.BaseURL, cfg.Plaid.ClientID, cfg.Plaid.Secret, cfg.Plaid.Timeout)
		d.BankSync.EnablePlaid(banksync.NewPlaidSyncer(plaidClient, bankingRepo, accountService, transactionRepo, cfg.Plaid.ClientName, cfg.Plaid.CountryCodes, logger))
		logger.Info("plaid provider enabled", zap.String("base_url", cfg.Plaid.BaseURL))
	} else {
		logger.Info("PLAID_CLIENT_ID not set, plaid provider disabled")
	}

	if cfg.Scheduler.Enabled {
		sched, err := newScheduler(cfg, d.BankSync, logger)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Scheduler = sched
	}

	d.Listener = listener.NewSyncListener(cfg.Database.ConnectionString(), d.BankSync, cfg.Scheduler.JobTimeout, cfg.Scheduler.WorkerCount, logger)

	// Only a running scheduler may queue cron work.
	var trigger httphandlers.TaskTrigger
	if d.Scheduler != nil {
		trigger = d.Scheduler
	}

	d.JWT = auth.NewJWT(cfg.JWT.Secret, cfg.JWT.TTL)
	d.BankingHandler = httphandlers.NewBankingHandler(d.BankSync, bankingService, familyService, cfg.GoCardless.RedirectURL, logger)
	d.AccountHandler = httphandlers.NewAccountHandler(accountService, familyService, logger)
	d.NotificationHandler = httphandlers.NewNotificationHandler(notificationService, logger)
	d.CronHandler = httphandlers.NewCronHandler(trigger, d.BankSync, logger)

	return d, nil
}

// tokenStore shares the aggregator token through Redis when configured so
// every replica reuses one token pair.
func (d *Dependencies) tokenStore(cfg *config.Config, logger *zap.Logger) (banksync.TokenStore, error) {
	if cfg.Redis.Addr == "" {
		logger.Info("REDIS_ADDR not set, keeping aggregator token in memory")
		return banksync.NewMemoryTokenStore(), nil
	}

	client, err := redisstore.Connect(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, func() { client.Close() })
	logger.Info("using redis token store", zap.String("addr", cfg.Redis.Addr))
	return redisstore.NewTokenStore(client, cfg.Redis.KeyPrefix), nil
}

func newScheduler(cfg *config.Config, syncer scheduler.Syncer, logger *zap.Logger) (*scheduler.Scheduler, error) {
	sched, err := scheduler.New(scheduler.Config{
		Tasks: []scheduler.Task{
			{Name: scheduler.TaskBalances, At: cfg.Scheduler.BalanceSyncTime, Jobs: scheduler.BalanceJobs(syncer, logger)},
			{Name: scheduler.TaskTransactions, At: cfg.Scheduler.TransactionImportTime, Jobs: scheduler.TransactionJobs(syncer, logger)},
		},
		WorkerCount:  cfg.Scheduler.WorkerCount,
		JobDelay:     cfg.Scheduler.JobDelay,
		JobTimeout:   cfg.Scheduler.JobTimeout,
		QueueSize:    cfg.Scheduler.QueueSize,
		RunOnStartup: cfg.Scheduler.RunOnStartup,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return sched, nil
}

// Close releases resources in reverse order of acquisition.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}
