// Package main runs the commerce settlement gateway: the REST surface over
// the checkout, webhook, claim and on-chain purchase flows.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	app "github.com/CurioWorks/commerce_layer/internal/app"
	"github.com/CurioWorks/commerce_layer/internal/app/httpapi"
	"github.com/CurioWorks/commerce_layer/internal/app/services/settlement"
	"github.com/CurioWorks/commerce_layer/internal/app/storage"
	"github.com/CurioWorks/commerce_layer/internal/app/storage/postgres"
	"github.com/CurioWorks/commerce_layer/internal/chain"
	"github.com/CurioWorks/commerce_layer/internal/config"
	"github.com/CurioWorks/commerce_layer/internal/events"
	"github.com/CurioWorks/commerce_layer/internal/payments"
	"github.com/CurioWorks/commerce_layer/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		Name:   "gateway",
	})

	var store storage.Store
	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := postgres.Migrate(db); err != nil {
			return err
		}
		store = postgres.New(db)
	} else {
		log.Warn("DATABASE_URL not set; using in-memory store")
	}

	var pub events.Publisher = events.Noop{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pub = events.NewRedisPublisher(rdb, log.WithField("component", "events"))
	} else {
		log.Warn("REDIS_ADDR not set; event publishing disabled")
	}

	ledger, err := chain.NewClient(chain.Config{
		RPCURL:    cfg.Ledger.RPCURL,
		NetworkID: cfg.Ledger.NetworkID,
		Timeout:   cfg.Ledger.Timeout,
	})
	if err != nil {
		return fmt.Errorf("ledger client: %w", err)
	}

	signer, err := chain.NewSigner(cfg.Signer.Address, cfg.Signer.KeyHex, cfg.Ledger.NetworkID)
	if err != nil {
		return fmt.Errorf("chain signer: %w", err)
	}

	gateway, err := payments.NewHTTPClient(payments.HTTPConfig{
		BaseURL: cfg.Gateway.BaseURL,
		APIKey:  cfg.Gateway.APIKey,
		Timeout: cfg.Gateway.Timeout,
	})
	if err != nil {
		return fmt.Errorf("payment gateway client: %w", err)
	}

	pricing := config.LoadPricingOrDefault(cfg.PricingFile)

	application, err := app.New(app.Deps{
		Store:   store,
		Ledger:  ledger,
		Gateway: gateway,
		Signer:  signer,
		Events:  pub,
		Pricing: settlement.CurveConfig{
			BasePrice:        pricing.BasePrice,
			Multiplier:       pricing.Multiplier,
			DecayStartBatch:  pricing.DecayStartBatch,
			DecayEndBatch:    pricing.DecayEndBatch,
			DecayNumerator:   pricing.DecayNumerator,
			DecayDenominator: pricing.DecayDenominator,
		},
	}, log)
	if err != nil {
		return err
	}

	if err := application.Start(cfg.Watchdog.Schedule); err != nil {
		return fmt.Errorf("start watchdog: %w", err)
	}
	defer application.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      httpapi.NewHandler(application, log.WithField("component", "httpapi")),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("gateway listening")
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
