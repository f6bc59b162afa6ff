package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"

	cartapp "github.com/Scetch/ShopifySummer2019/internal/cart/app"
	cartkafka "github.com/Scetch/ShopifySummer2019/internal/cart/infra/kafka"
	cartpg "github.com/Scetch/ShopifySummer2019/internal/cart/infra/postgres"
	cartrest "github.com/Scetch/ShopifySummer2019/internal/cart/rest"
	catalogapp "github.com/Scetch/ShopifySummer2019/internal/catalog/app"
	catalogpg "github.com/Scetch/ShopifySummer2019/internal/catalog/infra/postgres"
	catalogrest "github.com/Scetch/ShopifySummer2019/internal/catalog/rest"
	"github.com/Scetch/ShopifySummer2019/pkg/config"
	"github.com/Scetch/ShopifySummer2019/pkg/kafka"
	"github.com/Scetch/ShopifySummer2019/pkg/logger"
	"github.com/Scetch/ShopifySummer2019/pkg/metrics"
	"github.com/Scetch/ShopifySummer2019/pkg/postgres"
	"github.com/Scetch/ShopifySummer2019/pkg/shutdown"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Options{Service: "marketplace", Env: cfg.AppEnv, Level: cfg.LogLevel, AddSource: true})

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	db, err := postgres.Open(ctx, postgres.Config{
		URL:          cfg.DatabaseURL,
		MaxOpenConns: 25,
		MaxIdleConns: 5,
		MaxLifetime:  30 * time.Minute,
	})
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	var pub cartapp.EventPublisher
	kc := kafka.NewClient(cfg.KafkaBrokers)
	if kc.Enabled() {
		p := cartkafka.NewPublisher(kc, cfg.CartCompletedTopic)
		defer p.Close()
		pub = p
		log.Info("event publishing enabled", "topic", cfg.CartCompletedTopic)
	}

	cartSvc := cartapp.NewService(cartpg.NewStore(db), pub, log)
	catalogSvc := catalogapp.NewService(catalogpg.NewProductRepo(db))
	cartMetrics := metrics.NewCartMetrics()

	r := mux.NewRouter()
	cartrest.NewHandler(cartSvc, log, cartMetrics).Register(r)
	catalogrest.NewHandler(catalogSvc, log).Register(r)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("http server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown did not finish cleanly", "err", err)
	}

	wg.Wait()
	log.Info("bye")
}
