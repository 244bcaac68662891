package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/cppla/pagestats/broker"
	"github.com/cppla/pagestats/config"
	"github.com/cppla/pagestats/consumer"
	"github.com/cppla/pagestats/events"
	"github.com/cppla/pagestats/metrics"
	"github.com/cppla/pagestats/routes"
	"github.com/cppla/pagestats/store"
	"github.com/cppla/pagestats/utils"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	logger := utils.Logger
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.Store, cfg.LogLevel)
	if err != nil {
		logger.Error("open statistics store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
		return 1
	}
	defer st.Close()

	src, err := broker.OpenSource(ctx, cfg.Broker)
	if err != nil {
		logger.Error("open broker", zap.String("driver", cfg.Broker.Driver), zap.Error(err))
		return 1
	}
	defer src.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	c := consumer.New(src, events.NewDispatcher(st, logger.Named("dispatcher")), logger.Named("consumer"), consumer.Options{
		HandlerTimeout: cfg.Consumer.HandlerTimeout,
		RetryBackoff:   cfg.Consumer.RetryBackoff,
		Metrics:        m,
	})

	var (
		wg          sync.WaitGroup
		consumerErr error
	)
	consumerDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := c.Run(ctx); err != nil {
			consumerErr = err
			logger.Error("consumer exited, stopping process", zap.Error(err))
			close(consumerDone)
		}
	}()

	r := routes.SetupRouter(cfg, routes.Deps{Store: st, Metrics: m, Registry: registry, Logger: logger})

	logger.Info("starting server (graceful)",
		zap.String("port", cfg.AppPort),
		zap.String("broker", cfg.Broker.Driver),
		zap.String("store", cfg.Store.Driver))
	err = utils.GraceServer(":"+cfg.AppPort, r, consumerDone, cancel)
	cancel()
	wg.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped with error", zap.Error(err))
		return 1
	}
	if consumerErr != nil {
		return 1
	}
	return 0
}
