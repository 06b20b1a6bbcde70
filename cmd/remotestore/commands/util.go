package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"github.com/tendermint/remotestore/config"
	"github.com/tendermint/remotestore/internal/connpool"
	"github.com/tendermint/remotestore/internal/push"
	"github.com/tendermint/remotestore/libs/log"
	"github.com/tendermint/remotestore/remote"
)

const shutdownTimeout = 5 * time.Second

// client is an open storage plus the handle the command works with.
type client struct {
	storage *remote.Storage
	db      *remote.DB
	logger  log.Logger

	stopMetrics func()
}

// connect creates the storage described by conf and opens the database with
// the credentials given on the command line.
func connect(ctx context.Context, conf *config.Config, logger log.Logger, options ...remote.Option) (*client, error) {
	c := &client{logger: logger, stopMetrics: func() {}}

	if conf.Instrumentation.Prometheus {
		ns := conf.Instrumentation.Namespace
		labels := []string{"db", conf.Client.DBName}
		options = append([]remote.Option{
			remote.WithMetrics(remote.PrometheusMetrics(ns, labels...)),
			remote.WithConnPoolMetrics(connpool.PrometheusMetrics(ns, labels...)),
			remote.WithPushMetrics(push.PrometheusMetrics(ns, labels...)),
		}, options...)
		c.stopMetrics = startPrometheusServer(conf.Instrumentation.PrometheusListenAddr, logger)
	}

	storage, err := remote.New(conf, logger.With("module", "remote"), options...)
	if err != nil {
		c.stopMetrics()
		return nil, err
	}
	c.storage = storage
	c.db = remote.NewDB()

	if err := storage.Open(ctx, c.db, viper.GetString("user"), viper.GetString("password")); err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

// close ends the sessions and releases every connection.
func (c *client) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.storage.Shutdown(ctx); err != nil {
		c.logger.Error("shutting down storage", "err", err)
	}
	c.stopMetrics()
}

// startPrometheusServer serves the default registry under /metrics and
// returns a function stopping the server.
func startPrometheusServer(addr string, logger log.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer, promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{MaxRequestsInFlight: 3},
		),
	))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("prometheus HTTP server ListenAndServe", "err", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("prometheus HTTP server Shutdown", "err", err)
		}
	}
}
