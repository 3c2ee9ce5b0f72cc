package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/noah-isme/xpay-demo/internal/app"
	"github.com/noah-isme/xpay-demo/internal/config"
	"github.com/noah-isme/xpay-demo/internal/countdown"
	"github.com/noah-isme/xpay-demo/internal/obs"
	"github.com/noah-isme/xpay-demo/internal/payment"
	"github.com/noah-isme/xpay-demo/internal/poll"
)

func main() {
	var (
		orderID  = flag.String("order", "", "gateway order id to watch")
		interval = flag.Duration("interval", 0, "status poll interval; defaults to STATUS_POLL_INTERVAL")
		expires  = flag.Int64("expires", 0, "order expiry as unix seconds; enables the countdown")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "watch").Logger()

	if *orderID == "" {
		logger.Error().Msg("-order is required")
		flag.Usage()
		os.Exit(2)
	}
	every := cfg.StatusPollInterval
	if *interval > 0 {
		every = *interval
	}

	clk := clock.New()
	gw, baseURL, initErr := app.NewGateway(cfg, clk, logger)
	if initErr != nil {
		logger.Fatal().Err(initErr).Str("mode", cfg.XPayMode).Msg("xpay_sdk_init_failed")
	}
	svc := payment.NewService(gw, nil, logger, clk)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poller := poll.Poller{Interval: every, Fetch: svc.Fetch, Clock: clk, Logger: logger}
	ph := poller.Start(ctx, *orderID)
	defer ph.Stop()

	var ticks <-chan countdown.Tick
	if *expires > 0 {
		ch := countdown.Start(ctx, clk, time.Unix(*expires, 0))
		defer ch.Stop()
		ticks = ch.Ticks()
	}

	log := logger.With().Str("order_id", *orderID).Logger()
	log.Info().Str("base_url", baseURL).Dur("interval", every).Msg("watch_started")

	updates := ph.Updates()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("watch_interrupted")
			return
		case res, ok := <-updates:
			if !ok {
				log.Info().Msg("watch_finished")
				return
			}
			ev := log.Info().Str("status", string(res.Status))
			if res.TxID != "" {
				ev = ev.Str("txid", res.TxID)
			}
			ev.Msg("status")
		case tick, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			if tick.Expired {
				log.Warn().Msg("order_expired")
				return
			}
			if tick.Remaining%60 == 0 || tick.Remaining <= 10 {
				log.Info().Str("remaining", countdown.Format(tick.Remaining)).Msg("countdown")
			}
		}
	}
}
