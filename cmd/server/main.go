package main

import (
	"log"
	"net/http"

	"go.uber.org/zap"

	"github.com/icehouse/academy/internal/booking"
	"github.com/icehouse/academy/internal/capacity"
	"github.com/icehouse/academy/internal/config"
	"github.com/icehouse/academy/internal/credits"
	"github.com/icehouse/academy/internal/db"
	"github.com/icehouse/academy/internal/handlers"
	"github.com/icehouse/academy/internal/metrics"
	"github.com/icehouse/academy/internal/notify"
	"github.com/icehouse/academy/internal/pairing"
	"github.com/icehouse/academy/internal/recurring"
	"github.com/icehouse/academy/internal/schedule"
	"github.com/icehouse/academy/internal/web"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("db open", zap.Error(err))
	}

	metrics.Register()
	loc := cfg.Location()

	notifier := &notify.LogNotifier{Logger: logger}
	creditLedger := credits.NewGormLedger(conn)
	ledger := capacity.NewLedger(conn, logger)
	scheduleSvc := schedule.NewService(conn, ledger, notifier, logger, loc)
	pairingEng := pairing.NewEngine(conn, ledger, notifier, logger, loc)
	bookingSvc := booking.NewService(conn, ledger, creditLedger, notifier, logger, loc)
	processor := recurring.NewProcessor(conn, ledger, creditLedger, notifier, logger, loc)

	if cfg.RecurringEnabled {
		stop := make(chan struct{})
		defer close(stop)
		processor.StartLoop(cfg.RecurringInterval, stop)
		logger.Info("recurring loop started", zap.Duration("interval", cfg.RecurringInterval))
	}

	api := &handlers.API{
		DB:        conn,
		Ledger:    ledger,
		Schedule:  scheduleSvc,
		Pairing:   pairingEng,
		Bookings:  bookingSvc,
		Recurring: processor,
		Logger:    logger,
	}

	logger.Info("academy listening", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, web.Router(api)); err != nil {
		logger.Fatal("server", zap.Error(err))
	}
}
