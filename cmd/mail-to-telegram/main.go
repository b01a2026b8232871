package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/PIAS404/mail-to-telegram/internal/config"
	"github.com/PIAS404/mail-to-telegram/internal/forwarder"
	"github.com/PIAS404/mail-to-telegram/internal/notifier"
	"github.com/PIAS404/mail-to-telegram/internal/receiver"
)

func main() {
	configPath := flag.String("config", "", "optional path to a YAML configuration file")
	envFile := flag.String("env-file", ".env", "optional dotenv file; existing environment variables take precedence")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		var missing *config.MissingError
		if errors.As(err, &missing) {
			fmt.Fprintf(os.Stderr, "Missing env vars: %v\n", missing.Keys)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting IMAP -> Telegram forwarder",
		"host", cfg.IMAP.Host,
		"port", cfg.IMAP.Port,
		"mailbox", cfg.IMAP.GetMailbox(),
	)

	security := receiver.SecurityTLS
	if !cfg.IMAP.UseTLS {
		security = receiver.SecurityStartTLS
	}
	recv := receiver.NewIMAP(
		cfg.IMAP.Host, cfg.IMAP.Port,
		cfg.IMAP.Username, cfg.IMAP.Password,
		security, cfg.IMAP.GetMailbox(), logger,
	)
	tg := notifier.NewTelegram(
		cfg.Telegram.APIURL,
		cfg.Telegram.BotToken,
		cfg.Telegram.ChatID,
		logger,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fwd := forwarder.New(recv, tg, cfg.IMAP.GetMailbox(), cfg.PollInterval(), cfg.GetMaxBodyChars(), logger)

	// Force exit on second signal; an in-flight IMAP call cannot be interrupted.
	go func() {
		<-ctx.Done()
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Warn("forced shutdown")
		os.Exit(1)
	}()

	fwd.Run(ctx)
	logger.Info("forwarder exited")
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
