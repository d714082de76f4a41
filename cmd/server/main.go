package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"

	"chat-relay/internal"
	"chat-relay/moderation"
	"chat-relay/relay"
	"chat-relay/workers"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components and manages the server lifecycle. The
// pattern keeps defers working and error reporting in one place instead of
// calling os.Exit from arbitrary depths.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Moderation (optional)
	var censor func(string) string
	if config.EnableModeration {
		wordlist, err := moderation.LoadWordlist()
		if err != nil {
			return fmt.Errorf("loading wordlist: %w", err)
		}
		replacement, err := CharacterRune(config.ModerationCharReplacement)
		if err != nil {
			return err
		}
		moderator, err := moderation.NewModerator(wordlist.Words, replacement, log)
		if err != nil {
			return fmt.Errorf("building moderator: %w", err)
		}
		log.Info(fmt.Sprintf("%d censored words loaded [%s]",
			len(wordlist.Words), strings.Join(wordlist.Languages, ",")))
		censor = moderator.Censor
	}

	// 3. Core components
	registry := relay.NewRegistry()
	router := relay.NewRouter(log, registry, relay.PresenceFormat(config.PresenceFormat), censor)
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := relay.NewServer(log, router, registry, address,
		config.ConnectionBufferSize, config.MaxLineBytes)

	// 4. Debug inspector (optional)
	if config.DebugPort > 0 {
		internal.StartDebugServer(log, config.DebugPort, "/inspect",
			func() []internal.SessionRow {
				return lo.Map(registry.Snapshot(), func(s *relay.Session, _ int) internal.SessionRow {
					return internal.SessionRow{UID: s.UID, Name: s.Name(), State: s.State().String()}
				})
			},
			func() map[string]any {
				stats := router.Statistics()
				return map[string]any{
					"Sessions":     registry.Len(),
					"Delivered":    stats.Delivered,
					"Dropped":      stats.Dropped,
					"TargetMisses": stats.TargetMisses,
				}
			})
	}

	// 5. Supervision & Signals
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(server)
	sup.Add(workers.NewTelemetryWorker(log, registry, router, config.MetricInterval))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Blocks until signal; workers drain on context cancel.
	sup.Run(ctx)
	log.Info("Program stopped cleanly")

	return nil
}
