package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/ai"
	"github.com/zulandar/switchboard/internal/audio"
	"github.com/zulandar/switchboard/internal/calls"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/dashboard"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/metrics"
	"github.com/zulandar/switchboard/internal/notify"
	"github.com/zulandar/switchboard/internal/notify/discord"
	"github.com/zulandar/switchboard/internal/notify/slack"
	"github.com/zulandar/switchboard/internal/registry"
	"github.com/zulandar/switchboard/internal/stats"
	"github.com/zulandar/switchboard/internal/telephony"
	"gorm.io/gorm"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the call server",
		Long:  "Migrates the database, then serves the provider webhook, audio stream, dashboard socket, and REST API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchboard config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

// app is the wired set of long-lived components.
type app struct {
	machine  *calls.Machine
	hub      *hub.Hub
	pusher   *stats.Pusher
	notifier *notify.Notifier // nil when no chat platform is configured
	metrics  *metrics.Metrics
	start    dashboard.StartOpts
}

// buildApp constructs every component from cfg. Nothing is started.
func buildApp(cfg *config.Config, gormDB *gorm.DB) (*app, error) {
	archive, err := audio.NewArchive(cfg.AudioDir)
	if err != nil {
		return nil, err
	}
	aiClient, err := ai.NewClient(ai.Config{
		APIKey:          cfg.OpenAI.APIKey,
		BaseURL:         cfg.OpenAI.BaseURL,
		TranscribeModel: cfg.OpenAI.TranscribeModel,
		ChatModel:       cfg.OpenAI.ChatModel,
		TimeoutSeconds:  cfg.OpenAI.TimeoutSeconds,
	})
	if err != nil {
		return nil, err
	}
	provider, err := telephony.New(telephony.Opts{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		BaseURL:    cfg.Twilio.BaseURL,
	})
	if err != nil {
		return nil, err
	}

	h := hub.New()
	reg := registry.New()
	acc := audio.NewAccumulator()
	m := metrics.New()
	m.RegisterGauge("switchboard_active_calls", "Calls currently tracked in memory.", reg.Len)
	m.RegisterGauge("switchboard_open_streams", "Audio stream sessions currently accumulating.", acc.Len)
	m.RegisterGauge("switchboard_dashboard_observers", "Connected dashboard observers.", h.Len)

	machine, err := calls.NewMachine(calls.MachineOpts{
		DB:              gormDB,
		Registry:        reg,
		Accumulator:     acc,
		Archive:         archive,
		Hub:             h,
		Notes:           aiClient,
		Provider:        provider,
		Metrics:         m,
		AssistantNumber: cfg.AssistantNumber,
	})
	if err != nil {
		return nil, err
	}

	agg := stats.NewAggregator(gormDB)
	pusher, err := stats.NewPusher(stats.PusherOpts{
		Aggregator: agg,
		Hub:        h,
		Schedule:   cfg.Dashboard.StatsSchedule,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		machine: machine,
		hub:     h,
		pusher:  pusher,
		metrics: m,
		start: dashboard.StartOpts{
			DB:                gormDB,
			Machine:           machine,
			Hub:               h,
			Aggregator:        agg,
			Archive:           archive,
			Metrics:           m,
			Port:              cfg.Server.Port,
			StreamURL:         cfg.StreamURL(),
			InitialStatsDelay: time.Duration(cfg.Dashboard.InitialStatsDelayMs) * time.Millisecond,
		},
	}

	senders, err := buildSenders(cfg.Notify)
	if err != nil {
		return nil, err
	}
	if len(senders) > 0 {
		a.notifier, err = notify.New(notify.Opts{Senders: senders, DB: gormDB})
		if err != nil {
			return nil, err
		}
		h.Tap(a.notifier.Listen)
	}
	return a, nil
}

// buildSenders returns a sender for every enabled chat platform.
func buildSenders(cfg config.NotifyConfig) ([]notify.Sender, error) {
	var senders []notify.Sender
	if cfg.Slack.Enabled() {
		s, err := slack.New(slack.Opts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.ChannelID})
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}
	if cfg.Discord.Enabled() {
		s, err := discord.New(discord.Opts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.ChannelID})
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}
	return senders, nil
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	if cfg.Server.PublicURL == "" {
		log.Printf("serve: server.public_url is not set; assistant calls cannot stream audio")
	}
	if err := prepareDB(cmd, gormDB); err != nil {
		return err
	}

	a, err := buildApp(cfg, gormDB)
	if err != nil {
		return err
	}
	a.start.Out = out

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	go a.pusher.Run(ctx)

	serveErr := dashboard.Start(ctx, a.start)

	fmt.Fprintln(out, "Waiting for post-call processing to finish...")
	a.machine.Wait()
	if a.notifier != nil {
		a.notifier.Wait()
	}
	return serveErr
}
