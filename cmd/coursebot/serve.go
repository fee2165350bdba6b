package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"coursebot/internal/channels"
	"coursebot/internal/channels/discord"
	"coursebot/internal/channels/memory"
	"coursebot/internal/config"
	serverhttp "coursebot/internal/server/http"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Discord bot and, when enabled, the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.cfg.Validate(config.PurposeServe); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, c.cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	// HTTP submissions and anything without a dedicated host land in memory.
	transcripts := memory.NewHost()
	router := channels.NewRouter(transcripts)

	var gateway *discord.Gateway
	if cfg.Discord.Enabled {
		gw, err := discord.NewGateway(discord.Config{
			Enabled:        true,
			Token:          cfg.Discord.Token,
			ApplicationID:  cfg.Discord.ClientID,
			GuildID:        cfg.Discord.GuildID,
			CommandName:    cfg.Discord.CommandName,
			DeployCommands: cfg.Discord.DeployCommands,
		}, nil)
		if err != nil {
			return err
		}
		gateway = gw
		router.Register(discord.Platform, gateway)
	}

	p, err := newPipeline(cfg, router)
	if err != nil {
		return err
	}
	if gateway != nil {
		gateway.SetSubmitter(p.submitter)
	}

	p.logger.Info("serving: discord=%t http=%t model=%s ollama=%s concurrency=%d",
		cfg.Discord.Enabled, cfg.HTTP.Enabled, cfg.Ollama.Model, cfg.Ollama.BaseURL, cfg.Queue.Concurrency)

	g, gctx := errgroup.WithContext(ctx)
	if err := p.start(gctx); err != nil {
		return err
	}

	if gateway != nil {
		g.Go(func() error {
			return gateway.Start(gctx)
		})
	}

	if cfg.HTTP.Enabled {
		deps := serverhttp.Deps{
			Submitter:   p.submitter,
			Queue:       p.queue,
			Transcripts: transcripts,
			Generator:   p.generator,
			Tracer:      p.tracer,
		}
		if p.metrics != nil {
			deps.Metrics = p.metrics.Handler()
		}
		srv, err := serverhttp.NewServer(serverhttp.Config{
			Addr:  cfg.HTTP.Addr,
			Debug: cfg.Observability.Logging.Level == "debug",
		}, deps)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		p.logger.Info("shutting down")
		return p.shutdown(shutdownCtx)
	})

	return g.Wait()
}
