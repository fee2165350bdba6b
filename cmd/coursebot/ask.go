package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"os/user"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"coursebot/internal/admission"
	"coursebot/internal/channels"
	"coursebot/internal/channels/console"
	"coursebot/internal/config"
)

func newAskCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Answer one prompt on the terminal through the full pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.Validate(config.PurposeAsk); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return ask(ctx, c.cfg, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}
}

func ask(ctx context.Context, cfg config.Config, prompt string, out io.Writer, opts ...pipelineOption) error {
	host := console.NewHost(out)
	p, err := newPipeline(cfg, host, opts...)
	if err != nil {
		return err
	}
	if err := p.start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := p.shutdown(shutdownCtx); err != nil {
			p.logger.Warn("shutdown: %v", err)
		}
	}()

	name := localUser()
	ack := host.NewAck()
	if _, err := p.submitter.Submit(ctx, admission.Submission{
		Prompt: prompt,
		Origin: channels.Origin{
			Platform:    console.Platform,
			ChannelID:   "terminal",
			UserID:      name,
			DisplayName: name,
		},
		Ack: ack,
	}); err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	select {
	case <-ack.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func localUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "you"
}
