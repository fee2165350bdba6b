// Package discord connects the bot to Discord: it serves the prompt slash
// command and creates a public thread per task for the streamed answer.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"coursebot/internal/admission"
	"coursebot/internal/async"
	"coursebot/internal/channels"
	"coursebot/internal/logging"
	"coursebot/internal/queue"

	"github.com/bwmarrin/discordgo"
)

// CommandErrorMessage is the ephemeral reply when a command cannot be handled.
const CommandErrorMessage = "There was an error while executing this command!"

// RateLimitedMessage is the ephemeral reply to a submitter sending too fast.
const RateLimitedMessage = "You're sending prompts too quickly. Please wait a moment and try again."

// Submitter admits prompts. *admission.Submitter implements it.
type Submitter interface {
	Submit(ctx context.Context, sub admission.Submission) (queue.Task, error)
}

// Gateway bridges Discord slash commands into the admission queue and
// implements channels.Host over Discord threads.
type Gateway struct {
	cfg       Config
	submitter Submitter
	logger    logging.Logger

	mu      sync.RWMutex
	api     discordAPI
	session *discordgo.Session
	ctx     context.Context
}

var _ channels.Host = (*Gateway)(nil)

// NewGateway constructs a Discord gateway. The submitter may be set later
// with SetSubmitter, since the runner needs the gateway as its host first.
func NewGateway(cfg Config, logger logging.Logger) (*Gateway, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("discord gateway requires a bot token")
	}
	cfg.CommandName = strings.TrimSpace(cfg.CommandName)
	if cfg.CommandName == "" {
		cfg.CommandName = defaultCommandName
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("Discord")
	}
	return &Gateway{
		cfg:    cfg,
		logger: logger,
		ctx:    context.Background(),
	}, nil
}

// SetSubmitter wires the admission entry point.
func (g *Gateway) SetSubmitter(s Submitter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitter = s
}

// setAPI replaces the REST client. Used by tests.
func (g *Gateway) setAPI(api discordAPI) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.api = api
}

func (g *Gateway) client() (discordAPI, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.api == nil {
		return nil, errors.New("discord gateway not connected")
	}
	return g.api, nil
}

// Start opens the gateway connection and blocks until ctx is done.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.cfg.Enabled {
		return nil
	}
	session, err := discordgo.New("Bot " + g.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	g.mu.Lock()
	g.session = session
	g.api = sessionAPI{s: session}
	g.ctx = ctx
	g.mu.Unlock()

	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		defer async.Recover(g.logger, "discord.ready")
		g.onReady(r)
	})
	session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		defer async.Recover(g.logger, "discord.interaction")
		g.handleInteraction(g.context(), i)
	})

	g.logger.Info("Discord gateway connecting...")
	if err := session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	<-ctx.Done()
	g.logger.Info("Discord gateway closing")
	return session.Close()
}

func (g *Gateway) context() context.Context {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ctx
}

func (g *Gateway) onReady(r *discordgo.Ready) {
	if r.User != nil {
		g.logger.Info("Ready! Logged in as %s", r.User.Username)
	}
	if !g.cfg.DeployCommands {
		return
	}
	cfg := g.cfg
	if cfg.ApplicationID == "" && r.Application != nil {
		cfg.ApplicationID = r.Application.ID
	}
	api, err := g.client()
	if err != nil {
		g.logger.Warn("deploy commands skipped: %v", err)
		return
	}
	n, err := deployCommands(api, cfg)
	if err != nil {
		g.logger.Error("deploy commands failed: %v", err)
		return
	}
	g.logger.Info("Successfully reloaded %d application (/) commands.", n)
}

// CreateChannel starts a public thread under the origin channel.
func (g *Gateway) CreateChannel(_ context.Context, origin channels.Origin, name string) (channels.Channel, error) {
	api, err := g.client()
	if err != nil {
		return nil, err
	}
	if origin.ChannelID == "" {
		return nil, errors.New("discord origin has no channel id")
	}
	thread, err := api.ThreadStart(origin.ChannelID, name, threadArchiveMins)
	if err != nil {
		return nil, fmt.Errorf("discord thread start in %s: %w", origin.ChannelID, err)
	}
	return &threadChannel{api: api, id: thread.ID}, nil
}

func (g *Gateway) handleInteraction(ctx context.Context, i *discordgo.InteractionCreate) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if data.Name != g.cfg.CommandName {
		g.logger.Warn("No command matching %s was found.", data.Name)
		return
	}
	api, err := g.client()
	if err != nil {
		g.logger.Error("interaction %s dropped: %v", i.ID, err)
		return
	}

	err = api.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		g.logger.Warn("defer reply for interaction %s failed: %v", i.ID, err)
		return
	}

	g.mu.RLock()
	submitter := g.submitter
	g.mu.RUnlock()

	ack := &interactionAck{api: api, interaction: i.Interaction}
	if submitter == nil {
		g.replyError(api, i.Interaction, CommandErrorMessage)
		return
	}

	user := interactionUser(i.Interaction)
	origin := channels.Origin{
		Platform:  Platform,
		ChannelID: i.ChannelID,
	}
	if user != nil {
		origin.UserID = user.ID
		origin.DisplayName = displayName(user)
	}

	prompt := promptOption(data)
	g.logger.Info("User %s prompt: %s", origin.UserID, prompt)

	_, err = submitter.Submit(ctx, admission.Submission{
		ID:     i.ID,
		Prompt: prompt,
		Origin: origin,
		Ack:    ack,
	})
	switch {
	case err == nil:
	case errors.Is(err, admission.ErrDuplicateSubmission):
		g.logger.Debug("duplicate interaction %s ignored", i.ID)
	case errors.Is(err, admission.ErrRateLimited):
		g.replyError(api, i.Interaction, RateLimitedMessage)
	default:
		g.logger.Error("submit interaction %s: %v", i.ID, err)
		g.replyError(api, i.Interaction, CommandErrorMessage)
	}
}

// replyError rewrites the deferred reply, falling back to an ephemeral follow-up.
func (g *Gateway) replyError(api discordAPI, interaction *discordgo.Interaction, text string) {
	if _, err := api.InteractionResponseEdit(interaction, &discordgo.WebhookEdit{Content: &text}); err == nil {
		return
	}
	_, err := api.FollowupMessageCreate(interaction, &discordgo.WebhookParams{
		Content: text,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		g.logger.Warn("error reply for interaction %s failed: %v", interaction.ID, err)
	}
}

func interactionUser(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func displayName(u *discordgo.User) string {
	if strings.TrimSpace(u.GlobalName) != "" {
		return u.GlobalName
	}
	return u.Username
}

func promptOption(data discordgo.ApplicationCommandInteractionData) string {
	for _, opt := range data.Options {
		if opt != nil && opt.Name == promptOptionName && opt.Type == discordgo.ApplicationCommandOptionString {
			return opt.StringValue()
		}
	}
	return ""
}
