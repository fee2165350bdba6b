package discord

import (
	"context"
	"fmt"

	"coursebot/internal/channels"

	"github.com/bwmarrin/discordgo"
)

// threadChannel is a public thread used as a task's output channel.
type threadChannel struct {
	api discordAPI
	id  string
}

var _ channels.Channel = (*threadChannel)(nil)

func (t *threadChannel) ID() string { return t.id }

func (t *threadChannel) Send(_ context.Context, text string) (string, error) {
	msg, err := t.api.ChannelMessageSend(t.id, text)
	if err != nil {
		return "", fmt.Errorf("discord send to %s: %w", t.id, err)
	}
	return msg.ID, nil
}

func (t *threadChannel) Edit(_ context.Context, messageID, text string) error {
	if _, err := t.api.ChannelMessageEdit(t.id, messageID, text); err != nil {
		return fmt.Errorf("discord edit %s: %w", messageID, err)
	}
	return nil
}

// interactionAck is the deferred ephemeral reply to a slash command.
type interactionAck struct {
	api         discordAPI
	interaction *discordgo.Interaction
}

var _ channels.Acknowledger = (*interactionAck)(nil)

func (a *interactionAck) Update(_ context.Context, text string) error {
	_, err := a.api.InteractionResponseEdit(a.interaction, &discordgo.WebhookEdit{Content: &text})
	return err
}

func (a *interactionAck) Finalize(context.Context) error {
	return a.api.InteractionResponseDelete(a.interaction)
}
