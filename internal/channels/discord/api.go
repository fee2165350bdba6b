package discord

import "github.com/bwmarrin/discordgo"

// discordAPI is the subset of the Discord REST API the gateway uses.
type discordAPI interface {
	ThreadStart(channelID, name string, archiveMinutes int) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse) error
	InteractionResponseEdit(interaction *discordgo.Interaction, edit *discordgo.WebhookEdit) (*discordgo.Message, error)
	InteractionResponseDelete(interaction *discordgo.Interaction) error
	FollowupMessageCreate(interaction *discordgo.Interaction, params *discordgo.WebhookParams) (*discordgo.Message, error)
	ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand) ([]*discordgo.ApplicationCommand, error)
}

// sessionAPI adapts a *discordgo.Session to discordAPI.
type sessionAPI struct {
	s *discordgo.Session
}

func (a sessionAPI) ThreadStart(channelID, name string, archiveMinutes int) (*discordgo.Channel, error) {
	return a.s.ThreadStart(channelID, name, discordgo.ChannelTypeGuildPublicThread, archiveMinutes)
}

func (a sessionAPI) ChannelMessageSend(channelID, content string) (*discordgo.Message, error) {
	return a.s.ChannelMessageSend(channelID, content)
}

func (a sessionAPI) ChannelMessageEdit(channelID, messageID, content string) (*discordgo.Message, error) {
	return a.s.ChannelMessageEdit(channelID, messageID, content)
}

func (a sessionAPI) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse) error {
	return a.s.InteractionRespond(interaction, resp)
}

func (a sessionAPI) InteractionResponseEdit(interaction *discordgo.Interaction, edit *discordgo.WebhookEdit) (*discordgo.Message, error) {
	return a.s.InteractionResponseEdit(interaction, edit)
}

func (a sessionAPI) InteractionResponseDelete(interaction *discordgo.Interaction) error {
	return a.s.InteractionResponseDelete(interaction)
}

func (a sessionAPI) FollowupMessageCreate(interaction *discordgo.Interaction, params *discordgo.WebhookParams) (*discordgo.Message, error) {
	return a.s.FollowupMessageCreate(interaction, true, params)
}

func (a sessionAPI) ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand) ([]*discordgo.ApplicationCommand, error) {
	return a.s.ApplicationCommandBulkOverwrite(appID, guildID, commands)
}
