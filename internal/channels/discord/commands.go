package discord

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Commands returns the slash commands the bot serves.
func Commands(name string) []*discordgo.ApplicationCommand {
	if strings.TrimSpace(name) == "" {
		name = defaultCommandName
	}
	return []*discordgo.ApplicationCommand{
		{
			Name:        name,
			Description: "Ask the course assistant (policy-enforced).",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        promptOptionName,
					Description: "Your question",
					Required:    true,
				},
			},
		},
	}
}

// DeployCommands overwrites the application's commands in the configured guild.
func DeployCommands(s *discordgo.Session, cfg Config) (int, error) {
	return deployCommands(sessionAPI{s: s}, cfg)
}

func deployCommands(api discordAPI, cfg Config) (int, error) {
	if strings.TrimSpace(cfg.ApplicationID) == "" {
		return 0, fmt.Errorf("deploy commands requires an application id")
	}
	cmds := Commands(cfg.CommandName)
	created, err := api.ApplicationCommandBulkOverwrite(cfg.ApplicationID, cfg.GuildID, cmds)
	if err != nil {
		return 0, fmt.Errorf("overwrite application commands: %w", err)
	}
	return len(created), nil
}
