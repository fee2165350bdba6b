package main

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"

	"coursebot/internal/channels/discord"
	"coursebot/internal/config"
)

func newDeployCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy-commands",
		Short: "Register the slash command with Discord",
		Long: `Overwrites the application's slash commands. With discord.guild_id set
(DISCORD_TEST_GUILD_ID) the commands are registered in that guild and are
available immediately; otherwise they are registered globally.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.cfg.Validate(config.PurposeDeploy); err != nil {
				return err
			}
			session, err := discordgo.New("Bot " + c.cfg.Discord.Token)
			if err != nil {
				return fmt.Errorf("discord session: %w", err)
			}

			scope := "global"
			if c.cfg.Discord.GuildID != "" {
				scope = "guild " + c.cfg.Discord.GuildID
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Refreshing %s (/) commands...\n", scope)

			n, err := discord.DeployCommands(session, discord.Config{
				Token:         c.cfg.Discord.Token,
				ApplicationID: c.cfg.Discord.ClientID,
				GuildID:       c.cfg.Discord.GuildID,
				CommandName:   c.cfg.Discord.CommandName,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(out, green(fmt.Sprintf("Reloaded %d %s (/) commands.", n, scope)))
			return nil
		},
	}
}
