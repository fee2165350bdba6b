package discord

// Config captures Discord gateway behavior.
type Config struct {
	Enabled        bool
	Token          string
	ApplicationID  string
	GuildID        string // commands are registered per guild; empty registers globally
	CommandName    string
	DeployCommands bool // overwrite the slash commands when the gateway connects
}

// Platform tags origins of Discord interactions.
const Platform = "discord"

const (
	defaultCommandName = "prompt"
	promptOptionName   = "input"
	threadArchiveMins  = 60
)
