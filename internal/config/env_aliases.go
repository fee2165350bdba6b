package config

// DefaultEnvAliases maps config keys to the legacy environment variable names
// the bot was deployed with. They are consulted after COURSEBOT_<KEY>. Each
// call returns a fresh map.
func DefaultEnvAliases() map[string][]string {
	return map[string][]string{
		"discord.token":           {"DISCORD_LLM_BOT_TOKEN"},
		"discord.client_id":       {"DISCORD_LLM_BOT_CLIENT_ID"},
		"discord.guild_id":        {"DISCORD_TEST_GUILD_ID"},
		"discord.deploy_commands": {"DISCORD_DEPLOY_COMMANDS"},
		"ollama.base_url":         {"OLLAMA_HOST"},
		"ollama.model":            {"OLLAMA_MODEL"},
		"runner.course_name":      {"COURSE_NAME"},
	}
}
