// Command supportd runs the refund and return support agent.
//
// Usage:
//
//	# Serve the chat and tool API (migrates and seeds on start)
//	supportd serve
//
//	# Load settings from a dotenv file first
//	supportd serve --env-file .env.local
//
//	# Create or update the schema only
//	supportd migrate
//
//	# Insert the demo orders
//	supportd seed
//
//	# Validate a policy table before rolling it out
//	supportd policy check policy.yaml
//
// Configuration is read from the environment; see internal/config.
package main

//	@title			Support Agent API
//	@version		1.0
//	@description	Policy-grounded refund and return assistant with audited tool calls.
//	@BasePath		/api/v1
func main() {
	Execute()
}
