package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// flagEnv maps each command-line flag onto the environment variable it overrides.
var flagEnv = map[string]string{
	"port":             "PORT",
	"environment":      "ENVIRONMENT",
	"allowed-origins":  "ALLOWED_ORIGINS",
	"log-level":        "LOG_LEVEL",
	"log-format":       "LOG_FORMAT",
	"enable-admin":     "ENABLE_ADMIN",
	"max-participants": "DEFAULT_MAX_PARTICIPANTS",
	"max-relays":       "DEFAULT_MAX_RELAYS_PER_NODE",
	"message-event":    "SOCKET_MESSAGE_EVENT",
	"error-log":        "ERROR_LOG_BACKEND",
	"error-log-limit":  "ERROR_LOG_LIMIT",
	"redis-host":       "REDIS_HOST",
	"redis-port":       "REDIS_PORT",
	"shutdown-timeout": "SHUTDOWN_TIMEOUT",
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "signaling",
		Short: "WebRTC signaling relay with rooms and scalable broadcast trees",
		Long: `signaling relays WebRTC session negotiation between browsers over websockets.
Peers register, open or join rooms, exchange offers, answers and candidates, and
can fan a broadcast out through a tree of relaying viewers.

Every flag overrides the environment variable of the same meaning.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	serveCmd := newServeCmd()
	root.AddCommand(serveCmd)

	// Running the bare command starts the server.
	root.RunE = serveCmd.RunE
	root.Flags().AddFlagSet(serveCmd.Flags())
	return root
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the signaling server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), overridesFrom(cmd))
		},
	}

	f := cmd.Flags()
	f.String("port", "", "listen port (PORT)")
	f.String("environment", "", "development or production (ENVIRONMENT)")
	f.String("allowed-origins", "", "comma separated origin allow-list (ALLOWED_ORIGINS)")
	f.String("log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	f.String("log-format", "", "text or json (LOG_FORMAT)")
	f.Bool("enable-admin", false, "enable the admin channel (ENABLE_ADMIN)")
	f.Int("max-participants", 0, "default room capacity (DEFAULT_MAX_PARTICIPANTS)")
	f.Int("max-relays", 0, "default relay fan-out per broadcast node (DEFAULT_MAX_RELAYS_PER_NODE)")
	f.String("message-event", "", "default generic message event name (SOCKET_MESSAGE_EVENT)")
	f.String("error-log", "", "memory, redis or none (ERROR_LOG_BACKEND)")
	f.Int("error-log-limit", 0, "entries kept in the error log (ERROR_LOG_LIMIT)")
	f.String("redis-host", "", "redis host (REDIS_HOST)")
	f.String("redis-port", "", "redis port (REDIS_PORT)")
	f.Duration("shutdown-timeout", 0, "graceful shutdown timeout (SHUTDOWN_TIMEOUT)")
	return cmd
}

// overridesFrom collects the flags set on the command line, keyed by the
// environment variable each one replaces.
func overridesFrom(cmd *cobra.Command) map[string]string {
	overrides := make(map[string]string)
	for name, env := range flagEnv {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			overrides[env] = f.Value.String()
		}
	}
	return overrides
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
