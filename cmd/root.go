package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "roommesh",
	Short: "RoomMesh is a rendezvous relay for peer-to-peer WebRTC rooms.",
	Long: `Without a subcommand roommesh runs the relay (same as "roommesh relay").
"roommesh join" connects a headless participant to a room.
Configuration comes from the environment, flags override it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// флаг перекрывает LOG_LEVEL, который читают обе конфигурации
		if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
			return os.Setenv("LOG_LEVEL", f.Value.String())
		}

		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error (LOG_LEVEL)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
