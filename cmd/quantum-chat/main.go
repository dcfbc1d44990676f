// quantum-chat is the server binary for the simulated-QKD secured chat
// service. It hosts the chat hub, runs BB84 key agreement rounds on behalf
// of user pairs, and relays encrypted messages between session peers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pzverkov/quantum-chat/pkg/version"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quantum-chat",
		Short: "Chat server secured by simulated quantum key distribution",
		Long: `quantum-chat runs a chat service where every pair of users derives a
shared secret through a simulated BB84 key agreement round before any
message flows. Messages are sealed with an AEAD under the per-pair key;
an intercepted round is detected by its error rate and aborted.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(serveCmd(), demoCmd(), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Full())
		},
	}
}
