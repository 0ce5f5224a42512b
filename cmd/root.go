package cmd

import (
	"fmt"
	"os"

	"github.com/pgplex/pgcustom/cmd/resolve"
	"github.com/pgplex/pgcustom/internal/logger"
	"github.com/pgplex/pgcustom/internal/version"
	"github.com/spf13/cobra"
)

var Debug bool

var RootCmd = &cobra.Command{
	Use:   "pgcustom",
	Short: "PostgreSQL custom type resolution tool",
	Long: fmt.Sprintf(`pgcustom resolves PostgreSQL custom types to the OIDs the server assigned them.

Version: %s

Commands:
  resolve   Resolve type names to OIDs using the server's search_path
  version   Show version information

Use "pgcustom [command] --help" for more information about a command.`, version.String()),
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogger()
	},
}

func init() {
	RootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "Enable debug logging")
	RootCmd.AddCommand(resolve.ResolveCmd)
	RootCmd.AddCommand(VersionCmd)
}

func setupLogger() {
	logger.SetGlobal(logger.New(os.Stderr, Debug), Debug)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
