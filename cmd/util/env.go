package util

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// GetEnvWithDefault returns the value of an environment variable or a default value if not set
func GetEnvWithDefault(envVar, defaultValue string) string {
	if value := os.Getenv(envVar); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvIntWithDefault returns the value of an environment variable as int or a default value if not set
func GetEnvIntWithDefault(envVar string, defaultValue int) int {
	if value := os.Getenv(envVar); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// PreRunEWithEnvVars creates a PreRunE function that fills connection flags
// the user did not set from the libpq environment variables, then checks that
// a database and user are known.
func PreRunEWithEnvVars(flags *ConnectionFlags) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		applyEnv(cmd, "db", "PGDATABASE", &flags.Database)
		applyEnv(cmd, "user", "PGUSER", &flags.User)
		applyEnv(cmd, "host", "PGHOST", &flags.Host)
		applyEnv(cmd, "application-name", "PGAPPNAME", &flags.ApplicationName)
		if port := GetEnvIntWithDefault("PGPORT", 0); port != 0 && !cmd.Flags().Changed("port") {
			flags.Port = port
		}
		if flags.Password == "" {
			flags.Password = GetEnvWithDefault("PGPASSWORD", "")
		}

		if flags.Database == "" {
			return fmt.Errorf("database name is required (use --db flag or PGDATABASE environment variable)")
		}
		if flags.User == "" {
			return fmt.Errorf("database user is required (use --user flag or PGUSER environment variable)")
		}
		return nil
	}
}

func applyEnv(cmd *cobra.Command, flag, envVar string, dst *string) {
	if value := GetEnvWithDefault(envVar, ""); value != "" && !cmd.Flags().Changed(flag) {
		*dst = value
	}
}
