package util

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/pgplex/pgcustom/internal/logger"
	"github.com/spf13/cobra"
)

// ConnectionConfig holds database connection parameters
type ConnectionConfig struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	ApplicationName string
	// SearchPath is sent as a runtime parameter so every pooled session
	// resolves unqualified names the same way. Empty keeps the server default.
	SearchPath []string
}

// ConnectionFlags are the connection flags shared by commands.
type ConnectionFlags struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	ApplicationName string
}

// AddFlags registers the connection flags on cmd.
func (f *ConnectionFlags) AddFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Host, "host", "localhost", "Database server host")
	cmd.Flags().IntVar(&f.Port, "port", 5432, "Database server port")
	cmd.Flags().StringVar(&f.Database, "db", "", "Database name (required)")
	cmd.Flags().StringVar(&f.User, "user", "", "Database user name (required)")
	cmd.Flags().StringVar(&f.Password, "password", "", "Database password (optional, can also use PGPASSWORD env var)")
	cmd.Flags().StringVar(&f.ApplicationName, "application-name", "pgcustom", "Application name reported to the server")
}

// Config converts the flags into a ConnectionConfig.
func (f *ConnectionFlags) Config() *ConnectionConfig {
	return &ConnectionConfig{
		Host:            f.Host,
		Port:            f.Port,
		Database:        f.Database,
		User:            f.User,
		Password:        f.Password,
		SSLMode:         "prefer",
		ApplicationName: f.ApplicationName,
	}
}

// Connect establishes a database connection using the provided configuration
func Connect(ctx context.Context, config *ConnectionConfig) (*sql.DB, error) {
	log := logger.Get()

	log.Debug("Attempting database connection",
		"host", config.Host,
		"port", config.Port,
		"database", config.Database,
		"user", config.User,
		"sslmode", config.SSLMode,
		"application_name", config.ApplicationName,
		"search_path", strings.Join(config.SearchPath, ","),
	)

	connConfig, err := pgx.ParseConfig(buildDSN(config))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}
	if logger.IsDebug() {
		connConfig.Tracer = &tracelog.TraceLog{
			Logger:   tracelog.LoggerFunc(logQueryEvent),
			LogLevel: tracelog.LogLevelDebug,
		}
	}

	conn := stdlib.OpenDB(*connConfig)

	// Test the connection
	if err := conn.PingContext(ctx); err != nil {
		log.Debug("Database ping failed", "error", err)
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Debug("Database connection established successfully")
	return conn, nil
}

func logQueryEvent(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	args := make([]any, 0, 2*len(data)+2)
	args = append(args, "pgx_level", level.String())
	for k, v := range data {
		args = append(args, k, v)
	}
	logger.Get().DebugContext(ctx, msg, args...)
}

// buildDSN constructs a PostgreSQL connection string from connection parameters
func buildDSN(config *ConnectionConfig) string {
	var parts []string

	parts = append(parts, "host="+quoteDSNValue(config.Host))
	parts = append(parts, fmt.Sprintf("port=%d", config.Port))
	parts = append(parts, "dbname="+quoteDSNValue(config.Database))
	parts = append(parts, "user="+quoteDSNValue(config.User))

	if config.Password != "" {
		parts = append(parts, "password="+quoteDSNValue(config.Password))
	}

	if config.SSLMode != "" {
		parts = append(parts, "sslmode="+quoteDSNValue(config.SSLMode))
	}

	if config.ApplicationName != "" {
		parts = append(parts, "application_name="+quoteDSNValue(config.ApplicationName))
	}

	if len(config.SearchPath) > 0 {
		parts = append(parts, "search_path="+quoteDSNValue(FormatSearchPath(config.SearchPath)))
	}

	return strings.Join(parts, " ")
}

// FormatSearchPath renders schemas as a search_path setting value, quoting
// every schema so names keep their case.
func FormatSearchPath(schemas []string) string {
	quoted := make([]string, len(schemas))
	for i, s := range schemas {
		quoted[i] = QuoteIdentifier(s)
	}
	return strings.Join(quoted, ", ")
}

// quoteDSNValue single-quotes a keyword/value connection string value when it
// is empty or contains spaces, quotes or backslashes.
func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
