package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/walletledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/walletledger/internal/logging"
	"github.com/MarkoPoloResearchLab/walletledger/internal/reconcile"
	"github.com/MarkoPoloResearchLab/walletledger/internal/walletd"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix = "WALLETD"

	flagConfig             = "config"
	flagDatabaseURL        = "database-url"
	flagStoreDriver        = "store-driver"
	flagLogLevel           = "log-level"
	flagLogDevelopment     = "log-development"
	flagListenAddr         = "listen-addr"
	flagGRPCListenAddr     = "grpc-listen-addr"
	flagAllowedOrigins     = "allowed-origins"
	flagJWTSigningKey      = "jwt-signing-key"
	flagJWTIssuer          = "jwt-issuer"
	flagJWTCookieName      = "jwt-cookie-name"
	flagAdminRole          = "admin-role"
	flagRequestTimeout     = "request-timeout"
	flagRateLimitPerMinute = "rate-limit-per-minute"
	flagRateLimitBurst     = "rate-limit-burst"
	flagAMQPURL            = "amqp-url"
	flagAMQPExchange       = "amqp-exchange"
	flagReconcileSchedule  = "reconcile-schedule"
	flagActionPrices       = "action-prices"
)

func main() {
	_ = godotenv.Load()
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "walletd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	cfg := &walletd.Config{}
	cmd := &cobra.Command{
		Use:           "walletd",
		Short:         "Credit wallet and transaction ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, v, cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagConfig, "", "optional config file (yaml, toml or json)")
	flags.String(flagDatabaseURL, "", "database URL: postgres://…, sqlite://… or a sqlite file path")
	flags.String(flagStoreDriver, walletd.StoreDriverGORM, "store implementation: gorm or pgx (pgx requires postgres)")
	flags.String(flagLogLevel, "info", "log level")
	flags.Bool(flagLogDevelopment, false, "use the human-readable development logger")

	cmd.AddCommand(newServeCommand(cfg), newMigrateCommand(cfg), newReconcileCommand(cfg))
	return cmd
}

func newServeCommand(cfg *walletd.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the wallet HTTP and gRPC APIs",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return walletd.Run(ctx, *cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.String(flagListenAddr, ":8080", "HTTP listen address")
	flags.String(flagGRPCListenAddr, ":7000", "gRPC listen address")
	flags.String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	flags.String(flagJWTIssuer, "tauth", "expected JWT issuer")
	flags.String(flagJWTCookieName, "app_session", "session cookie name")
	flags.String(flagAdminRole, "admin", "role required for /admin routes")
	flags.Duration(flagRequestTimeout, 0, "per-request store timeout (e.g. 5s)")
	flags.Int(flagRateLimitPerMinute, 0, "mutating wallet requests per account per minute")
	flags.Int(flagRateLimitBurst, 0, "rate limit burst")
	flags.String(flagAMQPURL, "", "RabbitMQ URL for transaction events; empty disables publishing")
	flags.String(flagAMQPExchange, "", "RabbitMQ topic exchange")
	flags.String(flagReconcileSchedule, reconcile.DefaultSchedule, "cron schedule for reconciliation; empty disables it")
	flags.String(flagActionPrices, "", "action price overrides, e.g. agent_number=30,property_photo=12")
	return cmd
}

func newMigrateCommand(cfg *walletd.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return walletd.Migrate(cmd.Context(), *cfg, logger)
		},
	}
}

func newReconcileCommand(cfg *walletd.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Compare every cached balance with its ledger sum",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			report, err := walletd.ReconcileOnce(cmd.Context(), *cfg, logger)
			fmt.Fprintf(cmd.OutOrStdout(), "accounts=%d diverged=%d\n", report.Accounts, len(report.DivergedAccounts))
			for _, accountID := range report.DivergedAccounts {
				fmt.Fprintf(cmd.OutOrStdout(), "diverged %s\n", accountID)
			}
			return err
		},
	}
}

func loadConfig(cmd *cobra.Command, v *viper.Viper, cfg *walletd.Config) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if configFile := v.GetString(flagConfig); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	actionPrices, err := walletd.ParseActionPrices(v.GetString(flagActionPrices))
	if err != nil {
		return err
	}

	*cfg = walletd.Config{
		DatabaseURL:       v.GetString(flagDatabaseURL),
		StoreDriver:       v.GetString(flagStoreDriver),
		GRPCListenAddr:    v.GetString(flagGRPCListenAddr),
		AMQPURL:           v.GetString(flagAMQPURL),
		AMQPExchange:      v.GetString(flagAMQPExchange),
		ReconcileSchedule: v.GetString(flagReconcileSchedule),
		LogLevel:          v.GetString(flagLogLevel),
		LogDevelopment:    v.GetBool(flagLogDevelopment),
		ActionPrices:      actionPrices,
		HTTP: httpapi.Config{
			ListenAddr:         v.GetString(flagListenAddr),
			AllowedOrigins:     httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
			SessionSigningKey:  v.GetString(flagJWTSigningKey),
			SessionIssuer:      v.GetString(flagJWTIssuer),
			SessionCookieName:  v.GetString(flagJWTCookieName),
			AdminRole:          v.GetString(flagAdminRole),
			RequestTimeout:     v.GetDuration(flagRequestTimeout),
			RateLimitPerMinute: v.GetInt(flagRateLimitPerMinute),
			RateLimitBurst:     v.GetInt(flagRateLimitBurst),
		},
	}
	return nil
}
