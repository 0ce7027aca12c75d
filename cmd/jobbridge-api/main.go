package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/auth"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/config"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/hiring"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/logging"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/observability"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/server"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const serviceName = "jobbridge-api"

var (
	cfgFile string
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:               serviceName,
		Short:             "JobBridge marketplace backend service",
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return initConfig() },
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newProvisionCommand(), newReconcileCommand(), newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	defaults := viper.GetViper()
	config.ApplyDefaults(defaults)
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("store-driver", defaults.GetString("store.driver"), "Document store driver (memory, sqlite, badger)")
	cmd.PersistentFlags().String("sqlite-path", defaults.GetString("store.sqlite_path"), "SQLite database path")
	cmd.PersistentFlags().String("badger-path", defaults.GetString("store.badger_path"), "Badger data directory (empty for in-memory)")
	cmd.PersistentFlags().String("redis-addr", defaults.GetString("realtime.redis_addr"), "Redis address for cross-process realtime delivery")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().Duration("reconcile-interval", defaults.GetDuration("reconcile.interval"), "Hiring record reconciliation interval (0 disables)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "store.driver", "store-driver")
	bindFlag(cmd, "store.sqlite_path", "sqlite-path")
	bindFlag(cmd, "store.badger_path", "badger-path")
	bindFlag(cmd, "realtime.redis_addr", "redis-addr")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "reconcile.interval", "reconcile-interval")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newProvisionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Create tables and apply data migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), func(ctx context.Context, app *application) error {
				report, err := app.provision(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
}

func newReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Write missing hiring records for decided applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), func(ctx context.Context, app *application) error {
				report, err := hiring.NewReconciler(app.hiring, app.logger).Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
}

func newTokenCommand() *cobra.Command {
	var userID, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token for an account (operator use)",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			parsedRole, ok := users.ParseRole(role)
			if !ok {
				return fmt.Errorf("unknown role %q", role)
			}
			issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.AuthSigningSecret),
				Issuer:        appConfig.AuthIssuer,
				TokenTTL:      ttl,
			})
			token, expiresIn, err := issuer.IssueSessionToken(users.Identity{UserID: userID, Role: parsedRole})
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"access_token": token,
				"expires_in":   expiresIn,
				"token_type":   "Bearer",
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "Account identifier (token subject)")
	cmd.Flags().StringVar(&role, "role", string(users.RoleAdmin), "Account role")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to the issuer default)")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func newLogger(appConfig config.AppConfig) (*zap.Logger, error) {
	return logging.NewLogger(logging.Options{
		Level:    appConfig.LogLevel,
		Encoding: appConfig.LogEncoding,
		Service:  serviceName,
	})
}

func withApplication(ctx context.Context, run func(context.Context, *application) error) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := newLogger(appConfig)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	app, err := newApplication(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return run(ctx, app)
}

func printJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := newLogger(appConfig)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(signalCtx, observability.TracingConfig{
		Enabled:     appConfig.TracingEnabled,
		ServiceName: serviceName,
		Version:     version,
		Endpoint:    appConfig.TracingEndpoint,
		Insecure:    appConfig.TracingInsecure,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace exporter shutdown failed", zap.Error(err))
		}
	}()

	app, err := newApplication(signalCtx, appConfig, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if appConfig.ProvisionOnStartup {
		if _, err := app.provision(signalCtx); err != nil {
			return err
		}
	}
	if app.bus != nil {
		if err := app.bus.StartForwarder(signalCtx); err != nil {
			return err
		}
	}
	hiring.NewReconciler(app.hiring, logger).Start(signalCtx, appConfig.ReconcileInterval)

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
		CookieName:    appConfig.AuthCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: validator,
		Users:            app.users,
		Hiring:           app.hiring,
		Notifications:    app.notifications,
		Courses:          app.courses,
		Issues:           app.issues,
		Contacts:         app.contacts,
		Dispatcher:       app.dispatcher,
		Guards:           app.guards,
		MetricsGatherer:  app.registry,
		AllowedOrigins:   appConfig.AllowedOrigins,
		ServiceName:      serviceName,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress), zap.String("store", appConfig.StoreDriver))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
