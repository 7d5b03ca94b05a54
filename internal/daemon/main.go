package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jsherman999/openclaw_logfeed/internal/accounts"
	"github.com/jsherman999/openclaw_logfeed/internal/api"
	"github.com/jsherman999/openclaw_logfeed/internal/bus"
	"github.com/jsherman999/openclaw_logfeed/internal/config"
	"github.com/jsherman999/openclaw_logfeed/internal/db"
	"github.com/jsherman999/openclaw_logfeed/internal/logger"
	"github.com/jsherman999/openclaw_logfeed/internal/logstream"
	"github.com/jsherman999/openclaw_logfeed/internal/metrics"
	"github.com/jsherman999/openclaw_logfeed/internal/socket"
	"github.com/jsherman999/openclaw_logfeed/internal/webui"
)

func Main() {
	var cfgPath string

	root := &cobra.Command{Use: "logfeedd", Short: "Logfeed daemon (websocket controllers + API)"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (yaml)")

	root.AddCommand(migrateCmd(&cfgPath))
	root.AddCommand(serveCmd(&cfgPath))
	root.AddCommand(userCmd(&cfgPath))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// openDB connects and brings the schema up to date.
func openDB(ctx context.Context, cfg *config.Config) (*db.DB, []string, error) {
	if cfg.DB.DSN == "" {
		return nil, nil, fmt.Errorf("db.dsn is not configured")
	}
	dbConn, err := db.Open(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, nil, err
	}
	applied, err := db.ApplyMigrations(ctx, dbConn)
	if err != nil {
		dbConn.Close()
		return nil, nil, err
	}
	return dbConn, applied, nil
}

func migrateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			dbConn, applied, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer dbConn.Close()
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "up to date")
			}
			return nil
		},
	}
}

func userCmd(cfgPath *string) *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage accounts"}

	var u accounts.NewUser
	var admin bool
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			dbConn, _, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer dbConn.Close()

			if admin && u.Role == "" {
				u.Role = "administrator"
			}
			id, err := accounts.NewStore(dbConn).CreateUser(ctx, u)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user=%s email=%s role=%s\n", id, u.Email, u.Role)
			return nil
		},
	}
	add.Flags().StringVar(&u.Email, "email", "", "login email")
	add.Flags().StringVar(&u.Password, "password", "", "login password")
	add.Flags().StringVar(&u.Token, "token", "", "static access token")
	add.Flags().StringVar(&u.Role, "role", "", "role id")
	add.Flags().BoolVar(&admin, "admin", false, "grant the administrator role")
	_ = add.MarkFlagRequired("email")

	user.AddCommand(add)
	return user
}

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket controllers and API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}

			events := bus.New()
			log, err := logger.New(logger.Config{
				Environment: cfg.Log.Environment,
				Level:       cfg.Log.Level,
				Service:     "logfeedd",
			}, events)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx := context.Background()
			var chain accounts.Chain
			if cfg.Auth.JWTSecret != "" {
				chain = append(chain, accounts.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.Issuer))
			}
			if cfg.DB.DSN != "" {
				dbConn, applied, err := openDB(ctx, cfg)
				if err != nil {
					return err
				}
				defer dbConn.Close()
				for _, name := range applied {
					log.Info("applied migration", zap.String("name", name))
				}
				chain = append(chain, accounts.NewStore(dbConn))
			}

			m := metrics.New()
			defer m.Attach(events)()

			var controllers []*socket.Controller
			var ui http.Handler
			if cfg.WebSockets.Logs.Enabled {
				feed := logstream.NewHandler()
				defer feed.Attach(events)()

				c, err := logstream.NewController(cfg, socket.Deps{
					Bus:           events,
					Log:           log,
					Authenticator: chain,
					OnRefuse:      m.RefusedAt,
				})
				if err != nil {
					return err
				}
				controllers = append(controllers, c)

				if ui, err = webui.Handler(cfg.WebSockets.Logs.Path); err != nil {
					return err
				}
			}

			h := api.New(api.Deps{Bus: events, Metrics: m, Authenticator: chain, UI: ui, Log: log}, controllers...)
			srv := &http.Server{
				Addr:              cfg.API.Listen,
				Handler:           h.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			srv.RegisterOnShutdown(h.Stop)

			errc := make(chan error, 1)
			go func() {
				log.Info("logfeedd listening", zap.String("addr", cfg.API.Listen))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
			}()
			for _, c := range controllers {
				c.LogStartup(cfg.Host())
			}

			stop := make(chan os.Signal, 2)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-stop:
			case err := <-errc:
				return fmt.Errorf("listen: %w", err)
			}
			log.Info("shutting down")

			shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			for _, c := range controllers {
				if err := c.Shutdown(shCtx); err != nil {
					log.Warn("controller shutdown", zap.String("controller", c.Name()), zap.Error(err))
				}
			}
			if err := srv.Shutdown(shCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
}
