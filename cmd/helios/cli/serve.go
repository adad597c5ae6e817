package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/helioscrm/helios/internal/config"
	"github.com/helioscrm/helios/internal/server"
	"github.com/helioscrm/helios/internal/service"
)

const banner = `
 _  _ ___ _    ___ ___  ___
| || | __| |  |_ _/ _ \/ __|
| __ | _|| |__ | | (_) \__ \
|_||_|___|____|___\___/|___/
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Helios API server",
		Long:  "Start the HTTP server that exposes the admin key-management API and the key-authorized partner API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dev {
		cfg.Logging.Level = "debug"
	}
	logger := newLogger(cfg.Logging)

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("store initialized", "driver", st.Driver())

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "helios-dev-secret-change-me"
		logger.Warn("auth.jwt_secret is not set, using an insecure development secret")
	}
	sessionTTL := config.ParseDuration(cfg.Auth.JWTExpiry, 24*time.Hour)

	recorder := service.NewUsageRecorder(st, cfg.Cleanup.RecorderQueue, logger)
	auth := service.NewAuthService(st, recorder, logger)
	auth.SetTimeout(config.ParseDuration(cfg.Auth.AuthorizeTimeout, 3*time.Second))
	keys := service.NewKeyService(st, st, cfg.Limits.PlanFor, logger)
	sessions := service.NewSessionService(st, jwtSecret, sessionTTL, logger)

	// Background workers stop when the server drains.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder.Start(ctx)
	defer recorder.Close()

	cleanup := service.NewCleanupJob(st, st,
		config.ParseDuration(cfg.Cleanup.Interval, 24*time.Hour),
		config.ParseDuration(cfg.Cleanup.LogRetention, 90*24*time.Hour),
		cfg.Cleanup.DeleteBatch,
		logger)
	go cleanup.Run(ctx)

	srvCfg := server.Config{
		Host:            host,
		Port:            port,
		ShutdownTimeout: config.ParseDuration(cfg.Server.ShutdownTimeout, 30*time.Second),
		CORSOrigins:     cfg.Server.CORS.Origins,
		IPRatePerMinute: cfg.Server.IPRatePerMinute,
		SessionTTL:      sessionTTL,
	}
	srv := server.New(srvCfg, st, auth, keys, sessions, logger)

	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Partner API: http://%s:%d/api/v1/leads\n", host, port)
	fmt.Printf("→ Admin API:   http://%s:%d/api/v1/system\n", host, port)
	fmt.Printf("→ Health:      http://%s:%d/healthz\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}
