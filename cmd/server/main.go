package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/nickyhof/CommitCatalog"
	"github.com/nickyhof/CommitCatalog/catalog"
	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/fileio"
	"github.com/nickyhof/CommitCatalog/ps"
)

// Version is set at build time via -ldflags
var Version = "dev"

const shutdownTimeout = 10 * time.Second

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "commitcatalog-server",
	Short:   "Iceberg REST catalog backed by a Git repository",
	Version: Version,
	Long: `commitcatalog-server serves the Iceberg REST catalog API. Every namespace
and table change is one commit in a Git repository, held in memory or in
--base-dir, and table metadata files are written once to the warehouse.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogger()
	},
	RunE:         serve,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.Flags()
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./commitcatalog.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text, json")

	flags.String("addr", ":8181", "HTTP listen address")
	flags.String("base-dir", "", "catalog repository directory (memory if empty)")
	flags.String("git-url", "", "clone the catalog repository from this URL on first start")
	flags.String("warehouse", catalog.DefaultWarehouse, "root location of tables created without a location")
	flags.Bool("require-parent-namespace", false, "fail to create a namespace whose parent does not exist")
	flags.String("prefix", "", "optional REST path prefix advertised by /v1/config")
	flags.String("jwt-secret", "", "shared secret for bearer JWT validation (auth disabled if empty)")
	flags.String("jwt-issuer", "", "expected JWT issuer")
	flags.String("jwt-audience", "", "expected JWT audience")
	flags.String("s3-endpoint", "", "S3 endpoint override for s3:// locations")
	flags.String("s3-region", "", "S3 region")
	flags.String("s3-access-key-id", "", "S3 access key id")
	flags.String("s3-secret-access-key", "", "S3 secret access key")
	flags.String("identity-name", catalog.DefaultIdentity.Name, "commit author name for unauthenticated requests")
	flags.String("identity-email", catalog.DefaultIdentity.Email, "commit author email for unauthenticated requests")
	flags.Bool("allow-reset", false, "expose GET /reset, which empties the catalog")
	flags.String("tls-cert", "", "TLS certificate file")
	flags.String("tls-key", "", "TLS private key file")

	mustBindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	mustBindPFlag("addr", flags.Lookup("addr"))
	mustBindPFlag("base-dir", flags.Lookup("base-dir"))
	mustBindPFlag("git-url", flags.Lookup("git-url"))
	mustBindPFlag("warehouse", flags.Lookup("warehouse"))
	mustBindPFlag("catalog.require-parent-namespace", flags.Lookup("require-parent-namespace"))
	mustBindPFlag("catalog.prefix", flags.Lookup("prefix"))
	mustBindPFlag("auth.jwt-secret", flags.Lookup("jwt-secret"))
	mustBindPFlag("auth.issuer", flags.Lookup("jwt-issuer"))
	mustBindPFlag("auth.audience", flags.Lookup("jwt-audience"))
	mustBindPFlag("s3.endpoint", flags.Lookup("s3-endpoint"))
	mustBindPFlag("s3.region", flags.Lookup("s3-region"))
	mustBindPFlag("s3.access-key-id", flags.Lookup("s3-access-key-id"))
	mustBindPFlag("s3.secret-access-key", flags.Lookup("s3-secret-access-key"))
	mustBindPFlag("identity.name", flags.Lookup("identity-name"))
	mustBindPFlag("identity.email", flags.Lookup("identity-email"))
	mustBindPFlag("allow-reset", flags.Lookup("allow-reset"))
	mustBindPFlag("tls.cert", flags.Lookup("tls-cert"))
	mustBindPFlag("tls.key", flags.Lookup("tls-key"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("commitcatalog")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("COMMITCATALOG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if cfgFile != "" {
				fmt.Fprintf(os.Stderr, "Warning: could not read config file: %v\n", err)
			}
		}
	}
}

func setupLogger() error {
	level := viper.GetString("log.level")
	format := viper.GetString("log.format")

	var slogLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return fmt.Errorf("unknown log level: %q (expected debug, info, warn, error)", level)
	}

	opts := &slog.HandlerOptions{Level: slogLevel}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format: %q (expected text, json)", format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("viper.BindPFlag(%q): %v", key, err))
	}
}

// openPersistence opens the catalog repository in baseDir, or an in-memory
// one when baseDir is empty.
func openPersistence(baseDir, gitURL string) (*ps.Persistence, error) {
	if baseDir == "" {
		slog.Info("using memory persistence")
		return ps.NewMemoryPersistence()
	}

	slog.Info("using file persistence", "base_dir", baseDir)
	var gitURLPtr *string
	if gitURL != "" {
		gitURLPtr = &gitURL
	}
	return ps.NewFilePersistence(baseDir, gitURLPtr)
}

// newServer builds the catalog and its REST server from the loaded
// configuration.
func newServer() (*Server, error) {
	persistence, err := openPersistence(viper.GetString("base-dir"), viper.GetString("git-url"))
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog repository: %w", err)
	}

	logger := slog.Default()
	instance := CommitCatalog.Open(persistence, CommitCatalog.Options{
		Catalog: catalog.Config{
			Warehouse:              viper.GetString("warehouse"),
			RequireParentNamespace: viper.GetBool("catalog.require-parent-namespace"),
			Identity: core.Identity{
				Name:  viper.GetString("identity.name"),
				Email: viper.GetString("identity.email"),
			},
		},
		FileIO: fileio.Config{
			S3: fileio.S3Config{
				Endpoint:        viper.GetString("s3.endpoint"),
				Region:          viper.GetString("s3.region"),
				AccessKeyID:     viper.GetString("s3.access-key-id"),
				SecretAccessKey: viper.GetString("s3.secret-access-key"),
			},
		},
		Logger: logger,
	})

	return NewServer(instance.Catalog, ServerConfig{
		Prefix: strings.Trim(viper.GetString("catalog.prefix"), "/"),
		Auth: AuthConfig{
			JWTSecret: viper.GetString("auth.jwt-secret"),
			Issuer:    viper.GetString("auth.issuer"),
			Audience:  viper.GetString("auth.audience"),
		},
		AllowReset: viper.GetBool("allow-reset"),
		Defaults:   map[string]string{"warehouse": viper.GetString("warehouse")},
	}, logger), nil
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := newServer()
	if err != nil {
		return err
	}

	addr := viper.GetString("addr")
	certFile, keyFile := viper.GetString("tls.cert"), viper.GetString("tls.key")
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("catalog server listening",
			"addr", addr,
			"version", Version,
			"tls", certFile != "",
			"auth", srv.auth.Enabled(),
		)
		var err error
		if certFile != "" {
			err = httpServer.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	slog.Info("catalog server stopped")
	return err
}
