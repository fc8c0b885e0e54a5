package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nickyhof/CommitCatalog"
	"github.com/nickyhof/CommitCatalog/catalog"
	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/fileio"
	"github.com/nickyhof/CommitCatalog/ps"
)

const (
	ErrorColor   = "\033[31m" // Red
	SuccessColor = "\033[32m" // Green
	ResetColor   = "\033[0m"
)

// Version is set at build time via -ldflags
var Version = "dev"

// CLI holds the state shared by every command.
type CLI struct {
	config   *viper.Viper
	instance *CommitCatalog.Instance
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cli := &CLI{config: viper.New()}

	root := &cobra.Command{
		Use:     "commitcatalog",
		Short:   "Inspect and administer a CommitCatalog repository",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cli.open()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("base-dir", "", "catalog repository directory")
	flags.String("author-name", "CommitCatalog CLI", "author name for commits made by the CLI")
	flags.String("author-email", "cli@commitcatalog.local", "author email for commits made by the CLI")

	cli.config.SetEnvPrefix("COMMITCATALOG")
	cli.config.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	cli.config.AutomaticEnv()
	for _, name := range []string{"base-dir", "author-name", "author-email"} {
		if err := cli.config.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("BindPFlag(%q): %v", name, err))
		}
	}

	root.AddCommand(
		cli.namespacesCmd(),
		cli.tablesCmd(),
		cli.showCmd(),
		cli.historyCmd(),
		cli.tagCmd(),
		cli.restoreCmd(),
		cli.remoteCmd(),
		cli.pushCmd(),
		cli.fetchCmd(),
	)
	return root
}

// open opens the repository named by --base-dir. Metadata files are read
// through the same FileIO configuration the server uses.
func (cli *CLI) open() error {
	if cli.instance != nil {
		return nil
	}

	baseDir := cli.config.GetString("base-dir")
	if baseDir == "" {
		return errors.New("--base-dir is required")
	}
	if _, err := os.Stat(baseDir); err != nil {
		return fmt.Errorf("catalog repository %s: %w", baseDir, err)
	}

	persistence, err := ps.NewFilePersistence(baseDir, nil)
	if err != nil {
		return fmt.Errorf("failed to open catalog repository: %w", err)
	}

	cli.instance = CommitCatalog.Open(persistence, CommitCatalog.Options{
		Catalog: catalog.Config{Identity: cli.identity()},
		FileIO: fileio.Config{
			S3: fileio.S3Config{
				Endpoint:        cli.config.GetString("s3.endpoint"),
				Region:          cli.config.GetString("s3.region"),
				AccessKeyID:     cli.config.GetString("s3.access-key-id"),
				SecretAccessKey: cli.config.GetString("s3.secret-access-key"),
			},
		},
	})
	return nil
}

func (cli *CLI) identity() core.Identity {
	return core.Identity{
		Name:  cli.config.GetString("author-name"),
		Email: cli.config.GetString("author-email"),
	}
}

func (cli *CLI) context(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return catalog.WithIdentity(ctx, cli.identity())
}

func success(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s✓ %s%s\n", SuccessColor, fmt.Sprintf(format, args...), ResetColor)
}

// parseNamespace reads a dotted namespace argument.
func parseNamespace(arg string) (core.Namespace, error) {
	if arg == "" {
		return core.Namespace{}, nil
	}
	return core.NewNamespace(strings.Split(arg, ".")...)
}

// parseTable reads a dotted table identifier; the last part is the name.
func parseTable(arg string) (core.TableIdentifier, error) {
	dot := strings.LastIndex(arg, ".")
	if dot < 0 {
		return core.TableIdentifier{}, fmt.Errorf("%w: %q is not namespace.table", core.ErrMalformedIdentifier, arg)
	}
	ns, err := parseNamespace(arg[:dot])
	if err != nil {
		return core.TableIdentifier{}, err
	}
	id := core.NewTableIdentifier(ns, arg[dot+1:])
	if err := id.Validate(); err != nil {
		return core.TableIdentifier{}, err
	}
	return id, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
