package main

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/ps"
)

func (cli *CLI) namespacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "namespaces [parent]",
		Short: "List namespaces, optionally below a dotted parent",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parentArg := ""
			if len(args) == 1 {
				parentArg = args[0]
			}
			parent, err := parseNamespace(parentArg)
			if err != nil {
				return err
			}

			ctx := cli.context(cmd)
			namespaces, err := cli.instance.Catalog.ListNamespaces(ctx, parent)
			if err != nil {
				return err
			}

			table := newTable(cmd.OutOrStdout(), "NAMESPACE", "PROPERTIES")
			for _, ns := range namespaces {
				props := ""
				if rec, err := cli.instance.Catalog.LoadNamespaceProperties(ctx, ns); err == nil {
					props = formatProperties(rec.Properties)
				}
				table.Row(ns.String(), props)
			}
			table.Render()
			return nil
		},
	}
}

func (cli *CLI) tablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables <namespace>",
		Short: "List the tables of a namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, err := parseNamespace(args[0])
			if err != nil {
				return err
			}

			view, err := cli.instance.Persistence.Head()
			if err != nil {
				return err
			}
			if _, exists, err := view.Namespace(ns); err != nil {
				return err
			} else if !exists {
				return fmt.Errorf("%w: %s", core.ErrNoSuchNamespace, ns)
			}
			ids, err := view.Tables(ns)
			if err != nil {
				return err
			}

			table := newTable(cmd.OutOrStdout(), "TABLE", "METADATA LOCATION")
			for _, id := range ids {
				binding, found, err := view.Table(id)
				if err != nil {
					return err
				}
				if found {
					table.Row(id.Name, binding.MetadataLocation)
				}
			}
			table.Render()
			return nil
		},
	}
}

func (cli *CLI) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <namespace.table>",
		Short: "Show the current metadata of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTable(args[0])
			if err != nil {
				return err
			}
			table, err := cli.instance.Catalog.LoadTable(cli.context(cmd), id)
			if err != nil {
				return err
			}
			md := table.Metadata

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Table:             %s\n", id)
			fmt.Fprintf(out, "UUID:              %s\n", md.TableUUID)
			fmt.Fprintf(out, "Format version:    %d\n", md.FormatVersion)
			fmt.Fprintf(out, "Location:          %s\n", md.Location)
			fmt.Fprintf(out, "Metadata location: %s\n", *table.MetadataLocation)
			fmt.Fprintf(out, "Last updated:      %s\n", humanize.Time(time.UnixMilli(md.LastUpdatedMS)))
			if snap, ok := md.CurrentSnapshot(); ok {
				fmt.Fprintf(out, "Current snapshot:  %d (sequence %d)\n", snap.SnapshotID, snap.SequenceNumber)
			} else {
				fmt.Fprintln(out, "Current snapshot:  none")
			}
			fmt.Fprintf(out, "Previous versions: %d\n", len(md.MetadataLog))
			if len(md.Properties) > 0 {
				fmt.Fprintf(out, "Properties:        %s\n", formatProperties(md.Properties))
			}

			if schema, ok := md.CurrentSchema(); ok {
				fields := newTable(out, "ID", "NAME", "TYPE", "REQUIRED")
				for _, f := range schema.Fields {
					fields.Row(strconv.Itoa(f.ID), f.Name, string(f.Type), strconv.FormatBool(f.Required))
				}
				fields.Render()
			}
			return nil
		},
	}
}

func (cli *CLI) historyCmd() *cobra.Command {
	var since string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List catalog commits, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			persistence := cli.instance.Persistence

			var txns []ps.Transaction
			var err error
			if since != "" {
				asof, perr := parseSince(since, time.Now())
				if perr != nil {
					return perr
				}
				txns, err = persistence.TransactionsSince(asof)
			} else {
				txns, err = persistence.TransactionsFrom(persistence.LatestTransaction().Id)
			}
			if err != nil {
				return err
			}
			if limit > 0 && len(txns) > limit {
				txns = txns[:limit]
			}

			table := newTable(cmd.OutOrStdout(), "TXN", "WHEN", "AUTHOR", "MESSAGE")
			for _, txn := range txns {
				table.Row(txn.Id[:12], humanize.Time(txn.When), txn.Author, truncate(txn.Message, 60))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only commits newer than a duration ago (24h) or a date (2006-01-02, RFC 3339)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of commits to list (0 for all)")
	return cmd
}

func (cli *CLI) tagCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "tag <name>",
		Short: "Tag the catalog state as a named snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var asof *ps.Transaction
			if at != "" {
				txn, err := cli.lookupTransaction(at)
				if err != nil {
					return err
				}
				asof = &txn
			}
			if err := cli.instance.Persistence.Snapshot(args[0], asof); err != nil {
				return err
			}
			success(cmd, "Tagged %s", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "transaction to tag instead of the head")
	return cmd
}

func (cli *CLI) restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <txn|tag|remote>",
		Short: "Publish a commit that returns the catalog to an earlier or fetched state",
		Long: "Restore accepts a catalog commit id, a snapshot tag, or the name of a\n" +
			"remote whose catalog head was downloaded with fetch.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			persistence := cli.instance.Persistence

			var restored ps.Transaction
			txn, err := cli.lookupTransaction(args[0])
			if err != nil {
				txn, err = persistence.RemoteHead(args[0])
			}
			if err == nil {
				restored, err = persistence.Restore(txn, cli.identity())
			} else {
				restored, err = persistence.Recover(args[0], cli.identity())
			}
			if err != nil {
				return err
			}
			success(cmd, "Restored catalog to %s in %s", args[0], restored.Id[:12])
			return nil
		},
	}
}

// lookupTransaction resolves a full or abbreviated commit id on the catalog
// branch.
func (cli *CLI) lookupTransaction(id string) (ps.Transaction, error) {
	persistence := cli.instance.Persistence
	txns, err := persistence.TransactionsFrom(persistence.LatestTransaction().Id)
	if err != nil {
		return ps.Transaction{}, err
	}
	for _, txn := range txns {
		if len(id) >= 4 && strings.HasPrefix(txn.Id, id) {
			return txn, nil
		}
	}
	return ps.Transaction{}, fmt.Errorf("no catalog commit %q", id)
}

func (cli *CLI) remoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Manage the git remotes the catalog is backed up to",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name> <url>",
		Short: "Add a remote",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.instance.Persistence.AddRemote(args[0], args[1]); err != nil {
				return err
			}
			success(cmd, "Added remote %s", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List remotes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			remotes, err := cli.instance.Persistence.ListRemotes()
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "REMOTE", "URL")
			for _, r := range remotes {
				table.Row(r.Name, strings.Join(r.URLs, ", "))
			}
			table.Render()
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.instance.Persistence.RemoveRemote(args[0]); err != nil {
				return err
			}
			success(cmd, "Removed remote %s", args[0])
			return nil
		},
	})

	return cmd
}

// remoteFlags are the authentication options shared by push and fetch.
type remoteFlags struct {
	token      string
	username   string
	password   string
	sshKey     string
	passphrase string
}

func (f *remoteFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.token, "token", "", "access token")
	cmd.Flags().StringVar(&f.username, "username", "", "basic auth username")
	cmd.Flags().StringVar(&f.password, "password", "", "basic auth password")
	cmd.Flags().StringVar(&f.sshKey, "ssh-key", "", "ssh private key file")
	cmd.Flags().StringVar(&f.passphrase, "passphrase", "", "ssh key passphrase")
}

func (f *remoteFlags) auth() *ps.RemoteAuth {
	switch {
	case f.token != "":
		return &ps.RemoteAuth{Type: ps.AuthTypeToken, Token: f.token}
	case f.sshKey != "":
		return &ps.RemoteAuth{Type: ps.AuthTypeSSH, KeyPath: f.sshKey, Passphrase: f.passphrase}
	case f.username != "":
		return &ps.RemoteAuth{Type: ps.AuthTypeBasic, Username: f.username, Password: f.password}
	default:
		return nil
	}
}

func (cli *CLI) pushCmd() *cobra.Command {
	var flags remoteFlags

	cmd := &cobra.Command{
		Use:   "push [remote]",
		Short: "Push the catalog branch and snapshot tags to a remote (default origin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := cli.instance.Persistence.Push(cmd.Context(), remoteArg(args), flags.auth())
			if err != nil {
				return err
			}
			if result.UpToDate {
				success(cmd, "%s is up to date at %s", result.Remote, result.Head.Id[:12])
			} else {
				success(cmd, "Pushed %s to %s", result.Head.Id[:12], result.Remote)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func (cli *CLI) fetchCmd() *cobra.Command {
	var flags remoteFlags

	cmd := &cobra.Command{
		Use:   "fetch [remote]",
		Short: "Download a remote's catalog head and snapshot tags without touching the catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := cli.instance.Persistence.Fetch(cmd.Context(), remoteArg(args), flags.auth())
			if err != nil {
				return err
			}
			success(cmd, "Fetched %s from %s (%s); run 'restore %s' to adopt it",
				result.Head.Id[:12], result.Remote, result.Head.Message, result.Remote)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func remoteArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return "origin"
}

// parseSince accepts a duration back from now or an absolute date.
func parseSince(value string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(value); err == nil {
		return now.Add(-d), nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: want a duration or a date", value)
}

func formatProperties(props map[string]string) string {
	keys := slices.Sorted(maps.Keys(props))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+props[k])
	}
	return strings.Join(parts, ", ")
}
