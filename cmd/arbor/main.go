// Package main provides the arbor CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/arborvc/arbor/pkg/config"
	"github.com/arborvc/arbor/pkg/credentials"
	"github.com/arborvc/arbor/pkg/fs"
	"github.com/arborvc/arbor/pkg/noderev"
	"github.com/arborvc/arbor/pkg/ra"
	"github.com/arborvc/arbor/pkg/wc"
)

// basicAuthTransport injects a cached credential's Basic Auth header into
// every outgoing request, so a remembered password need not be re-entered
// on each status --update --url invocation.
type basicAuthTransport struct {
	username, password string
	base               http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "arbor",
		Short: "Arbor - a content-addressed, copy-on-write versioned filesystem",
		Long: `Arbor is a repository backend written in Go: a linear history of
revisions, copy-on-write transactions over an immutable node-revision
graph, and a working-copy reporter driver for status/update against a
remote.`,
	}
	rootCmd.PersistentFlags().String("data-dir", "./data", "repository data directory")

	rootCmd.AddCommand(
		versionCmd(),
		initCmd(),
		youngestCmd(),
		beginCmd(),
		commitCmd(),
		abortCmd(),
		catCmd(),
		logCmd(),
		propCmd(),
		statusCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("arbor v%s\n", version)
		},
	}
}

// openRepo opens (never creates) the repository at --data-dir with a
// durable Badger-backed node store.
func openRepo(cmd *cobra.Command) (*fs.FS, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	nodes, err := noderev.NewBadgerStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("opening node store: %w", err)
	}
	f, err := fs.Open(dataDir, nodes)
	if err != nil {
		nodes.Close()
		return nil, err
	}
	return f, nil
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return fmt.Errorf("creating data directory: %w", err)
			}
			nodes, err := noderev.NewBadgerStore(dataDir)
			if err != nil {
				return fmt.Errorf("opening node store: %w", err)
			}
			defer nodes.Close()
			f, err := fs.CreateWithNodeStore(dataDir, nodes)
			if err != nil {
				return fmt.Errorf("initializing repository: %w", err)
			}
			defer f.Close()
			fmt.Printf("initialized repository in %s\n", dataDir)
			return nil
		},
	}
	return cmd
}

func youngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "youngest",
		Short: "Print the youngest committed revision number",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer f.Close()
			y, err := f.Youngest()
			if err != nil {
				return err
			}
			fmt.Println(y)
			return nil
		},
	}
}

func beginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "begin",
		Short: "Begin a transaction against a base revision",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer f.Close()

			base, _ := cmd.Flags().GetInt64("rev")
			if base < 0 {
				base, err = f.Youngest()
				if err != nil {
					return err
				}
			}
			txnID, _, err := f.BeginTxn(base)
			if err != nil {
				return err
			}
			fmt.Println(txnID)
			return nil
		},
	}
	cmd.Flags().Int64("rev", -1, "base revision (defaults to youngest)")
	return cmd
}

func commitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commit <txn-id>",
		Short: "Commit a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer f.Close()
			rev, err := f.CommitTxn(args[0])
			if err != nil {
				return err
			}
			fmt.Println(rev)
			return nil
		},
	}
}

func abortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort <txn-id>",
		Short: "Abort a transaction and purge its staging area",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer f.Close()
			return f.AbortTxn(args[0])
		},
	}
}

func catCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a file's contents at a revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer f.Close()

			rev, _ := cmd.Flags().GetInt64("rev")
			if rev < 0 {
				rev, err = f.Youngest()
				if err != nil {
					return err
				}
			}
			root, err := f.Revision(rev)
			if err != nil {
				return err
			}
			node, err := root.OpenNode(args[0])
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(node.Content)
			return err
		},
	}
	cmd.Flags().Int64("rev", -1, "revision (defaults to youngest)")
	return cmd
}

func logCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "Print svn:log messages for every committed revision, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer f.Close()

			youngest, err := f.Youngest()
			if err != nil {
				return err
			}
			for rev := youngest; rev >= 0; rev-- {
				msg, err := f.ReadRevisionProperty(rev, "svn:log")
				if err != nil {
					return err
				}
				fmt.Printf("r%d | %s\n", rev, string(msg))
			}
			return nil
		},
	}
}

func propCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "prop",
		Short: "Get, set, and list revision or transaction properties",
	}

	get := &cobra.Command{
		Use:   "get <name>",
		Args:  cobra.ExactArgs(1),
		Short: "Print a property's value",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer f.Close()

			rev, txn, err := propTarget(cmd)
			if err != nil {
				return err
			}
			var value []byte
			if txn != "" {
				value, err = f.TransactionProperty(txn, args[0])
			} else {
				value, err = f.ReadRevisionProperty(rev, args[0])
			}
			if err != nil {
				return err
			}
			fmt.Println(string(value))
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <name> <value>",
		Args:  cobra.ExactArgs(2),
		Short: "Set a property's value",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer f.Close()

			rev, txn, err := propTarget(cmd)
			if err != nil {
				return err
			}
			if txn != "" {
				return f.SetTransactionProperty(txn, args[0], []byte(args[1]))
			}
			return f.SetRevisionProperty(rev, args[0], []byte(args[1]))
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List property names and values",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer f.Close()

			rev, txn, err := propTarget(cmd)
			if err != nil {
				return err
			}
			var props map[string][]byte
			if txn != "" {
				props, err = f.ListTransactionProperties(txn)
			} else {
				props, err = f.ListRevisionProperties(rev)
			}
			if err != nil {
				return err
			}
			for name, value := range props {
				fmt.Printf("%s = %s\n", name, string(value))
			}
			return nil
		},
	}

	for _, c := range []*cobra.Command{get, set, list} {
		c.Flags().Int64("rev", -1, "revision (defaults to youngest; ignored if --txn is set)")
		c.Flags().String("txn", "", "transaction id (overrides --rev)")
		root.AddCommand(c)
	}
	return root
}

func propTarget(cmd *cobra.Command) (rev int64, txn string, err error) {
	txn, _ = cmd.Flags().GetString("txn")
	if txn != "" {
		return 0, txn, nil
	}
	rev, _ = cmd.Flags().GetInt64("rev")
	if rev >= 0 {
		return rev, "", nil
	}
	f, err := openRepo(cmd)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()
	rev, err = f.Youngest()
	return rev, "", err
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Report working-copy status, optionally against a remote HEAD",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}

			url, _ := cmd.Flags().GetString("url")
			update, _ := cmd.Flags().GetBool("update")
			recurse, _ := cmd.Flags().GetBool("recurse")
			getAll, _ := cmd.Flags().GetBool("get-all")

			cfg := config.LoadFromEnv()
			dataDir, _ := cmd.Flags().GetString("data-dir")
			cfg.Database.DataDir = dataDir

			f, err := openRepo(cmd)
			if err != nil {
				return err
			}
			defer f.Close()

			youngest, err := f.Youngest()
			if err != nil {
				return err
			}

			area := wc.NewAdminArea(dataDir, dataDir, youngest, nil)
			driver := wc.NewDriver(area)

			var session ra.Session
			if url != "" {
				session = ra.NewHTTPSession(url, httpClientFor(url, cfg))
			} else if update {
				session = ra.NewLoopbackSession(f)
			}

			_, err = driver.Status(context.Background(), path, func(p string, rec wc.StatusRecord) {
				flag := " "
				if rec.RepoStatus != "" {
					flag = rec.RepoStatus[:1]
				}
				fmt.Printf("%-8s %s %s\n", rec.WCStatus, flag, p)
			}, wc.Options{Recurse: recurse, GetAll: getAll, Update: update}, session)
			return err
		},
	}
	cmd.Flags().String("url", "", "remote repository URL (selects the HTTP-backed session)")
	cmd.Flags().Bool("update", false, "contact the remote for out-of-date comparison")
	cmd.Flags().Bool("recurse", true, "descend into directories")
	cmd.Flags().Bool("get-all", false, "report unmodified entries too")
	return cmd
}

// httpClientFor builds an http.Client for url, attaching a cached
// credential's Basic Auth header if the ARBOR_CRED_PASSPHRASE environment
// variable unlocks a matching entry in cfg's credential cache. Absent
// either, it returns nil and NewHTTPSession falls back to the default
// client with no auth.
func httpClientFor(url string, cfg *config.Config) *http.Client {
	passphrase := os.Getenv("ARBOR_CRED_PASSPHRASE")
	if passphrase == "" || cfg.WorkingCopy.CredentialCacheDir == "" {
		return nil
	}
	cache, err := credentials.Open(cfg.WorkingCopy.CredentialCacheDir, passphrase)
	if err != nil {
		return nil
	}
	entry, err := cache.Get(url)
	if err != nil {
		return nil
	}
	return &http.Client{Transport: &basicAuthTransport{username: entry.Username, password: entry.Password}}
}
