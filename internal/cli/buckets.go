package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/matzehuels/neonfeed/pkg/bucket"
	"github.com/matzehuels/neonfeed/pkg/notify"
	"github.com/matzehuels/neonfeed/pkg/offline"
)

// Bucket roles shown by "buckets list".
const (
	roleStatic  = "static"
	roleRuntime = "runtime"
	roleStale   = "stale"
)

// bucketsCommand creates the bucket management command.
func (c *CLI) bucketsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buckets",
		Short: "Inspect and clear the offline worker's buckets",
	}

	cmd.AddCommand(c.bucketsListCommand())
	cmd.AddCommand(c.bucketsKeysCommand())
	cmd.AddCommand(c.bucketsClearCommand())

	return cmd
}

// bucketRow is one line of the bucket table.
type bucketRow struct {
	Name    string
	Entries int
	Role    string
}

// listBuckets summarizes every bucket in store relative to the configured worker.
func listBuckets(ctx context.Context, store bucket.Store, cfg offline.Config) ([]bucketRow, error) {
	names, err := store.Names(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]bucketRow, 0, len(names))
	for _, name := range names {
		keys, err := store.Keys(ctx, name)
		if err != nil {
			return nil, err
		}
		role := roleStale
		switch name {
		case cfg.StaticBucket():
			role = roleStatic
		case cfg.RuntimeBucket():
			role = roleRuntime
		}
		rows = append(rows, bucketRow{Name: name, Entries: len(keys), Role: role})
	}
	return rows, nil
}

// renderBuckets draws rows as a table.
func renderBuckets(rows []bucketRow) string {
	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)

	data := make([][]string, len(rows))
	for i, r := range rows {
		data[i] = []string{r.Name, strconv.Itoa(r.Entries), r.Role}
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("Bucket", "Entries", "Role").
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}
			if row < 0 || row >= len(rows) {
				return lipgloss.NewStyle()
			}
			if rows[row].Role == roleStale {
				return lipgloss.NewStyle().Foreground(colorDim)
			}
			if col == 0 {
				return lipgloss.NewStyle().Foreground(colorCyan)
			}
			return lipgloss.NewStyle().Foreground(colorWhite)
		})
	return t.Render()
}

// bucketsListCommand creates the "buckets list" subcommand.
func (c *CLI) bucketsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List buckets and their entry counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			store, err := c.openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := listBuckets(cmd.Context(), store, cfg.OfflineConfig())
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				printInfo("No buckets")
				printNextStep("Populate the static bucket", appName+" install")
				return nil
			}
			fmt.Println(renderBuckets(rows))
			return nil
		},
	}
}

// bucketsKeysCommand creates the "buckets keys" subcommand.
func (c *CLI) bucketsKeysCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "keys NAME",
		Short:             "List the request keys stored in a bucket",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: c.completeBucketNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			store, err := c.openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			keys, err := store.Keys(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				printInfo("Bucket %s is empty", StyleHighlight.Render(args[0]))
				return nil
			}
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		},
	}
}

// bucketsClearCommand creates the "buckets clear" subcommand.
func (c *CLI) bucketsClearCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:               "clear [NAME...]",
		Short:             "Delete buckets (all of them when no name is given)",
		ValidArgsFunction: c.completeBucketNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			store, err := c.openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var confirmer notify.Confirmer = teaConfirmer{in: os.Stdin, out: os.Stderr}
			if yes {
				confirmer = autoConfirm{}
			}
			n, err := clearBuckets(cmd.Context(), store, args, confirmer)
			if err != nil {
				return err
			}
			switch {
			case n < 0:
				printInfo("Cancelled")
			case n == 0:
				printInfo("No buckets to clear")
			default:
				printSuccess("Cleared %d bucket(s)", n)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation dialog")
	return cmd
}

// clearBuckets deletes the named buckets, or every bucket when names is
// empty, after confirmation. It returns the number deleted, or -1 when the
// user cancelled.
func clearBuckets(ctx context.Context, store bucket.Store, names []string, confirmer notify.Confirmer) (int, error) {
	if len(names) == 0 {
		all, err := store.Names(ctx)
		if err != nil {
			return 0, err
		}
		names = all
	}
	if len(names) == 0 {
		return 0, nil
	}

	confirmed := false
	confirmer.Confirm("Clear buckets",
		fmt.Sprintf("Delete %d bucket(s)? Cached pages will no longer be available offline.", len(names)),
		func() { confirmed = true }, nil)
	if !confirmed {
		return -1, nil
	}

	deleted := 0
	for _, name := range names {
		ok, err := store.DeleteBucket(ctx, name)
		if err != nil {
			return deleted, fmt.Errorf("delete bucket %s: %w", name, err)
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

// autoConfirm confirms every dialog.
type autoConfirm struct{}

func (autoConfirm) Confirm(_, _ string, onConfirm, _ func()) {
	if onConfirm != nil {
		onConfirm()
	}
}
