package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragstore/internal/storemanager"
)

func newStoresCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stores",
		Short: "List, inspect, merge and delete stores",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stores",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx := cmd.Context()
				a, err := newApp(ctx, opts, false)
				if err != nil {
					return err
				}
				defer func() { _ = a.Close(ctx) }()

				list, err := a.manager.List(ctx)
				if err != nil {
					return err
				}
				printStores(cmd.OutOrStdout(), list)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <name>",
			Short: "Show one store",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				a, err := newApp(ctx, opts, false)
				if err != nil {
					return err
				}
				defer func() { _ = a.Close(ctx) }()

				md, err := a.manager.Stat(ctx, args[0])
				if err != nil {
					return err
				}
				printStores(cmd.OutOrStdout(), []storemanager.StoreMetadata{md})
				return nil
			},
		},
		&cobra.Command{
			Use:   "merge <source> <target>",
			Short: "Append every record of source to target",
			Long: `Append every record of source to target. The source store is left
unchanged; delete it afterwards if it is no longer needed.`,
			Args: cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				a, err := newApp(ctx, opts, false)
				if err != nil {
					return err
				}
				defer func() { _ = a.Close(ctx) }()

				md, err := a.manager.MergeStores(ctx, storemanager.MergeStoresRequest{Source: args[0], Target: args[1]})
				if err != nil {
					return err
				}
				printStores(cmd.OutOrStdout(), []storemanager.StoreMetadata{md})
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Delete a store",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				a, err := newApp(ctx, opts, false)
				if err != nil {
					return err
				}
				defer func() { _ = a.Close(ctx) }()

				if err := a.manager.Delete(ctx, storemanager.DeleteRequest{Name: args[0]}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func printStores(out io.Writer, list []storemanager.StoreMetadata) {
	if len(list) == 0 {
		fmt.Fprintln(out, "no stores")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tRECORDS\tDIMENSION\tCREATED\tUPDATED")
	for _, md := range list {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", md.Name, md.RecordCount, md.Dimension,
			md.CreatedAt.Format(time.RFC3339), md.UpdatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}
