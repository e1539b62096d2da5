package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newQueryCmd(opts *rootOptions) *cobra.Command {
	var (
		k      int
		scores bool
	)
	cmd := &cobra.Command{
		Use:   "query <store> <query>",
		Short: "Print the passages of a store most similar to a query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(ctx) }()

			passages, err := a.retriever.RetrieveScored(ctx, args[1], args[0], k)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, p := range passages {
				if i > 0 {
					fmt.Fprintln(out)
				}
				if scores {
					fmt.Fprintf(out, "[%d] %s (%.4f)\n", i+1, p.Source, p.Score)
				} else {
					fmt.Fprintf(out, "[%d] %s\n", i+1, p.Source)
				}
				fmt.Fprintln(out, p.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 0, "number of passages (default retrieval.top_k)")
	cmd.Flags().BoolVar(&scores, "scores", false, "print similarity scores")
	return cmd
}

func newContextCmd(opts *rootOptions) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "context <store> <question>",
		Short: "Print an answer prompt built from retrieved passages",
		Long: `Retrieve passages for the question and render them into the answer
prompt. Pipe the output to the model of your choice.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(ctx) }()

			out, err := a.prompt.Assemble(ctx, a.retriever, args[0], args[1], k)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Prompt)
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 0, "number of passages (default retrieval.top_k)")
	return cmd
}
