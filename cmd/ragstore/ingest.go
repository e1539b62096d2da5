package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragstore/internal/chunker"
	"github.com/fyrsmithlabs/ragstore/internal/ingest"
	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var (
		into     string
		baseName string
		format   string
	)

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest documents into a new or existing store",
		Long: `Extract text from each file, split it into segments, embed the segments
and persist them.

Without --into a new store is created and its generated name is printed.
With --into the records are appended to that store.

Examples:
  ragstore ingest handbook.pdf faq.html
  ragstore ingest --into "vectorstore(1)" release-notes.md
  ragstore ingest --base-name manuals --format text README`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if into != "" && baseName != "" {
				return fmt.Errorf("%w: --into and --base-name are mutually exclusive", ragerr.ErrInvalidParameter)
			}
			f, err := chunker.ParseFormat(format)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var docs []chunker.Document
			for _, path := range args {
				if !exists(path) {
					return fmt.Errorf("%w: %s: %v", ragerr.ErrInvalidParameter, path, os.ErrNotExist)
				}
				loaded, err := chunker.LoadFile(ctx, path, f)
				if err != nil {
					return err
				}
				docs = append(docs, loaded...)
			}

			a, err := newApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(ctx) }()

			var res ingest.Result
			if into != "" {
				res, err = a.pipeline.IngestInto(ctx, docs, into)
			} else {
				res, err = a.pipeline.IngestNew(ctx, docs, baseName)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Store)
			fmt.Fprintf(cmd.ErrOrStderr(), "%d document(s) from %d file(s), %d segment(s), %d redaction(s); %s now holds %d record(s)\n",
				res.Documents, len(args), res.Segments, res.Redactions, res.Store, res.Metadata.RecordCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&into, "into", "", "append to this existing store")
	cmd.Flags().StringVar(&baseName, "base-name", "", "base name for the new store (default store.base_name)")
	cmd.Flags().StringVar(&format, "format", "", "document format: text, html or pdf (default: from extension)")
	return cmd
}
