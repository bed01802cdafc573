package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dvloznov/statement-import/internal/app"
	"github.com/dvloznov/statement-import/internal/domain"
	"github.com/dvloznov/statement-import/internal/jobs"
)

func newImportCmd(opts *rootOptions) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Upload and parse a statement file",
		Long: `Upload a statement (CSV, OFX/QFX, or PDF when Gemini is enabled),
parse it and print the transactions awaiting review.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			fileName := filepath.Base(path)

			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if !a.Parsers.Supports(fileName) {
					return fmt.Errorf("unsupported file type: %s", fileName)
				}

				uri, err := a.Documents.Put(ctx, opts.userID, fileName, data)
				if err != nil {
					return err
				}
				upload, err := a.Coordinator.StartUpload(ctx, opts.userID, fileName, uri)
				if err != nil {
					return err
				}
				if err := a.Coordinator.BeginParsing(ctx, opts.userID, upload.ID); err != nil {
					return err
				}

				log := logFrom(ctx)
				log.Info().Str("upload_id", upload.ID).Str("uri", uri).Msg("Parsing statement")

				// No retries: a transient error fails the upload right away.
				job := &jobs.ParseStatementJob{
					JobID:       upload.ID,
					UploadID:    upload.ID,
					UserID:      opts.userID,
					DocumentURI: uri,
					FileName:    fileName,
				}
				if err := a.ParseHandler.Handle(ctx, job); err != nil {
					return err
				}

				detail, err := a.Coordinator.GetUpload(ctx, opts.userID, upload.ID)
				if err != nil {
					return err
				}
				printDetail(cmd.OutOrStdout(), detail)

				if confirm && detail.Status == domain.StatusPendingReview {
					return runConfirm(ctx, cmd.OutOrStdout(), a, opts.userID, upload.ID)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "Confirm the suggested categories right away")
	return cmd
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your uploads, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				uploads, err := a.Coordinator.ListUploads(ctx, opts.userID)
				if err != nil {
					return err
				}
				if len(uploads) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No uploads.")
					return nil
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tFILE\tUPLOADED\tSTATUS\tTRANSACTIONS")
				for _, u := range uploads {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
						u.ID, u.FileName, u.UploadedAt.Format("2006-01-02 15:04"), u.Status, u.TransactionCount)
				}
				return tw.Flush()
			})
		},
	}
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show UPLOAD_ID",
		Short: "Show an upload and its transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				detail, err := a.Coordinator.GetUpload(ctx, opts.userID, args[0])
				if err != nil {
					return err
				}
				printDetail(cmd.OutOrStdout(), detail)
				return nil
			})
		},
	}
}

func newSetCategoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-category UPLOAD_ID TRANSACTION_ID CATEGORY_ID",
		Short: "Override the category of one transaction",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				err := a.Coordinator.SetConfirmedCategory(ctx, opts.userID, args[0], args[1], domain.CategoryID(args[2]))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Transaction %s set to %s.\n", args[1], args[2])
				return nil
			})
		},
	}
}

func newConfirmCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm UPLOAD_ID",
		Short: "Confirm an upload and publish its transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				return runConfirm(ctx, cmd.OutOrStdout(), a, opts.userID, args[0])
			})
		},
	}
}

func runConfirm(ctx context.Context, out io.Writer, a *app.App, userID, uploadID string) error {
	ev, err := a.Coordinator.Confirm(ctx, userID, uploadID)
	var delivery *domain.EventDeliveryError
	if errors.As(err, &delivery) {
		fmt.Fprintf(out, "Upload %s confirmed, but publishing failed: %v\n", uploadID, delivery.Err)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Upload %s confirmed: %d transactions, total %s.\n", uploadID, len(ev.Transactions), ev.Total().StringFixed(2))
	return nil
}

func newCancelCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel UPLOAD_ID",
		Short: "Cancel an upload that is still being parsed or reviewed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(opts); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if err := a.Coordinator.Cancel(ctx, opts.userID, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Upload %s cancelled.\n", args[0])
				return nil
			})
		},
	}
}

func newCategoriesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List the categories transactions can be assigned to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				cats, err := a.Categories.ListCategories(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME")
				for _, c := range cats {
					fmt.Fprintf(tw, "%s\t%s\n", c.ID, c.Name)
				}
				return tw.Flush()
			})
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the tables of the configured store",
		Long: `Create or upgrade the tables of the configured store.

The sqlite driver applies its schema migrations; the bigquery driver creates
any missing tables. The memory driver has nothing to migrate.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the store runs the migrations.
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Store %q is up to date.\n", a.Config.Store.Driver)
				return nil
			})
		},
	}
}

func printDetail(out io.Writer, d domain.UploadDetail) {
	fmt.Fprintf(out, "Upload:   %s\n", d.ID)
	fmt.Fprintf(out, "File:     %s\n", d.FileName)
	fmt.Fprintf(out, "Uploaded: %s\n", d.UploadedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Status:   %s\n", d.Status)
	if d.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:    %s\n", d.ErrorMessage)
	}
	if len(d.Transactions) == 0 {
		return
	}

	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tDESCRIPTION\tAMOUNT\tCURRENCY\tSUGGESTED\tCATEGORY")
	for _, t := range d.Transactions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Date, t.Description, t.Amount.StringFixed(2), t.Currency, t.SuggestedCategoryID, t.EffectiveCategoryID)
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "\nTotal: %s (%d transactions)\n", d.Total.StringFixed(2), len(d.Transactions))
}
