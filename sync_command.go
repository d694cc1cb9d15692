package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"auto_cms_content_sync/batch"
	"auto_cms_content_sync/logging"
	"auto_cms_content_sync/pipeline"
	"auto_cms_content_sync/publisher"
	"auto_cms_content_sync/source"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var csvPath string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Create or update one resource per CSV row",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := source.ReadFile(csvPath)
			if err != nil {
				return err
			}
			if dryRun {
				return dryRunRows(cmd.OutOrStdout(), ctx, rows)
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return ctx.withPipeline(signalCtx, func(p *pipeline.Pipeline) error {
				progress := make(chan publisher.Result)
				done := make(chan struct{})
				go func() {
					defer close(done)
					reportProgress(progress, len(rows))
				}()

				summary, err := p.Sync(signalCtx, rows, filepath.Base(csvPath), progress)
				<-done
				if err != nil {
					return err
				}
				printSummary(cmd.OutOrStdout(), summary)
				return summary.Err()
			})
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "CSV file with one resource per row")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and show rows without contacting the site")
	_ = cmd.MarkFlagRequired("csv")
	return cmd
}

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check credentials and API reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				user, err := p.Preflight(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s as %s (id %d)\n", p.Config().SiteURL, user.Name, user.ID)
				return nil
			})
		},
	}
}

// reportProgress drains progress, drawing a bar when stderr is a terminal.
func reportProgress(progress <-chan publisher.Result, total int) {
	if !shouldRenderProgress(os.Stderr) {
		for range progress {
		}
		return
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("syncing"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	for res := range progress {
		desc := "syncing"
		if !res.OK() {
			desc = "syncing (row " + strconv.Itoa(res.Row) + " failed)"
		}
		bar.Describe(desc)
		_ = bar.Add(1)
	}
	_ = bar.Finish()
}

func shouldRenderProgress(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func printSummary(out io.Writer, summary *batch.Summary) {
	headers := []string{"Row", "Title", "Action", "ID", "Status", "Error"}
	rows := make([][]string, 0, len(summary.Results))
	for _, res := range summary.Results {
		action := string(res.Action)
		if !res.OK() {
			action = "failed"
		}
		id := ""
		if res.ID != 0 {
			id = strconv.FormatInt(res.ID, 10)
		}
		rows = append(rows, []string{
			strconv.Itoa(res.Row),
			truncate(res.Title, 40),
			action,
			id,
			res.Status,
			truncate(res.Error, 60),
		})
	}
	fmt.Fprintln(out, renderTable(headers, rows, []columnAlignment{alignRight, alignLeft, alignLeft, alignRight}))
	fmt.Fprintf(out, "Total %d, succeeded %d (created %d, updated %d), failed %d in %s\n",
		summary.Total, summary.Succeeded, summary.Created, summary.Updated, summary.Failed,
		formatDuration(summary.Duration))
	if summary.LogPath != "" {
		fmt.Fprintf(out, "Log: %s\n", summary.LogPath)
	}
}

// dryRunRows validates and builds every payload without network access.
func dryRunRows(out io.Writer, ctx *commandContext, rows []source.Row) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	builder := publisher.Builder{
		DefaultStatus: cfg.DefaultStatus,
		ContentFormat: cfg.ContentFormat,
		Logger:        logging.Discard(),
	}

	headers := []string{"Row", "Title", "Status", "Slug", "Problem"}
	table := make([][]string, 0, len(rows))
	invalid := 0
	for _, row := range rows {
		line := []string{strconv.Itoa(row.Number), truncate(row.Get(publisher.ColTitle), 40), "", "", ""}
		if err := publisher.Validate(row); err != nil {
			invalid++
			line[4] = err.Error()
			table = append(table, line)
			continue
		}
		payload, err := builder.Build(row)
		if err != nil {
			invalid++
			line[4] = err.Error()
			table = append(table, line)
			continue
		}
		status, _ := payload["status"].(string)
		line[2] = status
		line[3] = payload.Slug()
		table = append(table, line)
	}
	fmt.Fprintln(out, renderTable(headers, table, []columnAlignment{alignRight}))
	fmt.Fprintf(out, "%d rows, %d invalid (dry run, nothing written)\n", len(rows), invalid)
	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d", batch.ErrRowsFailed, invalid, len(rows))
	}
	return nil
}
