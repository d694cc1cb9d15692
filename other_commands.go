package main

import (
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"auto_cms_content_sync/dedupe"
	"auto_cms_content_sync/pipeline"
	"auto_cms_content_sync/server"
)

func newNormalizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <title>",
		Short: "Print the key used to compare titles for duplicates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), dedupe.NormalizeTitle(strings.Join(args, " ")))
			return nil
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var runID string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sync runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				store := p.History()
				if store == nil {
					return errors.New("history_db is not configured")
				}
				out := cmd.OutOrStdout()

				if runID != "" {
					results, err := store.Results(cmd.Context(), runID)
					if err != nil {
						return err
					}
					rows := make([][]string, 0, len(results))
					for _, res := range results {
						action := string(res.Action)
						if !res.OK() {
							action = "failed"
						}
						rows = append(rows, []string{strconv.Itoa(res.Row), truncate(res.Title, 40), action, strconv.FormatInt(res.ID, 10), truncate(res.Error, 60)})
					}
					fmt.Fprintln(out, renderTable([]string{"Row", "Title", "Action", "ID", "Error"}, rows, []columnAlignment{alignRight, alignLeft, alignLeft, alignRight}))
					return nil
				}

				runs, err := store.Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded.")
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, []string{
						run.ID,
						humanize.Time(run.StartedAt),
						run.Source,
						formatDuration(run.Duration),
						strconv.Itoa(run.Total),
						strconv.Itoa(run.Succeeded),
						strconv.Itoa(run.Failed),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Run", "Started", "Source", "Duration", "Rows", "OK", "Failed"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list")
	cmd.Flags().StringVar(&runID, "run", "", "Show the row results of one run")
	return cmd
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept CSV uploads over HTTP and stream results",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return ctx.withPipeline(signalCtx, func(p *pipeline.Pipeline) error {
				logger, err := ctx.ensureLogger()
				if err != nil {
					return err
				}
				srv, err := server.New(p, logger.With("component", "server"))
				if err != nil {
					return err
				}
				listen := p.Config().ServerAddr
				if addr != "" {
					listen = addr
				}
				start := time.Now()
				err = srv.ListenAndServe(signalCtx, listen)
				logger.Info("server stopped", "uptime", time.Since(start).Round(time.Second).String())
				return err
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server_addr)")
	return cmd
}
