package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Slach/clickhouse-logcontext/pkg/client"
	"github.com/Slach/clickhouse-logcontext/pkg/config"
	"github.com/Slach/clickhouse-logcontext/pkg/datasource"
	"github.com/Slach/clickhouse-logcontext/pkg/logcontext"
	"github.com/Slach/clickhouse-logcontext/pkg/logging"
	"github.com/Slach/clickhouse-logcontext/pkg/models"
	"github.com/Slach/clickhouse-logcontext/pkg/pprof"
	"github.com/Slach/clickhouse-logcontext/pkg/tui"
	"github.com/Slach/clickhouse-logcontext/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func NewRootCommand(cli *types.CLI, version string) *cobra.Command {
	var profiler *pprof.Profiler

	rootCmd := &cobra.Command{
		Use:           types.AppName,
		Short:         "ClickHouse LogContext - browse the log lines around a single entry",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.SetLevel(cli.LogLevel); err != nil {
				return err
			}
			if !cli.Pprof {
				return nil
			}
			var err error
			if profiler, err = pprof.New(cli.PprofPath); err != nil {
				return err
			}
			return profiler.Start()
		},
	}
	// finalizers also run when a command fails
	cobra.OnFinalize(func() {
		if profiler != nil {
			profiler.Stop()
			profiler = nil
		}
	})

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show context around the log row at --at",
		Example: "  " + types.AppName + " show --source app --at '2025-11-09 10:30:45.123' --id 6b1f...\n" +
			"  " + types.AppName + " show --at 1762684245123 --plain --load-more 2",
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunShow(cmd.Context(), cli, version, cmd.OutOrStdout())
		},
	}

	rootCmd.PersistentFlags().StringVar(&cli.ConfigPath, "config", "", "Path to config file (default: ~/.clickhouse-logcontext/clickhouse-logcontext.yml)")
	rootCmd.PersistentFlags().StringVar(&cli.LogPath, "log", "", "Path to log file used by the interactive viewer (default: ~/.clickhouse-logcontext/clickhouse-logcontext.log)")
	rootCmd.PersistentFlags().StringVar(&cli.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&cli.ConnectTo, "connect", "", "Connection name to use from config")
	rootCmd.PersistentFlags().StringVar(&cli.Source, "source", "", "Log source name to use from config")
	rootCmd.PersistentFlags().BoolVar(&cli.Pprof, "pprof", false, "Write CPU and memory profiles")
	rootCmd.PersistentFlags().StringVar(&cli.PprofPath, "pprof-path", "", "Directory for profiles (default: ~/.clickhouse-logcontext)")

	showCmd.Flags().StringVar(&cli.Show.At, "at", "", "Timestamp of the focal row (in any parsable format, see https://github.com/araddon/dateparse)")
	showCmd.Flags().StringVar(&cli.Show.ID, "id", "", "Id of the focal row, requires id_field on the source")
	showCmd.Flags().StringVar(&cli.Show.Order, "order", "", "Display order, asc or desc (default: the source sort_order)")
	showCmd.Flags().IntVar(&cli.Show.LoadMore, "load-more", 0, "Number of extra pages to load before printing in plain mode")
	showCmd.Flags().BoolVar(&cli.Show.Plain, "plain", false, "Print context and exit instead of starting the viewer")
	showCmd.Flags().BoolVar(&cli.Show.ShowSQL, "show-sql", false, "Print the context queries before running them")
	showCmd.Flags().StringVar(&cli.Show.Timezone, "tz", "", "Timezone for --at and printed timestamps (default: local)")
	_ = showCmd.MarkFlagRequired("at")

	rootCmd.AddCommand(showCmd)
	return rootCmd
}

func parseOrder(value string, fallback logcontext.SortOrder) (logcontext.SortOrder, error) {
	switch logcontext.SortOrder(value) {
	case "":
		return fallback, nil
	case logcontext.SortAscending, logcontext.SortDescending:
		return logcontext.SortOrder(value), nil
	}
	return "", errors.Errorf("invalid --order %q, expected asc or desc", value)
}

func loadConfig(cli *types.CLI) (*config.Config, error) {
	path := cli.ConfigPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return config.Load(path)
}

func terminalSize(out io.Writer) (width, height int, ok bool) {
	f, isFile := out.(*os.File)
	if !isFile || !term.IsTerminal(int(f.Fd())) {
		return 0, 0, false
	}
	width, height, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 80, 24, true
	}
	return width, height, true
}

// serverInfo is the part of client.Client the --show-sql header reads
type serverInfo interface {
	Name() string
	GetVersion(ctx context.Context) (string, error)
}

func writeSQLHeader(ctx context.Context, out io.Writer, server serverInfo, src config.Source) error {
	version, err := server.GetVersion(ctx)
	if err != nil {
		log.Warn().Err(err).Str("connect", server.Name()).Msg("can't read server version")
		version = "unknown"
	}
	_, err = fmt.Fprintf(out, "-- connect %q, ClickHouse %s, source %q (%s.%s)\n\n",
		server.Name(), version, src.Name, src.Database, src.Table)
	return err
}

// RunShow looks up the focal row and shows its context in the viewer, or prints it
// when output is not a terminal or --plain is set
func RunShow(ctx context.Context, cli *types.CLI, version string, out io.Writer) error {
	params := cli.Show
	at, err := params.ParseAt()
	if err != nil {
		return err
	}
	loc, err := params.Location()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	connCfg, err := cfg.Context(cli.ConnectTo)
	if err != nil {
		return err
	}
	src, err := cfg.Source(cli.Source)
	if err != nil {
		return err
	}

	conn := client.NewClient(connCfg, version)
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			log.Error().Err(closeErr).Stack().Send()
		}
	}()
	ds := datasource.NewClickHouse(conn, src)

	state := models.NewAppState(cfg, version)
	state.CLI = cli
	state.Executor = ds
	if state.Order, err = parseOrder(params.Order, ds.SortOrder()); err != nil {
		return err
	}

	focal, err := ds.FindFocal(ctx, at, params.ID)
	if err != nil {
		return err
	}
	log.Debug().Str("source", src.Name).Str("id", focal.ID).Int64("ts", focal.TimestampMillis).Msg("focal row found")

	width, height, interactive := terminalSize(out)
	if params.ShowSQL {
		if err := writeSQLHeader(ctx, out, conn, ds.Source()); err != nil {
			return err
		}
		if err := ds.Explain(out, focal, logcontext.DefaultLimit, interactive); err != nil {
			return err
		}
	}

	if interactive && !params.Plain {
		if err := logging.InitLogFile(cli, version); err != nil {
			return err
		}
		return tui.Run(ctx, state, focal, width, height)
	}
	return printContext(ctx, state, focal, params.LoadMore, loc, out)
}

// printContext fetches the first page plus loadMore extra pages and prints the result
func printContext(ctx context.Context, state *models.AppState, focal logcontext.FocalRow, loadMore int, loc *time.Location, out io.Writer) error {
	session := state.OpenContext(ctx, focal, nil)
	defer state.CloseContext()
	session.Wait()

	for i := 0; i < loadMore; i++ {
		snap := session.Snapshot()
		if !snap.HasMore[logcontext.Before] && !snap.HasMore[logcontext.After] {
			break
		}
		session.LoadMore()
		session.Wait()
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "context fetch interrupted")
	}

	snap := session.Snapshot()
	p := message.NewPrinter(language.English)
	if _, err := p.Fprintf(out, "focal row at %s, %d lines before, %d lines after (limit %d, order %s)\n",
		time.UnixMilli(snap.Focal.TimestampMillis).In(loc).Format("2006-01-02 15:04:05.000 MST"),
		len(snap.Rows(logcontext.Before)),
		len(snap.Rows(logcontext.After)),
		snap.Limit,
		snap.Order,
	); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(out, tui.RenderBody(snap)); err != nil {
		return err
	}

	if snap.Error(logcontext.Before) != "" && snap.Error(logcontext.After) != "" {
		return errors.Errorf("context fetch failed: before: %s, after: %s", snap.Error(logcontext.Before), snap.Error(logcontext.After))
	}
	return nil
}
