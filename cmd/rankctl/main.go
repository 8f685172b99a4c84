// Command rankctl runs ranking operations by hand against the production
// database: a full recalculation, a history backfill for one discipline,
// settings import and export, and schema migrations.
//
// Usage:
//
//	rankctl recalculate [-discipline ENDURO] [-backfill]
//	rankctl backfill -discipline DH [-months 24]
//	rankctl settings show
//	rankctl settings apply -f settings.toml
//	rankctl migrate [up|down|status]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/gravityseries/ranking-hub/config"
	"github.com/gravityseries/ranking-hub/internal/application/command"
	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/persistence/postgres"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/persistence/redis"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/service"
	"github.com/gravityseries/ranking-hub/pkg/logger"
	"github.com/gravityseries/ranking-hub/pkg/timeutil"
)

const usage = `usage: rankctl <command> [flags]

commands:
  recalculate   recompute current rankings for all or one discipline
  backfill      fill missing monthly snapshots for one discipline
  settings      show or apply the multiplier tables
  migrate       apply, roll back or list schema migrations
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "rankctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("missing command")
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := timeutil.SetLocation(cfg.App.Timezone); err != nil {
		return err
	}
	log := logger.New(logger.Options{
		Level:   logger.ParseLevel(cfg.Observability.LogLevel),
		Format:  logger.FormatText,
		Output:  os.Stderr,
		Service: "rankctl",
	})

	app, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	return cmd(app, ctx, args[1:], out)
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING
// ══════════════════════════════════════════════════════════════════════════════

type app struct {
	cfg    *config.Config
	log    *slog.Logger
	db     *postgres.Connection
	redis  *redis.Cache
	store  *service.SettingsStore
	recalc *command.RecalculateRankingsHandler
	filler *command.BackfillHistoryHandler
	update *command.UpdateSettingsHandler
}

type commandFunc func(a *app, ctx context.Context, args []string, out io.Writer) error

var commands = map[string]commandFunc{
	"recalculate": (*app).recalculate,
	"backfill":    (*app).backfill,
	"settings":    (*app).settings,
	"migrate":     (*app).migrate,
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	poolOpts := postgres.DefaultPoolOptions()
	poolOpts.MaxConns = int32(cfg.Database.MaxConns)
	poolOpts.MinConns = 0

	db, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, poolOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a := &app{cfg: cfg, log: log, db: db}

	// A running worker holds its locks in Redis; share them so manual runs
	// never write the same discipline concurrently.
	var locker ranking.Locker = command.NewLocalLocker()
	var pageCache ranking.PageCache
	if !cfg.Redis.Disabled {
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.KeyPrefix = cfg.Redis.KeyPrefix
		redisCfg.DialTimeout = cfg.Redis.DialTimeout

		a.redis, err = redis.NewCache(redisCfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		locker = redis.NewLocker(a.redis, cfg.Ranking.LockTTL, log)
		pageCache = redis.NewRankingCache(a.redis, cfg.Ranking.PageCacheTTL)
	}

	results := postgres.NewResultRepository(db)
	snapshots := postgres.NewSnapshotRepository(db)
	a.store = service.NewSettingsStore(postgres.NewSettingsRepository(db), log, nil)

	opts := []command.EngineOption{command.WithLogger(log)}
	if pageCache != nil {
		opts = append(opts, command.WithPageCache(pageCache))
	}
	engine := command.NewEngine(results, snapshots, a.store, opts...)

	a.filler = command.NewBackfillHistoryHandler(engine, results, snapshots, locker, nil, log,
		command.BackfillHistoryConfig{Months: cfg.Ranking.BackfillMonths})
	a.recalc = command.NewRecalculateRankingsHandler(engine, a.filler, postgres.NewCalculationRepository(db), locker, nil, log,
		command.RecalculateRankingsConfig{
			Disciplines: cfg.Ranking.Disciplines,
			Concurrency: cfg.Ranking.Concurrency,
		})
	a.update = command.NewUpdateSettingsHandler(a.store, log)
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.db.Close()
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func (a *app) recalculate(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("recalculate", flag.ContinueOnError)
	discipline := fs.String("discipline", "", "only this discipline (ENDURO, DH, GRAVITY)")
	backfill := fs.Bool("backfill", false, "also fill missing monthly history")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cmd := command.RecalculateRankingsCommand{Backfill: *backfill, Trigger: "cli"}
	if *discipline != "" {
		d, err := ranking.ParseDiscipline(*discipline)
		if err != nil {
			return err
		}
		cmd.Disciplines = []ranking.Discipline{d}
	}

	report, err := a.recalc.Handle(ctx, cmd)
	if report != nil {
		printRunReport(out, report)
	}
	return err
}

func (a *app) backfill(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
	discipline := fs.String("discipline", "", "discipline to backfill (required)")
	months := fs.Int("months", 0, "month starts to walk back (default from RANKING_BACKFILL_MONTHS)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *discipline == "" {
		fs.Usage()
		return errors.New("backfill: -discipline is required")
	}
	d, err := ranking.ParseDiscipline(*discipline)
	if err != nil {
		return err
	}

	res, err := a.filler.Handle(ctx, command.BackfillHistoryCommand{Discipline: d, Months: *months})
	if res != nil {
		fmt.Fprintf(out, "discipline:        %s\n", res.Discipline)
		fmt.Fprintf(out, "computed:          %d\n", len(res.Computed))
		fmt.Fprintf(out, "skipped (exists):  %d\n", len(res.SkippedExisting))
		fmt.Fprintf(out, "skipped (no data): %d\n", len(res.SkippedNoData))
		for _, u := range res.Failed() {
			fmt.Fprintf(out, "failed:            %s %s %s: %s\n",
				u.Discipline, u.Kind, timeutil.FormatDate(u.SnapshotDate), u.Error)
		}
	}
	return err
}

func (a *app) settings(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("settings: expected show or apply")
	}
	switch args[0] {
	case "show":
		return encodeSettings(out, a.store.Snapshot(ctx))
	case "apply":
		fs := flag.NewFlagSet("settings apply", flag.ContinueOnError)
		path := fs.String("f", "", "TOML settings file")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *path == "" {
			return errors.New("settings apply: -f is required")
		}
		file, err := os.Open(*path)
		if err != nil {
			return err
		}
		defer file.Close()

		cmd, err := decodeSettings(file)
		if err != nil {
			return err
		}
		res, err := a.update.Handle(ctx, cmd)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "updated: %v\n", res.Updated)
		return nil
	default:
		return fmt.Errorf("settings: unknown subcommand %q", args[0])
	}
}

func (a *app) migrate(ctx context.Context, args []string, out io.Writer) error {
	migrator := postgres.NewMigrator(a.db)

	action := "up"
	if len(args) > 0 {
		action = args[0]
	}
	switch action {
	case "up":
		applied, err := migrator.Migrate(ctx)
		for _, name := range applied {
			fmt.Fprintf(out, "applied %s\n", name)
		}
		if err == nil && len(applied) == 0 {
			fmt.Fprintln(out, "schema is up to date")
		}
		return err
	case "down":
		return migrator.Rollback(ctx)
	case "status":
		migrations, err := migrator.Status(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
		for _, m := range migrations {
			applied := "-"
			if m.IsApplied {
				applied = m.AppliedAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\n", m.Version, m.Name, applied)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("migrate: unknown action %q", action)
	}
}

func printRunReport(out io.Writer, report *ranking.RunReport) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run %s\n", report.RunID)
	fmt.Fprintln(tw, "DISCIPLINE\tKIND\tSNAPSHOT\tREFERENCE\tSAVED\tERROR")
	for _, u := range report.Units {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			u.Discipline, u.Kind,
			timeutil.FormatDate(u.SnapshotDate), timeutil.FormatDate(u.ReferenceDate),
			u.Saved, u.Error)
	}
	_ = tw.Flush()
}
