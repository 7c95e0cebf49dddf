package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/glizzus/cmdcron/internal/command"
	"github.com/glizzus/cmdcron/internal/config"
	"github.com/glizzus/cmdcron/internal/datalayer"
	"github.com/glizzus/cmdcron/internal/engine"
	"github.com/glizzus/cmdcron/internal/executor"
	"github.com/glizzus/cmdcron/internal/presenters"
	"github.com/glizzus/cmdcron/internal/repository"
	"github.com/glizzus/cmdcron/internal/worker"
)

var stdinReader = bufio.NewReader(os.Stdin)

func prompt(label, fallback string) string {
	fmt.Printf("%s [%s]: ", label, fallback)
	input, _ := stdinReader.ReadString('\n')
	if input = strings.TrimSpace(input); input == "" {
		return fallback
	}
	return input
}

func parseArguments(raw string) (command.Arguments, error) {
	if raw == "" {
		return nil, nil
	}
	var args command.Arguments
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("--args must be a JSON object: %w", err)
	}
	if args == nil {
		args = command.Arguments{}
	}
	return args, nil
}

func main() {
	if err := config.LoadEnv(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to load .env file: %v", err)
	}

	schedulerConfig, err := config.NewSchedulerConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load scheduler config: %v", err)
	}
	level, _ := schedulerConfig.Level()
	slog.SetLogLoggerLevel(level)
	location, _ := schedulerConfig.Location()
	launcher, _ := schedulerConfig.LauncherArgs()

	catalogConfig, err := config.NewCatalogConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load catalog config: %v", err)
	}

	pool, err := datalayer.NewPostgresPoolFromEnv(context.Background())
	if err != nil {
		log.Fatalf("Failed to create postgres pool: %v", err)
	}
	defer pool.Close()
	if err := datalayer.MigratePostgres(pool); err != nil {
		log.Fatalf("Failed to migrate postgres: %v", err)
	}

	schedules := repository.NewPostgresScheduleRepository(pool)
	runs := repository.NewPostgresRunRepository(pool)

	catalog, err := command.NewFileCatalog(catalogConfig.Path, slog.Default())
	if err != nil {
		log.Fatalf("Failed to load command catalog: %v", err)
	}

	exec := executor.New(runs, executor.Config{
		PollInterval:  schedulerConfig.PollInterval,
		FlushInterval: schedulerConfig.FlushInterval,
		RunTimeout:    schedulerConfig.RunTimeout,
	}, executor.WithEvents(&worker.PrintingEventHandler{}))

	eng := engine.New(schedules, runs, catalog, exec, engine.Config{
		Prefix:        launcher,
		CatchUpWindow: schedulerConfig.CatchUpWindow,
		Location:      location,
	})

	app := &cli.App{
		Name:        "cmdcron-cli",
		Description: "Operator CLI for inspecting and triggering scheduled commands",
		Commands: []*cli.Command{
			{
				Name:  "schedules",
				Usage: "List stored schedules",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "active", Usage: "Only list active schedules"},
				},
				Action: func(c *cli.Context) error {
					list, err := eng.ListSchedules(c.Context, c.Bool("active"))
					if err != nil {
						return cli.Exit("Failed to list schedules: "+err.Error(), 1)
					}
					return presenters.WriteSchedulesTable(c.App.Writer, list)
				},
			},
			{
				Name:      "set",
				Usage:     "Create or update the schedule of a command",
				ArgsUsage: "<command>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "minute", Usage: "Minute field"},
					&cli.StringFlag{Name: "hour", Usage: "Hour field"},
					&cli.StringFlag{Name: "day", Usage: "Day of month field"},
					&cli.BoolFlag{Name: "active", Usage: "Whether the schedule fires"},
					&cli.StringFlag{Name: "args", Usage: "Stored arguments as a JSON object"},
				},
				Action: func(c *cli.Context) error {
					name := c.Args().First()
					if name == "" {
						return cli.Exit("Please provide a command name", 1)
					}

					s, err := eng.GetSchedule(c.Context, name)
					if err != nil {
						s = repository.NewSchedule(name, "")
					}

					if !c.IsSet("minute") && !c.IsSet("hour") && !c.IsSet("day") {
						s.Minute = prompt("Minute", s.Minute)
						s.Hour = prompt("Hour", s.Hour)
						s.Day = prompt("Day of month", s.Day)
					}
					if c.IsSet("minute") {
						s.Minute = c.String("minute")
					}
					if c.IsSet("hour") {
						s.Hour = c.String("hour")
					}
					if c.IsSet("day") {
						s.Day = c.String("day")
					}
					if c.IsSet("active") {
						s.Active = c.Bool("active")
					}
					if c.IsSet("args") {
						args, err := parseArguments(c.String("args"))
						if err != nil {
							return cli.Exit(err.Error(), 1)
						}
						s.Arguments = args
					}

					saved, err := eng.SaveSchedule(c.Context, s)
					if err != nil {
						return cli.Exit("Failed to save schedule: "+err.Error(), 1)
					}
					next, _ := eng.NextRuns(saved, 3)
					fmt.Fprintf(c.App.Writer, "Saved %s: %s (active: %t)\n", saved.CommandName, saved.Expression(), saved.Active)
					for _, t := range next {
						fmt.Fprintf(c.App.Writer, "  next: %s\n", t.Format(time.DateTime))
					}
					return nil
				},
			},
			{
				Name:      "args",
				Usage:     "Show the arguments a command accepts",
				ArgsUsage: "<command>",
				Action: func(c *cli.Context) error {
					name := c.Args().First()
					specs, err := eng.ArgumentSchema(c.Context, name)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					return presenters.WriteArgumentSchema(c.App.Writer, name, specs)
				},
			},
			{
				Name:      "run",
				Usage:     "Run a command now and wait for it to finish",
				ArgsUsage: "<command>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "args", Usage: "Arguments for this run only, as a JSON object"},
				},
				Action: func(c *cli.Context) error {
					override, err := parseArguments(c.String("args"))
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					rec, err := eng.RunNow(c.Context, c.Args().First(), override)
					if err != nil {
						return cli.Exit("Failed to start run: "+err.Error(), 1)
					}
					exec.Wait()

					status, err := eng.GetStatus(c.Context, rec.ID)
					if err != nil {
						return cli.Exit("Failed to load run status: "+err.Error(), 1)
					}
					return presenters.WriteStatus(c.App.Writer, status)
				},
			},
			{
				Name:      "status",
				Usage:     "Show the status of a run",
				ArgsUsage: "<run id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "full", Usage: "Print the full output"},
				},
				Action: func(c *cli.Context) error {
					id := c.Args().First()
					if c.Bool("full") {
						rec, err := eng.GetRun(c.Context, id)
						if err != nil {
							return cli.Exit(err.Error(), 1)
						}
						_, err = fmt.Fprintln(c.App.Writer, rec.Output)
						return err
					}
					status, err := eng.GetStatus(c.Context, id)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					return presenters.WriteStatus(c.App.Writer, status)
				},
			},
			{
				Name:  "runs",
				Usage: "List recent runs",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "command", Usage: "Only runs of this command"},
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "Maximum number of runs"},
				},
				Action: func(c *cli.Context) error {
					list, err := eng.ListRuns(c.Context, repository.RunFilter{
						CommandName: c.String("command"),
						Limit:       c.Int("limit"),
					})
					if err != nil {
						return cli.Exit("Failed to list runs: "+err.Error(), 1)
					}
					return presenters.WriteRunsTable(c.App.Writer, list)
				},
			},
			{
				Name:  "tick",
				Usage: "Launch every schedule due now and wait for the runs",
				Action: func(c *cli.Context) error {
					report := eng.Tick(c.Context, time.Now())
					for _, l := range report.Launched {
						fmt.Fprintf(c.App.Writer, "Launched %s as %s\n", l.CommandName, l.RunID)
					}
					for _, name := range report.Duplicates {
						fmt.Fprintf(c.App.Writer, "Skipped %s: already ran this minute\n", name)
					}
					for _, e := range report.Errors {
						fmt.Fprintf(c.App.ErrWriter, "Error: %v\n", e)
					}
					exec.Wait()
					if len(report.Errors) > 0 {
						return cli.Exit(fmt.Sprintf("%d schedule(s) failed", len(report.Errors)), 1)
					}
					return nil
				},
			},
			{
				Name:  "sync",
				Usage: "Compare the command catalog with stored schedules",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "create-missing", Usage: "Create inactive schedules for unscheduled commands"},
					&cli.StringSliceFlag{Name: "include-app", Usage: "Only consider commands of these apps"},
					&cli.StringSliceFlag{Name: "exclude", Usage: "Never create schedules for these commands"},
				},
				Action: func(c *cli.Context) error {
					report, err := eng.SyncCatalog(c.Context, engine.SyncOptions{
						CreateMissing:   c.Bool("create-missing"),
						IncludeApps:     c.StringSlice("include-app"),
						ExcludeCommands: c.StringSlice("exclude"),
					})
					if err != nil {
						return cli.Exit("Failed to sync catalog: "+err.Error(), 1)
					}
					return presenters.WriteSyncReport(c.App.Writer, report, c.Bool("create-missing"))
				},
			},
			{
				Name:  "prune",
				Usage: "Delete finished runs older than a number of days",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "days", Value: 30, Usage: "Delete runs started more than this many days ago"},
					&cli.BoolFlag{Name: "dry-run", Usage: "Only report what would be deleted"},
				},
				Action: func(c *cli.Context) error {
					days := c.Int("days")
					if days <= 0 {
						return cli.Exit("--days must be positive", 1)
					}
					report, err := eng.PruneRuns(c.Context, time.Duration(days)*24*time.Hour, c.Bool("dry-run"))
					if err != nil {
						return cli.Exit("Failed to prune runs: "+err.Error(), 1)
					}
					return presenters.WritePruneReport(c.App.Writer, report, c.Bool("dry-run"))
				},
			},
			{
				Name:  "follow",
				Usage: "Print run events as they are published to Redis",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "group", Value: "cmdcron-cli", Usage: "Consumer group name"},
				},
				Action: func(c *cli.Context) error {
					redisConfig, err := config.NewRedisConfigFromEnv()
					if err != nil {
						return cli.Exit("Failed to load redis config: "+err.Error(), 1)
					}
					if !redisConfig.Enabled() {
						return cli.Exit("REDIS_ADDR is not set", 1)
					}
					rdb := redis.NewClient(&redis.Options{
						Addr:     redisConfig.Addr,
						Password: redisConfig.Password,
					})
					defer rdb.Close()

					consumer, _ := os.Hostname()
					receiver, err := worker.NewRedisEventReceiver(c.Context, rdb, redisConfig.Stream, c.String("group"), consumer)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					return receiver.Receive(c.Context, &worker.PrintingEventHandler{})
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Fatalf("Error running CLI: %v", err)
	}
}
