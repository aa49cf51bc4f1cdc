package main

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"shelfdb/src/codec"
	"shelfdb/src/directors"
	"shelfdb/src/engine"
	"shelfdb/src/settings"
)

const journalFileName = "shelfdb.journal"

// app carries what every subcommand needs once the root has loaded the
// configuration.
type app struct {
	fs     afero.Fs
	args   *settings.Arguments
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	logger *zap.SugaredLogger
	sm     *directors.ServiceManager
}

func newRootCommand(fs afero.Fs, args *settings.Arguments, stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{fs: fs, args: args, stdin: stdin, stdout: stdout, stderr: stderr}

	rc := &cobra.Command{
		Use:   "shelfdb",
		Short: "ShelfDB is an embedded document store with content-addressed shards and hash indexes.",
		Long: `ShelfDB stores JSON documents as files in a directory tree. Documents are
grouped into collections, spread over shard files chosen by hashing their id,
and can be looked up through optional per-field hash indexes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := settings.Load(viper.New(), cmd.Flags()); err != nil {
				return err
			}
			if err := a.args.Validate(); err != nil {
				return err
			}
			logger, err := a.args.NewLogger()
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}
	args.RegisterFlags(rc.PersistentFlags())

	rc.AddCommand(a.newInitCommand())
	rc.AddCommand(a.newImportCommand())
	rc.AddCommand(a.newExecCommand())
	rc.AddCommand(a.newShellCommand())
	rc.AddCommand(a.newCollectionsCommand())
	rc.AddCommand(a.newStatsCommand())

	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

func (a *app) databaseOptions() engine.DatabaseOptions {
	return engine.DatabaseOptions{
		Format:   a.args.Format,
		Parallel: a.args.Parallel,
		Workers:  a.args.Workers,
		Logger:   a.logger,
	}
}

// open loads the database and starts a command session over it.
func (a *app) open() (*directors.ServiceManager, error) {
	db, err := engine.OpenDatabase(a.fs, a.args.DataDir, a.databaseOptions())
	if err != nil {
		if errors.Is(err, engine.ErrPathNotFound) {
			return nil, errors.Wrapf(err, "no database in %s (run 'shelfdb init' first)", a.args.DataDir)
		}
		return nil, err
	}

	var journal *engine.Journal
	if a.args.JournalDir != "" {
		journal, err = engine.NewJournal(a.fs, filepath.Join(a.args.JournalDir, journalFileName), a.args.JournalRetentionDays)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open journal")
		}
		if n, err := journal.CleanupOldJournals(); err != nil {
			a.logger.Warnw("Failed to clean up old journal files", "error", err)
		} else if n > 0 {
			a.logger.Infow("Removed old journal files", "count", n)
		}
	}

	directors.ResetServiceManager()
	a.sm = directors.InitServiceManager(db, journal, a.logger)
	if a.args.Verbose {
		a.logger.Infow("Opened database",
			"datadir", a.args.DataDir,
			"format", db.Format(),
			"collections", len(db.Collections()),
			"parallel", a.args.Parallel,
			"workers", a.args.Workers)
	}
	return a.sm, nil
}

func (a *app) close() error {
	if a.sm == nil {
		return nil
	}
	err := a.sm.Close()
	a.sm = nil
	return err
}

func (a *app) printResult(res *directors.Result) error {
	out, err := res.JSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, out)
	if res.Warning != "" {
		fmt.Fprintf(a.stderr, "Warning: %s\n", res.Warning)
	}
	return nil
}

func (a *app) newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create an empty database in --datadir",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			db, err := engine.CreateDatabase(a.fs, a.args.DataDir, a.databaseOptions())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Initialized empty database in %s (format %s)\n", db.Dir(), db.Format())
			return nil
		},
	}
}

func (a *app) newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <collection> <dir>",
		Short: "Load every document file below dir into a collection, creating it if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			sm, err := a.open()
			if err != nil {
				return err
			}
			name, dir := args[0], args[1]

			coll, err := sm.Database.Collection(name)
			if errors.Is(err, engine.ErrCollectionNotFound) {
				res, err := sm.API.CreateCollectionFrom(name, dir).Execute()
				if err != nil {
					return err
				}
				return a.printResult(res)
			}
			if err != nil {
				return err
			}

			n, err := engine.ImportDir(a.fs, dir, coll, a.logger)
			if err != nil && !engine.IsPartial(err) {
				return err
			}
			if err != nil {
				fmt.Fprintf(a.stderr, "Warning: %v\n", err)
			}
			fmt.Fprintf(a.stdout, "Imported %d document(s) into %s\n", n, name)
			return nil
		},
	}
}

func (a *app) newExecCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <command>",
		Short: "Run one command, e.g. shelfdb exec 'SELECT FROM movies WHERE year == 2020'",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sm, err := a.open()
			if err != nil {
				return err
			}
			res, err := sm.Execute(strings.Join(args, " "))
			if err != nil {
				return err
			}
			return a.printResult(res)
		},
	}
}

func (a *app) newShellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Read commands from stdin, one per line",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			sm, err := a.open()
			if err != nil {
				return err
			}
			return a.runShell(sm)
		},
	}
}

// runShell executes each input line. Failed commands are reported and the
// session continues.
func (a *app) runShell(sm *directors.ServiceManager) error {
	scanner := bufio.NewScanner(a.stdin)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	fmt.Fprint(a.stdout, "shelfdb> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
		case "exit", "quit":
			return nil
		default:
			res, err := sm.Execute(line)
			if err != nil {
				fmt.Fprintf(a.stderr, "Error: %v\n", err)
			} else if err := a.printResult(res); err != nil {
				return err
			}
		}
		fmt.Fprint(a.stdout, "shelfdb> ")
	}
	fmt.Fprintln(a.stdout)
	return scanner.Err()
}

func (a *app) newCollectionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List the collections of the database",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			sm, err := a.open()
			if err != nil {
				return err
			}
			names := sm.Database.Collections()
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintln(a.stdout, name)
			}
			return nil
		},
	}
}

func (a *app) newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [collection]",
		Short: "Show document counts, shard usage and index sizes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sm, err := a.open()
			if err != nil {
				return err
			}

			var stats interface{}
			if len(args) == 1 {
				coll, err := sm.Database.Collection(args[0])
				if err != nil {
					return err
				}
				if stats, err = coll.Stats(); err != nil {
					return err
				}
			} else if stats, err = sm.Database.Stats(); err != nil {
				return err
			}

			out, err := codec.JSON().Marshal(stats)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, string(out))
			return nil
		},
	}
}
