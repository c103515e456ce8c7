// Command jsondb runs SQL queries against a jsondb database and manages
// databases from the command line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/asaidimu/go-jsondb/core/engine"
	"github.com/asaidimu/go-jsondb/core/storage"
	"github.com/asaidimu/go-jsondb/sqlite"
	flag "github.com/juju/gnuflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const usage = `usage: jsondb [flags] <command> [args]

commands:
  create               create the database
  drop [--soft]        drop the database
  list                 list the databases of the space
  collections          list the collections of the database
  sql <statement>      run a SELECT and print the result as JSON
  history [flags]      print recorded engine events

flags:
`

// options holds the global flags.
type options struct {
	configPath string
	root       string
	space      string
	db         string
	logLevel   string
	historyDB  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts options
	fs := flag.NewFlagSet("jsondb", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "path to a TOML config file")
	fs.StringVar(&opts.root, "root", "", "data root directory (overrides domain_root)")
	fs.StringVar(&opts.space, "space", "default", "space of the database")
	fs.StringVar(&opts.db, "db", "main", "database name")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level (overrides log_level)")
	fs.StringVar(&opts.historyDB, "history", "", "SQLite file recording engine events (overrides history_db)")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(false, args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintln(stderr, "jsondb:", err)
		return 1
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(stderr, "jsondb:", err)
		return 1
	}
	defer logger.Sync()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if err := dispatch(ctx, cmd, rest, cfg, opts, logger, stdout, stderr); err != nil {
		fmt.Fprintln(stderr, "jsondb:", err)
		if errors.Is(err, errUsage) {
			fs.Usage()
			return 2
		}
		return 1
	}
	return 0
}

var errUsage = errors.New("invalid usage")

func dispatch(ctx context.Context, cmd string, args []string, cfg storage.Config, opts options, logger *zap.Logger, stdout, stderr io.Writer) error {
	switch cmd {
	case "create":
		st, err := storage.New(cfg, logger)
		if err != nil {
			return err
		}
		if err := st.CreateDB(opts.space, opts.db); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "created %s/%s\n", opts.space, opts.db)
		return nil

	case "drop":
		fs := flag.NewFlagSet("drop", flag.ContinueOnError)
		fs.SetOutput(stderr)
		soft := fs.Bool("soft", cfg.SoftDelete, "rename the database instead of removing it")
		if err := fs.Parse(true, args); err != nil {
			return errUsage
		}
		st, err := storage.New(cfg, logger)
		if err != nil {
			return err
		}
		mode := storage.DropHard
		if *soft {
			mode = storage.DropSoft
		}
		if err := st.DropDB(opts.space, opts.db, mode); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "dropped %s/%s\n", opts.space, opts.db)
		return nil

	case "list":
		st, err := storage.New(cfg, logger)
		if err != nil {
			return err
		}
		dbs, err := st.ListDBs(opts.space)
		if err != nil {
			return err
		}
		for _, db := range dbs {
			fmt.Fprintln(stdout, db)
		}
		return nil

	case "collections":
		return withEngine(ctx, cfg, opts, logger, func(e *engine.Engine) error {
			names, err := e.Query().ListCollections(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(stdout, name)
			}
			return nil
		})

	case "sql":
		if len(args) == 0 {
			return fmt.Errorf("sql: missing statement: %w", errUsage)
		}
		statement := strings.Join(args, " ")
		return withEngine(ctx, cfg, opts, logger, func(e *engine.Engine) error {
			res, err := e.ExecuteSQL(ctx, statement)
			if err != nil {
				return err
			}
			return writeJSON(stdout, res)
		})

	case "history":
		fs := flag.NewFlagSet("history", flag.ContinueOnError)
		fs.SetOutput(stderr)
		var filter sqlite.HistoryFilter
		var eventType string
		fs.StringVar(&eventType, "type", "", "only events of this type")
		fs.StringVar(&filter.Collection, "collection", "", "only events of this collection")
		fs.StringVar(&filter.TransactionID, "tx", "", "only events of this transaction")
		fs.IntVar(&filter.Limit, "limit", 50, "maximum number of events")
		if err := fs.Parse(true, args); err != nil {
			return errUsage
		}
		filter.Type = core.EventType(eventType)
		filter.Descending = true
		if cfg.HistoryDB == "" {
			return errors.New("history: no history database configured")
		}
		h, err := sqlite.Open(ctx, cfg.HistoryDB, logger)
		if err != nil {
			return err
		}
		defer h.Close()
		recs, err := h.List(ctx, filter)
		if err != nil {
			return err
		}
		events := make([]core.Event, len(recs))
		for i, r := range recs {
			events[i] = r.Event
		}
		return writeJSON(stdout, events)

	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

func withEngine(ctx context.Context, cfg storage.Config, opts options, logger *zap.Logger, fn func(*engine.Engine) error) error {
	st, err := storage.New(cfg, logger)
	if err != nil {
		return err
	}
	if !st.DBExists(opts.space, opts.db) {
		return fmt.Errorf("database %s/%s: %w", opts.space, opts.db, storage.ErrNotFound)
	}
	e, err := engine.OpenWithStorage(ctx, st, opts.space, opts.db, logger)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(e)
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(opts options) (storage.Config, error) {
	cfg := storage.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = storage.LoadConfig(opts.configPath); err != nil {
			return storage.Config{}, err
		}
	}
	if opts.root != "" {
		cfg.DomainRoot = opts.root
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.historyDB != "" {
		cfg.HistoryDB = opts.historyDB
	}
	return cfg, cfg.Validate()
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "timestamp"
	return config.Build()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
