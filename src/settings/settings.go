package settings

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix is prepended to the upper-cased flag names when reading the
// environment, e.g. SHELFDB_DATADIR or SHELFDB_JOURNAL_DIR.
const EnvPrefix = "SHELFDB"

type Arguments struct {
	// The file path to the database directory
	DataDir string

	// On-disk format for new databases: json or bson
	Format string

	// Run scans with the worker pool
	Parallel bool
	Workers  int

	// Where the operation journal is written; empty disables it
	JournalDir           string
	JournalRetentionDays int

	ConfigFile string

	Debug bool

	// Strongly verbose logging
	Verbose bool
}

var (
	instance *Arguments
	once     sync.Once
)

// GetSettings returns the process-wide settings.
func GetSettings() *Arguments {
	once.Do(func() {
		instance = Defaults()
	})
	return instance
}

// Defaults returns the built-in configuration.
func Defaults() *Arguments {
	return &Arguments{
		DataDir:              "./datafiles",
		Format:               "json",
		Workers:              runtime.NumCPU(),
		JournalRetentionDays: 7,
	}
}

// RegisterFlags defines every option on flags, bound to the fields of args.
func (args *Arguments) RegisterFlags(flags *pflag.FlagSet) {
	flags.StringVar(&args.DataDir, "datadir", args.DataDir, "Directory holding the database")
	flags.StringVarP(&args.ConfigFile, "config", "c", args.ConfigFile, "Configuration file to read from (yaml or toml)")
	flags.StringVar(&args.Format, "format", args.Format, "On-disk format for a new database (json, bson)")
	flags.BoolVar(&args.Parallel, "parallel", args.Parallel, "Scan shard files with a worker pool")
	flags.IntVar(&args.Workers, "workers", args.Workers, "Number of workers used when --parallel is set")
	flags.StringVar(&args.JournalDir, "journal-dir", args.JournalDir, "Directory for the operation journal (disabled when empty)")
	flags.IntVar(&args.JournalRetentionDays, "journal-retention", args.JournalRetentionDays, "Days of journal files to keep (0 keeps all)")
	flags.BoolVar(&args.Debug, "debug", args.Debug, "Enable debug logging")
	flags.BoolVar(&args.Verbose, "verbose", args.Verbose, "Enable verbose output")
}

// Load layers the command line, the environment and the optional config
// file, in that priority order, onto the flags registered in flags. Each
// flag writes through to its Arguments field.
func Load(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	validTags := make(map[string]bool)
	flags.VisitAll(func(f *pflag.Flag) {
		validTags[f.Name] = true
	})

	if c := v.GetString("config"); c != "" {
		v.SetConfigFile(c)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading configuration file '%s': %v", c, err)
		}
		for _, key := range v.AllKeys() {
			if !validTags[key] {
				return fmt.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		// Flags set on the command line win.
		if flagErr != nil || f.Changed {
			return
		}
		flagErr = f.Value.Set(v.GetString(f.Name))
	})
	return flagErr
}

// Validate checks the loaded values.
func (args *Arguments) Validate() error {
	if args.DataDir == "" {
		return fmt.Errorf("data directory must not be empty")
	}
	switch args.Format {
	case "json", "bson":
	default:
		return fmt.Errorf("invalid format: %s (must be 'json' or 'bson')", args.Format)
	}
	if args.Workers < 1 {
		return fmt.Errorf("invalid worker count: %d (must be at least 1)", args.Workers)
	}
	if args.JournalRetentionDays < 0 {
		return fmt.Errorf("invalid journal retention: %d", args.JournalRetentionDays)
	}
	return nil
}

// NewLogger builds the process logger: the development config on stderr when
// Debug is set, the production config otherwise.
func (args *Arguments) NewLogger() (*zap.SugaredLogger, error) {
	var logger *zap.Logger
	var err error

	if args.Debug {
		z := zap.NewDevelopmentConfig()
		z.OutputPaths = []string{"stderr"}
		logger, err = z.Build()
	} else {
		z := zap.NewProductionConfig()
		if !args.Verbose {
			z.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		}
		logger, err = z.Build()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	zap.ReplaceGlobals(logger)
	return logger.Sugar(), nil
}
