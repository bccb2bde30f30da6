package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/AlfredBerg/rod-capture/internal/browser"
	"github.com/AlfredBerg/rod-capture/internal/browser/cdpengine"
	"github.com/AlfredBerg/rod-capture/internal/browser/rodengine"
	"github.com/AlfredBerg/rod-capture/internal/outputHandlers/sqlite"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	logger  = zap.NewNop()
)

// Execute runs the root command. SIGINT and SIGTERM cancel the running job.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rod-capture.yaml)")
	pf.String("engine", "rod", "Browser engine to drive: rod or chromedp.")
	pf.String("browser-bin", "", "Path to the browser executable. If empty ROD_BROWSER_BIN is used, otherwise a browser is found or downloaded.")
	pf.Bool("headless", true, "Run the browser without a window.")
	pf.Bool("no-sandbox", false, "Disable the browser sandbox, needed when running as root in containers.")
	pf.Duration("navigation-timeout", browser.DefaultNavigationTimeout, "The maximum amount of time to wait for a page to load.")
	pf.Duration("selector-timeout", browser.DefaultSelectorTimeout, "The maximum amount of time to wait for a selector to appear.")
	pf.String("database", "", "A sqlite file to record run history in. Empty disables the history.")
	pf.BoolP("verbose", "v", false, "Log debug output in a human readable format.")

	for _, key := range []string{"engine", "browser-bin", "headless", "no-sandbox", "navigation-timeout", "selector-timeout", "database", "verbose"} {
		cobra.CheckErr(viper.BindPFlag(key, pf.Lookup(key)))
	}

	rootCmd.AddCommand(exportCmd, batchCmd, searchCmd, historyCmd)
}

// initConfig reads in .env, the config file and ENV variables if set.
func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "Ignoring .env:", err)
	}

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".rod-capture" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".rod-capture")
	}

	// RODCAPTURE_NAVIGATION_TIMEOUT sets navigation-timeout
	viper.SetEnvPrefix("RODCAPTURE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

var rootCmd = &cobra.Command{
	Use:   "rod-capture",
	Short: "Export web pages to PDF or PNG with a headless browser",
	Long: `rod-capture loads a page in an isolated headless browser context, waits until
it is ready and writes it to a single PDF or PNG file.`,

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(viper.GetBool("verbose"))
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func browserConfig() browser.Config {
	return browser.Config{
		Bin:               viper.GetString("browser-bin"),
		Headless:          viper.GetBool("headless"),
		NoSandbox:         viper.GetBool("no-sandbox"),
		NavigationTimeout: viper.GetDuration("navigation-timeout"),
		SelectorTimeout:   viper.GetDuration("selector-timeout"),
		Logger:            logger.Named("browser"),
	}
}

// newEngine starts the configured browser engine.
func newEngine() (browser.Engine, error) {
	cfg := browserConfig()
	switch name := strings.ToLower(viper.GetString("engine")); name {
	case "", "rod":
		return rodengine.New(cfg)
	case "chromedp", "cdp":
		return cdpengine.New(cfg)
	default:
		return nil, usageError{fmt.Errorf("unknown engine %q, use rod or chromedp", name)}
	}
}

// openLedger returns nil when no database is configured.
func openLedger() (*sqlite.SqliteOutput, error) {
	db := viper.GetString("database")
	if db == "" {
		return nil, nil
	}
	o := &sqlite.SqliteOutput{Database: db, Logger: logger.Named("ledger")}
	if err := o.Init(); err != nil {
		return nil, fmt.Errorf("opening run history %s: %w", db, err)
	}
	return o, nil
}

func closeLedger(o *sqlite.SqliteOutput) {
	if o == nil {
		return
	}
	if err := o.Cleanup(); err != nil {
		logger.Warn("closing run history", zap.Error(err))
	}
}

func closeEngine(e browser.Engine) {
	if err := e.Close(); err != nil {
		logger.Warn("closing browser", zap.Error(err))
	}
}
