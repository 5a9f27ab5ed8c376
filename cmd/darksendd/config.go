// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/drkcore/darksend/internal/version"
	"github.com/drkcore/darksend/masternode"
	"github.com/drkcore/darksend/mixing"
	"github.com/drkcore/darksend/sampleconfig"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename     = "darksendd.conf"
	defaultDataDirname        = "data"
	defaultLogLevel           = "info"
	defaultLogDirname         = "logs"
	defaultLogFilename        = "darksendd.log"
	defaultLogSize            = "10M"
	defaultMaxLogFiles        = 3
	defaultAnonymizeAmount    = 1000
	defaultLockConfirmations  = 5
	defaultMinMasternodeProto = 1
	defaultMaxAttempts        = 10
	defaultSimParticipants    = 3
	defaultSimMasternodes     = 4
	defaultSimFunds           = 150
	defaultPhaseTimeout       = mixing.PhaseTimeout
)

var (
	defaultHomeDir    = dcrutil.AppDataDir("darksendd", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// errSuppressUsage signifies that an error that happened during the initial
// configuration phase should suppress the usage output since it was not caused
// by the user.
type errSuppressUsage string

// Error implements the error interface.
func (e errSuppressUsage) Error() string {
	return string(e)
}

// config defines the configuration options for darksendd.
//
// See loadConfig for details on the configuration load process.
type config struct {
	// General application behavior.
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	HomeDir     string `short:"A" long:"appdata" description:"Path to application home directory"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store data"`

	// Logging and metrics.
	LogDir        string `long:"logdir" description:"Directory to log output"`
	NoFileLogging bool   `long:"nofilelogging" description:"Disable file logging"`
	LogSize       string `long:"logsize" description:"Maximum size of log file before it is rotated"`
	MaxLogFiles   int    `long:"maxlogfiles" description:"Maximum number of rotated log files to keep"`
	DebugLevel    string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	MetricsListen string `long:"metricslisten" description:"Serve prometheus metrics on the given address or port -- NOTE port must be between 1024 and 65535"`

	// Mixing.
	NoDarksend          bool    `long:"nodarksend" description:"Disable mixing of wallet funds"`
	DarksendRounds      int     `long:"darksendrounds" description:"Number of mixing rounds an output must complete to be anonymized (2-16)"`
	Privacy             string  `long:"privacy" description:"Mixing rounds preset overriding darksendrounds {basic, high, maximum}"`
	AnonymizeAmount     float64 `long:"anonymizeamount" description:"Amount of DRK to keep anonymized"`
	Liquidity           int     `long:"liquidity" description:"Keep mixing after the anonymize amount is reached to provide liquidity, from 0 (disabled) to 100 (most active)"`
	MaxAttempts         int     `long:"maxattempts" description:"Failed mixing rounds tolerated before giving up"`
	SpendZeroConfChange bool    `long:"spendzeroconfchange" description:"Spend unconfirmed change when sending transactions"`

	// Instant transaction locks.
	NoInstantX        bool  `long:"noinstantx" description:"Disable instant transaction locks"`
	LockConfirmations int64 `long:"lockconfirmations" description:"Confirmations displayed for locked transactions that have fewer"`

	// Masternode.
	Masternode         bool   `long:"masternode" description:"Run a masternode coordinating mixing sessions and voting on transaction locks"`
	MasternodeConf     string `long:"masternodeconf" description:"Path to a masternode configuration file listing remote masternodes"`
	MasternodePrivKey  string `long:"masternodeprivkey" description:"Hex encoded private key of the masternode"`
	MinMasternodeProto uint32 `long:"minmasternodeproto" description:"Minimum protocol version of masternodes to use"`

	// Simulated network.
	SimParticipants int           `long:"simparticipants" description:"Number of simulated wallets mixing on the network"`
	SimMasternodes  int           `long:"simmasternodes" description:"Number of simulated masternodes"`
	SimFunds        float64       `long:"simfunds" description:"DRK funded to every simulated wallet"`
	PhaseTimeout    time.Duration `long:"phasetimeout" description:"Deadline of each mixing session phase"`

	// The following fields are set after parsing.
	rounds          int
	anonymizeAmount dcrutil.Amount
	simFunds        dcrutil.Amount
	logSize         int64
	mnPrivKey       *secp256k1.PrivateKey
	mnConf          []masternode.ConfEntry
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Nothing to do when no path is given.
	if path == "" {
		return path
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but the variables can still be expanded via POSIX-style
	// $VARIABLE.
	path = os.ExpandEnv(path)

	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path)
	}

	// Expand initial ~ to the current user's home directory.
	path = path[1:]
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Clean("~" + path)
	}
	return filepath.Join(homeDir, path)
}

// parseSize parses a size with an optional K, M or G suffix into kibibytes.
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "G"):
		mult = 1 << 20
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "M"):
		mult = 1 << 10
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "K"):
		s = s[:len(s)-1]
	}
	var n int64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}

// createDefaultConfigFile creates a config file at the specified path from the
// sample config when it does not already exist.
func createDefaultConfigFile(destPath string) error {
	if _, err := os.Stat(destPath); !errors.Is(err, os.ErrNotExist) {
		return err
	}

	// Create the destination directory if it does not exist.
	err := os.MkdirAll(filepath.Dir(destPath), 0700)
	if err != nil {
		return err
	}

	return os.WriteFile(destPath, []byte(sampleconfig.Darksendd()), 0600)
}

// newConfigParser returns a new command line flags parser.
func newConfigParser(cfg *config, options flags.Options) *flags.Parser {
	return flags.NewParser(cfg, options)
}

// defaultConfig returns a config with every default applied.
func defaultConfig() config {
	return config{
		HomeDir:            defaultHomeDir,
		ConfigFile:         defaultConfigFile,
		DataDir:            defaultDataDir,
		LogDir:             defaultLogDir,
		LogSize:            defaultLogSize,
		MaxLogFiles:        defaultMaxLogFiles,
		DebugLevel:         defaultLogLevel,
		DarksendRounds:     mixing.DefaultRounds,
		AnonymizeAmount:    defaultAnonymizeAmount,
		MaxAttempts:        defaultMaxAttempts,
		LockConfirmations:  defaultLockConfirmations,
		MinMasternodeProto: defaultMinMasternodeProto,
		SimParticipants:    defaultSimParticipants,
		SimMasternodes:     defaultSimMasternodes,
		SimFunds:           defaultSimFunds,
		PhaseTimeout:       defaultPhaseTimeout,
	}
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in darksendd functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig(appName string) (*config, []string, error) {
	// Default config.
	cfg := defaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := newConfigParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, version.String())
		os.Exit(0)
	}

	// Update the home directory and the paths that depend on it when
	// specified.
	if preCfg.HomeDir != defaultHomeDir {
		cfg.HomeDir = cleanAndExpandPath(preCfg.HomeDir)
		if preCfg.ConfigFile == defaultConfigFile {
			preCfg.ConfigFile = filepath.Join(cfg.HomeDir, defaultConfigFilename)
		}
		cfg.DataDir = filepath.Join(cfg.HomeDir, defaultDataDirname)
		cfg.LogDir = filepath.Join(cfg.HomeDir, defaultLogDirname)
	}

	// Create a default config file from the sample when the default config
	// file does not exist.  Failing to create it is not fatal.
	configFile := cleanAndExpandPath(preCfg.ConfigFile)
	if configFile == filepath.Join(cfg.HomeDir, defaultConfigFilename) {
		if err := createDefaultConfigFile(configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating a default config "+
				"file: %v\n", err)
		}
	}

	// Load additional config from file.  A missing default config file is
	// not an error.
	parser := newConfigParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) || preCfg.ConfigFile != defaultConfigFile {
			err := fmt.Errorf("error parsing config file: %w", err)
			return nil, nil, err
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		return nil, nil, err
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	// Create the data directory if it doesn't already exist.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		// Show a nicer error message if it's because a symlink is linked
		// to a directory that does not exist (probably because it's not
		// mounted).
		var e *os.PathError
		if errors.As(err, &e) && os.IsExist(err) {
			if link, lerr := os.Readlink(e.Path); lerr == nil {
				str := "is symlink %s -> %s mounted?"
				err = fmt.Errorf(str, e.Path, link)
			}
		}
		str := "failed to create data directory: %v"
		return nil, nil, errSuppressUsage(fmt.Sprintf(str, err))
	}

	// Initialize log rotation.  After log rotation has been initialized, the
	// logger variables may be used.
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	if !cfg.NoFileLogging {
		logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
		err := initLogRotator(logFile, cfg.logSize, cfg.MaxLogFiles)
		if err != nil {
			return nil, nil, errSuppressUsage(err.Error())
		}
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, nil, err
	}

	return &cfg, remainingArgs, nil
}

// validate checks the parsed options and sets the derived fields.
func (cfg *config) validate() error {
	cfg.rounds = cfg.DarksendRounds
	if cfg.Privacy != "" {
		p, err := mixing.ParsePrivacy(cfg.Privacy)
		if err != nil {
			return err
		}
		cfg.rounds = p.Rounds()
	}
	if err := mixing.ValidateRounds(cfg.rounds); err != nil {
		return fmt.Errorf("darksendrounds: %w", err)
	}

	if cfg.Liquidity < 0 || cfg.Liquidity > mixing.MaxLiquidity {
		str := "liquidity must be between 0 and %d"
		return fmt.Errorf(str, mixing.MaxLiquidity)
	}
	if cfg.MaxAttempts < 1 {
		return errors.New("maxattempts must be positive")
	}
	if cfg.LockConfirmations < 1 {
		return errors.New("lockconfirmations must be positive")
	}
	if cfg.PhaseTimeout < time.Second {
		return errors.New("phasetimeout must be at least one second")
	}

	var err error
	cfg.anonymizeAmount, err = dcrutil.NewAmount(cfg.AnonymizeAmount)
	if err != nil || cfg.anonymizeAmount <= 0 {
		return fmt.Errorf("invalid anonymizeamount %v", cfg.AnonymizeAmount)
	}
	cfg.simFunds, err = dcrutil.NewAmount(cfg.SimFunds)
	if err != nil || cfg.simFunds <= 0 {
		return fmt.Errorf("invalid simfunds %v", cfg.SimFunds)
	}

	if cfg.SimParticipants < 0 {
		return errors.New("simparticipants must not be negative")
	}
	if cfg.SimMasternodes < 0 {
		return errors.New("simmasternodes must not be negative")
	}

	cfg.logSize, err = parseSize(cfg.LogSize)
	if err != nil {
		return fmt.Errorf("logsize: %w", err)
	}

	if cfg.Masternode {
		if cfg.MasternodePrivKey == "" {
			return errors.New("masternode requires masternodeprivkey")
		}
		cfg.mnPrivKey, err = masternode.ParsePrivKey(cfg.MasternodePrivKey)
		if err != nil {
			return err
		}
	} else if cfg.MasternodePrivKey != "" {
		return errors.New("masternodeprivkey requires masternode")
	}

	if cfg.MasternodeConf != "" {
		path := cleanAndExpandPath(cfg.MasternodeConf)
		f, err := os.Open(path)
		if err != nil {
			return errSuppressUsage(err.Error())
		}
		defer f.Close()
		cfg.mnConf, err = masternode.ParseConf(f)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	if cfg.MetricsListen != "" {
		cfg.MetricsListen = portToLocalHostAddr(cfg.MetricsListen)
		if err := validateListenAddr(cfg.MetricsListen); err != nil {
			return fmt.Errorf("metricslisten: %w", err)
		}
	}
	return nil
}
