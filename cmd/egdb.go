package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/hashicorp/hcl"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	egdbCmd = &cobra.Command{
		Use:               "egdb",
		Short:             "An entity group datastore",
		Long:              "Egdb is a transactional datastore of entities grouped into entity groups.",
		PersistentPreRunE: egdbPreRun,
		PersistentPostRun: egdbPostRun,
		SilenceUsage:      true,
	}

	logFile   = "egdb.log"
	logLevel  = "info"
	logStderr = false
	logWriter io.WriteCloser

	configFile = "egdb.hcl"
	noConfig   = false

	cfgVars   = map[string]*pflag.Flag{}
	cfg       = map[string]interface{}{}
	usedFlags = map[string]struct{}{}
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
	})

	fs := egdbCmd.PersistentFlags()

	fs.StringVar(&logFile, "log-file", logFile, "`file` to use for logging")
	cfgVars["log-file"] = fs.Lookup("log-file")

	fs.StringVar(&logLevel, "log-level", logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
	cfgVars["log-level"] = fs.Lookup("log-level")

	fs.BoolVarP(&logStderr, "log-stderr", "s", logStderr, "log to standard error")

	fs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	fs.BoolVar(&noConfig, "no-config", noConfig, "don't load config file")
}

func Execute() error {
	return egdbCmd.Execute()
}

func egdbPreRun(cmd *cobra.Command, args []string) error {
	cmd.Flags().Visit(
		func(flg *pflag.Flag) {
			usedFlags[flg.Name] = struct{}{}
		})

	if configFile != "" && !noConfig {
		err := loadConfig()
		if err != nil {
			return fmt.Errorf("egdb: %s", err)
		}
	}

	if !logStderr && logFile != "" {
		var err error
		logWriter, err = os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			logWriter = nil
			return fmt.Errorf("egdb: %s", err)
		}
		log.SetOutput(logWriter)
	}

	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("egdb: %s", err)
	}
	log.SetLevel(ll)

	log.WithField("pid", os.Getpid()).Info("egdb starting")
	return nil
}

func egdbPostRun(cmd *cobra.Command, args []string) {
	log.WithField("pid", os.Getpid()).Info("egdb done")

	if logWriter != nil {
		logWriter.Close()
	}
}

// loadConfig reads the config file, if it exists, and sets each flag it
// names unless the flag was given on the command line.
func loadConfig() error {
	b, err := os.ReadFile(configFile)
	if os.IsNotExist(err) && !usedConfigFile() {
		return nil
	} else if err != nil {
		return err
	}

	err = hcl.Decode(&cfg, string(b))
	if err != nil {
		return err
	}

	for name, val := range cfg {
		flg, ok := cfgVars[name]
		if !ok {
			return fmt.Errorf("%s is not a config variable", name)
		}
		if _, ok := usedFlags[flg.Name]; ok {
			continue
		}
		err := flg.Value.Set(fmt.Sprintf("%v", val))
		if err != nil {
			return fmt.Errorf("%s: %s", name, err)
		}
	}

	return nil
}

func usedConfigFile() bool {
	_, ok := usedFlags["config-file"]
	return ok
}

// configRows lists every config variable with where its value came from:
// flag, config, or default.
func configRows() [][]string {
	var rows [][]string
	for name, flg := range cfgVars {
		var val, by string
		if _, ok := usedFlags[flg.Name]; ok {
			val = flg.Value.String()
			by = "flag"
		} else if obj, ok := cfg[name]; ok {
			switch obj.(type) {
			case []interface{}, map[string]interface{}, []map[string]interface{}:
				val = "..."
			default:
				val = fmt.Sprintf("%v", obj)
			}
			by = "config"
		} else {
			val = flg.DefValue
			by = "default"
		}
		rows = append(rows, []string{name, by, val})
	}
	sort.Slice(rows,
		func(i, j int) bool {
			return rows[i][0] < rows[j][0]
		})
	return rows
}
