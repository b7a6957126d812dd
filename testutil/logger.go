package testutil

import (
	"flag"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

var (
	testLogFile  = flag.String("log-file", "", "`file` to use for logging instead of testdata")
	testLogLevel = flag.String("log-level", "info",
		"log level: trace, debug, info, warn, error, fatal, or panic")
	testLogStderr = flag.Bool("log-stderr", false, "log to standard error")
)

// SetupLogger sends the standard logger to file, or to the -log-file test
// flag, appending to what is there; -log-stderr leaves it on standard error.
// The logger is returned for backends which take one.
func SetupLogger(file string) *log.Logger {
	if !*testLogStderr {
		if *testLogFile != "" {
			file = *testLogFile
		}
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			panic(err)
		}
		w, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			panic(err)
		}
		log.SetOutput(w)
	}

	ll, err := log.ParseLevel(*testLogLevel)
	if err != nil {
		panic(err)
	}
	log.SetLevel(ll)
	log.SetFormatter(&log.TextFormatter{DisableLevelTruncation: true})

	log.WithFields(log.Fields{"pid": os.Getpid(), "file": file}).Info("egdb tests starting")
	return log.StandardLogger()
}
