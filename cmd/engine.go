package cmd

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/leftmike/egdb/engine"
	"github.com/leftmike/egdb/kv"
	"github.com/leftmike/egdb/store"
)

var (
	storeType      = "memory"
	dataDir        = "testdata"
	app            = "egdb"
	consistency    = "strong"
	probability    = 0.5
	seed           uint64
	requireIndexes = false
	autoID         = "sequential"
	maxGroups      = engine.MaxGroupsPerTxn
)

func initEngineFlags(fs *pflag.FlagSet) {
	fs.StringVar(&storeType, "store", storeType,
		"storage engine to use: "+strings.Join(kv.Stores(), ", "))
	cfgVars["store"] = fs.Lookup("store")

	fs.StringVar(&dataDir, "data", dataDir, "`directory` containing the store")
	cfgVars["data"] = fs.Lookup("data")

	fs.StringVar(&app, "app", app, "`application` to run commands as")
	cfgVars["app"] = fs.Lookup("app")

	fs.StringVar(&consistency, "consistency", consistency,
		"consistency policy: strong, time-based, or probability")
	cfgVars["consistency"] = fs.Lookup("consistency")

	fs.Float64Var(&probability, "probability", probability,
		"probability that a commit is applied right away by the probability policy")
	cfgVars["probability"] = fs.Lookup("probability")

	fs.Uint64Var(&seed, "seed", seed, "`seed` for the time-based and probability policies")
	cfgVars["seed"] = fs.Lookup("seed")

	fs.BoolVar(&requireIndexes, "require-indexes", requireIndexes,
		"fail queries which need a composite index that is not serving")
	cfgVars["require-indexes"] = fs.Lookup("require-indexes")

	fs.StringVar(&autoID, "auto-id", autoID, "id policy for new keys: sequential or scattered")
	cfgVars["auto-id"] = fs.Lookup("auto-id")

	fs.IntVar(&maxGroups, "max-groups", maxGroups,
		"maximum entity groups in a cross group transaction")
	cfgVars["max-groups"] = fs.Lookup("max-groups")
}

func newPolicy() (engine.Policy, error) {
	switch consistency {
	case "strong":
		return engine.Strong{}, nil
	case "time-based":
		return engine.NewTimeBased(nil, seed)
	case "probability":
		return engine.NewFixedProbability(probability, seed)
	}
	return nil, fmt.Errorf("got %s for consistency; want strong, time-based, or probability",
		consistency)
}

func logAction(ctx context.Context, app string, a engine.Action) error {
	log.WithFields(log.Fields{"app": app, "action": a.Name, "payload": len(a.Payload)}).
		Info("action")
	return nil
}

func newEngine() (*engine.Engine, error) {
	policy, err := newPolicy()
	if err != nil {
		return nil, fmt.Errorf("egdb: %s", err)
	}
	aip, err := engine.ParseAutoIDPolicy(autoID)
	if err != nil {
		return nil, fmt.Errorf("egdb: %s", err)
	}

	st, err := store.Open(storeType, dataDir, log.StandardLogger())
	if err != nil {
		return nil, fmt.Errorf("egdb: %s", err)
	}

	e, err := engine.New(engine.Config{
		Store:           st,
		Policy:          policy,
		RequireIndexes:  requireIndexes,
		MaxGroupsPerTxn: maxGroups,
		AutoIDPolicy:    aip,
		Actions:         logAction,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("egdb: %s", err)
	}
	return e, nil
}
