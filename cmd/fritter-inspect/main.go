package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/beakerbrowser/libfritter"
	"github.com/beakerbrowser/libfritter/pkg/config"
	"github.com/beakerbrowser/libfritter/pkg/logger"
	"github.com/beakerbrowser/libfritter/pkg/store"
)

// fritter-inspect dumps the raw contents of a libfritter database: every
// record of one table (or all tables), as stored after preprocessing.
func main() {
	var (
		dbVal     string
		cfgVal    string
		tableVal  string
		originVal string
	)
	flag.StringVar(&dbVal, "db", "", "database path (overrides config)")
	flag.StringVar(&cfgVal, "config", "", "config file path")
	flag.StringVar(&tableVal, "table", "", "table to dump (default: all)")
	flag.StringVar(&originVal, "origin", "", "restrict dump to one origin")
	flag.Parse()

	_ = godotenv.Load(".env")
	cfg, err := config.Load(cfgVal)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.InitWithLevel(cfg.Logging.Level)

	dbPath := cfg.Storage.DBPath
	if dbVal != "" {
		dbPath = dbVal
	}
	if dbPath == "" {
		fmt.Fprintln(os.Stderr, "--db or storage.db_path required")
		os.Exit(2)
	}

	f, err := libfritter.Open(dbPath, libfritter.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	tables := []string{"profiles", "posts", "votes", "notifications"}
	if tableVal != "" {
		tables = []string{tableVal}
	}
	for _, name := range tables {
		t := f.Store.Table(name)
		if t == nil {
			fmt.Fprintf(os.Stderr, "unknown table %q\n", name)
			os.Exit(1)
		}
		if err := dump(t, originVal); err != nil {
			fmt.Fprintf(os.Stderr, "failed to dump %s: %v\n", name, err)
			os.Exit(1)
		}
	}
}

func dump(t *store.Table, origin string) error {
	q := t.OrderBy(":origin")
	if origin != "" {
		q = t.Where(":origin").Equals(origin)
	}
	n := 0
	err := q.Each(func(rec store.Record) error {
		fmt.Fprintf(os.Stdout, "%s\t%s\t%s\n", t.Name(), rec.URL, rec.Value)
		n++
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "# %s: %d record(s)\n", t.Name(), n)
	return nil
}
