// Command jsonblite is a small shell wrapper around the jsonblite engine,
// exposing its operations as subcommands: get, set, del, keys, dump, and
// vacuum against a single db file.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/mkaski/jsonblite"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "jsonblite: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("jsonblite", flag.ContinueOnError)
	dbPath := fs.String("db", "", "path to the JSONBLite file")
	verbose := fs.Bool("verbose", false, "enable informational logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("usage: jsonblite -db PATH <get|set|del|keys|dump|vacuum> [args...]")
	}
	if *dbPath == "" {
		return fmt.Errorf("-db is required")
	}

	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      levelFor(*verbose),
		TimeFormat: time.TimeOnly,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))

	db, err := jsonblite.Open(*dbPath, jsonblite.Verbose(*verbose), jsonblite.WithLogger(logger))
	if err != nil {
		return err
	}
	defer db.Close()

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "get":
		return runGet(db, cmdArgs)
	case "set":
		return runSet(db, cmdArgs)
	case "del":
		return runDel(db, cmdArgs)
	case "keys":
		return runKeys(db)
	case "dump":
		return db.Dump(os.Stdout)
	case "vacuum":
		return db.Vacuum()
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func levelFor(verbose bool) slog.Level {
	if verbose {
		return slog.LevelInfo
	}
	return slog.LevelWarn
}

func runGet(db *jsonblite.DB, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: get KEY")
	}
	var v any
	if err := db.Read(args[0], &v); err != nil {
		return err
	}
	enc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}

func runSet(db *jsonblite.DB, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: set KEY JSON_VALUE")
	}
	var v any
	if err := json.Unmarshal([]byte(args[1]), &v); err != nil {
		return fmt.Errorf("invalid JSON value: %w", err)
	}
	return db.Write(args[0], v)
}

func runDel(db *jsonblite.DB, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: del KEY")
	}
	return db.Delete(args[0])
}

func runKeys(db *jsonblite.DB) error {
	keys, err := db.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	return nil
}
