// Command hujra runs the student record service: the HTTP API plus one-shot
// maintenance commands for backups, reports and visit recording.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"hujra/internal/config"
)

var exitFunc = os.Exit

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string, stdout io.Writer) error
}

var commands = map[string]command{
	"serve":          {"serve the HTTP API", runServe},
	"students":       {"list students [-q term]", runStudents},
	"export":         {"write a backup document [-o file]", runExport},
	"import":         {"replace all records from a backup -i file -confirm", runImport},
	"archive":        {"store a backup in the archive store", runArchive},
	"archives":       {"list stored archives", runArchives},
	"restore":        {"replace all records from an archive -key key -confirm", runRestore},
	"report":         {"print the summary report", runReport},
	"record-visit":   {"record a visit from JSON -i file", runRecordVisit},
	"delete-student": {"delete a student and its visits -id id", runDeleteStudent},
	"analyze":        {"print the assessment for one student -id id", runAnalyze},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("hujra", flag.ContinueOnError)
	fs.SetOutput(stderr)
	env := fs.String("env", "", "configuration environment (default $HUJRA_ENV or development)")
	configDir := fs.String("config-dir", "", "directory holding <env>.yaml")
	fs.Usage = func() { usage(fs, stderr) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		usage(fs, stderr)
		return 2
	}
	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", name)
		usage(fs, stderr)
		return 2
	}

	cfg, err := loadConfig(*env, *configDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	a, err := bootstrap(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "startup: %v\n", err)
		return 1
	}
	defer a.close()

	if err := cmd.run(ctx, a, fs.Args()[1:], stdout); err != nil {
		if err == flag.ErrHelp {
			return 2
		}
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return 1
	}
	return 0
}

func loadConfig(env, dir string) (*config.Config, error) {
	if env == "" && dir == "" {
		return config.Load()
	}
	if env == "" {
		env = os.Getenv(config.EnvPrefix + "ENV")
	}
	if env == "" {
		env = config.DefaultEnv
	}
	if dir == "" {
		return config.LoadWithEnv(env, "config")
	}
	return config.LoadWithEnv(env, dir)
}

func usage(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: hujra [-env name] [-config-dir dir] <command> [flags]")
	_, _ = fmt.Fprintln(w, "\ncommands:")
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		_, _ = fmt.Fprintf(w, "  %-15s %s\n", n, commands[n].usage)
	}
	_, _ = fmt.Fprintln(w, "\nglobal flags:")
	fs.PrintDefaults()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func decodeJSON(r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	return nil
}
