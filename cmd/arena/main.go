// Command arena runs robot battles.
//
//	arena run -config <dir> -battle <file.yaml> [-seed n] [-no-upload]
//	arena validate <file.yaml>...
//	arena robots
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/OCAP2/arena/internal/loader"
	"github.com/OCAP2/arena/internal/robots"
	"github.com/OCAP2/arena/pkg/core"
)

// BuildDate can be set at build time via ldflags
var (
	Version   = "0.0.1"
	BuildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := dispatch(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func dispatch(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	var err error
	switch args[0] {
	case "run":
		err = runCommand(ctx, args[1:], stdout, stderr)
	case "validate":
		err = validateCommand(args[1:], stdout)
	case "robots":
		for _, name := range robots.Names() {
			fmt.Fprintln(stdout, name)
		}
	case "version":
		fmt.Fprintf(stdout, "arena %s (%s)\n", Version, BuildDate)
	case "help", "-h", "--help":
		usage(stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}

	if errors.Is(err, flag.ErrHelp) {
		return 2
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprint(w, `usage: arena <command> [arguments]

commands:
  run       run a battle file
  validate  check battle files without running them
  robots    list the bundled robots
  version   print the version
`)
}

func runCommand(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := options{}
	fs.StringVar(&opts.configDir, "config", ".", "directory containing arena.cfg.json")
	fs.StringVar(&opts.battlePath, "battle", "", "battle file to run")
	fs.Int64Var(&opts.seed, "seed", 0, "placement seed, overrides the battle file")
	fs.BoolVar(&opts.noUpload, "no-upload", false, "skip uploading the recording")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if opts.battlePath == "" && fs.NArg() == 1 {
		opts.battlePath = fs.Arg(0)
	}
	if opts.battlePath == "" {
		fs.Usage()
		return errors.New("a battle file is required")
	}
	return run(ctx, opts, stdout)
}

// validateCommand checks each file against the schema, the default rules
// and the robot registry.
func validateCommand(paths []string, stdout io.Writer) error {
	if len(paths) == 0 {
		return errors.New("no battle files given")
	}
	var errs []error
	for _, p := range paths {
		b, err := loader.Load(p, core.DefaultRules())
		if err == nil {
			if err = checkEntries(b.Robots); err != nil {
				err = fmt.Errorf("%s: %w", p, err)
			}
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(stdout, "%s: ok (%d robots, %d rounds)\n", p, len(b.Robots), b.Rules.NumRounds)
	}
	return errors.Join(errs...)
}

func checkEntries(descriptors []core.RobotDescriptor) error {
	for _, d := range descriptors {
		if _, err := robots.Lookup(d.Entry); err != nil {
			return err
		}
	}
	return nil
}
