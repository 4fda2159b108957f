// Command shardtracker tracks the replication progress of a single shard
// copy and exposes it as Prometheus metrics.
//
// Serve
//
// The subcommand "serve" runs the tracker of a single-copy primary. It
// periodically renews and persists its peer recovery retention leases and
// serves metrics on prometheus_listen_addr until interrupted:
//
//     shardtracker -config PATH_TO_CONFIG serve
//
// Simulate
//
// The subcommand "simulate" replays a TOML scenario of cluster state updates,
// checkpoint reports and lease operations against a tracker and prints the
// resulting state:
//
//     shardtracker -config PATH_TO_CONFIG simulate -scenario PATH_TO_SCENARIO
//
// Inspect Context
//
// The subcommand "inspect-context" decodes a primary context written during a
// relocation handoff and prints its content:
//
//     shardtracker inspect-context -file PATH_TO_CONTEXT
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"

	"gitlab.com/gitlab-org/shardtracker/internal/config"
	"gitlab.com/gitlab-org/shardtracker/internal/log"
	"gitlab.com/gitlab-org/shardtracker/internal/version"
)

const progname = "shardtracker"

var (
	flagConfig  = flag.String("config", "", "Location for the config.toml")
	flagVersion = flag.Bool("version", false, "Print version and exit")
)

type subcmd interface {
	FlagSet() *flag.FlagSet
	Exec(flags *flag.FlagSet, cfg config.Config) error
}

var subcommands = map[string]subcmd{
	serveCmdName:          newServeSubcommand(),
	simulateCmdName:       newSimulateSubcommand(os.Stdout),
	inspectContextCmdName: newInspectContextSubcommand(os.Stdout),
}

func main() {
	flag.Usage = func() {
		cmds := make([]string, 0, len(subcommands))
		for k := range subcommands {
			cmds = append(cmds, k)
		}
		sort.Strings(cmds)

		printfErr("Usage of %s:\n", progname)
		flag.PrintDefaults()
		printfErr("  subcommand\n")
		printfErr("\tOne of %s\n", strings.Join(cmds, ", "))
	}
	flag.Parse()

	// If invoked with -version
	if *flagVersion {
		fmt.Println(version.GetVersionString())
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*flagConfig)
	if err != nil {
		printfErr("%s: configuration error: %v\n", progname, err)
		os.Exit(1)
	}

	if err := log.Configure(log.Loggers, cfg.Logging.Format, cfg.Logging.Level); err != nil {
		printfErr("%s: configuration error: %v\n", progname, err)
		os.Exit(1)
	}

	os.Exit(subCommand(cfg, args[0], args[1:]))
}

// loadConfig reads the config file if one was given. Without a file the
// defaults and environment overrides apply.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Load(strings.NewReader(""))
	}
	return config.FromFile(path)
}

// subCommand returns an exit code, to be fed into os.Exit.
func subCommand(cfg config.Config, arg0 string, argRest []string) int {
	subcmd, ok := subcommands[arg0]
	if !ok {
		printfErr("%s: unknown subcommand: %q\n", progname, arg0)
		return 1
	}

	if arg0 != serveCmdName {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)

		go func() {
			<-interrupt
			os.Exit(130) // indicates program was interrupted
		}()
	}

	flags := subcmd.FlagSet()

	if err := flags.Parse(argRest); err != nil {
		printfErr("%s\n", err)
		return 1
	}

	if err := subcmd.Exec(flags, cfg); err != nil {
		printfErr("%s\n", err)
		return 1
	}

	return 0
}

type unexpectedPositionalArgsError struct{ Command string }

func (err unexpectedPositionalArgsError) Error() string {
	return fmt.Sprintf("%s doesn't accept positional arguments", err.Command)
}

func printfErr(format string, a ...interface{}) (int, error) {
	return fmt.Fprintf(os.Stderr, format, a...)
}
