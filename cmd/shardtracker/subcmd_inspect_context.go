package main

import (
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"strings"

	"gitlab.com/gitlab-org/shardtracker/internal/config"
	"gitlab.com/gitlab-org/shardtracker/internal/tracker"
)

const inspectContextCmdName = "inspect-context"

type inspectContextSubcommand struct {
	output io.Writer
	file   string
}

func newInspectContextSubcommand(output io.Writer) *inspectContextSubcommand {
	return &inspectContextSubcommand{output: output}
}

func (cmd *inspectContextSubcommand) FlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet(inspectContextCmdName, flag.ContinueOnError)
	fs.StringVar(&cmd.file, "file", "", "path of the encoded primary context")
	return fs
}

func (cmd *inspectContextSubcommand) Exec(flags *flag.FlagSet, _ config.Config) error {
	if flags.NArg() > 0 {
		return unexpectedPositionalArgsError{Command: flags.Name()}
	}

	if cmd.file == "" {
		return fmt.Errorf("%s: -file must be set", inspectContextCmdName)
	}

	data, err := ioutil.ReadFile(cmd.file)
	if err != nil {
		return fmt.Errorf("read primary context: %w", err)
	}

	pc, err := tracker.DecodePrimaryContext(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.output, "cluster state version: %d\n", pc.ClusterStateVersion)
	fmt.Fprintf(cmd.output, "shard: %s\n\n", pc.RoutingTable.ShardID)

	renderCheckpoints(cmd.output, pc.Checkpoints)
	fmt.Fprintln(cmd.output)
	renderRoutingTable(cmd.output, pc.RoutingTable)

	if group := pc.ReplicationGroup; group != nil {
		fmt.Fprintf(cmd.output, "\nreplication group version %d\n", group.Version())
		fmt.Fprintf(cmd.output, "  in sync: %s\n", strings.Join(group.InSyncAllocationIDs(), ", "))
		fmt.Fprintf(cmd.output, "  tracked: %s\n", strings.Join(group.TrackedAllocationIDs(), ", "))
		fmt.Fprintf(cmd.output, "  unavailable in sync: %s\n", strings.Join(group.UnavailableInSyncShards(), ", "))
	}

	return nil
}
