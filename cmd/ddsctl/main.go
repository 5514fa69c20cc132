// Command ddsctl is the bench tool for OpenSynthCore: it runs the
// two-channel demo directly against the hardware, checks register
// configuration documents, prepares auth entries for the config file and
// follows the event stream of a running server.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/pflag"
)

type command struct {
	summary string
	run     func(args []string) error
}

var commands = map[string]command{
	"demo":          {"initialize the board and drive both channels", runDemo},
	"check-config":  {"parse a register configuration document", runCheckConfig},
	"hash-password": {"print an argon2id hash for auth.users", runHashPassword},
	"new-token":     {"print a machine token and its hash for auth.machine_tokens", runNewToken},
	"watch":         {"print events streamed by a running server", runWatch},
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: ddsctl <command> [flags]\n\ncommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-14s %s\n", name, commands[name].summary)
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, ok := commands[os.Args[1]]
	if !ok {
		if os.Args[1] != "-h" && os.Args[1] != "--help" && os.Args[1] != "help" {
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		}
		usage()
		os.Exit(2)
	}

	if err := cmd.run(os.Args[2:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "ddsctl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("ddsctl "+name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}
