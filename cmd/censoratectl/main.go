// Command censoratectl is the CLI client for the network-configuration
// daemon: a thin wrapper over internal/netconn's one-request-per-
// connection protocol.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/nispor/censorate/internal/event"
	"github.com/nispor/censorate/internal/netconn"
	"github.com/nispor/censorate/internal/netstate"
	"github.com/nispor/censorate/internal/tui"
)

const defaultSocket = "/run/censorate/censorate.sock"

// Exit codes per spec §6.2: 0 success, 1 usage/client-side error, 2
// daemon-reported (remote) error.
const (
	exitOK       = 0
	exitUsage    = 1
	exitRemote   = 2
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(args []string) int {
	if len(args) < 1 {
		printUsage()
		return exitUsage
	}
	cmd := args[0]
	rest := args[1:]

	switch cmd {
	case "show", "s":
		return runShow(rest)
	case "apply":
		return runApply(rest)
	case "set":
		return runApply(rest)
	case "commit":
		return runCommit(rest)
	case "rollback":
		return runRollback(rest)
	case "plugins":
		return runPlugins(rest)
	case "loglevel":
		return runLogLevel(rest)
	case "quit":
		return runQuit(rest)
	case "watch":
		return runWatch(rest)
	case "help", "-h", "--help":
		printUsage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		return exitUsage
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: censoratectl <command> [flags]

Commands:
  show, s [--diff|-d] [--saved|-s]   query network state (default: saved)
  apply, set -f <file.yaml>          apply a desired network state
  commit                             persist the currently running state
  rollback                           re-apply the last committed state
  plugins                            list connected plugins
  loglevel [--set <level>]           query or change the plugins' log levels
  quit                               ask the daemon to shut down
  watch [--api-url URL] [--api-key K]  live dashboard over the introspection API`)
}

func socketFlag(fs *flag.FlagSet) *string {
	return fs.String("socket", defaultSocket, "daemon user socket path")
}

func timeoutFlag(fs *flag.FlagSet) *uint {
	return fs.Uint("timeout-ms", 0, "workflow timeout in milliseconds (0: daemon default)")
}

func dial(socket string) (*netconn.Client, int) {
	c, err := netconn.Dial(socket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "censoratectl: %v\n", err)
		return nil, exitUsage
	}
	return c, exitOK
}

func runShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	diff := fs.Bool("diff", false, "show the running-vs-last-commit diff")
	fs.BoolVar(diff, "d", false, "shorthand for --diff")
	saved := fs.Bool("saved", false, "show the saved (config-plugin) state")
	fs.BoolVar(saved, "s", false, "shorthand for --saved")
	socket := socketFlag(fs)
	timeout := timeoutFlag(fs)
	jsonOut := fs.Bool("json", false, "print as JSON instead of YAML")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *diff && *saved {
		fmt.Fprintln(os.Stderr, "censoratectl: --diff and --saved are mutually exclusive")
		return exitUsage
	}

	opt := netstate.Saved()
	if *diff {
		opt = netstate.Running()
	}

	c, code := dial(*socket)
	if c == nil {
		return code
	}
	defer c.Close()

	reply, err := c.Request(event.QueryNetState(opt), uint32(*timeout))
	if err != nil {
		fmt.Fprintf(os.Stderr, "censoratectl: %v\n", err)
		return exitRemote
	}

	var state netstate.NetworkState
	if reply.NetState != nil {
		state = *reply.NetState
	}

	if *diff {
		c2, code := dial(*socket)
		if c2 == nil {
			return code
		}
		defer c2.Close()
		lastReply, err := c2.Request(event.QueryNetState(netstate.PostLastCommit()), uint32(*timeout))
		if err != nil {
			fmt.Fprintf(os.Stderr, "censoratectl: %v\n", err)
			return exitRemote
		}
		var lastCommit netstate.NetworkState
		if lastReply.NetState != nil {
			lastCommit = *lastReply.NetState
		}
		m, err := netstate.NewMergedNetworkState(state, lastCommit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "censoratectl: %v\n", err)
			return exitRemote
		}
		return printState(m.GenDiff(), *jsonOut)
	}
	return printState(state, *jsonOut)
}

func printState(v any, asJSON bool) int {
	if asJSON {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "censoratectl: encode output: %v\n", err)
			return exitUsage
		}
		fmt.Println(string(b))
		return exitOK
	}
	b, err := yaml.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "censoratectl: encode output: %v\n", err)
		return exitUsage
	}
	fmt.Print(string(b))
	return exitOK
}

func runApply(args []string) int {
	fs := flag.NewFlagSet("apply", flag.ContinueOnError)
	file := fs.String("f", "", "path to a YAML network state file")
	noVerify := fs.Bool("no-verify", false, "skip post-apply verification")
	memory := fs.Bool("memory", false, "apply without committing to saved config")
	socket := socketFlag(fs)
	timeout := timeoutFlag(fs)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "censoratectl: -f <file.yaml> is required")
		return exitUsage
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "censoratectl: read %s: %v\n", *file, err)
		return exitUsage
	}
	var desired netstate.NetworkState
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&desired); err != nil {
		fmt.Fprintf(os.Stderr, "censoratectl: parse %s: %v\n", *file, err)
		return exitUsage
	}

	c, code := dial(*socket)
	if c == nil {
		return code
	}
	defer c.Close()

	applyOpt := netstate.ApplyOption{NoVerify: *noVerify, Memory: *memory}
	if _, err := c.Request(event.ApplyNetState(desired, applyOpt), uint32(*timeout)); err != nil {
		fmt.Fprintf(os.Stderr, "censoratectl: apply failed: %v\n", err)
		return exitRemote
	}
	fmt.Println("state applied")
	return exitOK
}

func runCommit(args []string) int {
	fs := flag.NewFlagSet("commit", flag.ContinueOnError)
	socket := socketFlag(fs)
	timeout := timeoutFlag(fs)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	c, code := dial(*socket)
	if c == nil {
		return code
	}
	defer c.Close()

	reply, err := c.Request(event.QueryNetState(netstate.Running()), uint32(*timeout))
	if err != nil {
		fmt.Fprintf(os.Stderr, "censoratectl: %v\n", err)
		return exitRemote
	}
	var running netstate.NetworkState
	if reply.NetState != nil {
		running = *reply.NetState
	}
	c2, code := dial(*socket)
	if c2 == nil {
		return code
	}
	defer c2.Close()
	if _, err := c2.Request(event.ApplyNetState(running, netstate.ApplyOption{}), uint32(*timeout)); err != nil {
		fmt.Fprintf(os.Stderr, "censoratectl: commit failed: %v\n", err)
		return exitRemote
	}
	fmt.Println("running state committed")
	return exitOK
}

func runRollback(args []string) int {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	socket := socketFlag(fs)
	timeout := timeoutFlag(fs)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	c, code := dial(*socket)
	if c == nil {
		return code
	}
	defer c.Close()

	reply, err := c.Request(event.QueryNetState(netstate.PostLastCommit()), uint32(*timeout))
	if err != nil {
		fmt.Fprintf(os.Stderr, "censoratectl: %v\n", err)
		return exitRemote
	}
	var last netstate.NetworkState
	if reply.NetState != nil {
		last = *reply.NetState
	}
	c2, code := dial(*socket)
	if c2 == nil {
		return code
	}
	defer c2.Close()
	if _, err := c2.Request(event.ApplyNetState(last, netstate.ApplyOption{}), uint32(*timeout)); err != nil {
		fmt.Fprintf(os.Stderr, "censoratectl: rollback failed: %v\n", err)
		return exitRemote
	}
	fmt.Println("rolled back to last commit")
	return exitOK
}

func runPlugins(args []string) int {
	fs := flag.NewFlagSet("plugins", flag.ContinueOnError)
	socket := socketFlag(fs)
	timeout := timeoutFlag(fs)
	jsonOut := fs.Bool("json", false, "print as JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	c, code := dial(*socket)
	if c == nil {
		return code
	}
	defer c.Close()

	reply, err := c.Request(event.QueryPluginInfo(), uint32(*timeout))
	if err != nil {
		fmt.Fprintf(os.Stderr, "censoratectl: %v\n", err)
		return exitRemote
	}
	if *jsonOut {
		return printState(reply.PluginInfos, true)
	}
	for _, info := range reply.PluginInfos {
		fmt.Printf("%-24s %v\n", info.Name, info.Roles)
	}
	return exitOK
}

func runLogLevel(args []string) int {
	fs := flag.NewFlagSet("loglevel", flag.ContinueOnError)
	set := fs.String("set", "", "change every plugin's log level (error|warn|info|debug|trace)")
	socket := socketFlag(fs)
	timeout := timeoutFlag(fs)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	c, code := dial(*socket)
	if c == nil {
		return code
	}
	defer c.Close()

	if *set != "" {
		level := event.ParseLogLevel(*set)
		if _, err := c.Request(event.ChangeLogLevel(level), uint32(*timeout)); err != nil {
			fmt.Fprintf(os.Stderr, "censoratectl: %v\n", err)
			return exitRemote
		}
		fmt.Printf("log level set to %s\n", level)
		return exitOK
	}

	reply, err := c.Request(event.QueryLogLevel(), uint32(*timeout))
	if err != nil {
		fmt.Fprintf(os.Stderr, "censoratectl: %v\n", err)
		return exitRemote
	}
	for name, level := range reply.LogLevels {
		fmt.Printf("%-24s %s\n", name, level)
	}
	return exitOK
}

func runQuit(args []string) int {
	fs := flag.NewFlagSet("quit", flag.ContinueOnError)
	socket := socketFlag(fs)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	c, code := dial(*socket)
	if c == nil {
		return code
	}
	defer c.Close()

	if _, err := c.Request(event.Quit(), uint32(5*time.Second/time.Millisecond)); err != nil {
		fmt.Fprintf(os.Stderr, "censoratectl: %v\n", err)
		return exitRemote
	}
	fmt.Println("daemon shutting down")
	return exitOK
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "introspection API base URL")
	apiKey := fs.String("api-key", os.Getenv("CENSORATE_API_KEY"), "introspection API bearer token")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "censoratectl: --api-key or CENSORATE_API_KEY is required")
		return exitUsage
	}

	m := tui.New(*apiURL, *apiKey)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "censoratectl: watch: %v\n", err)
		return exitUsage
	}
	return exitOK
}
