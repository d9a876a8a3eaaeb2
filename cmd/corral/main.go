// Package main is the entry point for the corral CLI: create, list,
// start, stop, destroy, rename, message, exec, transcript, and enforce
// (spec §4.6, §4.9). There is no CLI framework in the dependency corpus
// this module is grounded on, so subcommands dispatch on os.Args[1] the
// way a small flag-based CLI conventionally does, with each subcommand
// owning its own flag.FlagSet.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/corralhq/corral/internal/engine"
	"github.com/corralhq/corral/internal/facade"
	"github.com/corralhq/corral/internal/host"
	"github.com/corralhq/corral/internal/ids"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	configPath := os.Getenv("CORRAL_CONFIG")
	f, err := facade.New(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "corral: failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	ctx := context.Background()
	cmd := os.Args[1]
	args := os.Args[2:]

	var cmdErr error
	switch cmd {
	case "create":
		cmdErr = runCreate(ctx, f, args)
	case "list":
		cmdErr = runList(ctx, f, args)
	case "start":
		cmdErr = runStart(ctx, f, args)
	case "stop":
		cmdErr = runStop(ctx, f, args)
	case "destroy":
		cmdErr = runDestroy(ctx, f, args)
	case "rename":
		cmdErr = runRename(ctx, f, args)
	case "message":
		cmdErr = runMessage(ctx, f, args)
	case "exec":
		cmdErr = runExec(ctx, f, args)
	case "transcript":
		cmdErr = runTranscript(ctx, f, args)
	case "enforce":
		cmdErr = runEnforce(ctx, f, args)
	default:
		fmt.Fprintf(os.Stderr, "corral: unknown command %q\n", cmd)
		usage()
		os.Exit(1)
	}

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "corral: %v\n", cmdErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: corral <command> [flags]

commands:
  create      provision a new agent
  list        list agents on a provider instance
  start       start a stopped agent
  stop        stop a running agent
  destroy     stop and remove an agent
  rename      rename an agent
  message     send text to an agent's session
  exec        run a one-shot command on an agent's host
  transcript  capture an agent's current terminal contents
  enforce     run one idle/timeout enforcement sweep`)
}

func instanceFlag(fs *flag.FlagSet) *string {
	return fs.String("instance", "default", "provider instance name")
}

func runCreate(ctx context.Context, f *facade.Facade, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	instance := instanceFlag(fs)
	name := fs.String("name", "", "agent name")
	agentType := fs.String("type", "", "agent type (see [agent_types.<name>])")
	command := fs.String("command", "", "space-separated command to run as the session leader")
	hostRef := fs.String("host", "", "existing host id or name to create the agent on")
	message := fs.String("message", "", "message to send once the agent is ready")
	envFile := fs.String("env-file", "", "path to a .env file to copy into the work dir")
	awaitReady := fs.Bool("await-ready", false, "block until the agent signals readiness")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("create: -name is required")
	}

	cmdParts := strings.Fields(*command)
	if *agentType != "" && cmdParts == nil {
		if at, ok := f.Config.AgentTypes[*agentType]; ok {
			cmdParts = append([]string{at.Command}, at.CLIArgs...)
		}
	}

	// Each invocation of this process handles exactly one command, so
	// rebuilding the engine here with a hook list scoped to this create
	// call's -env-file is simpler than threading per-call hook options
	// through Engine.Create.
	hooks := engine.DefaultHooks(*envFile)
	f.Engine = engine.New(f.Registry, f.Group, f.Log, f.Config.Prefix, hooks)

	result, err := f.Create(ctx, engine.HostTarget{
		ProviderInstance: ids.ProviderInstanceName(*instance),
		ExistingHostRef:  *hostRef,
	}, engine.CreateOptions{
		Name:        ids.AgentName(*name),
		Type:        *agentType,
		Command:     cmdParts,
		Message:     *message,
		AwaitReady:  *awaitReady,
		EnvFilePath: *envFile,
	})
	if err != nil {
		return err
	}
	return printJSON(result.Agent)
}

func runList(ctx context.Context, f *facade.Facade, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	instance := instanceFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	records, err := f.List(ctx, ids.ProviderInstanceName(*instance))
	if err != nil {
		return err
	}
	return printJSON(records)
}

func runStart(ctx context.Context, f *facade.Facade, args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	instance := instanceFlag(fs)
	message := fs.String("message", "", "message to resend once the agent is running")
	delay := fs.Duration("message-delay", 0, "delay before sending -message")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref := fs.Arg(0)
	if ref == "" {
		return fmt.Errorf("start: agent id or name is required")
	}
	record, err := f.Start(ctx, ids.ProviderInstanceName(*instance), ref, *message, *delay)
	if err != nil {
		return err
	}
	return printJSON(record)
}

func runStop(ctx context.Context, f *facade.Facade, args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	instance := instanceFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref := fs.Arg(0)
	if ref == "" {
		return fmt.Errorf("stop: agent id or name is required")
	}
	record, err := f.Stop(ctx, ids.ProviderInstanceName(*instance), ref)
	if err != nil {
		return err
	}
	return printJSON(record)
}

func runDestroy(ctx context.Context, f *facade.Facade, args []string) error {
	fs := flag.NewFlagSet("destroy", flag.ExitOnError)
	instance := instanceFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref := fs.Arg(0)
	if ref == "" {
		return fmt.Errorf("destroy: agent id or name is required")
	}
	return f.Destroy(ctx, ids.ProviderInstanceName(*instance), ref)
}

func runRename(ctx context.Context, f *facade.Facade, args []string) error {
	fs := flag.NewFlagSet("rename", flag.ExitOnError)
	instance := instanceFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("rename: usage is rename <agent> <new-name>")
	}
	record, err := f.Rename(ctx, ids.ProviderInstanceName(*instance), fs.Arg(0), ids.AgentName(fs.Arg(1)))
	if err != nil {
		return err
	}
	return printJSON(record)
}

func runMessage(ctx context.Context, f *facade.Facade, args []string) error {
	fs := flag.NewFlagSet("message", flag.ExitOnError)
	instance := instanceFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("message: usage is message <agent> <text>")
	}
	return f.Message(ctx, ids.ProviderInstanceName(*instance), fs.Arg(0), strings.Join(fs.Args()[1:], " "))
}

func runExec(ctx context.Context, f *facade.Facade, args []string) error {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	instance := instanceFlag(fs)
	timeout := fs.Duration("timeout", 30*time.Second, "command timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("exec: usage is exec <agent> <command...>")
	}
	result, err := f.Exec(ctx, ids.ProviderInstanceName(*instance), fs.Arg(0), fs.Args()[1:], host.ExecOptions{Timeout: *timeout})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runTranscript(ctx context.Context, f *facade.Facade, args []string) error {
	fs := flag.NewFlagSet("transcript", flag.ExitOnError)
	instance := instanceFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ref := fs.Arg(0)
	if ref == "" {
		return fmt.Errorf("transcript: agent id or name is required")
	}
	text, err := f.Transcript(ctx, ids.ProviderInstanceName(*instance), ref)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

func runEnforce(ctx context.Context, f *facade.Facade, args []string) error {
	fs := flag.NewFlagSet("enforce", flag.ExitOnError)
	idleTimeout := fs.Duration("idle-timeout", 30*time.Minute, "host idle timeout")
	idlePolicy := fs.String("idle-policy", "stop", "stop or destroy")
	dryRun := fs.Bool("dry-run", false, "report violations without acting on them")
	if err := fs.Parse(args); err != nil {
		return err
	}
	result := f.Enforce(ctx, engine.EnforceOptions{
		Providers:     f.Registry.List(),
		CheckIdle:     true,
		CheckTimeouts: true,
		Timeouts:      engine.Timeouts{Idle: *idleTimeout},
		IdlePolicy:    *idlePolicy,
		DryRun:        *dryRun,
		ErrorBehavior: engine.ErrorBehaviorContinue,
	})
	return printJSON(result)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
