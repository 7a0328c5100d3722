// Command lobster runs typed workflow pipelines with approval gates.
//
// Usage:
//
//	lobster run <workflow> [--var key=value ...]
//	lobster resume <run-id>
//	lobster approve <run-id> [--by <name>]
//	lobster reject <run-id> [--by <name>] [--reason <text>]
//	lobster cancel <run-id> [--reason <text>]
//	lobster status <run-id>
//	lobster list
//	lobster pending
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"

	"github.com/bigdegenenergy/open-cloud-ops/internal/definition"
	"github.com/bigdegenenergy/open-cloud-ops/internal/engine"
	"github.com/bigdegenenergy/open-cloud-ops/internal/gates"
	"github.com/bigdegenenergy/open-cloud-ops/internal/logging"
	"github.com/bigdegenenergy/open-cloud-ops/internal/statestore"
	"github.com/bigdegenenergy/open-cloud-ops/pkg/schema"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// consoleNotifier prints approval requests to stdout when a gate pauses.
type consoleNotifier struct{}

func (consoleNotifier) Notify(_ context.Context, request *schema.ApprovalRequest) error {
	fmt.Println(gates.FormatApprovalMessage(request))
	return nil
}

func run(args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("missing command")
	}

	cfg := loadConfig()

	handler := tint.NewHandler(os.Stderr, &tint.Options{Level: cfg.slogLevel()})
	logger := slog.New(logging.NewCorrelationHandler(handler))
	slog.SetDefault(logger)

	store, err := statestore.New(cfg.StateDir)
	if err != nil {
		return err
	}
	loader, err := definition.NewLoader(cfg.DefinitionsDir)
	if err != nil {
		return err
	}
	eng := engine.New(store,
		engine.WithLogger(logger),
		engine.WithNotifier(consoleNotifier{}),
	)

	ctx := context.Background()
	command, rest := args[0], args[1:]

	switch command {
	case "run":
		return cmdRun(ctx, eng, loader, rest)
	case "resume":
		return cmdResume(ctx, eng, loader, rest)
	case "approve":
		return cmdApprove(ctx, eng, rest)
	case "reject":
		return cmdReject(ctx, eng, rest)
	case "cancel":
		return cmdCancel(ctx, eng, rest)
	case "status":
		return cmdStatus(ctx, eng, rest)
	case "list":
		return cmdList(ctx, eng)
	case "pending":
		return cmdPending(ctx, eng)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: lobster <run|resume|approve|reject|cancel|status|list|pending> [args]")
}

func cmdRun(ctx context.Context, eng *engine.Engine, loader *definition.Loader, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var vars varFlags
	fs.Var(&vars, "var", "workflow variable as key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("run: expected exactly one workflow name")
	}

	def, err := loader.Load(fs.Arg(0))
	if err != nil {
		return err
	}

	state, err := eng.Run(ctx, def, vars.values)
	if err != nil {
		return err
	}
	return printState(state)
}

func cmdResume(ctx context.Context, eng *engine.Engine, loader *definition.Loader, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("resume: expected exactly one run id")
	}

	state, err := eng.Resume(ctx, args[0])
	if err != nil {
		return err
	}

	// If the gate resolved, keep driving execution from the next step.
	if state.Status == schema.WorkflowStatusRunning && state.CurrentStep != nil {
		def, err := loader.Load(state.WorkflowName)
		if err != nil {
			return err
		}
		for index := *state.CurrentStep + 1; ; index++ {
			var cont bool
			state, cont, err = eng.ExecuteStep(ctx, def, state, index)
			if err != nil {
				return err
			}
			if !cont {
				break
			}
		}
	}
	return printState(state)
}

func cmdApprove(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("approve", flag.ExitOnError)
	by := fs.String("by", "user", "who approved")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("approve: expected exactly one run id")
	}

	state, err := eng.Approve(ctx, fs.Arg(0), *by)
	if err != nil {
		return err
	}
	return printState(state)
}

func cmdReject(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("reject", flag.ExitOnError)
	by := fs.String("by", "user", "who rejected")
	reason := fs.String("reason", "", "rejection reason")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("reject: expected exactly one run id")
	}

	state, err := eng.Reject(ctx, fs.Arg(0), *by, *reason)
	if err != nil {
		return err
	}
	return printState(state)
}

func cmdCancel(ctx context.Context, eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	reason := fs.String("reason", "", "cancellation reason")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("cancel: expected exactly one run id")
	}

	state, err := eng.Cancel(ctx, fs.Arg(0), *reason)
	if err != nil {
		return err
	}
	return printState(state)
}

func cmdStatus(ctx context.Context, eng *engine.Engine, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("status: expected exactly one run id")
	}
	state, err := eng.Status(ctx, args[0])
	if err != nil {
		return err
	}
	return printState(state)
}

func cmdList(ctx context.Context, eng *engine.Engine) error {
	active, err := eng.ListActive(ctx)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		fmt.Println("no active runs")
		return nil
	}
	for _, state := range active {
		step := "-"
		if state.PendingApproval != "" {
			step = "awaiting approval: " + state.PendingApproval
		} else if state.CurrentStep != nil {
			step = fmt.Sprintf("step %d", *state.CurrentStep)
		}
		fmt.Printf("%s\t%s\t%s\n", state.RunID, state.Status, step)
	}
	return nil
}

func cmdPending(ctx context.Context, eng *engine.Engine) error {
	pending, err := eng.ListPendingApprovals(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("no pending approvals")
		return nil
	}
	for _, request := range pending {
		fmt.Println(gates.FormatApprovalMessage(request))
		fmt.Println()
	}
	return nil
}

func printState(state *schema.WorkflowState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// varFlags collects repeated --var key=value flags.
type varFlags struct {
	values map[string]any
}

func (v *varFlags) String() string { return "" }

func (v *varFlags) Set(raw string) error {
	key, value, found := strings.Cut(raw, "=")
	if !found || key == "" {
		return fmt.Errorf("expected key=value, got %q", raw)
	}
	if v.values == nil {
		v.values = map[string]any{}
	}
	v.values[key] = value
	return nil
}
