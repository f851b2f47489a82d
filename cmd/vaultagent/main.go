package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"vaultagent/internal/config"
	"vaultagent/internal/runstore"
	"vaultagent/internal/runtime"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	var code int
	switch os.Args[1] {
	case "init":
		code = handleInit(os.Args[2:], os.Stdout, os.Stderr)
	case "run":
		code = handleRun(ctx, os.Args[2:], os.Stdin, os.Stdout, os.Stderr)
	case "runs":
		code = handleRuns(ctx, os.Args[2:], os.Stdout, os.Stderr)
	case "doctor":
		code = handleDoctor(os.Args[2:], os.Stdout, os.Stderr)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand: %s\n\n", os.Args[1])
		printUsage(os.Stderr)
		code = 2
	}

	os.Exit(code)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: vaultagent <subcommand> [flags]")
	fmt.Fprintln(w, "subcommands: init, run, runs, doctor")
}

func handleInit(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(errOut)
	dir := fs.String("dir", ".", "workspace directory")
	force := fs.Bool("force", false, "overwrite existing config")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	engine, err := runtime.NewEngine(*dir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if err := engine.Init(*force); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintf(out, "initialized workspace %s\nconfig: %s\n", *dir, engine.ConfigPath())
	return 0
}

func handleRun(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(errOut)
	dir := fs.String("dir", ".", "workspace directory")
	message := fs.String("message", "", "task message")
	messageFile := fs.String("file", "", "read the task message from a file")
	quiet := fs.Bool("quiet", false, "print only the final content")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	task := strings.TrimSpace(*message)
	if task == "" && *messageFile != "" {
		b, err := os.ReadFile(*messageFile)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		task = strings.TrimSpace(string(b))
	}
	if task == "" && fs.NArg() > 0 {
		task = strings.TrimSpace(strings.Join(fs.Args(), " "))
	}
	if task == "" {
		fmt.Fprintln(errOut, "a task message is required: -message, -file, or trailing arguments")
		return 2
	}

	engine, err := runtime.NewEngine(*dir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	engine.Prompter = &stdinPrompter{in: bufio.NewReader(in), out: errOut}

	res, err := engine.Execute(ctx, task)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	if *quiet {
		fmt.Fprintln(out, res.Content)
		return exitCodeForStatus(res.Status)
	}

	fmt.Fprintf(out, "run %s status=%s iterations=%d tool_calls=%d duration=%dms\n\n", res.RunID, res.Status, res.Iterations, res.ToolCalls, res.DurationMS)
	fmt.Fprintln(out, res.Content)
	return exitCodeForStatus(res.Status)
}

// exitCodeForStatus keeps truncated runs visible to scripts without
// treating them as hard failures.
func exitCodeForStatus(status string) int {
	if status == "finished" {
		return 0
	}
	return 3
}

func handleRuns(ctx context.Context, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(errOut)
	dir := fs.String("dir", ".", "workspace directory")
	limit := fs.Int("limit", 20, "maximum runs to list")
	show := fs.String("show", "", "print one run with its tool calls")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	engine, err := runtime.NewEngine(*dir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	cfg, err := config.LoadOrDefault(engine.ConfigPath())
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if strings.TrimSpace(cfg.Agent.HistoryFile) == "" {
		fmt.Fprintln(errOut, "run history is disabled (agent.history_file is empty)")
		return 1
	}
	dbPath := config.ResolveRelative(engine.ConfigPath(), cfg.Agent.HistoryFile)
	if _, statErr := os.Stat(dbPath); statErr != nil {
		fmt.Fprintln(out, "no runs recorded")
		return 0
	}

	store, err := runstore.Open(dbPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer store.Close()

	if id := strings.TrimSpace(*show); id != "" {
		return printRun(ctx, store, id, out, errOut)
	}

	runs, err := store.ListRuns(ctx, *limit)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return 0
	}
	for _, run := range runs {
		fmt.Fprintf(out, "%s  %-22s  %-10s  iter=%d  %q\n", run.ID, humanize.Time(run.StartedAt), run.Status, run.Iterations, truncate(run.Message, 60))
	}
	return 0
}

func printRun(ctx context.Context, store *runstore.Store, id string, out, errOut io.Writer) int {
	run, err := store.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, runstore.ErrNotFound) {
			fmt.Fprintf(errOut, "run %s not found\n", id)
			return 1
		}
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintf(out, "run %s status=%s iterations=%d started=%s\n", run.ID, run.Status, run.Iterations, run.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "message: %s\n", run.Message)
	for _, call := range run.Calls {
		state := "ok"
		if !call.Success {
			state = "error: " + call.Error
		}
		fmt.Fprintf(out, "  %2d. %-10s %s\n", call.Ordinal, call.Tool, state)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, run.Content)
	return 0
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func handleDoctor(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(errOut)
	dir := fs.String("dir", ".", "workspace directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	engine, err := runtime.NewEngine(*dir)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	healthy := true
	report := func(name, state string, ok bool) {
		marker := "ok"
		if !ok {
			marker = "!!"
			healthy = false
		}
		fmt.Fprintf(out, "[%s] %-8s %s\n", marker, name, state)
	}

	cfgPath := engine.ConfigPath()
	cfg, cfgErr := config.LoadOrDefault(cfgPath)
	if cfgErr != nil {
		report("config", cfgErr.Error(), false)
	} else if !fileExists(cfgPath) {
		report("config", "missing (defaults in effect; run `vaultagent init`)", true)
	} else {
		report("config", cfgPath, true)
	}

	if cfgErr == nil {
		vaultRoot := cfg.Vault.Root
		if !filepath.IsAbs(vaultRoot) {
			vaultRoot = filepath.Join(*dir, vaultRoot)
		}
		if fileExists(vaultRoot) {
			report("vault", vaultRoot, true)
		} else {
			report("vault", vaultRoot+" (missing; run `vaultagent init`)", false)
		}

		keyState := "inline key not required"
		keyOK := true
		if env := strings.TrimSpace(cfg.Model.APIKeyEnv); env != "" {
			if strings.TrimSpace(os.Getenv(env)) == "" {
				keyState = env + " is not set"
				keyOK = false
			} else {
				keyState = env + " is set"
			}
		}
		report("model", cfg.Model.Name+" @ "+cfg.Model.BaseURL+" ("+keyState+")", keyOK)
	}

	if healthy {
		fmt.Fprintln(out, "doctor: ok")
		return 0
	}
	fmt.Fprintln(out, "doctor: problems found")
	return 1
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// stdinPrompter renders ask_human questions on the terminal and reads the
// answer from standard input. Output goes to stderr so -quiet runs keep
// stdout clean for the final content.
type stdinPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *stdinPrompter) Prompt(ctx context.Context, req runtime.PromptRequest, respond runtime.RespondFunc) {
	fmt.Fprintf(p.out, "\n[input needed] %s\n", req.Question)
	for i, choice := range req.Choices {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, choice)
	}
	switch {
	case len(req.Choices) > 0 && req.AllowCustom:
		fmt.Fprint(p.out, "pick a number or type an answer: ")
	case len(req.Choices) > 0:
		fmt.Fprint(p.out, "pick a number: ")
	case req.Placeholder != "":
		fmt.Fprintf(p.out, "answer (%s): ", req.Placeholder)
	default:
		fmt.Fprint(p.out, "answer: ")
	}

	line, err := p.in.ReadString('\n')
	if err != nil && strings.TrimSpace(line) == "" {
		return
	}
	line = strings.TrimSpace(line)

	if len(req.Choices) > 0 {
		if idx, convErr := strconv.Atoi(line); convErr == nil && idx >= 1 && idx <= len(req.Choices) {
			respond(req.Choices[idx-1], idx-1, false)
			return
		}
		if !req.AllowCustom {
			fmt.Fprintln(p.out, "not a listed choice; request left pending")
			return
		}
		respond(line, -1, true)
		return
	}
	respond(line, -1, true)
}
