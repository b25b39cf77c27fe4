package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/spf13/cobra"

	"carve/cli/internal/classifier"
	"carve/cli/internal/config"
	"carve/cli/internal/erruser"
	"carve/cli/internal/git"
	"carve/cli/internal/run"
	"carve/cli/internal/version"
	"carve/cli/internal/web"
)

// errExit is an error that carries an exit code for the CLI. Use errors.As to detect it.
type errExit int

func (e errExit) Error() string {
	return "exit " + strconv.Itoa(int(e))
}

// reportOut is the writer for run reports on success. Tests may replace it to capture output.
var reportOut io.Writer = os.Stdout

func main() {
	os.Exit(Run())
}

// Run is the entry point for the CLI, exported for testing.
func Run() int {
	return runCLI(os.Args[1:])
}

func runCLI(args []string) int {
	rootCmd := &cobra.Command{
		Use:     "carve",
		Short:   "Split working-tree changes into focused commits",
		Version: version.String(),
	}
	rootCmd.AddCommand(newSplitCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newHunksCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newDoctorCmd())
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		var exitErr errExit
		if errors.As(err, &exitErr) {
			return int(exitErr)
		}
		fmt.Fprintln(os.Stderr, err)
		if u := errors.Unwrap(err); u != nil {
			fmt.Fprintf(os.Stderr, "Details: %v\n", u)
		}
		return 1
	}
	return 0
}

// addRunLikeFlags registers the flags shared by split and plan.
func addRunLikeFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("dry-run", false, "Skip LLM; group one commit per file")
	cmd.Flags().BoolP("quiet", "q", false, "Suppress progress (use for scripts)")
	cmd.Flags().String("output", "human", "Output format: human (default) or json")
	cmd.Flags().Bool("json", false, "Emit the result as JSON to stdout (same as --output=json)")
	cmd.Flags().String("scope", "", "Changes to split: staged, unstaged, or all (overrides config and env)")
	cmd.Flags().String("model", "", "Classifier model name (overrides config and env)")
	cmd.Flags().Int("max-groups", 0, "Cap on the number of commits; overflow folds into the last (0 = use config)")
	cmd.Flags().StringArray("exclude", nil, "Glob pattern to leave out of the split (repeatable; overrides config)")
	cmd.Flags().Bool("trace", false, "Print internal steps to stderr (diff, listing, proposal, engine)")
}

func newSplitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Classify the current changes and commit them as separate groups",
		RunE:  runSplit,
	}
	addRunLikeFlags(cmd)
	cmd.Flags().String("author", "", `Commit author override, "Name <email>" (overrides config and env)`)
	return cmd
}

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the proposed grouping without committing anything",
		RunE:  runPlan,
	}
	addRunLikeFlags(cmd)
	return cmd
}

// overridesFromFlags returns config Overrides for flags that were set.
func overridesFromFlags(cmd *cobra.Command) *config.Overrides {
	o := &config.Overrides{}
	set := false
	if f := cmd.Flags().Lookup("scope"); f != nil && f.Changed {
		v, _ := cmd.Flags().GetString("scope")
		sc := git.Scope(v)
		o.Scope = &sc
		set = true
	}
	if f := cmd.Flags().Lookup("model"); f != nil && f.Changed {
		v, _ := cmd.Flags().GetString("model")
		o.Model = &v
		set = true
	}
	if f := cmd.Flags().Lookup("max-groups"); f != nil && f.Changed {
		v, _ := cmd.Flags().GetInt("max-groups")
		o.MaxGroups = &v
		set = true
	}
	if f := cmd.Flags().Lookup("exclude"); f != nil && f.Changed {
		v, _ := cmd.Flags().GetStringArray("exclude")
		o.Exclude = &v
		set = true
	}
	if f := cmd.Flags().Lookup("author"); f != nil && f.Changed {
		v, _ := cmd.Flags().GetString("author")
		o.Author = &v
		set = true
	}
	if f := cmd.Flags().Lookup("addr"); f != nil && f.Changed {
		v, _ := cmd.Flags().GetString("addr")
		o.ListenAddr = &v
		set = true
	}
	if !set {
		return nil
	}
	return o
}

// runOptions builds run.Options from flags and loaded config.
func runOptions(cmd *cobra.Command) (run.Options, *config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return run.Options{}, nil, erruser.New("Could not determine current directory.", err)
	}
	repo, err := git.Open(cwd)
	if err != nil {
		return run.Options{}, nil, err
	}
	cfg, err := config.Load(cmd.Context(), config.LoadOptions{
		RepoRoot:  repo.Root(),
		Overrides: overridesFromFlags(cmd),
	})
	if err != nil {
		return run.Options{}, nil, err
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	quiet, _ := cmd.Flags().GetBool("quiet")
	traceFlag, _ := cmd.Flags().GetBool("trace")
	var traceOut io.Writer
	if traceFlag {
		traceOut = os.Stderr
	}
	opts := run.Options{
		Repo:      repo,
		Scope:     cfg.Scope,
		DryRun:    dryRun,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey,
		MaxTokens: cfg.MaxTokens,
		MaxGroups: cfg.MaxGroups,
		Timeout:   cfg.Timeout,
		Author:    cfg.Author,
		Exclude:   cfg.Exclude,
		Verbose:   !quiet,
		ErrOut:    os.Stderr,
		TraceOut:  traceOut,
	}
	return opts, cfg, nil
}

// outputMode resolves --output/--json into "human" or "json".
func outputMode(cmd *cobra.Command) (string, error) {
	output, _ := cmd.Flags().GetString("output")
	if j, _ := cmd.Flags().GetBool("json"); j {
		output = "json"
	}
	if output != "human" && output != "json" {
		return "", errors.New("Invalid output format; use human or json.")
	}
	return output, nil
}

func runSplit(cmd *cobra.Command, args []string) error {
	opts, _, err := runOptions(cmd)
	if err != nil {
		return err
	}
	output, err := outputMode(cmd)
	if err != nil {
		return err
	}
	quiet, _ := cmd.Flags().GetBool("quiet")
	if output == "json" {
		opts.Verbose = false
	}

	res, err := run.Split(cmd.Context(), opts)
	if err != nil {
		if errors.Is(err, run.ErrNoChanges) {
			if !quiet {
				fmt.Fprintln(os.Stderr, "Nothing to split.")
			}
			return nil
		}
		if errors.Is(err, classifier.ErrUnavailable) {
			fmt.Fprintln(os.Stderr, "Classifier API unreachable. Check your network and API key, or use --dry-run.")
			fmt.Fprintf(os.Stderr, "Details: %v\n", err)
			return errExit(2)
		}
		if res != nil && res.Report != nil && !res.Report.Restored {
			fmt.Fprintln(os.Stderr, err)
			return errExit(3)
		}
		return err
	}
	if err := run.WriteReport(reportOut, res, output == "json", quiet); err != nil {
		return err
	}
	if res.Report.Committed() != len(res.Report.Results) {
		return errExit(1)
	}
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	opts, _, err := runOptions(cmd)
	if err != nil {
		return err
	}
	output, err := outputMode(cmd)
	if err != nil {
		return err
	}
	if output == "json" {
		opts.Verbose = false
	}

	res, err := run.Plan(cmd.Context(), opts)
	if err != nil {
		if errors.Is(err, run.ErrNoChanges) {
			fmt.Fprintln(os.Stderr, "Nothing to split.")
			return nil
		}
		if errors.Is(err, classifier.ErrUnavailable) {
			fmt.Fprintln(os.Stderr, "Classifier API unreachable. Check your network and API key, or use --dry-run.")
			fmt.Fprintf(os.Stderr, "Details: %v\n", err)
			return errExit(2)
		}
		return err
	}
	return run.WritePlan(reportOut, res, output == "json")
}

func newHunksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hunks",
		Short: "List the hunks the classifier would see, with their addresses",
		RunE:  runHunks,
	}
	cmd.Flags().String("scope", "", "Changes to list: staged, unstaged, or all (overrides config and env)")
	cmd.Flags().StringArray("exclude", nil, "Glob pattern to leave out (repeatable; overrides config)")
	return cmd
}

func runHunks(cmd *cobra.Command, args []string) error {
	opts, _, err := runOptions(cmd)
	if err != nil {
		return err
	}
	reg, _, err := run.Collect(cmd.Context(), opts)
	if err != nil {
		if errors.Is(err, run.ErrNoChanges) {
			fmt.Fprintln(os.Stderr, "No changes.")
			return nil
		}
		return err
	}
	fmt.Fprint(reportOut, classifier.Listing(reg))
	return nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local web API (changes, hunks, split, events)",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "Bind address (overrides config and env)")
	cmd.Flags().Bool("dry-run", false, "Skip LLM; group one commit per file")
	cmd.Flags().String("scope", "", "Changes to serve: staged, unstaged, or all")
	cmd.Flags().String("model", "", "Classifier model name (overrides config and env)")
	cmd.Flags().StringArray("exclude", nil, "Glob pattern to leave out (repeatable)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	opts, cfg, err := runOptions(cmd)
	if err != nil {
		return err
	}
	srv, err := web.NewServer(opts, cfg.WatchDebounce)
	if err != nil {
		return erruser.New("Could not start the file watcher.", err)
	}
	defer srv.Close()
	fmt.Fprintf(os.Stderr, "carve serve listening on %s\n", cfg.ListenAddr)
	if err := srv.ListenAndServe(cmd.Context(), cfg.ListenAddr); err != nil && !errors.Is(err, context.Canceled) {
		return erruser.New("Server failed.", err)
	}
	return nil
}

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify environment (git, repository, API key)",
		RunE:  runDoctor,
	}
	return cmd
}

func runDoctor(cmd *cobra.Command, args []string) error {
	if _, err := exec.LookPath("git"); err != nil {
		fmt.Fprintln(os.Stderr, "git not found in PATH.")
		return errExit(1)
	}
	fmt.Fprintln(reportOut, "git OK")

	cwd, err := os.Getwd()
	if err != nil {
		return erruser.New("Could not determine current directory.", err)
	}
	repoRoot := ""
	if repo, e := git.Open(cwd); e == nil {
		repoRoot = repo.Root()
		fmt.Fprintf(reportOut, "Repository: %s\n", repoRoot)
	} else {
		fmt.Fprintln(os.Stderr, "Not inside a git repository.")
	}

	cfg, err := config.Load(cmd.Context(), config.LoadOptions{RepoRoot: repoRoot})
	if err != nil {
		return err
	}
	fmt.Fprintf(reportOut, "Model: %s\n", cfg.Model)
	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "No API key configured. Set CARVE_API_KEY or ANTHROPIC_API_KEY, or use --dry-run.")
		return errExit(1)
	}
	fmt.Fprintln(reportOut, "API key configured")
	return nil
}
