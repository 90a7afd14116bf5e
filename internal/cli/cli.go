// Package cli implements the resolvectl command tree. The CLI drives
// the same core the daemon serves over HTTP.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"resolvd/internal/config"
	"resolvd/internal/core"
	"resolvd/pkg/types"
)

// options carries the persistent flag values.
type options struct {
	configPath string
	modelsRoot string
	logLevel   string
}

// BuildRootCmd constructs the resolvectl command tree.
func BuildRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "resolvectl",
		Short:         "Resolve and download the model files a workflow depends on",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("RESOLVD_CONFIG"), "Path to config file (.yaml/.json/.toml)")
	root.PersistentFlags().StringVar(&opts.modelsRoot, "models-root", "", "Override paths.models_root")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug|info|warn|error")

	root.AddCommand(analyzeCmd(opts))
	root.AddCommand(matchCmd(opts))
	root.AddCommand(searchCmd(opts))
	root.AddCommand(resolveCmd(opts))
	root.AddCommand(downloadCmd(opts))
	return root
}

// buildCore loads config, applies overrides and constructs the core.
func buildCore(opts *options) (*core.Core, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.modelsRoot != "" {
		cfg.Paths.ModelsRoot = opts.modelsRoot
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, err := zerolog.ParseLevel(opts.logLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	return core.New(cfg, logger)
}

func readWorkflow(path string) ([]byte, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	return doc, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func analyzeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "analyze <workflow.json>",
		Short:   "List the model files a workflow references",
		Args:    cobra.ExactArgs(1),
		Example: "  resolvectl analyze workflow.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCore(opts)
			if err != nil {
				return err
			}
			doc, err := readWorkflow(args[0])
			if err != nil {
				return err
			}
			refs, err := c.Analyze(doc)
			if err != nil {
				return err
			}
			for _, r := range refs {
				fmt.Printf("%-14s %s  (node %s, %s)\n", r.Kind, r.Filename, r.NodeID, r.Strategy)
			}
			fmt.Printf("%d model file(s) referenced\n", len(refs))
			return nil
		},
	}
}

func matchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "match <workflow.json>",
		Short: "Match workflow requirements against the local model tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCore(opts)
			if err != nil {
				return err
			}
			doc, err := readWorkflow(args[0])
			if err != nil {
				return err
			}
			refs, err := c.Analyze(doc)
			if err != nil {
				return err
			}
			for _, res := range c.Match(refs) {
				printMatch(res)
			}
			return nil
		},
	}
}

func printMatch(res types.MatchResult) {
	switch res.Status {
	case types.MatchPresent:
		fmt.Printf("✓ %s\n", res.Ref.Filename)
	case types.MatchPartial:
		fmt.Printf("~ %s  (similar: %s, score %.2f)\n",
			res.Ref.Filename, res.Candidate.Filename, res.Score)
	default:
		fmt.Printf("✗ %s  (missing)\n", res.Ref.Filename)
	}
}

func searchCmd(opts *options) *cobra.Command {
	var catalogs []string
	cmd := &cobra.Command{
		Use:   "search <workflow.json>",
		Short: "Search remote catalogs for the workflow's missing models",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCore(opts)
			if err != nil {
				return err
			}
			doc, err := readWorkflow(args[0])
			if err != nil {
				return err
			}
			refs, err := c.Analyze(doc)
			if err != nil {
				return err
			}
			var missing []types.ArtifactRef
			for _, res := range c.Match(refs) {
				if res.Status == types.MatchMissing {
					missing = append(missing, res.Ref)
				}
			}
			if len(missing) == 0 {
				fmt.Println("all referenced models are present locally")
				return nil
			}
			ctx, cancel := signalContext()
			defer cancel()
			printCandidates(c.Search(ctx, missing, catalogs))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&catalogs, "catalogs", nil, "Restrict search to these catalogs")
	return cmd
}

func printCandidates(candidates []types.RankedCandidate) {
	for _, cand := range candidates {
		fmt.Printf("%s  [%s]\n", cand.Ref.Filename, strings.Repeat("★", cand.Rating)+strings.Repeat("☆", 5-cand.Rating))
		if len(cand.Hits) == 0 {
			if len(cand.Suggestions) > 0 {
				fmt.Printf("  no hits; tried: %s\n", strings.Join(cand.Suggestions, ", "))
			} else {
				fmt.Println("  no hits")
			}
			continue
		}
		for i, hit := range cand.Hits {
			marker := " "
			if i == 0 {
				marker = ">"
			}
			size := ""
			if hit.SizeBytes > 0 {
				size = "  " + humanize.Bytes(uint64(hit.SizeBytes))
			}
			fmt.Printf("  %s %s/%s%s\n    %s\n", marker, hit.SourceCatalog, hit.Filename, size, hit.DirectURL)
		}
	}
}

func resolveCmd(opts *options) *cobra.Command {
	var download bool
	cmd := &cobra.Command{
		Use:   "resolve <workflow.json>",
		Short: "Analyze, match and search in one pass; optionally download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCore(opts)
			if err != nil {
				return err
			}
			doc, err := readWorkflow(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			results, candidates, err := c.Resolve(ctx, doc)
			if err != nil {
				return err
			}
			for _, res := range results {
				printMatch(res)
			}
			if len(candidates) == 0 {
				return nil
			}
			printCandidates(candidates)
			if !download {
				return nil
			}

			var selections []types.PlanSelection
			for _, cand := range candidates {
				if cand.Recommended == nil {
					continue
				}
				selections = append(selections, types.PlanSelection{
					Ref:       cand.Ref,
					DirectURL: cand.Recommended.DirectURL,
					SizeBytes: cand.Recommended.SizeBytes,
				})
			}
			return runDownloads(ctx, c, c.Plan(selections))
		},
	}
	cmd.Flags().BoolVar(&download, "download", false, "Download the recommended hit for every missing model")
	return cmd
}

func downloadCmd(opts *options) *cobra.Command {
	var filename, kind string
	var size int64
	cmd := &cobra.Command{
		Use:     "download <url>",
		Short:   "Download one model from a manual URL, bypassing search",
		Args:    cobra.ExactArgs(1),
		Example: "  resolvectl download https://host/m.safetensors --filename m.safetensors --kind lora",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filename == "" {
				return fmt.Errorf("--filename is required")
			}
			c, err := buildCore(opts)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			tasks := c.Plan([]types.PlanSelection{{
				Ref:       types.ArtifactRef{Filename: filename, Kind: types.Kind(kind)},
				ManualURL: args[0],
				SizeBytes: size,
			}})
			return runDownloads(ctx, c, tasks)
		},
	}
	cmd.Flags().StringVar(&filename, "filename", "", "Target filename")
	cmd.Flags().StringVar(&kind, "kind", string(types.KindUnknown), "Artifact kind (decides the target subdirectory)")
	cmd.Flags().Int64Var(&size, "size", 0, "Expected size in bytes, when known")
	return cmd
}

// runDownloads enqueues tasks and renders progress until every task is
// terminal or the context is cancelled.
func runDownloads(ctx context.Context, c *core.Core, tasks []types.DownloadTask) error {
	if len(tasks) == 0 {
		fmt.Println("nothing to download")
		return nil
	}
	c.Start()
	defer c.Stop()

	events, unsubscribe := c.SubscribeProgress()
	defer unsubscribe()

	pending := make(map[int64]string, len(tasks))
	ids, err := c.Enqueue(tasks)
	if err != nil {
		return err
	}
	for i, id := range ids {
		pending[id] = tasks[i].Ref.Filename
		fmt.Printf("queued #%d %s\n", id, tasks[i].Ref.Filename)
	}

	bars := newProgressView()
	failed := 0
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, mine := pending[ev.TaskID]; !mine {
				continue
			}
			bars.update(ev)
			if ev.State.Terminal() {
				if ev.State != types.TaskSucceeded {
					failed++
				}
				delete(pending, ev.TaskID)
			}
		case <-time.After(30 * time.Second):
			// keepalive for stalled queues
			fmt.Printf("waiting on %d download(s)...\n", len(pending))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d download(s) failed", failed)
	}
	return nil
}
