package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"nodesift/internal/dedup"
	"nodesift/internal/detect"
	"nodesift/internal/namefilter"
	"nodesift/internal/node"
	"nodesift/internal/output"
	"nodesift/internal/source"
	"nodesift/internal/storage/models"
	"nodesift/pkg/errors"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load, classify and filter proxy nodes",
	Long: `Load proxy nodes, classify each as datacenter or residential, and
write a filtered Clash configuration plus a markdown report.

Sources given on the command line override the config file's sources.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := runOptions{}
		subs, _ := cmd.Flags().GetStringArray("subscription")
		files, _ := cmd.Flags().GetStringArray("file")
		for _, u := range subs {
			opts.sources = append(opts.sources, source.Source{Kind: source.KindSubscription, URL: u})
		}
		for _, p := range files {
			opts.sources = append(opts.sources, source.Source{Kind: source.KindFile, Path: p})
		}
		opts.precise, _ = cmd.Flags().GetBool("precise")
		opts.noDetect, _ = cmd.Flags().GetBool("no-detect")

		if bin, _ := cmd.Flags().GetString("mihomo-bin"); bin != "" {
			appInstance.Config.Tester.MihomoBin = bin
		}
		if dir, _ := cmd.Flags().GetString("output-dir"); dir != "" {
			appInstance.Config.Output.Dir = dir
		}
		if unlock, _ := cmd.Flags().GetBool("unlock"); unlock {
			appInstance.Config.Tester.UnlockEnabled = true
		}

		ctx := context.Background()
		if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		return runPipeline(ctx, opts)
	},
}

type runOptions struct {
	sources  []source.Source
	precise  bool
	noDetect bool
}

func runPipeline(ctx context.Context, opts runOptions) error {
	cfg := appInstance.Config

	sources := opts.sources
	if len(sources) == 0 {
		sources = cfg.Sources
	}
	if len(sources) == 0 {
		return fmt.Errorf("no node sources given; use --subscription, --file or the config file")
	}

	// Load and normalize the candidate set.
	loader := source.NewLoader(nil)
	nodes, loadErrs := loader.Load(ctx, sources)
	for _, err := range loadErrs {
		log.Warnf("source skipped: %v", err)
	}
	if len(nodes) == 0 {
		return fmt.Errorf("no nodes loaded from %d source(s)", len(sources))
	}

	nodes = dedup.Nodes(nodes)
	nodes, nameRemoved := namefilter.New(cfg.Filter.NameBlacklist, cfg.Filter.NameWhitelist).Apply(nodes)
	log.WithField("nodes", len(nodes)).WithField("name_filtered", len(nameRemoved)).Info("candidate set ready")
	if len(nodes) == 0 {
		return fmt.Errorf("all nodes removed by name filter")
	}

	writer, err := output.NewWriter(cfg.Output.Dir, cfg.Output.MixedPort, cfg.Output.APIPort)
	if err != nil {
		return err
	}

	if opts.noDetect {
		return writeArtifacts(ctx, writer, nodes, nil)
	}

	engine, err := appInstance.BuildEngine()
	if err != nil {
		return err
	}

	mode := node.ModeFast
	if opts.precise {
		mode = node.ModePrecise
	}

	run := &models.Run{Mode: string(mode)}
	if err := appInstance.Storage.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	results, summary, runErr := engine.Detect(ctx, nodes, mode)

	// Persist whatever we got, even when the run itself failed.
	if err := appInstance.Storage.SaveResults(ctx, run.ID, toStoredResults(results)); err != nil {
		log.Errorf("failed to persist results: %v", err)
	}
	run.Total = summary.Total
	run.Residential = summary.Residential
	run.Datacenter = summary.Datacenter
	run.Unknown = summary.Unknown
	run.Failed = summary.Failed
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := appInstance.Storage.FinishRun(ctx, run); err != nil {
		log.Errorf("failed to finalize run record: %v", err)
	}

	if errors.Is(runErr, errors.ErrProcessLaunch) {
		return runErr
	}

	printSummary(summary)

	kept := keptNodes(results)
	if err := writeArtifacts(ctx, writer, kept, results); err != nil {
		return err
	}
	return runErr
}

// keptNodes returns the nodes that survive filtering: the residential ones.
func keptNodes(results []node.DetectionResult) []node.Node {
	var kept []node.Node
	for _, r := range results {
		if r.Label == node.LabelResidential {
			kept = append(kept, r.Node)
		}
	}
	return kept
}

func writeArtifacts(ctx context.Context, writer *output.Writer, kept []node.Node, results []node.DetectionResult) error {
	cfg := appInstance.Config

	configContent, err := writer.ClashConfig(kept)
	if err != nil {
		return err
	}
	if _, err := writer.WriteFile(cfg.Output.ConfigFile, configContent); err != nil {
		return err
	}

	listContent, err := writer.ProxyList(kept)
	if err != nil {
		return err
	}
	if _, err := writer.WriteFile(cfg.Output.ProxiesFile, listContent); err != nil {
		return err
	}

	var reportContent string
	if results != nil {
		reportContent = writer.Report(results)
		if _, err := writer.WriteFile(cfg.Output.ReportFile, reportContent); err != nil {
			return err
		}
	}

	if cfg.Push.Enable {
		pusher := output.NewPusher(cfg.Push.URL, cfg.Push.Token)
		if pusher == nil {
			log.Warn("remote push enabled but no url configured")
			return nil
		}
		if err := pusher.PushConfig(ctx, configContent); err != nil {
			log.Errorf("config push failed: %v", err)
		}
		if reportContent != "" {
			if err := pusher.PushReport(ctx, reportContent); err != nil {
				log.Errorf("report push failed: %v", err)
			}
		}
	}
	return nil
}

func printSummary(summary detect.Summary) {
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "mode\t%s\n", dimStyle.Render(string(summary.Mode)))
	fmt.Fprintf(w, "total\t%d\n", summary.Total)
	fmt.Fprintf(w, "%s\t%d\n", residentialStyle.Render("residential"), summary.Residential)
	fmt.Fprintf(w, "%s\t%d\n", datacenterStyle.Render("datacenter"), summary.Datacenter)
	fmt.Fprintf(w, "%s\t%d\n", unknownStyle.Render("unknown"), summary.Unknown)
	if summary.Failed > 0 {
		fmt.Fprintf(w, "failed\t%d\n", summary.Failed)
	}
	w.Flush()
	fmt.Println()
}

func toStoredResults(results []node.DetectionResult) []*models.RunResult {
	stored := make([]*models.RunResult, 0, len(results))
	for _, r := range results {
		m := &models.RunResult{
			NodeName: r.Node.Name,
			NodeType: string(r.Node.Type),
			Server:   r.Node.Server,
			Port:     r.Node.Port,
			IP:       r.IP,
			Label:    string(r.Label),
			Reason:   r.Reason,
			ASN:      int64(r.ASN),
			Org:      r.Org,
			Country:  r.Country,
		}
		if r.LatencyMS != nil {
			latency := *r.LatencyMS
			m.LatencyMS = &latency
		}
		if r.Err != nil {
			m.Error = r.Err.Error()
		}
		stored = append(stored, m)
	}
	return stored
}

func init() {
	runCmd.Flags().StringArrayP("subscription", "s", nil, "subscription URL (repeatable)")
	runCmd.Flags().StringArrayP("file", "f", nil, "local node file (repeatable)")
	runCmd.Flags().BoolP("precise", "p", false, "probe real egress IPs through a shared mihomo instance")
	runCmd.Flags().Bool("no-detect", false, "skip classification, only load/filter/emit")
	runCmd.Flags().String("mihomo-bin", "", "path to the mihomo binary")
	runCmd.Flags().StringP("output-dir", "o", "", "artifact output directory")
	runCmd.Flags().Bool("unlock", false, "probe AI service availability per node (precise mode)")
	runCmd.Flags().DurationP("timeout", "t", 0, "overall run timeout (0 = unlimited)")

	rootCmd.AddCommand(runCmd)
}
