package commands

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"cardmotion/internal/archive"
	"cardmotion/internal/browser"
	"cardmotion/internal/config"
	"cardmotion/internal/discover"
	ilog "cardmotion/internal/log"
	"cardmotion/internal/media"
	"cardmotion/internal/metadata"
	"cardmotion/internal/orchestrate"
	"cardmotion/internal/probe"
	"cardmotion/internal/stats"
	"cardmotion/pkg/model"

	"github.com/spf13/cobra"
)

var (
	captureConfig      *string
	captureOut         *string
	captureMaxElements *int
	captureParallelism *int
	captureMedia       *bool
)

func init() {
	captureConfig = captureCmd.Flags().String("config", "", "Path to a yaml config file. Defaults are used when omitted.")
	captureOut = captureCmd.Flags().String("out", "", "Output directory, overrides run.outputDir.")
	captureMaxElements = captureCmd.Flags().Int("max-elements", 0, "Override discovery.maxElements.")
	captureParallelism = captureCmd.Flags().Int("parallelism", 0, "Override run.parallelism.")
	captureMedia = captureCmd.Flags().Bool("download-media", false, "Mirror linked images after capture.")
	rootCmd.AddCommand(captureCmd)
}

var captureCmd = &cobra.Command{
	Use:   "capture [urls...]",
	Short: "Run the discovery, probe and metadata pipeline against each target page.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ilog.Init(cfg.Log.Level, cfg.Log.Writer, cfg.Log.File)

		st := stats.New()
		arch, err := archive.New(cfg.Run.OutputDir, st)
		if err != nil {
			return err
		}

		orc := orchestrate.New(newDeps(cfg, st, arch), cfg.Run.Parallelism)
		results, runErr := orc.Run(cmd.Context(), args)

		if *captureMedia || cfg.Run.DownloadMedia {
			downloadMedia(cmd.Context(), results)
		}

		printSummary(results, st)
		if runErr != nil {
			return runErr
		}
		for _, r := range results {
			if r.State == model.PageCompleted {
				return nil
			}
		}
		return fmt.Errorf("no page completed")
	},
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if *captureConfig != "" {
		cfg, err = config.Load(*captureConfig)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.NewConfig()
	}
	if *captureOut != "" {
		cfg.Run.OutputDir = *captureOut
	}
	if *captureMaxElements > 0 {
		cfg.Discovery.MaxElements = *captureMaxElements
	}
	if *captureParallelism > 0 {
		cfg.Run.Parallelism = *captureParallelism
	}
	return cfg, cfg.Validate()
}

func newDeps(cfg *config.Config, st *stats.Stats, arch *archive.Archiver) orchestrate.Deps {
	opts := browser.Options{
		DevToolsURL: cfg.Browser.DevToolsURL,
		Viewport: model.Viewport{
			Width:  cfg.Browser.Width,
			Height: cfg.Browser.Height,
			Scale:  cfg.Browser.Scale,
		},
		PageLoadTimeout: ms(cfg.Timeouts.PageLoadMS),
		SettleWait:      ms(cfg.Timeouts.SettleMS),
		EvaluateTimeout: ms(cfg.Timeouts.EvaluateMS),
		ScrollStepWait:  ms(cfg.Timeouts.ScrollStepMS),
		ScrollEndWait:   ms(cfg.Timeouts.ScrollEndMS),
	}

	timing := probe.Timing{
		HoverDwell:         ms(cfg.Probes.HoverDwellMS),
		HoverExit:          ms(cfg.Probes.HoverExitMS),
		ClickInterval:      ms(cfg.Probes.ClickIntervalMS),
		ClickFrames:        cfg.Probes.ClickFrames,
		ContinuousInterval: ms(cfg.Probes.ContinuousIntervalMS),
		ContinuousFrames:   cfg.Probes.ContinuousFrames,
	}
	for _, off := range cfg.Probes.OpeningOffsetsMS {
		timing.OpeningOffsets = append(timing.OpeningOffsets, ms(off))
	}

	return orchestrate.Deps{
		Open: func(ctx context.Context, target string) (orchestrate.Session, error) {
			s, err := browser.Open(ctx, opts, target)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Discover: discover.New(cfg.Discovery.Selectors, cfg.Discovery.MaxElements),
		Probe:    probe.NewEngine(timing, arch, st),
		Extract:  metadata.New(),
		Archive:  arch,
		Stats:    st,
	}
}

// downloadMedia mirrors images referenced by each completed page's saved
// HTML into that page's archive subtree.
func downloadMedia(ctx context.Context, results []model.PageResult) {
	for _, r := range results {
		if r.State != model.PageCompleted || r.ReportPath == "" {
			continue
		}
		pageDir := filepath.Dir(r.ReportPath)
		html, err := os.ReadFile(filepath.Join(pageDir, "raw_html", "page.html"))
		if err != nil {
			ilog.L().Warn().Str("url", r.URL).Err(err).Msg("no html snapshot, skipping media")
			continue
		}
		base, err := url.Parse(r.URL)
		if err != nil {
			continue
		}
		urls, err := media.ExtractImageURLs(string(html), base)
		if err != nil {
			ilog.L().Warn().Str("url", r.URL).Err(err).Msg("media extraction failed")
			continue
		}
		dl := media.NewDownloader(filepath.Join(pageDir, "media"))
		downloaded, skipped, failed := dl.FetchAll(ctx, urls)
		ilog.L().Info().Str("url", r.URL).Int("downloaded", downloaded).
			Int("skipped", skipped).Int("failed", failed).Msg("media mirrored")
	}
}

func printSummary(results []model.PageResult, st *stats.Stats) {
	snap := st.Snapshot()
	fmt.Println("capture finished")
	for _, r := range results {
		line := fmt.Sprintf("  %-9s %s", r.State, r.URL)
		if r.Error != "" {
			line += "  (" + r.Error + ")"
		}
		fmt.Println(line)
	}
	fmt.Printf("  elements=%d animations=%d hover=%d click=%d screenshots=%d errors=%d\n",
		snap.ElementsFound, snap.AnimationsCaptured, snap.HoverEffects,
		snap.ClickInteractions, snap.ScreenshotsTaken, snap.Errors)
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
