package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/promptvault/comfyhistory/client"
	"github.com/promptvault/comfyhistory/graphapi"
	"github.com/promptvault/comfyhistory/pnginfo"
)

type regenOptions struct {
	pngPath    string
	promptText string
	outPath    string
	host       string
	seed       string
	show       bool
	debug      bool
	saveOutput bool
}

func newRegenCommand(configFlag *string) *cobra.Command {
	opts := regenOptions{}

	cmd := &cobra.Command{
		Use:   "regen",
		Short: "Regenerate an image from the workflow embedded in a PNG",
		Long: `Regenerate loads the workflow embedded in a previously rendered PNG,
rewrites its text and seed inputs, submits it to a ComfyUI server, and
downloads the resulting image.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			if opts.host == "" {
				opts.host = cfg.Server.Host
			}
			logger := newLogger(cfg.Logging.Level, opts.debug)
			timeout := time.Duration(cfg.Server.WaitMinutes) * time.Minute
			return runRegen(cmd.Context(), opts, timeout, logger)
		},
	}

	cmd.Flags().StringVar(&opts.pngPath, "png", "", "PNG file with an embedded workflow")
	cmd.Flags().StringVar(&opts.promptText, "prompt", "", "Replacement prompt text")
	cmd.Flags().StringVar(&opts.outPath, "out", "", "Output image path (default image_<timestamp>.png)")
	cmd.Flags().StringVar(&opts.host, "host", "", "ComfyUI server URL (overrides config)")
	cmd.Flags().StringVar(&opts.seed, "seed", "0", `Sampler seed: 0 randomizes, "fixed" keeps stored seeds, N sets N`)
	cmd.Flags().BoolVar(&opts.show, "show", false, "Open the downloaded image in the default viewer")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Print the submitted payload and debug logs")
	cmd.Flags().BoolVar(&opts.saveOutput, "save-output", false, "Keep server-side image saving instead of preview")
	_ = cmd.MarkFlagRequired("png")
	_ = cmd.MarkFlagRequired("prompt")

	return cmd
}

func runRegen(ctx context.Context, opts regenOptions, timeout time.Duration, logger *slog.Logger) error {
	prompt, err := loadPromptFromPNG(opts.pngPath)
	if err != nil {
		return err
	}

	if n := prompt.SetText(opts.promptText); n == 0 {
		logger.Warn("workflow has no text encoder nodes, prompt text not applied")
	}

	spec, err := graphapi.ParseSeed(opts.seed)
	if err != nil {
		return fmt.Errorf("invalid --seed value %q: %w", opts.seed, err)
	}
	if applied := prompt.SetSeed(spec); applied >= 0 {
		logger.Info("seed applied", "seed", applied)
	}
	prompt.UsePreview(opts.saveOutput)

	if opts.debug {
		payload, _ := json.MarshalIndent(prompt, "", "  ")
		fmt.Fprintln(os.Stderr, string(payload))
	}

	c := client.New(opts.host, client.WithLogger(logger))
	job, err := c.Submit(ctx, prompt)
	if err != nil {
		return err
	}
	logger.Info("prompt queued", "prompt_id", job.PromptID, "host", opts.host)

	// The watcher gets its own context so the bar can be torn down once
	// polling settles, even when the server is still rendering.
	wsCtx, stopProgress := context.WithCancel(ctx)
	defer stopProgress()
	progressDone := watchProgress(wsCtx, c, job.PromptID)

	result, err := job.Wait(ctx, timeout)
	stopProgress()
	<-progressDone
	if err != nil {
		// Whether interrupted or timed out, the job may still be queued or
		// rendering; tell the server to stop before exiting.
		cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := job.Cancel(cancelCtx); cerr != nil {
			logger.Warn("failed to cancel job on server", "error", cerr)
		}
		return err
	}

	img := result.FirstImage()
	if img == nil {
		return errors.New("job finished but produced no images")
	}

	data, err := c.View(ctx, *img)
	if err != nil {
		return err
	}

	outPath := opts.outPath
	if outPath == "" {
		outPath = fmt.Sprintf("image_%s.png", time.Now().Format("20060102-150405"))
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("writing output image: %w", err)
	}
	fmt.Println(outPath)

	if opts.show {
		if err := openInViewer(outPath); err != nil {
			logger.Warn("failed to open image viewer", "error", err)
		}
	}
	return nil
}

// loadPromptFromPNG reads the embedded metadata and converts whichever
// payload is present into an executable prompt mapping.
func loadPromptFromPNG(path string) (graphapi.Prompt, error) {
	tags, err := pnginfo.ReadTagsFromFile(path)
	if err != nil {
		return nil, err
	}
	payload, err := pnginfo.PreferredPayload(tags)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	prompt, err := graphapi.PromptFromDocument([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return prompt, nil
}

// watchProgress feeds websocket progress into a terminal bar. Rendering is
// cosmetic; job completion is still driven by history polling.
func watchProgress(ctx context.Context, c *client.Client, promptID string) <-chan struct{} {
	done := make(chan struct{})
	events, err := c.ListenProgress(ctx)
	if err != nil {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		var bar *progressbar.ProgressBar
		for ev := range events {
			if ev.PromptID != "" && ev.PromptID != promptID {
				continue
			}
			switch {
			case ev.Err != nil:
				fmt.Fprintln(os.Stderr, "execution error:", ev.Err)
			case ev.Done:
				if bar != nil {
					_ = bar.Finish()
				}
				return
			case ev.Max > 0:
				if bar == nil {
					bar = progressbar.Default(int64(ev.Max), ev.Node)
				}
				_ = bar.Set(ev.Value)
			}
		}
	}()
	return done
}

func openInViewer(path string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", path).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", path).Start()
	default:
		return exec.Command("xdg-open", path).Start()
	}
}
