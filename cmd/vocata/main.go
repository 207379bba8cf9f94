// Command vocata is the main entry point for the Vocata voice server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vocata-ai/vocata/internal/app"
	"github.com/vocata-ai/vocata/internal/config"
	"github.com/vocata-ai/vocata/pkg/provider/tts"
	"github.com/vocata-ai/vocata/pkg/provider/tts/kokoro"
	"github.com/vocata-ai/vocata/pkg/provider/tts/piper"
	"github.com/vocata-ai/vocata/pkg/provider/tts/zonos"
)

// version is stamped at build time via -ldflags "-X main.version=…".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vocata: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "vocata",
		Short:         "Vocata real-time voice assistant server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to a YAML configuration profile (environment variables win)")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newValidateCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket voice server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			logger := newLogger(cfg.Server.LogLevel)
			slog.SetDefault(logger)

			slog.Info("vocata starting",
				"version", version,
				"config", *configPath,
				"listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
				"log_level", cfg.Server.LogLevel,
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg,
				app.WithLogger(logger), app.WithVersion(version))
			if err != nil {
				return err
			}

			slog.Info("server ready — press Ctrl+C to shut down")
			if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("run error", "error", err)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := application.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			slog.Info("goodbye")
			return nil
		},
	}
}

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration, voice assets, and engine reachability",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "CHECK\tSUBJECT\tRESULT")
			fmt.Fprintln(w, "config\t-\tok")

			hard := checkVoiceAssets(w, cfg)
			checkEngines(cmd.Context(), w, cfg)

			if hard > 0 {
				w.Flush()
				return fmt.Errorf("%d hard validation failure(s)", hard)
			}
			return nil
		},
	}
}

// checkVoiceAssets verifies that every configured voice's on-disk assets
// exist. Missing files are hard failures: synthesis with that voice cannot
// work.
func checkVoiceAssets(w *tabwriter.Writer, cfg *config.Config) (hard int) {
	for _, v := range cfg.EffectiveVoices() {
		for _, asset := range []struct{ engine, path string }{
			{"piper", v.PiperModel},
			{"zonos", v.ZonosSpeaker},
		} {
			if asset.path == "" {
				continue
			}
			if _, err := os.Stat(asset.path); err != nil {
				fmt.Fprintf(w, "voice\t%s/%s\tmissing: %s\n", v.Name, asset.engine, asset.path)
				hard++
				continue
			}
			fmt.Fprintf(w, "voice\t%s/%s\tok\n", v.Name, asset.engine)
		}
	}
	return hard
}

// checkEngines probes every configured engine endpoint. Unreachable engines
// are reported but not fatal: the server degrades to the remaining engines.
func checkEngines(ctx context.Context, w *tabwriter.Writer, cfg *config.Config) {
	type build struct {
		name string
		url  string
		make func(string) (tts.Engine, error)
	}
	builds := []build{
		{"piper", cfg.TTS.PiperURL, func(u string) (tts.Engine, error) { return piper.New(u) }},
		{"zonos", cfg.TTS.ZonosURL, func(u string) (tts.Engine, error) { return zonos.New(u) }},
		{"kokoro", cfg.TTS.KokoroURL, func(u string) (tts.Engine, error) { return kokoro.New(u) }},
	}
	for _, b := range builds {
		if b.url == "" {
			fmt.Fprintf(w, "engine\t%s\tnot configured\n", b.name)
			continue
		}
		e, err := b.make(b.url)
		if err != nil {
			fmt.Fprintf(w, "engine\t%s\tinvalid: %v\n", b.name, err)
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = e.Available(probeCtx)
		cancel()
		if err != nil {
			fmt.Fprintf(w, "engine\t%s\tunreachable: %v\n", b.name, err)
			continue
		}
		fmt.Fprintf(w, "engine\t%s\tok\n", b.name)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vocata %s\n", version)
		},
	}
}

// newLogger builds the process logger: text on stderr at the configured
// level.
func newLogger(level config.LogLevel) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level.Slog(),
	}))
}
