package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/amanullahtanweer/segscribe/internal/assemble"
	"github.com/amanullahtanweer/segscribe/internal/config"
	"github.com/amanullahtanweer/segscribe/internal/engine"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	verbose  bool
	output   string
	workers  int
	format   string
	backend  string
	language string
	dedupe   bool
)

var rootCmd = &cobra.Command{
	Use:   "transcribe <audio-file>",
	Short: "Transcribe an audio file in parallel segments",
	Long: `transcribe splits an audio file into overlapping segments, sends them
to a speech-to-text backend concurrently and writes the ordered result
as plain text or SRT.

Supported inputs: mp3, wav, m4a, mp4 and anything ffmpeg can decode.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runTranscribe,
}

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the configured backends",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		for _, name := range sortedBackends(cfg) {
			b := cfg.Backends[name]
			marker := " "
			if name == cfg.DefaultBackend {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %-20s %-10s %s\n", marker, name, b.Kind, b.Endpoint)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file, .yaml or .toml (default: built-in settings)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: <input>_transcription.srt|.txt)")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 0, "Maximum concurrent segment requests")
	rootCmd.Flags().StringVarP(&format, "format", "f", "", "Output format: timed|srt or plain|txt")
	rootCmd.Flags().StringVarP(&backend, "backend", "b", "", "Backend name, e.g. \"Malaysia Whisper\"")
	rootCmd.Flags().StringVarP(&language, "language", "l", "", "Language code, or auto")
	rootCmd.Flags().BoolVar(&dedupe, "remove-repetitions", false, "Collapse immediately repeated phrases (plain format only)")

	rootCmd.AddCommand(backendsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := cfg.Log.NewLogger()

	input := args[0]
	if format == "" {
		format = cfg.Engine.Format
	}
	f, err := assemble.ParseFormat(format)
	if err != nil {
		return err
	}
	if output == "" {
		stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		output = filepath.Join(filepath.Dir(input), stem+"_transcription"+f.Ext())
	}
	if !cmd.Flags().Changed("remove-repetitions") {
		dedupe = cfg.Engine.RemoveRepetitions
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := engine.Wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	text, err := rt.Engine.Transcribe(ctx, engine.Request{
		SourcePath:        input,
		OutputPath:        output,
		MaxWorkers:        workers,
		Format:            string(f),
		Backend:           backend,
		Language:          language,
		RemoveRepetitions: dedupe,
	})
	if err != nil {
		return err
	}
	if text == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "no speech recognised")
		return nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Transcription saved to %s\n", output)
	return nil
}

func sortedBackends(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Backends))
	for name := range cfg.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
