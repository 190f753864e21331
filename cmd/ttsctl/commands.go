package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/book-expert/tts-uploader/internal/batch"
	"github.com/book-expert/tts-uploader/internal/config"
	"github.com/book-expert/tts-uploader/internal/core"
	"github.com/book-expert/tts-uploader/internal/elevenlabs"
	"github.com/book-expert/tts-uploader/internal/script"
	"github.com/book-expert/tts-uploader/internal/signing"
	"github.com/book-expert/tts-uploader/internal/voice"
	"github.com/urfave/cli/v2"
)

// Flag names.
const (
	flagParam      = "param"
	flagSecretEnv  = "secret-env"
	flagSigned     = "signed"
	flagTotal      = "total"
	flagPageSize   = "page-size"
	flagProcessed  = "processed"
	flagJSON       = "json"
	flagFile       = "file"
	flagPrefix     = "prefix"
	flagConfig     = "config"
	flagRemote     = "remote"
	defaultSpeaker = "(default)"
)

var (
	errBadParam      = errors.New("parameter must look like key=value")
	errMissingSecret = errors.New("secret environment variable is empty")
	errBadVoices     = errors.New("invalid voice ids found")
	errNoStatus      = errors.New("at least one HTTP status is required")
)

func signCommand(getenv func(string) string) *cli.Command {
	return &cli.Command{
		Name:  "sign",
		Usage: "Compute an upload signature and print the redacted string-to-sign.",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     flagParam,
				Aliases:  []string{"p"},
				Usage:    "parameter as key=value, repeatable",
				Required: true,
			},
			&cli.StringFlag{
				Name:  flagSecretEnv,
				Usage: "environment variable holding the API secret",
				Value: config.DefaultCloudinarySecretEnv,
			},
			&cli.StringSliceFlag{
				Name:  flagSigned,
				Usage: "restrict signing to these parameter names (default: every --param)",
			},
		},
		Action: func(cCtx *cli.Context) error {
			params, err := parseParams(cCtx.StringSlice(flagParam))
			if err != nil {
				return err
			}

			secret := getenv(cCtx.String(flagSecretEnv))
			if secret == "" {
				return fmt.Errorf("%w: %s", errMissingSecret, cCtx.String(flagSecretEnv))
			}

			var result signing.Result

			if signed := cCtx.StringSlice(flagSigned); len(signed) > 0 {
				builder, buildErr := signing.NewBuilder(signed)
				if buildErr != nil {
					return buildErr
				}

				result, err = builder.Sign(params, secret)
			} else {
				result, err = signing.Sign(params, secret)
			}

			if err != nil {
				return err
			}

			out := cCtx.App.Writer
			fmt.Fprintf(out, "string_to_sign: %s\n", result.Redacted())
			fmt.Fprintf(out, "signature:      %s\n", result.Signature)

			return nil
		},
	}
}

func parseParams(raw []string) (map[string]any, error) {
	params := make(map[string]any, len(raw))

	for _, pair := range raw {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("%w: %q", errBadParam, pair)
		}

		params[key] = value
	}

	return params, nil
}

func countFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: flagTotal, Usage: "total number of items", Required: true},
		&cli.IntFlag{Name: flagPageSize, Usage: "items per batch", Value: config.DefaultPageSize},
		&cli.BoolFlag{Name: flagJSON, Usage: "output JSON"},
	}
}

func cursorCommand() *cli.Command {
	return &cli.Command{
		Name:  "cursor",
		Usage: "Show the loop state after a number of processed items.",
		Flags: append(countFlags(),
			&cli.IntFlag{Name: flagProcessed, Usage: "items processed so far"}),
		Action: func(cCtx *cli.Context) error {
			cursor, err := batch.Compute(cCtx.Int(flagTotal), cCtx.Int(flagPageSize), cCtx.Int(flagProcessed))
			if err != nil {
				return err
			}

			if cCtx.Bool(flagJSON) {
				return writeJSON(cCtx.App.Writer, cursor)
			}

			start, end := cursor.NextWindow()
			fmt.Fprintf(cCtx.App.Writer,
				"batch %d/%d, processed %d/%d, remaining %d, has_more=%t, next window [%d, %d)\n",
				cursor.CurrentBatch, cursor.TotalBatches, cursor.ProcessedSoFar, cursor.TotalItems,
				cursor.Remaining, cursor.HasMore, start, end)

			return nil
		},
	}
}

func planCommand() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "List every batch window for a run.",
		Flags: countFlags(),
		Action: func(cCtx *cli.Context) error {
			windows, err := batch.Plan(cCtx.Int(flagTotal), cCtx.Int(flagPageSize))
			if err != nil {
				return err
			}

			if cCtx.Bool(flagJSON) {
				return writeJSON(cCtx.App.Writer, windows)
			}

			for _, window := range windows {
				fmt.Fprintf(cCtx.App.Writer, "batch %d: items %d-%d (%d)\n",
					window.Number, window.Start, window.End-1, window.Count)
			}

			return nil
		},
	}
}

func validateScriptCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate-script",
		Usage: "Check a narration script and preview its output names.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagFile, Aliases: []string{"f"}, Usage: "script JSON file", Required: true},
			&cli.StringFlag{Name: flagPrefix, Usage: "output name prefix"},
			&cli.IntFlag{Name: flagPageSize, Usage: "items per batch", Value: config.DefaultPageSize},
		},
		Action: func(cCtx *cli.Context) error {
			lines, err := script.Load(cCtx.String(flagFile))
			if err != nil {
				return err
			}

			cursor, err := batch.Compute(len(lines), cCtx.Int(flagPageSize), 0)
			if err != nil {
				return err
			}

			out := cCtx.App.Writer
			fmt.Fprintf(out, "%d lines, %d characters, %d batches\n",
				len(lines), script.TotalCharacters(lines), cursor.TotalBatches)

			for _, line := range lines {
				fmt.Fprintf(out, "row %d %s -> %s\n", line.Row, line.Speaker,
					script.OutputName(cCtx.String(flagPrefix), line.FileName))
			}

			return nil
		},
	}
}

func validateVoicesCommand(getenv func(string) string) *cli.Command {
	return &cli.Command{
		Name:  "validate-voices",
		Usage: "Check the voice ids of a config file, optionally against the provider.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagConfig, Aliases: []string{"c"}, Usage: "service TOML file", Required: true},
			&cli.BoolFlag{Name: flagRemote, Usage: "also look every voice up with the provider"},
		},
		Action: func(cCtx *cli.Context) error {
			cfg, err := config.LoadFile(cCtx.String(flagConfig))
			if err != nil {
				return err
			}

			voices := make(map[string]string, len(cfg.ElevenLabs.Voices)+1)
			for speaker, id := range cfg.ElevenLabs.Voices {
				voices[speaker] = id
			}

			if cfg.ElevenLabs.DefaultVoice != "" {
				voices[defaultSpeaker] = cfg.ElevenLabs.DefaultVoice
			}

			var client *elevenlabs.Client

			if cCtx.Bool(flagRemote) {
				client, err = elevenlabs.New(elevenlabs.Options{
					BaseURL:       cfg.ElevenLabs.BaseURL,
					APIKey:        getenv(cfg.ElevenLabs.APIKeyEnv),
					VoiceSettings: *cfg.ElevenLabs.VoiceSettings,
					Retry:         cfg.Retry(),
				})
				if err != nil {
					return err
				}
			}

			bad := 0

			for _, check := range voice.CheckAll(voices) {
				if check.Err == nil && client != nil {
					found, lookupErr := client.CheckVoice(cCtx.Context, check.ID)
					if lookupErr != nil {
						check.Err = lookupErr
					} else {
						check.Speaker = fmt.Sprintf("%s (%s)", check.Speaker, found.Name)
					}
				}

				if check.Err != nil {
					bad++
					fmt.Fprintf(cCtx.App.Writer, "FAIL %s %s: %v\n", check.Speaker, check.ID, check.Err)

					continue
				}

				fmt.Fprintf(cCtx.App.Writer, "ok   %s %s\n", check.Speaker, check.ID)
			}

			if bad > 0 {
				return fmt.Errorf("%w: %d of %d", errBadVoices, bad, len(voices))
			}

			return nil
		},
	}
}

func classifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Show how provider HTTP statuses are classified.",
		ArgsUsage: "STATUS...",
		Action: func(cCtx *cli.Context) error {
			if cCtx.NArg() == 0 {
				return errNoStatus
			}

			for _, arg := range cCtx.Args().Slice() {
				code, err := strconv.Atoi(arg)
				if err != nil {
					return fmt.Errorf("invalid status %q: %w", arg, err)
				}

				kind := core.ClassifyStatus(code)
				fmt.Fprintf(cCtx.App.Writer, "%d %s retryable=%t\n", code, kind, kind.Retryable())
			}

			return nil
		},
	}
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")

	err := encoder.Encode(value)
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}
