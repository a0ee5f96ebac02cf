package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vnmchuo/race-predictor/internal/app"
	"github.com/vnmchuo/race-predictor/internal/prediction"
)

// loadRaceContext reads a race context from a .json, .yaml or .yml file.
func loadRaceContext(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read race context: %w", err)
	}

	var decoded any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &decoded)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &decoded)
	default:
		return nil, fmt.Errorf("unsupported race context format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("decode race context: %w", err)
	}

	raceContext, ok := stringifyKeys(decoded).(map[string]any)
	if !ok && decoded != nil {
		return nil, fmt.Errorf("race context %s must be a mapping", path)
	}
	if len(raceContext) == 0 {
		return nil, fmt.Errorf("race context %s is empty", path)
	}
	return raceContext, nil
}

// stringifyKeys rewrites YAML mappings keyed by numbers or booleans (gate
// numbers, for instance) into string-keyed maps so they encode as JSON.
func stringifyKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = stringifyKeys(item)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = stringifyKeys(item)
		}
		return out
	case []any:
		for i, item := range t {
			t[i] = stringifyKeys(item)
		}
		return t
	default:
		return v
	}
}

func newPredictCommand(ctx *commandContext) *cobra.Command {
	var (
		contextPath      string
		kind             string
		systemPromptPath string
		showPrompt       bool
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run a one-off prediction against Gemini",
		RunE: func(cmd *cobra.Command, args []string) error {
			raceContext, err := loadRaceContext(contextPath)
			if err != nil {
				return err
			}
			var systemPrompt string
			if systemPromptPath != "" {
				b, err := os.ReadFile(systemPromptPath)
				if err != nil {
					return fmt.Errorf("read system prompt: %w", err)
				}
				systemPrompt = string(b)
			}
			predictionKind := prediction.ParseKind(kind)

			if showPrompt {
				prompt, err := prediction.BuildPrompt(raceContext, predictionKind, systemPrompt)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), prompt)
				return err
			}

			cfg, logger, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateGemini(); err != nil {
				return err
			}
			client, err := app.NewPredictionClient(cfg, logger, ctx.tracer())
			if err != nil {
				return err
			}

			env, err := client.GeneratePrediction(cmd.Context(), raceContext, predictionKind, systemPrompt)
			if err != nil {
				return err
			}
			return writeJSON(cmd, env)
		},
	}

	cmd.Flags().StringVar(&contextPath, "context", "", "Race context file (.json, .yaml)")
	cmd.Flags().StringVar(&kind, "type", string(prediction.KindWin), "Prediction type (win, place, quinella, exacta, trifecta)")
	cmd.Flags().StringVar(&systemPromptPath, "system-prompt-file", "", "File holding a custom system prompt")
	cmd.Flags().BoolVar(&showPrompt, "show-prompt", false, "Print the prompt instead of calling the model")
	_ = cmd.MarkFlagRequired("context")
	return cmd
}
