package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/internal/preprocess"
	"github.com/spf13/cobra"
)

func askCMD() *cobra.Command {
	var (
		cfgPath   string
		sessionID string
		files     []string
		policy    string
		full      bool
	)
	var ask = &cobra.Command{
		Use:   "ask [question]",
		Short: "Run one question through the pipeline and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			log := newLogger(cfg.General)

			uploads := make([]preprocess.Upload, 0, len(files))
			for _, path := range files {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				uploads = append(uploads, preprocess.Upload{Filename: filepath.Base(path), Data: data})
			}

			p, err := buildPipeline(cmd.Context(), cfg, log, pipelineOptions{policy: policy, withHistory: sessionID != ""})
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()

			resp, err := p.orch.RunAgent(cmd.Context(), strings.Join(args, " "), sessionID, uploads)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if full {
				enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			if s, ok := resp.Response.(string); ok {
				_, err = fmt.Fprintln(out, s)
				return err
			}
			return jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(out).Encode(resp.Response)
		},
	}
	ask.Flags().StringVar(&sessionID, "session", "", "session id; history is stored when set")
	ask.Flags().StringSliceVar(&files, "file", nil, "file to attach (repeatable)")
	ask.Flags().StringVar(&policy, "policy", "", "routing policy: balanced, flash_first, gemini_only, gpt4o_only")
	ask.Flags().BoolVar(&full, "full", false, "print every step result as JSON")
	ask.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return ask
}
