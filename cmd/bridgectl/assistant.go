package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/assistant-bridge/internal/assistant"
	"github.com/ashureev/assistant-bridge/internal/fingerprint"
	"github.com/spf13/cobra"
)

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Create or update the remote assistant if local artifacts changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.onlineConfig()
			if err != nil {
				return err
			}
			def, err := assistant.LoadDefinitionWithTools(cfg.Assistant.DefinitionPath, cfg.Assistant.ToolsDir, a.logger)
			if err != nil {
				return err
			}
			manager := assistant.NewManager(a.deps.newRemote(cfg, a.logger), a.paths(cfg), a.logger)
			id, err := manager.EnsureAssistant(cmd.Context(), def)
			if err != nil {
				return fmt.Errorf("sync assistant: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}
}

type statusOutput struct {
	AssistantID string   `json:"assistant_id,omitempty"`
	UpToDate    bool     `json:"up_to_date"`
	Changed     []string `json:"changed,omitempty"`
	Tools       string   `json:"tools_sum"`
	Resources   string   `json:"resources_sum"`
	Definition  string   `json:"assistant_sum"`
}

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Compare the sync record with the current artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.offlineConfig()
			manager := assistant.NewManager(nil, a.paths(cfg), a.logger)
			report, err := manager.Status()
			if err != nil {
				return err
			}

			out := statusOutput{
				UpToDate:   report.UpToDate,
				Changed:    report.Changed,
				Tools:      report.Current.Tools,
				Resources:  report.Current.Resources,
				Definition: report.Current.Definition,
			}
			if report.Record.Valid() {
				out.AssistantID = report.Record.AssistantID
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			w := cmd.OutOrStdout()
			switch {
			case out.AssistantID == "":
				_, _ = fmt.Fprintln(w, "assistant: not synchronized")
			case out.UpToDate:
				_, _ = fmt.Fprintf(w, "assistant: %s (up to date)\n", out.AssistantID)
			default:
				_, _ = fmt.Fprintf(w, "assistant: %s (changed: %s)\n", out.AssistantID, strings.Join(out.Changed, ", "))
			}
			_, _ = fmt.Fprintf(w, "tools:      %s\n", out.Tools)
			_, _ = fmt.Fprintf(w, "resources:  %s\n", out.Resources)
			_, err = fmt.Fprintf(w, "definition: %s\n", out.Definition)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func newFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <path>...",
		Short: "Print the content digest of files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				sum, err := fingerprint.Path(path)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sum, path); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
