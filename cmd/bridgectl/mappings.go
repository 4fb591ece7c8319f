package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/ashureev/assistant-bridge/internal/domain"
	"github.com/ashureev/assistant-bridge/internal/identity"
	"github.com/ashureev/assistant-bridge/internal/store"
	"github.com/spf13/cobra"
)

func newMappingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Manage stored chat-to-thread mappings",
	}

	cmd.AddCommand(
		newMappingsListCmd(a),
		newMappingsDeleteCmd(a),
	)

	return cmd
}

func (a *app) openStore() (*store.SQLiteStore, error) {
	cfg := a.offlineConfig()
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open mapping store: %w", err)
	}
	return repo, nil
}

func newMappingsListCmd(a *app) *cobra.Command {
	var integration, assistantID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mappings, optionally filtered by integration and assistant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if assistantID != "" && integration == "" {
				return fmt.Errorf("--assistant requires --integration")
			}
			repo, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			var mappings []*domain.ConversationMapping
			if assistantID != "" {
				mappings, err = repo.ListMappingsByAssistant(cmd.Context(), integration, assistantID)
			} else {
				mappings, err = repo.ListMappings(cmd.Context(), integration)
			}
			if err != nil {
				return err
			}

			if asJSON {
				if mappings == nil {
					mappings = []*domain.ConversationMapping{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(mappings)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "INTEGRATION\tCHAT\tASSISTANT\tTHREAD\tCREATED")
			for _, m := range mappings {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					m.Integration, m.ChatID, m.AssistantID, m.ThreadID, m.CreatedAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&integration, "integration", "", "only list mappings of this integration")
	cmd.Flags().StringVar(&assistantID, "assistant", "", "only list mappings bound to this assistant id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print mappings as JSON")
	return cmd
}

func newMappingsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <integration> <chat-id>",
		Short: "Delete the mapping of one chat so its next message starts a new thread",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			integration, chatID := args[0], identity.SanitizeChatID(args[1])
			if !identity.IsValidIntegration(integration) {
				return fmt.Errorf("invalid integration %q", args[0])
			}
			if chatID == "" {
				return fmt.Errorf("invalid chat id %q", args[1])
			}

			repo, err := a.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			if err := repo.DeleteMapping(cmd.Context(), integration, chatID); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s/%s\n", integration, chatID)
			return err
		},
	}
}
