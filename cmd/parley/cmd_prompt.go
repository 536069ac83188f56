package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/user/parley/pkg/llm"
)

func init() {
	promptSetCmd.Flags().StringVar(&promptParamsJSON, "params", "", "sampling parameters as JSON (required)")
	promptSetCmd.MarkFlagRequired("params")
	promptCmd.AddCommand(promptSetCmd, promptShowCmd)
	rootCmd.AddCommand(promptCmd)
}

var promptParamsJSON string

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Manage the versioned system prompt",
}

var promptSetCmd = &cobra.Command{
	Use:   "set <name> <body-file>",
	Short: "Install a new active prompt version from a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read prompt body: %w", err)
		}

		// Reject bad params here rather than at answer time.
		params := json.RawMessage(promptParamsJSON)
		if _, err := llm.ParseSamplingParams(params); err != nil {
			return err
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		id, err := st.UpsertPrompt(context.Background(), args[0], string(body), params)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Installed prompt %s version %s\n", args[0], id)
		return nil
	},
}

var promptShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show the active prompt version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		prompt, err := st.ActivePrompt(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "id:     %s\nparams: %s\n\n%s\n", prompt.ID, prompt.Params, prompt.Body)
		return nil
	},
}
