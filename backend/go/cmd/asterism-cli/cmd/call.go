package cmd

import (
	"asterism/backend/go/internal/models"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCallCmd(load configLoader) *cobra.Command {
	var input string
	callCmd := &cobra.Command{
		Use:   "call [server:tool]",
		Short: "Call a single MCP tool and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, tool, err := models.ParseToolCall(args[0])
			if err != nil {
				return err
			}
			var toolInput map[string]interface{}
			if input != "" {
				if err := json.Unmarshal([]byte(input), &toolInput); err != nil {
					return &models.DecodeError{Raw: input, Err: err}
				}
			}

			_, registry, err := openRegistry(load)
			if err != nil {
				return err
			}
			defer registry.Close()

			res, err := registry.ExecuteTool(cmd.Context(), server, tool, toolInput)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	callCmd.Flags().StringVar(&input, "input", "", "tool arguments as a JSON object")
	return callCmd
}
