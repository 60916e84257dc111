package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newToolsCmd(load configLoader) *cobra.Command {
	var live bool
	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "List enabled MCP servers and their tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, registry, err := openRegistry(load)
			if err != nil {
				return err
			}
			defer registry.Close()

			out := cmd.OutOrStdout()
			for _, server := range registry.Servers() {
				if !server.Enabled {
					continue
				}
				fmt.Fprintf(out, "%s (%s)\n", server.Name, server.Transport)
				tools := server.Tools
				if live {
					// 询问服务端实际提供的工具
					tools, err = registry.ListTools(cmd.Context(), server.Name)
					if err != nil {
						fmt.Fprintf(out, "  ! %v\n", err)
						continue
					}
				}
				if len(tools) == 0 {
					fmt.Fprintln(out, "  (no tools)")
					continue
				}
				fmt.Fprintf(out, "  - %s\n", strings.Join(tools, "\n  - "))
			}
			return nil
		},
	}
	toolsCmd.Flags().BoolVar(&live, "live", false, "start each server and list the tools it reports")
	return toolsCmd
}
