package commands

import (
	"fmt"
	"strings"

	"cardmotion/internal/report"

	"github.com/spf13/cobra"
)

var renderOut *string

func init() {
	renderOut = renderCmd.Flags().String("out", "", "Output HTML path. Defaults to the report path with a .html extension.")
	rootCmd.AddCommand(renderCmd)
}

var renderCmd = &cobra.Command{
	Use:   "render <report.json>",
	Short: "Render a capture report into a browsable HTML page.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := args[0]
		out := *renderOut
		if out == "" {
			out = strings.TrimSuffix(in, ".json") + ".html"
		}
		if err := report.RenderFile(in, out); err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}
