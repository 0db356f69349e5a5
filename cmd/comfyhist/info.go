package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/promptvault/comfyhistory/graphapi"
)

func newInfoCommand() *cobra.Command {
	var pngPath string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Summarize the workflow embedded in a PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := loadPromptFromPNG(pngPath)
			if err != nil {
				return err
			}
			summary := graphapi.Summarize(prompt)

			rows := [][]string{
				{"Positive", summary.Positive},
				{"Negative", summary.Negative},
				{"Steps", formatAny(summary.Steps)},
				{"Checkpoint", summary.Checkpoint},
			}
			fmt.Println(renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}

	cmd.Flags().StringVar(&pngPath, "png", "", "PNG file with an embedded workflow")
	_ = cmd.MarkFlagRequired("png")

	return cmd
}

func formatAny(v any) string {
	if v == nil {
		return ""
	}
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", v)
}
