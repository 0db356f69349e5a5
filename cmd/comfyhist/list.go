package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/promptvault/comfyhistory/history"
)

func newListCommand(configFlag *string) *cobra.Command {
	var dirFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved prompt files, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := dirFlag
			if dir == "" {
				cfg, err := loadConfig(*configFlag)
				if err != nil {
					return err
				}
				dir = cfg.Paths.PromptsDir
			}

			entries, err := history.NewStore(dir).List()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no saved prompts in", dir)
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				status := e.Mode
				if e.Error != "" {
					status = e.Error
				}
				clip := strconv.Itoa(e.ClipCount)
				if e.ClipOnly {
					clip += " (clip only)"
				}
				modified := time.Unix(0, int64(e.Modified*float64(time.Second)))
				rows = append(rows, []string{
					e.Name,
					modified.Format(time.DateTime),
					status,
					clip,
				})
			}
			fmt.Println(renderTable(
				[]string{"Name", "Modified", "Mode", "CLIP texts"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&dirFlag, "dir", "", "Prompts directory (overrides config)")
	return cmd
}
