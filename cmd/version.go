package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "egdb 0.1.0"

func init() {
	egdbCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of Egdb",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(version)
			},
		})
}
