package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/medcortex/medcortex"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(medcortex.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
