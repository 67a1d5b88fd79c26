package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "medcortex",
	Short: "Medcortex — context orchestration for medical Q&A",
	Long: `Medcortex answers medical questions by orchestrating the subject's
personal records, conversation memory, attached files and curated expert
knowledge into one grounded model prompt.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
}
