package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/medcortex/medcortex"
	"github.com/medcortex/medcortex/config"
	"github.com/medcortex/medcortex/schema"
)

var (
	askSubjectID      int
	askConversationID string
	askRole           string
	askFiles          []string
	askStream         bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question from the command line",
	Long: `Runs a single question through the full orchestration cycle and prints
the answer. The conversation keeps its memory between invocations as long
as the configured stores persist.

Examples:
  medcortex ask --subject 7 --conversation visit-03 "How should I take metformin?"
  medcortex ask --subject 7 --conversation visit-03 --role doctor --file report.txt "Summarize the attached lab report"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		client, err := medcortex.New(ctx, *cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		req := schema.AnswerRequest{
			Question:       strings.Join(args, " "),
			SubjectID:      askSubjectID,
			ConversationID: askConversationID,
			UserRole:       schema.UserRole(askRole),
			Timestamp:      time.Now(),
			FileHandles:    askFiles,
		}

		var result schema.AnswerResult
		if askStream {
			result, err = client.AnswerStream(ctx, req, func(chunk string) error {
				fmt.Print(chunk)
				return nil
			})
			fmt.Println()
		} else {
			result, err = client.Answer(ctx, req)
			if err == nil {
				fmt.Println(result.Answer)
			}
		}
		if err != nil {
			return err
		}
		if result.Err != "" {
			fmt.Fprintf(os.Stderr, "degraded: %s\n", result.Err)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().IntVar(&askSubjectID, "subject", 0, "subject id the question is about")
	askCmd.Flags().StringVar(&askConversationID, "conversation", "", "conversation id the question belongs to")
	askCmd.Flags().StringVar(&askRole, "role", string(schema.UserRoleSubject), "audience for the answer: doctor or subject")
	askCmd.Flags().StringArrayVar(&askFiles, "file", nil, "file handle to attach, repeatable")
	askCmd.Flags().BoolVar(&askStream, "stream", false, "print the answer incrementally")
	rootCmd.AddCommand(askCmd)
}
