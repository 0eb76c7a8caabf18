package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/questline/pkg/diagram"
)

var diagramFormat string

var diagramCmd = &cobra.Command{
	Use:   "diagram [quest.yaml]",
	Short: "Render the quest's object timelines as a diagram",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiagram,
}

func runDiagram(cmd *cobra.Command, args []string) error {
	q, err := loadQuest(cmd.ErrOrStderr(), args[0])
	if err != nil {
		return err
	}
	out, err := diagram.Generate(q, diagram.Format(diagramFormat))
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

func init() {
	diagramCmd.Flags().StringVar(&diagramFormat, "format", string(diagram.FormatASCII), "Output format: ascii or mermaid")
	rootCmd.AddCommand(diagramCmd)
}
