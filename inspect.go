package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pmo_doc_generator/exporter"
)

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print the heading and body paragraphs of a .docx",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, err := exporter.Parse(data)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if heading, ok := doc.Heading(); ok {
				fmt.Fprintf(w, "# %s\n\n", heading)
			}
			for _, p := range doc.Body() {
				fmt.Fprintln(w, p.Text)
			}
			return nil
		},
	}
}
