package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pmo_doc_generator/exporter"
	"pmo_doc_generator/generator"
)

func generateCmd() *cobra.Command {
	var (
		topic       string
		out         string
		showHistory bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run the chain once for a topic and write the Word document",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(topic) == "" {
				return errors.New("--topic is required")
			}
			a, err := setup()
			if err != nil {
				return err
			}

			transcript := generator.NewTranscript(a.chain.InputKey())
			res, err := a.chain.Execute(cmd.Context(), transcript, topic)
			a.metrics.ObserveRun(err)
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			printResult(stdout, res)
			if showHistory {
				fmt.Fprintln(stdout, "== Message History ==")
				fmt.Fprintln(stdout, transcript.Render())
			}

			data, err := exporter.Export(exporter.DefaultTitle, res.Combined())
			a.metrics.ObserveExport(err)
			if err != nil {
				return err
			}
			if err := writeFileAtomic(out, data); err != nil {
				return err
			}
			a.logger.Info("document written", "path", out, "bytes", len(data), "run_id", res.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "project topic")
	cmd.Flags().StringVarP(&out, "out", "o", exporter.DocumentFilename, "output .docx path")
	cmd.Flags().BoolVar(&showHistory, "history", false, "print the message history")
	return cmd
}

func printResult(w io.Writer, res *generator.RunResult) {
	for _, o := range res.Outputs {
		fmt.Fprintf(w, "== %s ==\n%s\n\n", o.Key, o.Text)
	}
}

// writeFileAtomic 先写临时文件再 rename，失败时不会留下截断的文档。
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
