package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/wudi/pdfredact/builder"
	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/writer"
)

var sampleCmd = &cobra.Command{
	Use:   "sample <out.pdf>",
	Short: "Write a demo PDF containing personal data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := sampleDocument()
		if err != nil {
			return err
		}
		if err := writer.WriteFile(context.Background(), writer.New(), doc, args[0], writer.Config{Compression: 6}); err != nil {
			return err
		}
		printf(cmd, "wrote %s\n", args[0])
		return nil
	},
}

func sampleDocument() (*raw.Document, error) {
	heading := builder.TextOptions{Font: "Helvetica-Bold", FontSize: 16}
	body := builder.TextOptions{FontSize: 11}
	return builder.NewBuilder().
		SetInfo("Customer record", "pdfredact").
		NewPage(612, 792).
		DrawText("Customer record", 72, 720, heading).
		DrawLine(72, 712, 540, 712, builder.LineOptions{LineWidth: 0.5}).
		DrawText("Name: Jane Doe", 72, 690, body).
		DrawText("jane@example.com", 72, 672, body).
		DrawText("Call 555-867-5309", 72, 654, body).
		DrawText("SSN 123-45-6789", 72, 636, body).
		DrawText("Card 4111 1111 1111 1111", 72, 618, body).
		DrawRectangle(72, 540, 200, 50, builder.RectOptions{FillColor: builder.Color{R: 0.9, G: 0.9, B: 0.95}}).
		DrawText("Last login from 192.168.10.254", 80, 560, body).
		Finish().
		NewPage(612, 792).
		DrawText("Notes", 72, 720, heading).
		DrawText("No sensitive content on this page.", 72, 690, body).
		Finish().
		Build()
}

func init() {
	rootCmd.AddCommand(sampleCmd)
}
