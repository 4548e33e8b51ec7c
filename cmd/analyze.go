package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mrsingh-rishi/voice-analysis/model"
)

var (
	userID         string
	parentID       string
	mimeType       string
	transcribeOnly bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Analyze a local reading recording",
	Long: `Runs the reading analysis on a local audio file and prints the result
as JSON. With --transcribe only the moderated transcript is printed.

Examples:
  voice-analysis analyze reading.wav --user student-1
  voice-analysis analyze story.mp3 --transcribe`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

var commandCmd = &cobra.Command{
	Use:   "command <text>",
	Short: "Interpret a spoken command",
	Args:  cobra.ExactArgs(1),
	RunE:  runCommand,
}

var promptContext string

func init() {
	for _, c := range []*cobra.Command{analyzeCmd, commandCmd} {
		c.Flags().StringVar(&userID, "user", "cli", "user id to record the run under")
		c.Flags().StringVar(&parentID, "parent", "", "guardian id; makes the user a dependent")
		rootCmd.AddCommand(c)
	}
	analyzeCmd.Flags().StringVar(&mimeType, "mime", "", "MIME type of the file (default: from extension)")
	analyzeCmd.Flags().BoolVar(&transcribeOnly, "transcribe", false, "only transcribe")
	commandCmd.Flags().StringVar(&promptContext, "context", "", "context passed to the model")
}

func cliPrincipal() model.Principal {
	if parentID != "" {
		return model.Principal{UserID: userID, Role: model.RoleDependent, ParentID: parentID}
	}
	return model.Principal{UserID: userID, Role: model.RoleGuardian}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		printError("failed to read audio file", err)
		return err
	}
	buf := model.AudioBuffer{Data: data, MimeType: mimeType, Filename: filepath.Base(args[0])}
	if buf.MimeType == "" {
		buf.MimeType = mime.TypeByExtension(filepath.Ext(args[0]))
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		printError("failed to load configuration", err)
		return err
	}
	a, err := newApp(cfg, logger, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if transcribeOnly {
		text, err := a.service.Transcribe(ctx, cliPrincipal(), buf)
		if err != nil {
			printError("transcription failed", err)
			return err
		}
		fmt.Println(text)
		return nil
	}

	analysis, err := a.service.AnalyzeReading(ctx, cliPrincipal(), buf)
	if err != nil {
		printError("analysis failed", err)
		return err
	}
	return printJSON(analysis)
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		printError("failed to load configuration", err)
		return err
	}
	a, err := newApp(cfg, logger, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := a.service.ProcessCommand(ctx, cliPrincipal(), args[0], promptContext)
	if err != nil {
		printError("command failed", err)
		return err
	}
	return printJSON(res)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
