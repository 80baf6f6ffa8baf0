package main

import (
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "clinicalctl",
		Usage:   "Operate the clinical document pipeline",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "Clinical Core API base URL",
				Value:   "http://localhost:8080",
				EnvVars: []string{"CLINICAL_API_URL"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout; synchronous processing can take minutes",
				Value: 6 * time.Minute,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "process",
				Usage:     "Run the pipeline for one document and print the result",
				ArgsUsage: "<document-id>",
				Action:    processCommand,
				Flags: []cli.Flag{
					providerFlag(),
					modeFlag(),
					&cli.BoolFlag{
						Name:  "async",
						Usage: "Enqueue the document instead of waiting for the result",
					},
				},
			},
			{
				Name:      "enqueue",
				Usage:     "Enqueue documents for background processing",
				ArgsUsage: "<document-id>...",
				Action:    enqueueCommand,
				Flags:     []cli.Flag{providerFlag(), modeFlag()},
			},
			{
				Name:      "history",
				Usage:     "Show the version history of a record or a patient",
				ArgsUsage: "[<record-type> <record-id>]",
				Action:    historyCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "patient",
						Usage: "Show history across all records of a patient",
					},
					&cli.StringFlag{
						Name:  "field",
						Usage: "Restrict record history to one field",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum versions for patient history",
						Value: 100,
					},
				},
			},
			{
				Name:      "rollback",
				Usage:     "Revert the change recorded by a version",
				ArgsUsage: "<version-id>",
				Action:    rollbackCommand,
				Flags: []cli.Flag{
					actorFlag(),
					&cli.StringFlag{
						Name:  "reason",
						Usage: "Why the change is reverted",
					},
				},
			},
			{
				Name:      "edit",
				Usage:     "Set one field of a clinical record",
				ArgsUsage: "<record-type> <record-id>",
				Action:    editCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "field",
						Usage:    "Field name, e.g. overall_stage",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "value",
						Usage: "New value in canonical form",
					},
					&cli.BoolFlag{
						Name:  "null",
						Usage: "Clear the field",
					},
					actorFlag(),
					&cli.StringFlag{
						Name:  "reason",
						Usage: "Why the value changed",
					},
				},
			},
		},
	}
}

func providerFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "provider",
		Usage: "Extraction backend (openai, gemini); empty uses the server default",
	}
}

func modeFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "mode",
		Usage: "Processing mode (fast, full, incremental)",
		Value: string(domain.ProcessingModeFull),
	}
}

func actorFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "actor",
		Usage:    "Who makes the change",
		Required: true,
		EnvVars:  []string{"CLINICAL_ACTOR"},
	}
}

func setupLogger(c *cli.Context) error {
	var level slog.Level
	switch strings.ToLower(c.String("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level: %s", c.String("log-level"))
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: level})))
	return nil
}

func clientFrom(c *cli.Context) *apiClient {
	return newAPIClient(c.String("server"), c.Duration("timeout"))
}

func options(c *cli.Context) (domain.ProcessingOptions, error) {
	opts := domain.ProcessingOptions{
		Provider: c.String("provider"),
		Mode:     domain.ProcessingMode(c.String("mode")),
	}
	if opts.Mode != "" && !opts.Mode.IsValid() {
		return opts, fmt.Errorf("invalid mode %q (use: fast, full, incremental)", opts.Mode)
	}
	return opts, nil
}

func processCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one document id")
	}
	opts, err := options(c)
	if err != nil {
		return err
	}

	path := "/api/v1/documents/" + url.PathEscape(c.Args().First()) + "/process"
	if c.Bool("async") {
		path += "?async=true"
	}

	slog.Debug("processing document", "document_id", c.Args().First(), "mode", opts.Mode)
	var out json.RawMessage
	if err := clientFrom(c).do(c.Context, "POST", path, opts, &out); err != nil {
		return err
	}
	return printJSON(c, out)
}

func enqueueCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one document id is required")
	}
	opts, err := options(c)
	if err != nil {
		return err
	}

	body := map[string]any{
		"document_ids": c.Args().Slice(),
		"provider":     opts.Provider,
		"mode":         opts.Mode,
	}
	var out struct {
		BatchID string                  `json:"batch_id"`
		Jobs    []*domain.ProcessingJob `json:"jobs"`
	}
	if err := clientFrom(c).do(c.Context, "POST", "/api/v1/documents/process", body, &out); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "enqueued %d jobs in batch %s\n", len(out.Jobs), out.BatchID)
	return nil
}

func historyCommand(c *cli.Context) error {
	var path string
	switch {
	case c.String("patient") != "":
		path = "/api/v1/patients/" + url.PathEscape(c.String("patient")) + "/history?limit=" + strconv.Itoa(c.Int("limit"))
	case c.NArg() == 2:
		recordType := domain.RecordType(c.Args().Get(0))
		if !recordType.IsValid() {
			return fmt.Errorf("unknown record type %q", recordType)
		}
		path = "/api/v1/records/" + string(recordType) + "/" + url.PathEscape(c.Args().Get(1)) + "/history"
		if field := c.String("field"); field != "" {
			path += "?field=" + url.QueryEscape(field)
		}
	default:
		return fmt.Errorf("pass --patient or <record-type> <record-id>")
	}

	var versions []*domain.VersionRecord
	if err := clientFrom(c).do(c.Context, "GET", path, nil, &versions); err != nil {
		return err
	}
	for _, v := range versions {
		fmt.Fprintf(c.App.Writer, "%s  %s  %s/%s  %s: %s -> %s  by %s\n",
			v.EditedAt.Format(time.RFC3339), v.ID, v.RecordType, v.RecordID,
			v.FieldName, display(v.OldValue), display(v.NewValue), v.EditedBy)
	}
	return nil
}

func rollbackCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one version id")
	}
	body := map[string]string{
		"actor":  c.String("actor"),
		"reason": c.String("reason"),
	}
	var v domain.VersionRecord
	path := "/api/v1/versions/" + url.PathEscape(c.Args().First()) + "/rollback"
	if err := clientFrom(c).do(c.Context, "POST", path, body, &v); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "rolled back %s on %s/%s (new version %s)\n", v.FieldName, v.RecordType, v.RecordID, v.ID)
	return nil
}

func editCommand(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("expected <record-type> <record-id>")
	}
	recordType := domain.RecordType(c.Args().Get(0))
	if !recordType.IsValid() {
		return fmt.Errorf("unknown record type %q", recordType)
	}
	if c.Bool("null") == c.IsSet("value") {
		return fmt.Errorf("pass exactly one of --value or --null")
	}

	var value *string
	if !c.Bool("null") {
		v := c.String("value")
		value = &v
	}
	body := map[string]any{
		"field_name": c.String("field"),
		"value":      value,
		"edited_by":  c.String("actor"),
		"reason":     c.String("reason"),
	}
	var out struct {
		Changed bool                  `json:"changed"`
		Version *domain.VersionRecord `json:"version"`
	}
	path := "/api/v1/records/" + string(recordType) + "/" + url.PathEscape(c.Args().Get(1))
	if err := clientFrom(c).do(c.Context, "PATCH", path, body, &out); err != nil {
		return err
	}
	if !out.Changed {
		fmt.Fprintln(c.App.Writer, "value unchanged")
		return nil
	}
	fmt.Fprintf(c.App.Writer, "updated %s (version %s)\n", c.String("field"), out.Version.ID)
	return nil
}

func display(v *string) string {
	if v == nil {
		return "null"
	}
	return strconv.Quote(*v)
}

func printJSON(c *cli.Context, raw json.RawMessage) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(raw)
}
