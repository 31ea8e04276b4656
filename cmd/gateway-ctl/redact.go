package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/models"
	"github.com/synaptica-ai/privacy-gateway/pkg/dlp"
	"github.com/synaptica-ai/privacy-gateway/pkg/redaction"
	"github.com/synaptica-ai/privacy-gateway/pkg/routing"
)

const previewPatientID = "preview"

// fileStore serves one patient read from a JSON file.
type fileStore struct {
	attrs *models.PatientAttributes
}

func (f fileStore) LoadAttributes(_ context.Context, id string) (*models.PatientAttributes, error) {
	if id != previewPatientID {
		return nil, nil
	}
	return f.attrs, nil
}

func newRedactCommand() *cobra.Command {
	var rulesPath, patientPath string
	cmd := &cobra.Command{
		Use:   "redact [file]",
		Short: "Preview what would be redacted before text leaves the machine",
		Long: `Runs the redaction engine offline over a file or stdin and prints the
redacted text with replacement counts per category. Original values are
never printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			return runRedact(cmd, text, rulesPath, patientPath)
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", os.Getenv("DLP_RULES_PATH"), "YAML pattern rules file")
	cmd.Flags().StringVar(&patientPath, "patient", "", "JSON file with the patient's known attributes")
	return cmd
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 {
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), err
	}
	data, err := os.ReadFile(filepath.Clean(args[0]))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", args[0], err)
	}
	return string(data), nil
}

func runRedact(cmd *cobra.Command, text, rulesPath, patientPath string) error {
	rules, err := dlp.LoadRules(rulesPath)
	if err != nil {
		return err
	}
	detector, err := dlp.NewDetector(rules)
	if err != nil {
		return err
	}

	opts := routing.Options{Engine: redaction.NewEngine(detector)}
	patientID := ""
	if patientPath != "" {
		data, err := os.ReadFile(filepath.Clean(patientPath))
		if err != nil {
			return fmt.Errorf("read patient %s: %w", patientPath, err)
		}
		var attrs models.PatientAttributes
		if err := json.Unmarshal(data, &attrs); err != nil {
			return fmt.Errorf("parse patient %s: %w", patientPath, err)
		}
		opts.Store = fileStore{attrs: &attrs}
		patientID = previewPatientID
	}

	preview, err := routing.New(opts).Redact(cmd.Context(), routing.RedactInput{
		Text:      text,
		PatientID: patientID,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(preview)
}
