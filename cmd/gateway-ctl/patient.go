package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/config"
	"github.com/synaptica-ai/privacy-gateway/pkg/common/database"
	"github.com/synaptica-ai/privacy-gateway/pkg/common/logger"
	"github.com/synaptica-ai/privacy-gateway/pkg/common/models"
	"github.com/synaptica-ai/privacy-gateway/pkg/patient"
)

// patientRecord is one entry of an import file.
type patientRecord struct {
	ID string `json:"id"`
	models.PatientAttributes
}

func newPatientCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patient",
		Short: "Manage the patient record store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.json>",
		Short: "Upsert patients from a JSON array into the record store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readPatients(args[0])
			if err != nil {
				return err
			}

			db, err := database.GetPostgres(config.Load())
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer database.ClosePostgres()

			repo := patient.NewRepository(db)
			if err := repo.AutoMigrate(); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			for _, rec := range records {
				if err := repo.Save(cmd.Context(), rec.ID, rec.PatientAttributes); err != nil {
					return fmt.Errorf("save patient %s: %w", rec.ID, err)
				}
			}
			logger.Log.WithField("count", len(records)).Info("Patients imported")
			return nil
		},
	})
	return cmd
}

func readPatients(path string) ([]patientRecord, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var records []patientRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, rec := range records {
		if rec.ID == "" {
			return nil, fmt.Errorf("record %d has no id", i)
		}
	}
	return records, nil
}
