// Package patient reads the known identifying attributes of a patient from
// the record store.
package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/models"
)

// Store loads the attributes of a patient. A nil result with a nil error
// means the patient is unknown.
type Store interface {
	LoadAttributes(ctx context.Context, id string) (*models.PatientAttributes, error)
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type PatientModel struct {
	ID            string `gorm:"primaryKey"`
	Name          string
	DateOfBirth   string
	Sex           string
	Address       string
	Phone         string
	Email         string
	GuardianName  string
	GuardianPhone string
	GuardianEmail string
	School        string
	// Free identifiers such as record or insurance numbers.
	Extra     datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PatientModel) TableName() string {
	return "patients"
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&PatientModel{})
}

func (r *Repository) LoadAttributes(ctx context.Context, id string) (*models.PatientAttributes, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}

	var record PatientModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	return ToAttributes(record), nil
}

// Save inserts or replaces the attributes of patient id.
func (r *Repository) Save(ctx context.Context, id string, attrs models.PatientAttributes) error {
	record := FromAttributes(id, attrs)
	record.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&record).Error
}

func ToAttributes(record PatientModel) *models.PatientAttributes {
	attrs := &models.PatientAttributes{
		Name:          record.Name,
		DateOfBirth:   record.DateOfBirth,
		Sex:           record.Sex,
		Address:       record.Address,
		Phone:         record.Phone,
		Email:         record.Email,
		GuardianName:  record.GuardianName,
		GuardianPhone: record.GuardianPhone,
		GuardianEmail: record.GuardianEmail,
		School:        record.School,
	}
	if len(record.Extra) > 0 {
		attrs.Extra = make(map[string]string, len(record.Extra))
		for k, v := range record.Extra {
			if s := stringValue(v); s != "" {
				attrs.Extra[k] = s
			}
		}
	}
	return attrs
}

func FromAttributes(id string, attrs models.PatientAttributes) PatientModel {
	record := PatientModel{
		ID:            id,
		Name:          attrs.Name,
		DateOfBirth:   attrs.DateOfBirth,
		Sex:           attrs.Sex,
		Address:       attrs.Address,
		Phone:         attrs.Phone,
		Email:         attrs.Email,
		GuardianName:  attrs.GuardianName,
		GuardianPhone: attrs.GuardianPhone,
		GuardianEmail: attrs.GuardianEmail,
		School:        attrs.School,
	}
	if len(attrs.Extra) > 0 {
		record.Extra = datatypes.JSONMap{}
		for k, v := range attrs.Extra {
			record.Extra[k] = v
		}
	}
	return record
}

// stringValue renders JSONB scalars; numbers decode as float64.
func stringValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
