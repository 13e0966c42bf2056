package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EvidenceRecord is the metadata of an uploaded evidence file. The blob
// itself lives in the configured evidence store under StoragePath.
type EvidenceRecord struct {
	EvidenceID  string    `json:"evidence_id"  gorm:"column:evidence_id;type:varchar(32);primaryKey"`
	SessionID   string    `json:"session_id"   gorm:"column:session_id;type:varchar(32);not null;index"`
	CaseID      string    `json:"case_id"      gorm:"column:case_id;type:varchar(32);not null;index"`
	FileName    string    `json:"file_name"    gorm:"column:file_name;type:varchar(255);not null"`
	MimeType    string    `json:"mime_type"    gorm:"column:mime_type;type:varchar(128);not null"`
	SizeBytes   int64     `json:"size_bytes"   gorm:"column:size_bytes;not null"`
	StoragePath string    `json:"storage_path" gorm:"column:storage_path;type:varchar(1024);not null"`
	UploadedAt  time.Time `json:"uploaded_at"  gorm:"column:uploaded_at;not null"`

	Validations []EvidenceValidation `json:"-" gorm:"foreignKey:EvidenceID;references:EvidenceID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for EvidenceRecord.
func (EvidenceRecord) TableName() string { return "evidence_records" }

// EvidenceValidation is the stored outcome of validating one evidence
// record against one (order, item) pair. The triple is unique.
type EvidenceValidation struct {
	ID          uint64          `json:"id"           gorm:"column:id;primaryKey;autoIncrement"`
	EvidenceID  string          `json:"evidence_id"  gorm:"column:evidence_id;type:varchar(32);not null;uniqueIndex:ux_evidence_validations_triple,priority:1"`
	OrderID     string          `json:"order_id"     gorm:"column:order_id;type:varchar(32);not null;uniqueIndex:ux_evidence_validations_triple,priority:2"`
	ItemID      string          `json:"item_id"      gorm:"column:item_id;type:varchar(32);not null;uniqueIndex:ux_evidence_validations_triple,priority:3"`
	Passed      bool            `json:"passed"       gorm:"column:passed;not null"`
	Confidence  decimal.Decimal `json:"confidence"   gorm:"column:confidence;type:numeric(4,3);not null"`
	Reasons     JSON            `json:"reasons"      gorm:"column:reasons;not null"`
	Approach    string          `json:"approach"     gorm:"column:approach;type:varchar(16);not null"`
	ValidatedAt time.Time       `json:"validated_at" gorm:"column:validated_at;not null"`
}

// TableName returns the database table name for EvidenceValidation.
func (EvidenceValidation) TableName() string { return "evidence_validations" }
