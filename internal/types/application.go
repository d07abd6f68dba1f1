package types

import (
  "time"
  "github.com/google/uuid"
  "gorm.io/datatypes"
  "gorm.io/gorm"
)

// Application lifecycle. Transitions are pending -> processing -> ready|failed;
// a worker retry claims a failed row as a fresh attempt, never rolls a ready
// row back.
const (
  ApplicationStatusPending    = "pending"
  ApplicationStatusProcessing = "processing"
  ApplicationStatusReady      = "ready"
  ApplicationStatusFailed     = "failed"
)

type Application struct {
  ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  Name        string         `gorm:"column:name;not null" json:"name"`
  Email       string         `gorm:"column:email;not null" json:"email"`
  Notes       string         `gorm:"column:notes" json:"notes"`
  Body        string         `gorm:"column:body;type:text" json:"body"`
  Status      string         `gorm:"column:status;not null;default:'pending';index" json:"status"`
  TxtPath     string         `gorm:"column:txt_path" json:"txt_path"`
  DocxPath    string         `gorm:"column:docx_path" json:"docx_path"`
  AmountCents int            `gorm:"column:amount_cents;default:0" json:"amount_cents"`
  Meta        datatypes.JSON `gorm:"column:meta;type:jsonb" json:"meta"`
  Attempts    int            `gorm:"column:attempts;default:0" json:"attempts"`
  LockedAt    *time.Time     `gorm:"column:locked_at" json:"-"`
  HeartbeatAt *time.Time     `gorm:"column:heartbeat_at" json:"-"`
  LastErrorAt *time.Time     `gorm:"column:last_error_at" json:"-"`
  CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
  UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
  DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Application) TableName() string { return "application" }
