package models

import "time"

// LogEntry is a persisted slog record. Subject is the account the record is
// about (admin username or member id), if any.
type LogEntry struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	Level     string    `json:"level" gorm:"index"`
	Message   string    `json:"message"`
	Source    string    `json:"source" gorm:"index"`
	Subject   string    `json:"subject,omitempty" gorm:"index"`
	Data      string    `json:"data"`
}
