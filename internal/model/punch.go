package model

import "time"

// PunchRecord is the persisted result of one logical submission.
type PunchRecord struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SubmissionID      string    `gorm:"uniqueIndex;size:36;not null" json:"submissionId"`
	Action            string    `gorm:"size:16;not null" json:"action"`
	Outcome           string    `gorm:"size:32;not null;index" json:"outcome"`
	StatusCode        int       `json:"statusCode,omitempty"`
	Detail            string    `gorm:"type:text" json:"detail,omitempty"`
	CredentialProblem bool      `gorm:"not null" json:"credentialProblem"`
	Attempts          int       `gorm:"not null" json:"attempts"`
	StartedAt         time.Time `gorm:"not null;index" json:"startedAt"`
	FinishedAt        time.Time `gorm:"not null" json:"finishedAt"`
}
