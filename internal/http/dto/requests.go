package dto

import "time"

type CreateRecordRequest struct {
	ClientName    string     `json:"client_name"`
	SessionNumber int        `json:"session_number"`
	Counselor     string     `json:"counselor"`
	SessionDate   *time.Time `json:"session_date,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
}
