package model

import "time"

// Appointment is the flat persisted record of a consultation booking.
// Which of the nullable fields may legally be populated for a given status is
// enforced by the phase layer in internal/appointment, not by the schema.
type Appointment struct {
	ID   int64  `gorm:"primaryKey" json:"id"`
	Code string `gorm:"uniqueIndex;size:32;not null" json:"code"`

	// Parties. Opaque identifiers owned by the external user directory.
	FarmerID string `gorm:"size:64;index;not null" json:"farmer_id"`
	ExpertID string `gorm:"size:64;index;not null" json:"expert_id"`

	// Schedule. ScheduledDate is the day truncated to midnight UTC; the
	// start/end columns carry the full timestamps.
	ScheduledDate   time.Time `gorm:"index;not null" json:"scheduled_date"`
	ScheduledStart  time.Time `gorm:"column:scheduled_start_time;not null" json:"scheduled_start_time"`
	ScheduledEnd    time.Time `gorm:"column:scheduled_end_time;not null" json:"scheduled_end_time"`
	DurationMinutes int       `gorm:"not null" json:"duration_minutes"`

	Mode   string `gorm:"size:16;not null" json:"mode"`
	Status string `gorm:"size:20;index;not null" json:"status"`

	// Problem context, informational only.
	Topic       string `gorm:"size:255;not null" json:"topic"`
	Description string `gorm:"type:text" json:"description"`
	CropType    string `gorm:"size:128" json:"crop_type,omitempty"`
	Urgency     string `gorm:"size:16" json:"urgency"`

	// Rescheduling negotiation.
	ProposedDate     *time.Time `json:"proposed_date,omitempty"`
	ProposedStart    *time.Time `gorm:"column:proposed_start_time" json:"proposed_start_time,omitempty"`
	ProposedEnd      *time.Time `gorm:"column:proposed_end_time" json:"proposed_end_time,omitempty"`
	RescheduleReason string     `gorm:"size:255" json:"reschedule_reason,omitempty"`
	RescheduleCount  int        `gorm:"not null;default:0" json:"reschedule_count"`

	// Outcome.
	CancellationReason string `gorm:"size:255" json:"cancellation_reason,omitempty"`
	CancelledBy        string `gorm:"size:16" json:"cancelled_by,omitempty"`

	// Call session. Populated only while the session is in progress.
	RoomID         *string    `gorm:"uniqueIndex;size:64" json:"room_id,omitempty"`
	AgoraChannel   string     `gorm:"size:64" json:"agora_channel,omitempty"`
	AgoraToken     string     `gorm:"size:512" json:"agora_token,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`

	// Presence signals from the realtime provider.
	FarmerJoinedAt *time.Time `json:"farmer_joined_at,omitempty"`
	ExpertJoinedAt *time.Time `json:"expert_joined_at,omitempty"`

	RequestedAt time.Time  `gorm:"not null" json:"requested_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}
