package models

import "time"

// ClassMeeting is a scheduled Teams class. A meeting holds at most two
// recording references: video_key (primary) and video_key_2 (secondary),
// filled in arrival order by the recording sync. meeting_id starts null for
// rows created before the Teams thread id is known and is backfilled by
// matching the join URL.
type ClassMeeting struct {
	ID            int        `json:"id"`
	CourseID      *int       `json:"course_id,omitempty"`
	Title         string     `json:"title"`
	JoinURL       *string    `json:"join_url,omitempty"`
	MeetingID     *string    `json:"meeting_id,omitempty"`
	VideoKey      *string    `json:"video_key,omitempty"`
	VideoKey2     *string    `json:"video_key_2,omitempty"`
	StartDateTime *time.Time `json:"start_date_time,omitempty"`
	EndDateTime   *time.Time `json:"end_date_time,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// HasPrimary reports whether the primary video slot is filled.
func (m *ClassMeeting) HasPrimary() bool { return m.VideoKey != nil && *m.VideoKey != "" }

// HasSecondary reports whether the secondary video slot is filled.
func (m *ClassMeeting) HasSecondary() bool { return m.VideoKey2 != nil && *m.VideoKey2 != "" }
