package model

import "time"

// QueueEntry is one durable offline queue row. SequenceNo is assigned by the
// database and strictly increases; sync replays entries in ascending order
// and rows are removed only after the server acknowledges them.
type QueueEntry struct {
	SequenceNo int64     `gorm:"primaryKey;autoIncrement" json:"sequenceNo"`
	StudentID  string    `gorm:"index;size:64;not null" json:"studentId"`
	EventID    string    `gorm:"size:64;not null" json:"eventId"`
	Payload    []byte    `gorm:"not null" json:"payload"` // wifi-event JSON body
	Synced     bool      `gorm:"not null;default:false" json:"synced"`
	CreatedAt  time.Time `gorm:"not null" json:"createdAt"`
}

// OfflineSession is the durable snapshot of one "no path to the server"
// window. At most one unsynced session exists at a time.
type OfflineSession struct {
	ID                     string    `gorm:"primaryKey;size:64"`
	StudentID              string    `gorm:"size:64;not null"`
	StudentName            string    `gorm:"size:128"`
	Semester               string    `gorm:"size:32"`
	Branch                 string    `gorm:"size:64"`
	StartTime              int64     `gorm:"not null"` // epoch ms
	EndTime                int64     // epoch ms, zero while open
	LectureJSON            []byte    // LectureSnapshot, nullable
	TotalOfflineSeconds    int       `gorm:"not null"`
	LastKnownOnlineSeconds int       `gorm:"not null"`
	ReadyForSync           bool      `gorm:"not null;default:false"`
	CreatedAt              time.Time `gorm:"not null"`
	UpdatedAt              time.Time `gorm:"not null"`
}
