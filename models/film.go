package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Pipeline steps. Transitions are strictly ordered; any stage error returns
// the film to idle and the user resubmits from the concept step.
const (
	StepIdle              = "idle"
	StepValidatingConcept = "validating-concept"
	StepGeneratingScript  = "generating-script"
	StepValidatingScript  = "validating-script"
	StepPlanningShots     = "planning-shots"
	StepGeneratingVideo   = "generating-video"
	StepCompleted         = "completed"
)

// Message roles and semantic tags. Messages are display-only.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"

	MessageTypeScript     = "script"
	MessageTypeShots      = "shots"
	MessageTypeError      = "error"
	MessageTypeSuggestion = "suggestion"
)

// StringList stores an ordered list of URLs as a JSON column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, l)
}

// Film is one generation run. The slug namespaces everything the run writes
// to object storage.
type Film struct {
	ID             string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Slug           string     `gorm:"uniqueIndex;type:varchar(128)" json:"slug"`
	Step           string     `json:"step"`
	Concept        string     `gorm:"type:text" json:"concept"`
	Script         string     `gorm:"type:text" json:"script"`
	Shots          string     `gorm:"type:text" json:"shots"`
	ClipUrls       StringList `gorm:"type:json" json:"clipUrls"`
	VideoUrl       string     `json:"videoUrl"`
	Progress       int        `json:"progress"`
	Error          string     `gorm:"type:text" json:"error"`
	VideoAttempted bool       `json:"videoAttempted"`
	Language       string     `json:"language"`
	TargetPlatform string     `json:"targetPlatform"`
	Tone           string     `json:"tone"`
	SoundStyle     string     `json:"soundStyle"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func (Film) TableName() string {
	return "film"
}

// FilmMessage is one append-only chat log entry. It carries no control
// information.
type FilmMessage struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	FilmID    string    `gorm:"index;type:varchar(64)" json:"filmId"`
	Role      string    `json:"role"`
	Content   string    `gorm:"type:text" json:"content"`
	Type      string    `json:"type,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (FilmMessage) TableName() string {
	return "film_message"
}

func CreateFilm(db *gorm.DB, f *Film) error {
	now := time.Now()
	f.CreatedAt = now
	f.UpdatedAt = now
	return db.Create(f).Error
}

func GetFilmBySlug(db *gorm.DB, slug string) (*Film, error) {
	var f Film
	if err := db.First(&f, "slug = ?", slug).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *Film) Update(db *gorm.DB, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	return db.Model(f).Updates(updates).Error
}

func AppendFilmMessage(db *gorm.DB, m *FilmMessage) error {
	m.CreatedAt = time.Now()
	return db.Create(m).Error
}

func GetFilmMessages(db *gorm.DB, filmID string) ([]FilmMessage, error) {
	var msgs []FilmMessage
	if err := db.Where("film_id = ?", filmID).Order("id ASC").Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
