package models

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Failure kinds recorded alongside a failed status.
const (
	ErrorKindStore     = "store"
	ErrorKindPanic     = "panic"
	ErrorKindTimeout   = "timeout"
	ErrorKindCancelled = "cancelled"
)

type Category string

const (
	CategoryCVEs          Category = "cves"
	CategoryMisconfig     Category = "misconfig"
	CategoryExposures     Category = "exposures"
	CategoryTechnologies  Category = "technologies"
	CategoryExposedPanels Category = "exposed-panels"
	CategoryTakeovers     Category = "takeovers"
)

// Categories is the fixed set offered for vulnerability scans, in display order.
var Categories = []Category{
	CategoryCVEs,
	CategoryMisconfig,
	CategoryExposures,
	CategoryTechnologies,
	CategoryExposedPanels,
	CategoryTakeovers,
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

type ScanJob struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	Domain       string      `gorm:"size:255;not null;uniqueIndex" json:"domain"`
	Status       Status      `gorm:"size:32;not null;index" json:"status"`
	ErrorKind    string      `gorm:"size:32" json:"error_kind,omitempty"`
	ErrorMessage string      `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	FinishedAt   *time.Time  `json:"finished_at,omitempty"`
	Subdomains   []Subdomain `gorm:"foreignKey:ScanID;constraint:OnDelete:CASCADE" json:"subdomains,omitempty"`
}

type Subdomain struct {
	ID        uint          `gorm:"primaryKey" json:"id"`
	ScanID    uint          `gorm:"not null;uniqueIndex:idx_subdomain_scan_name" json:"scan_id"`
	Name      string        `gorm:"size:255;not null;uniqueIndex:idx_subdomain_scan_name" json:"name"`
	HTTPAlive bool          `gorm:"not null" json:"http_alive"`
	Ports     []Port        `gorm:"foreignKey:SubdomainID;constraint:OnDelete:CASCADE" json:"ports"`
	Findings  []Finding     `gorm:"foreignKey:SubdomainID;constraint:OnDelete:CASCADE" json:"findings"`
	Progress  *ScanProgress `gorm:"foreignKey:SubdomainID;constraint:OnDelete:CASCADE" json:"-"`
}

type Port struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	SubdomainID uint   `gorm:"not null;index" json:"subdomain_id"`
	Port        string `gorm:"size:255;not null" json:"port"`
}

type Finding struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SubdomainID uint      `gorm:"not null;index" json:"subdomain_id"`
	Category    Category  `gorm:"size:32;not null;index" json:"category"`
	Raw         string    `gorm:"type:text;not null" json:"raw"`
	CreatedAt   time.Time `json:"created_at"`
}

type ScanProgress struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SubdomainID  uint      `gorm:"not null;uniqueIndex" json:"subdomain_id"`
	Status       Status    `gorm:"size:32;not null" json:"status"`
	ErrorKind    string    `gorm:"size:32" json:"error_kind,omitempty"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (ScanProgress) TableName() string {
	return "scan_progress"
}

// All lists every model for migrations.
func All() []interface{} {
	return []interface{}{&ScanJob{}, &Subdomain{}, &Port{}, &Finding{}, &ScanProgress{}}
}
