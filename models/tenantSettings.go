package models

import (
	"encoding/json"
	"time"
)

const (
	TenantStatusConnected    = "connected"
	TenantStatusDisconnected = "disconnected"
)

// ValidatorConfig is the per-tenant strategy table entry. It is resolved once
// at session start and passed as data into the orchestrator; validators never
// branch on tenant identity themselves.
type ValidatorConfig struct {
	// MatchDelimiter splits the stable prefix off a display name ("Client X - Phase 2").
	MatchDelimiter string `json:"matchDelimiter"`
	// ExpectedPipelineId and ExpectedStageIds gate the INVALID_PIPELINE check.
	ExpectedPipelineId string   `json:"expectedPipelineId"`
	ExpectedStageIds   []string `json:"expectedStageIds"`
	// CrmEnabled=false turns the deal fetch into a deliberate skip, not an error.
	CrmEnabled bool `json:"crmEnabled"`
}

func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MatchDelimiter: " - ",
		CrmEnabled:     true,
	}
}

func DecodeValidatorConfig(raw []byte) ValidatorConfig {
	if len(raw) == 0 {
		return DefaultValidatorConfig()
	}
	var cfg ValidatorConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return DefaultValidatorConfig()
	}
	if cfg.MatchDelimiter == "" {
		cfg.MatchDelimiter = " - "
	}
	return cfg
}

func EncodeValidatorConfig(cfg ValidatorConfig) []byte {
	if cfg.MatchDelimiter == "" {
		cfg.MatchDelimiter = " - "
	}
	b, _ := json.Marshal(cfg)
	return b
}

// TenantSettings holds a tenant's connection state and validator strategy.
type TenantSettings struct {
	ID             uint       `gorm:"primary_key" json:"id"`
	TenantId       string     `gorm:"uniqueIndex;size:64;not null" json:"tenant_id"`
	Status         string     `gorm:"size:20;not null" json:"status"`
	CrmBaseURL     string     `gorm:"size:255" json:"crm_base_url"`
	BooksBaseURL   string     `gorm:"size:255" json:"books_base_url"`
	CrmApiKeyRef   string     `gorm:"size:255" json:"-"`
	BooksApiKeyRef string     `gorm:"size:255" json:"-"`
	SettingsJSON   []byte     `gorm:"type:json" json:"settings"`
	LastRunAt      *time.Time `json:"last_run_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
