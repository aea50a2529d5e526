// Package model defines the work-item model for batch campaign creation:
// campaign sets, device variants, and the per-variant tasks the orchestrator
// schedules. The package is pure data plus deterministic expansion; it
// performs no I/O.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Variant identifies which device flavor of a campaign set a task creates.
type Variant string

const (
	VariantDesktop   Variant = "desktop"
	VariantIOS       Variant = "ios"
	VariantAndroid   Variant = "android"
	VariantAllMobile Variant = "all_mobile" // combined iOS + Android in one campaign
)

// ParseVariant normalizes a variant name from an input table.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "desktop":
		return VariantDesktop, nil
	case "ios":
		return VariantIOS, nil
	case "android":
		return VariantAndroid, nil
	case "all mobile", "all_mobile", "mobile":
		return VariantAllMobile, nil
	default:
		return "", fmt.Errorf("unknown variant %q", s)
	}
}

// Predecessor returns the variant that must succeed before this one may
// start. Only android has a hard predecessor: it clones from the iOS
// campaign of the same set rather than from a fixed template.
func (v Variant) Predecessor() (Variant, bool) {
	if v == VariantAndroid {
		return VariantIOS, true
	}
	return "", false
}

// Status is the lifecycle state of a VariantTask.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Terminal reports whether a task in this status is finished. Terminal
// tasks never transition again except via an explicit operator override
// (--retry-failed).
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// FailureReason classifies why a task reached StatusFailed.
type FailureReason string

const (
	ReasonNone              FailureReason = ""
	ReasonValidation        FailureReason = "validation_failure"
	ReasonPredecessorFailed FailureReason = "predecessor_failed"
	ReasonFatal             FailureReason = "fatal_failure"
	ReasonNoCreativesLeft   FailureReason = "no_creatives_left"
)

// MatchType is the keyword match mode on the ad platform.
type MatchType string

const (
	MatchBroad MatchType = "broad"
	MatchExact MatchType = "exact"
)

// Keyword is one targeting keyword with its match type.
type Keyword struct {
	Name      string    `json:"name"`
	MatchType MatchType `json:"match_type"`
}

func (k Keyword) String() string {
	return fmt.Sprintf("%s (%s)", k.Name, k.MatchType)
}

// Settings carries the budget and targeting knobs shared by every variant
// of a campaign set.
type Settings struct {
	TargetCPA        float64 `json:"target_cpa"`
	PerSourceBudget  float64 `json:"per_source_test_budget"`
	MaxBid           float64 `json:"max_bid"`
	FrequencyCap     int     `json:"frequency_cap"`
	MaxDailyBudget   float64 `json:"max_daily_budget"`
	Gender           string  `json:"gender"`
}

// DefaultSettings mirrors the platform defaults used when a table column is
// left blank.
func DefaultSettings() Settings {
	return Settings{
		TargetCPA:       50.0,
		PerSourceBudget: 200.0,
		MaxBid:          10.0,
		FrequencyCap:    2,
		MaxDailyBudget:  250.0,
		Gender:          "male",
	}
}

// Creative is one row of the creative-source input: an already-uploaded
// creative on the platform, referenced by its numeric entity id.
type Creative struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// CampaignSet is one logical advertising concept. Expansion turns it into
// one VariantTask per requested variant.
type CampaignSet struct {
	Name      string     `json:"name"`
	Variants  []Variant  `json:"variants"`
	Keywords  []Keyword  `json:"keywords"`
	Geo       []string   `json:"geo"`
	Settings  Settings   `json:"settings"`
	Creatives []Creative `json:"creatives"`
	Enabled   bool       `json:"enabled"`
}

// PrimaryKeyword returns the first keyword, used for campaign naming.
func (c *CampaignSet) PrimaryKeyword() string {
	if len(c.Keywords) == 0 {
		return "unknown"
	}
	return c.Keywords[0].Name
}

// PrimaryGeo returns the first geo, used for campaign naming.
func (c *CampaignSet) PrimaryGeo() string {
	if len(c.Geo) == 0 {
		return "US"
	}
	return c.Geo[0]
}

// TaskKey uniquely identifies a VariantTask within a run.
type TaskKey struct {
	Set     string  `json:"set"`
	Variant Variant `json:"variant"`
}

// String renders the key in the "set/variant" form used by the checkpoint
// file and log lines.
func (k TaskKey) String() string {
	return k.Set + "/" + string(k.Variant)
}

// VariantTask is one schedulable unit of work: create and configure a single
// campaign variant on the remote platform.
type VariantTask struct {
	Key    TaskKey `json:"key"`
	Status Status  `json:"status"`

	// DependsOn is set when this task has a hard predecessor edge
	// (android depends on the ios task of the same set).
	DependsOn *TaskKey `json:"depends_on,omitempty"`

	// Outcome of the remote configuration.
	RemoteEntityID string `json:"remote_entity_id,omitempty"`
	ArtifactsCount int    `json:"artifacts_count"`

	// Failure detail for operator follow-up.
	Error         string        `json:"error,omitempty"`
	Reason        FailureReason `json:"reason,omitempty"`
	StrippedIDs   []string      `json:"stripped_ids,omitempty"`
	AttemptCount  int           `json:"attempt_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
