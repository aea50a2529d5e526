// Package remote defines the Remote Campaign Service boundary: the single
// logical operation that creates and configures one campaign variant on the
// ad platform. The production implementation drives the platform's web UI
// through a rod-managed Chrome session; the orchestrator depends only on the
// Service interface and never inspects how the operation is carried out.
package remote

import (
	"context"
	"fmt"

	"adlaunch/internal/model"
)

// Request describes one variant to create and configure.
type Request struct {
	SetName      string
	Variant      model.Variant
	CampaignName string

	// TemplateEntityID is the fixed platform campaign to clone for variants
	// without a predecessor (desktop, ios, all-mobile).
	TemplateEntityID string

	// PredecessorEntityID is the clone source for android: the ios campaign
	// created earlier for the same set. Exactly one of the two sources is
	// set.
	PredecessorEntityID string

	Settings  model.Settings
	Geo       []string
	Keywords  []model.Keyword
	Creatives []model.Creative
}

// CloneSource returns the campaign id this variant clones from.
func (r Request) CloneSource() string {
	if r.PredecessorEntityID != "" {
		return r.PredecessorEntityID
	}
	return r.TemplateEntityID
}

// Result is the outcome of a successful Configure call.
type Result struct {
	EntityID    string // platform id of the created campaign
	AdsUploaded int    // creatives accepted by the platform
}

// ValidationError reports that the platform rejected specific input content.
// The text is the platform's free-form feedback; the orchestrator's recovery
// loop extracts offending creative ids from it and retries with them
// removed.
type ValidationError struct {
	Text string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("platform validation failure: %s", e.Text)
}

// FatalError reports a transport, auth, timeout, or otherwise unexpected
// remote failure. Fatal errors are not retried; the task fails and the batch
// moves on.
type FatalError struct {
	Text string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("remote failure: %s", e.Text)
}

// Service is the Remote Campaign Service consumed by the orchestrator.
type Service interface {
	// Configure runs the multi-step configuration sequence for one variant:
	// clone-or-create, apply targeting and budget settings, upload the
	// creative source. On success it returns the created campaign's entity
	// id and the number of ads uploaded; otherwise the error is a
	// *ValidationError or a *FatalError.
	Configure(ctx context.Context, req Request) (Result, error)
}
