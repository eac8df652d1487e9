package models

import "time"

// Wire shapes exchanged with the automation backend. The transport is an
// external collaborator; these structs only pin down the fields the
// reconciliation core reads.

// OrchestrationRequest starts a full pipeline run for a website.
type OrchestrationRequest struct {
	WebsiteURL         string                 `json:"website_url"`
	TargetLanguage     string                 `json:"target_language,omitempty"`
	GenerateArticle    bool                   `json:"generate_article"`
	RunSEOAudit        bool                   `json:"run_seo_audit"`
	ArticlePreferences map[string]interface{} `json:"article_preferences,omitempty"`
}

// AnalysisRequest starts a standalone website analysis.
type AnalysisRequest struct {
	WebsiteURL   string `json:"website_url"`
	AnalysisType string `json:"analysis_type,omitempty"`
}

// TriggerResponse is the backend's acknowledgement of any job trigger.
// TaskID is the authoritative server key the optimistic bucket is resolved
// to.
type TriggerResponse struct {
	TaskID  string     `json:"task_id"`
	Status  TaskStatus `json:"status"`
	Message string     `json:"message,omitempty"`
}

// OrchestrationStatus is a read-only snapshot returned by the status-check
// endpoint.
type OrchestrationStatus struct {
	TaskID          string     `json:"task_id"`
	Status          TaskStatus `json:"status"`
	ProgressMessage string     `json:"progress_message,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ArticleID       string     `json:"article_id,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// TerminalWithArticle reports whether the snapshot is finished and the
// produced article identifier has landed. The two arrive non-atomically on
// the server, so a terminal status alone is not usable for callers awaiting
// the article.
func (s *OrchestrationStatus) TerminalWithArticle() bool {
	return s.Status.Terminal() && s.ArticleID != ""
}

// PublishRequest asks the backend to publish an article to a CMS.
type PublishRequest struct {
	ArticleID   string `json:"article_id"`
	CMSPlatform string `json:"cms_platform"`
}

// PublishingStatus is the status snapshot of a publication job.
type PublishingStatus struct {
	JobID        string     `json:"job_id"`
	Status       TaskStatus `json:"status"`
	ArticleID    string     `json:"article_id"`
	CMSPlatform  string     `json:"cms_platform"`
	CMSURL       string     `json:"cms_url,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	LinksAdded   int        `json:"links_added"`
}

// PixelGenerateRequest asks the backend to generate a tracking pixel for a
// website.
type PixelGenerateRequest struct {
	WebsiteID string                 `json:"website_id"`
	Options   map[string]interface{} `json:"options,omitempty"`
}

// PixelRollbackRequest rolls a deployed pixel back to a previous version.
type PixelRollbackRequest struct {
	WebsiteID string `json:"website_id"`
	URL       string `json:"url"`
	VersionID string `json:"version_id"`
}

// PixelStatus is the deployment snapshot of a pixel.
type PixelStatus struct {
	PixelID          string     `json:"pixel_id"`
	WebsiteID        string     `json:"website_id"`
	IsActive         bool       `json:"is_active"`
	DeployedVersions []string   `json:"deployed_versions,omitempty"`
	LastUpdated      *time.Time `json:"last_updated,omitempty"`
}

// CMSSyncRequest asks the backend to re-sync a connected CMS.
type CMSSyncRequest struct {
	WebsiteID   string `json:"website_id"`
	CMSPlatform string `json:"cms_platform"`
}
