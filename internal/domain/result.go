package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// FailureKind classifies a failed conversion
type FailureKind string

const (
	FailureUnclassified       FailureKind = ""
	FailurePrerequisite       FailureKind = "prerequisite_failed"
	FailureTitleNotTranslated FailureKind = "title_not_translated"
	FailureMissingSource      FailureKind = "missing_source"
	FailureInit               FailureKind = "init_failed"
)

// Retryable reports whether a retry policy may reprocess this failure.
// An untranslated title is a content-readiness signal, not a tooling bug.
func (k FailureKind) Retryable() bool {
	return k != FailureTitleNotTranslated
}

// ConversionResult is the persisted outcome of one conversion attempt.
// On disk it is a flat object merging the language data with keys
// prefixed by the resource type (obs_success, obs_error, obs_failure).
type ConversionResult struct {
	Type    ResourceType
	Repo    LanguageRepo
	Success bool
	Error   string
	Failure FailureKind
}

// Failed builds a failed result
func Failed(t ResourceType, repo LanguageRepo, kind FailureKind, msg string) *ConversionResult {
	return &ConversionResult{Type: t, Repo: repo, Success: false, Error: msg, Failure: kind}
}

// Succeeded builds a successful result
func Succeeded(t ResourceType, repo LanguageRepo) *ConversionResult {
	return &ConversionResult{Type: t, Repo: repo, Success: true}
}

func (r *ConversionResult) successKey() string { return string(r.Type) + "_success" }
func (r *ConversionResult) errorKey() string   { return string(r.Type) + "_error" }
func (r *ConversionResult) failureKey() string { return string(r.Type) + "_failure" }

// ToMap flattens the result into its persisted form
func (r *ConversionResult) ToMap() map[string]any {
	m := map[string]any{
		"name":        r.Repo.Name,
		"lc":          r.Repo.LanguageCode,
		"repo_url":    r.Repo.RepoURL,
		"lang_folder": r.Repo.LangFolder,
	}
	if r.Repo.FullName != "" {
		m["full_name"] = r.Repo.FullName
	}
	m[r.successKey()] = r.Success
	if r.Success || r.Error == "" {
		m[r.errorKey()] = nil
	} else {
		m[r.errorKey()] = r.Error
	}
	if !r.Success && r.Failure != FailureUnclassified {
		m[r.failureKey()] = string(r.Failure)
	}
	return m
}

// MarshalJSON writes the flat prefixed form
func (r *ConversionResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToMap())
}

// ResultFromMap reads a flat record for the given type. It returns nil when
// the map carries no entry for that type.
func ResultFromMap(t ResourceType, m map[string]any) *ConversionResult {
	if m == nil {
		return nil
	}
	r := &ConversionResult{Type: t}
	raw, ok := m[r.successKey()]
	if !ok {
		return nil
	}
	r.Success, _ = raw.(bool)
	if s, ok := m[r.errorKey()].(string); ok {
		r.Error = s
	}
	if s, ok := m[r.failureKey()].(string); ok {
		r.Failure = FailureKind(s)
	}
	r.Repo.Name, _ = m["name"].(string)
	r.Repo.FullName, _ = m["full_name"].(string)
	r.Repo.LanguageCode, _ = m["lc"].(string)
	r.Repo.RepoURL, _ = m["repo_url"].(string)
	r.Repo.LangFolder, _ = m["lang_folder"].(string)
	return r
}

// String is used in log lines
func (r *ConversionResult) String() string {
	if r.Success {
		return fmt.Sprintf("%s %s: success", r.Repo.Name, r.Type.Label())
	}
	return fmt.Sprintf("%s %s: failed (%s)", r.Repo.Name, r.Type.Label(), r.Error)
}

// UploadResult is the persisted outcome of pushing a converted repository
type UploadResult struct {
	Success   bool      `json:"success"`
	Error     *string   `json:"error"`
	Repo      string    `json:"repo,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// UploadSucceeded builds a successful upload result
func UploadSucceeded(repo string) *UploadResult {
	return &UploadResult{Success: true, Repo: repo, UpdatedAt: time.Now().UTC()}
}

// UploadFailed builds a failed upload result
func UploadFailed(repo, msg string) *UploadResult {
	return &UploadResult{Success: false, Error: &msg, Repo: repo, UpdatedAt: time.Now().UTC()}
}

// ErrorMessage returns the error text or an empty string
func (u *UploadResult) ErrorMessage() string {
	if u == nil || u.Error == nil {
		return ""
	}
	return *u.Error
}
