package domain

import (
	"fmt"
	"strings"
)

// ResourceType identifies one kind of converted resource
type ResourceType string

const (
	OBS                  ResourceType = "obs"
	TranslationNotes     ResourceType = "tn"
	TranslationQuestions ResourceType = "tq"
	TranslationWords     ResourceType = "tw"
)

// AllResourceTypes lists every supported resource type, OBS first
var AllResourceTypes = []ResourceType{OBS, TranslationQuestions, TranslationNotes, TranslationWords}

// ParseResourceType converts a config or flag value into a ResourceType
func ParseResourceType(s string) (ResourceType, error) {
	t := ResourceType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllResourceTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown resource type %q", s)
}

// Label returns the upper-case tag used in log and error messages
func (t ResourceType) Label() string {
	return strings.ToUpper(string(t))
}

// ResultsFile is the per-language conversion result file name
func (t ResourceType) ResultsFile() string {
	return string(t) + "_results.json"
}

// UploadFile is the per-language upload result file name
func (t ResourceType) UploadFile() string {
	return string(t) + "_upload.json"
}

// DestinationRepo returns the remote repository name for a language
func (t ResourceType) DestinationRepo(lang string) string {
	name := lang + "_obs"
	if t != OBS {
		name += "-" + string(t)
	}
	return name
}

// LanguageRepo is one discovered source repository
type LanguageRepo struct {
	Name         string `json:"name"`
	FullName     string `json:"full_name,omitempty"`
	LanguageCode string `json:"lc"`
	DisplayName  string `json:"language_name,omitempty"`
	Direction    string `json:"direction,omitempty"`
	RepoURL      string `json:"repo_url"`
	LangFolder   string `json:"lang_folder"`
}

// BatchKey is the key used in the batch-wide results map
func (r LanguageRepo) BatchKey(t ResourceType) string {
	return r.Name + "_" + string(t)
}
