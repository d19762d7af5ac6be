// Package summary buckets persisted conversion and upload results for
// human review. It only reads what earlier runs recorded and never starts a
// converter.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dw2rc/internal/checkpoint"
	"dw2rc/internal/domain"
	"dw2rc/internal/gitrepo"
	"dw2rc/internal/remote"
	"dw2rc/internal/results"

	"go.uber.org/zap"
)

// Upload failure messages
const (
	MsgUncommittedChanges = "Has uncommitted git changes"
	MsgNotUploaded        = "Repo not uploaded"
	MsgUnknown            = "UNKNOWN"
)

// Entry is one item of a bucket
type Entry struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

// Bucket is a titled list of items. Detailed buckets print each error.
type Bucket struct {
	Title   string  `json:"title"`
	Count   int     `json:"count"`
	Entries []Entry `json:"entries"`
	Detail  bool    `json:"-"`
}

func (b *Bucket) add(name, msg string) {
	b.Entries = append(b.Entries, Entry{Name: name, Error: msg})
	b.Count++
}

// Names returns the item names in insertion order
func (b *Bucket) Names() []string {
	names := make([]string, 0, len(b.Entries))
	for _, e := range b.Entries {
		names = append(names, e.Name)
	}
	return names
}

// Report is the outcome of a summary pass
type Report struct {
	Items        int       `json:"items"`
	Conversions  []*Bucket `json:"conversions"`
	Unsupported  *Bucket   `json:"unsupported"`
	Unrecognized *Bucket   `json:"unrecognized"`
	Uploads      []*Bucket `json:"uploads"`

	byTitle map[string]*Bucket
}

// Bucket looks a bucket up by title, or returns nil
func (r *Report) Bucket(title string) *Bucket {
	return r.byTitle[title]
}

func (r *Report) bucket(title string, detail bool) *Bucket {
	b := &Bucket{Title: title, Entries: []Entry{}, Detail: detail}
	r.byTitle[title] = b
	return b
}

// Bucket titles for one resource type
func successTitle(t domain.ResourceType) string       { return t.Label() + " Successes" }
func prerequisiteTitle(t domain.ResourceType) string  { return t.Label() + " failed OBS" }
func untranslatedTitle(t domain.ResourceType) string  { return t.Label() + " Title Not Translated" }
func missingSourceTitle(t domain.ResourceType) string { return t.Label() + " Missing Source" }
func otherTitle(t domain.ResourceType) string         { return t.Label() + " Other Errors" }

const (
	unsupportedTitle    = "Unsupported language errors"
	unrecognizedTitle   = "Unrecognized items"
	uploadSuccessTitle  = "Upload Successes"
	uploadFailuresTitle = "Upload Failures"
)

func newReport(types []domain.ResourceType) *Report {
	r := &Report{byTitle: make(map[string]*Bucket)}
	for _, t := range types {
		r.Conversions = append(r.Conversions, r.bucket(successTitle(t), false))
		if t == domain.OBS {
			r.Conversions = append(r.Conversions, r.bucket(untranslatedTitle(t), false))
		} else {
			r.Conversions = append(r.Conversions, r.bucket(prerequisiteTitle(t), false))
		}
		r.Conversions = append(r.Conversions,
			r.bucket(missingSourceTitle(t), false),
			r.bucket(otherTitle(t), true),
		)
	}
	r.Unsupported = r.bucket(unsupportedTitle, false)
	r.Unrecognized = r.bucket(unrecognizedTitle, true)
	r.Uploads = []*Bucket{
		r.bucket(uploadSuccessTitle, false),
		r.bucket(uploadFailuresTitle, true),
	}
	return r
}

// Config controls a summary pass
type Config struct {
	Root string
	Org  string
	// Types are the resource types bucketed for conversions
	Types []domain.ResourceType
	// UploadTypes are validated against the git host
	UploadTypes []domain.ResourceType
	// Reload rebuilds the batch map from per-language result files
	Reload bool
}

// Summarizer builds reports. A nil host skips the remote existence check
// and a nil git runner skips the working tree check.
type Summarizer struct {
	cfg    Config
	store  checkpoint.Store
	host   remote.Host
	git    gitrepo.Runner
	logger *zap.Logger
}

// New creates a summarizer
func New(cfg Config, store checkpoint.Store, host remote.Host, git gitrepo.Runner, logger *zap.Logger) *Summarizer {
	if len(cfg.Types) == 0 {
		cfg.Types = domain.AllResourceTypes
	}
	if len(cfg.UploadTypes) == 0 {
		cfg.UploadTypes = []domain.ResourceType{domain.OBS, domain.TranslationQuestions, domain.TranslationNotes}
	}
	return &Summarizer{cfg: cfg, store: store, host: host, git: git, logger: logger}
}

// Build reads every persisted result and buckets it
func (s *Summarizer) Build(ctx context.Context) (*Report, error) {
	records, err := s.load()
	if err != nil {
		return nil, err
	}

	rep := newReport(s.cfg.Types)
	rep.Items = len(records)

	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.classify(rep, k, records[k])
	}

	langs, err := languageFolders(s.cfg.Root)
	if err != nil {
		return nil, err
	}
	for _, lang := range langs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, t := range s.cfg.UploadTypes {
			s.validateUpload(ctx, rep, lang, t)
		}
	}
	return rep, nil
}

// load returns the batch map, rebuilding it from the language folders when
// it is empty or a reload was requested
func (s *Summarizer) load() (map[string]checkpoint.Record, error) {
	all, err := s.store.All()
	if err != nil {
		return nil, fmt.Errorf("read batch results: %w", err)
	}
	if len(all) > 0 && !s.cfg.Reload {
		return all, nil
	}

	langs, err := languageFolders(s.cfg.Root)
	if err != nil {
		return nil, err
	}
	for _, lang := range langs {
		store := results.New(filepath.Join(s.cfg.Root, lang))
		for _, t := range domain.AllResourceTypes {
			m, err := store.ReadConversionMap(t)
			if err != nil {
				s.logger.Warn("Unreadable result file", zap.String("path", store.ResultsPath(t)), zap.Error(err))
				continue
			}
			if m == nil {
				continue
			}
			name, _ := m["name"].(string)
			if name == "" {
				name = lang
			}
			key := name + "_" + string(t)
			if err := s.store.Put(key, m); err != nil {
				return nil, fmt.Errorf("save batch results: %w", err)
			}
			all[key] = m
		}
	}
	s.logger.Info("Reloaded batch results from language folders", zap.Int("items", len(all)))
	return all, nil
}

func (s *Summarizer) classify(rep *Report, key string, rec checkpoint.Record) {
	name, _ := rec["name"].(string)
	if name == "" {
		name = key
	}

	if i := strings.LastIndex(key, "_"); i > 0 {
		if t, err := domain.ParseResourceType(key[i+1:]); err == nil {
			if r := domain.ResultFromMap(t, rec); r != nil && rep.Bucket(successTitle(t)) != nil {
				addConversion(rep, name, r)
				return
			}
		}
	}

	msg, _ := rec["error"].(string)
	if skip, _ := rec[checkpoint.SkipKey].(string); skip == checkpoint.SkipUnsupportedLanguage {
		rep.Unsupported.add(name, msg)
		return
	}
	if msg == "" {
		data, _ := json.Marshal(rec)
		msg = string(data)
	}
	rep.Unrecognized.add(name, msg)
}

func addConversion(rep *Report, name string, r *domain.ConversionResult) {
	t := r.Type
	title := otherTitle(t)
	switch {
	case r.Success:
		title = successTitle(t)
	case r.Failure == domain.FailurePrerequisite:
		title = prerequisiteTitle(t)
	case r.Failure == domain.FailureTitleNotTranslated:
		title = untranslatedTitle(t)
	case r.Failure == domain.FailureMissingSource:
		title = missingSourceTitle(t)
	}

	b := rep.Bucket(title)
	if b == nil {
		b = rep.Bucket(otherTitle(t))
	}
	b.add(name, r.Error)
}

func (s *Summarizer) validateUpload(ctx context.Context, rep *Report, lang string, t domain.ResourceType) {
	langFolder := filepath.Join(s.cfg.Root, lang)
	store := results.New(langFolder)
	dest := t.DestinationRepo(lang)

	conv, err := store.ReadConversion(t)
	if err != nil || conv == nil || !conv.Success {
		return
	}
	fail := rep.Bucket(uploadFailuresTitle)

	exists := true
	if s.host != nil {
		exists, err = s.host.RepositoryExists(ctx, s.cfg.Org, dest)
		if err != nil {
			fail.add(dest, err.Error())
			return
		}
	}

	repo := gitrepo.Open(filepath.Join(langFolder, string(t)), s.git)
	if exists && s.git != nil && repo.HasGitDir() {
		st, err := repo.Status(ctx)
		if err != nil {
			fail.add(dest, err.Error())
			return
		}
		if st.Changed {
			fail.add(dest, MsgUncommittedChanges)
			return
		}
	}

	up, err := store.ReadUpload(t)
	if err != nil {
		s.logger.Warn("Unreadable upload result", zap.String("path", store.UploadPath(t)), zap.Error(err))
	}
	switch {
	case up != nil && up.Success && exists:
		rep.Bucket(uploadSuccessTitle).add(dest, "")
	case up != nil && up.Success:
		fail.add(dest, MsgNotUploaded)
	case up.ErrorMessage() != "":
		fail.add(dest, up.ErrorMessage())
	default:
		fail.add(dest, MsgUnknown)
	}
}

func languageFolders(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list language folders: %w", err)
	}
	var langs []string
	for _, e := range entries {
		if e.IsDir() {
			langs = append(langs, e.Name())
		}
	}
	sort.Strings(langs)
	return langs, nil
}
