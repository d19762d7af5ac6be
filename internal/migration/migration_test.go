package migration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"dw2rc/internal/converter"
	"dw2rc/internal/domain"
	"dw2rc/internal/langs"
	"dw2rc/internal/results"
)

type MigrationSuite struct {
	suite.Suite
	root     string
	repo     domain.LanguageRepo
	store    *results.Store
	catalog  *langs.Catalog
	recorder *recorderSpy
}

func TestMigrationSuite(t *testing.T) {
	suite.Run(t, new(MigrationSuite))
}

func (s *MigrationSuite) SetupTest() {
	s.root = s.T().TempDir()
	s.repo = domain.LanguageRepo{
		Name:         "d43-xx",
		LanguageCode: "xx",
		RepoURL:      "https://github.com/Door43/d43-xx",
		LangFolder:   filepath.Join(s.root, "xx"),
	}
	s.store = results.New(s.repo.LangFolder)
	s.catalog = langs.NewCatalog([]langs.Language{{Code: "xx", Name: "Xish"}})
	s.recorder = &recorderSpy{}
}

func (s *MigrationSuite) runner(retry bool) *Runner {
	return NewRunner(Options{RetryFailures: retry}, s.catalog, s.recorder, zap.NewNop())
}

func (s *MigrationSuite) migration(t domain.ResourceType, spy *factorySpy) ResourceMigration {
	return Standard(map[domain.ResourceType]converter.Factory{t: spy.New})[t]
}

func (s *MigrationSuite) TestFirstConversionSucceeds() {
	spy := newFactorySpy(writeContent)
	out, err := s.runner(false).Run(context.Background(), s.repo, s.migration(domain.OBS, spy))
	s.Require().NoError(err)

	s.Equal(StateSuccess, out.State)
	s.True(out.Converted)
	s.Equal(ReasonFirstConversion, out.Decision.Reason)

	persisted, err := s.store.ReadConversion(domain.OBS)
	s.Require().NoError(err)
	s.Require().NotNil(persisted)
	s.True(persisted.Success)
	s.Empty(persisted.Error)
	s.Equal([]string{"obs:success"}, s.recorder.outcomes)
}

func (s *MigrationSuite) TestSuccessIsIdempotent() {
	spy := newFactorySpy(writeContent)
	m := s.migration(domain.OBS, spy)
	r := s.runner(true)

	_, err := r.Run(context.Background(), s.repo, m)
	s.Require().NoError(err)
	out, err := r.Run(context.Background(), s.repo, m)
	s.Require().NoError(err)

	s.Equal(StateSkip, out.State)
	s.False(out.Converted)
	s.Equal(ReasonConverted, out.Decision.Reason)
	s.True(out.Result.Success)
	spy.AssertNumberOfCalls(s.T(), "New", 1)
}

func (s *MigrationSuite) TestMissingOutputIsRepaired() {
	spy := newFactorySpy(writeContent)
	m := s.migration(domain.OBS, spy)
	r := s.runner(false)

	_, err := r.Run(context.Background(), s.repo, m)
	s.Require().NoError(err)
	s.Require().NoError(os.RemoveAll(filepath.Join(s.repo.LangFolder, "obs")))

	out, err := r.Run(context.Background(), s.repo, m)
	s.Require().NoError(err)
	s.Equal(ReasonRepair, out.Decision.Reason)
	spy.AssertNumberOfCalls(s.T(), "New", 2)
}

func (s *MigrationSuite) TestConverterFailureIsPersisted() {
	spy := newFactorySpy(func(converter.Params) error { return errors.New("HTTP 404") })
	spy.step = "Downloading 03.txt"
	m := s.migration(domain.OBS, spy)

	out, err := s.runner(false).Run(context.Background(), s.repo, m)
	s.Require().NoError(err)
	s.Equal(StateFailed, out.State)
	s.Equal("Failed doing 'Downloading 03.txt', error: HTTP 404", out.Result.Error)
	s.Equal(domain.FailureUnclassified, out.Result.Failure)

	persisted, err := s.store.ReadConversion(domain.OBS)
	s.Require().NoError(err)
	s.False(persisted.Success)
	s.Equal(out.Result.Error, persisted.Error)
}

func (s *MigrationSuite) TestFailureRetryPolicy() {
	spy := newFactorySpy(func(converter.Params) error { return errors.New("boom") })
	m := s.migration(domain.OBS, spy)

	_, err := s.runner(false).Run(context.Background(), s.repo, m)
	s.Require().NoError(err)

	out, err := s.runner(false).Run(context.Background(), s.repo, m)
	s.Require().NoError(err)
	s.Equal(StateSkip, out.State)
	spy.AssertNumberOfCalls(s.T(), "New", 1)

	spy.run = writeContent
	out, err = s.runner(true).Run(context.Background(), s.repo, m)
	s.Require().NoError(err)
	s.Equal(StateSuccess, out.State)
	s.Equal(ReasonRetry, out.Decision.Reason)
	spy.AssertNumberOfCalls(s.T(), "New", 2)
}

func (s *MigrationSuite) TestInitFailure() {
	spy := &factorySpy{run: writeContent}
	spy.On("New", mock.Anything).Return(errors.New("information for language \"xx\" was not found"))
	m := s.migration(domain.OBS, spy)

	out, err := s.runner(false).Run(context.Background(), s.repo, m)
	s.Require().NoError(err)
	s.Equal(StateFailed, out.State)
	s.Equal(domain.FailureInit, out.Result.Failure)
	s.Equal(`Failed doing 'Init', error: information for language "xx" was not found`, out.Result.Error)
}

func (s *MigrationSuite) TestClassifiedFailures() {
	spy := newFactorySpy(func(converter.Params) error {
		return fmt.Errorf("%w: 01.txt", converter.ErrMissingSource)
	})
	out, err := s.runner(false).Run(context.Background(), s.repo, s.migration(domain.OBS, spy))
	s.Require().NoError(err)
	s.Equal(domain.FailureMissingSource, out.Result.Failure)
}

func (s *MigrationSuite) TestConverterPanicIsContained() {
	spy := newFactorySpy(func(converter.Params) error { panic("index out of range") })
	out, err := s.runner(false).Run(context.Background(), s.repo, s.migration(domain.OBS, spy))
	s.Require().NoError(err)
	s.Equal(StateFailed, out.State)
	s.Contains(out.Result.Error, "converter panic: index out of range")
}

func (s *MigrationSuite) TestDependentTypeGatedOnOBS() {
	spy := newFactorySpy(writeContent)
	m := s.migration(domain.TranslationNotes, spy)

	out, err := s.runner(true).Run(context.Background(), s.repo, m)
	s.Require().NoError(err)
	s.Equal(StateFailed, out.State)
	s.False(out.Converted)
	s.Equal("Skipping over TN since OBS Failed: d43-xx", out.Result.Error)
	s.Equal(domain.FailurePrerequisite, out.Result.Failure)
	spy.AssertNotCalled(s.T(), "New", mock.Anything)

	persisted, err := s.store.ReadConversion(domain.TranslationNotes)
	s.Require().NoError(err)
	s.Equal(out.Result.Error, persisted.Error)
}

func (s *MigrationSuite) TestDependentTypeRunsAfterOBS() {
	obs := newFactorySpy(writeContent)
	tn := newFactorySpy(writeContent)
	r := s.runner(false)

	_, err := r.Run(context.Background(), s.repo, s.migration(domain.OBS, obs))
	s.Require().NoError(err)
	out, err := r.Run(context.Background(), s.repo, s.migration(domain.TranslationNotes, tn))
	s.Require().NoError(err)
	s.Equal(StateSuccess, out.State)
	tn.AssertNumberOfCalls(s.T(), "New", 1)
}

func (s *MigrationSuite) TestOBSSuccessInvalidatesDependents() {
	for _, t := range []domain.ResourceType{domain.TranslationNotes, domain.TranslationQuestions} {
		s.Require().NoError(s.store.WriteConversion(domain.Succeeded(t, s.repo)))
	}

	spy := newFactorySpy(writeContent)
	_, err := s.runner(false).Run(context.Background(), s.repo, s.migration(domain.OBS, spy))
	s.Require().NoError(err)

	for _, t := range []domain.ResourceType{domain.TranslationNotes, domain.TranslationQuestions} {
		_, statErr := os.Stat(s.store.ResultsPath(t))
		s.True(os.IsNotExist(statErr), "%s result should be invalidated", t)
	}
}

func (s *MigrationSuite) TestOBSFailureKeepsDependents() {
	s.Require().NoError(s.store.WriteConversion(domain.Succeeded(domain.TranslationNotes, s.repo)))

	spy := newFactorySpy(func(converter.Params) error { return errors.New("boom") })
	_, err := s.runner(false).Run(context.Background(), s.repo, s.migration(domain.OBS, spy))
	s.Require().NoError(err)

	_, statErr := os.Stat(s.store.ResultsPath(domain.TranslationNotes))
	s.NoError(statErr)
}

func (s *MigrationSuite) TestUntranslatedTitleIsTerminal() {
	spy := newFactorySpy(writeTitle("Open Bible Stories"))
	m := s.migration(domain.OBS, spy)

	out, err := s.runner(true).Run(context.Background(), s.repo, m)
	s.Require().NoError(err)
	s.Equal(StateFailed, out.State)
	s.Equal(domain.FailureTitleNotTranslated, out.Result.Failure)
	s.Contains(out.Result.Error, "Failed doing 'title check'")

	out, err = s.runner(true).Run(context.Background(), s.repo, m)
	s.Require().NoError(err)
	s.Equal(StateSkip, out.State)
	s.Equal(ReasonNotRetryable, out.Decision.Reason)
	spy.AssertNumberOfCalls(s.T(), "New", 1)
}

func (s *MigrationSuite) TestTranslatedTitleSucceeds() {
	spy := newFactorySpy(writeTitle("Hadithi za Biblia"))
	out, err := s.runner(false).Run(context.Background(), s.repo, s.migration(domain.OBS, spy))
	s.Require().NoError(err)
	s.Equal(StateSuccess, out.State)
}

func (s *MigrationSuite) TestPersistenceFailureIsReturned() {
	blocker := filepath.Join(s.root, "blocker")
	s.Require().NoError(os.WriteFile(blocker, []byte("x"), 0o644))
	s.repo.LangFolder = blocker

	spy := newFactorySpy(writeContent)
	_, err := s.runner(false).Run(context.Background(), s.repo, s.migration(domain.OBS, spy))
	s.Error(err)
}
