package upload

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"dw2rc/internal/domain"
	"dw2rc/internal/gitrepo"
	"dw2rc/internal/remote"
	"dw2rc/internal/results"
)

type hostMock struct {
	mock.Mock
}

func (h *hostMock) RepositoryExists(_ context.Context, org, name string) (bool, error) {
	args := h.Called(org, name)
	return args.Bool(0), args.Error(1)
}

func (h *hostMock) CreateRepository(_ context.Context, org, name string) error {
	return h.Called(org, name).Error(0)
}

func (h *hostMock) CloneURL(org, name string) string {
	return "https://git.example.org/" + org + "/" + name + ".git"
}

// fakeGit emulates just enough git state for the reconciler
type fakeGit struct {
	calls   []string
	status  string
	remotes []string
	heads   string
	pushes  int
	fail    map[string]string
}

func (g *fakeGit) Run(_ context.Context, dir string, args ...string) (string, error) {
	g.calls = append(g.calls, strings.Join(args, " "))
	if out, ok := g.fail[args[0]]; ok {
		return "", &gitrepo.CommandError{Subcommand: args[0], Args: args, ExitCode: 1, Output: out}
	}

	switch args[0] {
	case "init":
		return "", os.MkdirAll(filepath.Join(dir, ".git"), 0o755)
	case "status":
		return g.status, nil
	case "add":
		g.status = strings.ReplaceAll(g.status, "?? ", "A  ")
	case "commit":
		g.status = ""
	case "remote":
		if len(args) == 1 {
			return strings.Join(g.remotes, "\n"), nil
		}
		g.remotes = append(g.remotes, args[2])
	case "ls-remote":
		return g.heads, nil
	case "push":
		g.pushes++
		g.heads = "4b825dc642cb6eb9a060e54bf8d69288fbee4904\trefs/heads/master\n"
	}
	return "", nil
}

type ReconcilerSuite struct {
	suite.Suite
	root  string
	lang  string
	store *results.Store
	host  *hostMock
	git   *fakeGit
}

func TestReconcilerSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerSuite))
}

func (s *ReconcilerSuite) SetupTest() {
	s.root = s.T().TempDir()
	s.lang = filepath.Join(s.root, "xx")
	s.store = results.New(s.lang)
	s.host = &hostMock{}
	s.git = &fakeGit{status: "?? content/01.md\n"}

	s.Require().NoError(os.MkdirAll(filepath.Join(s.lang, "obs", "content"), 0o755))
	s.Require().NoError(os.WriteFile(filepath.Join(s.lang, "obs", "content", "01.md"), []byte("# 1\n"), 0o644))
	s.Require().NoError(s.store.WriteConversion(domain.Succeeded(domain.OBS, domain.LanguageRepo{Name: "d43-xx", LanguageCode: "xx", LangFolder: s.lang})))
}

func (s *ReconcilerSuite) reconciler(retry bool) *Reconciler {
	return New(Config{Org: "DokuWiki", RetryOnError: retry, RepairManifest: true}, s.host, s.git, nil, nil, zap.NewNop())
}

func (s *ReconcilerSuite) markPushed() {
	s.Require().NoError(os.MkdirAll(filepath.Join(s.lang, "obs", ".git"), 0o755))
	s.git.status = ""
	s.git.remotes = []string{"origin"}
	s.git.heads = "4b825dc642cb6eb9a060e54bf8d69288fbee4904\trefs/heads/master\n"
}

func (s *ReconcilerSuite) upload() *domain.UploadResult {
	u, err := s.store.ReadUpload(domain.OBS)
	s.Require().NoError(err)
	return u
}

func (s *ReconcilerSuite) TestSkipsMissingRepository() {
	out, err := s.reconciler(false).Reconcile(context.Background(), s.lang, domain.TranslationNotes)
	s.Require().NoError(err)
	s.Equal(StateSkip, out.State)
	s.Equal("converted repository missing", out.Reason)
	s.host.AssertNotCalled(s.T(), "RepositoryExists", mock.Anything, mock.Anything)
}

func (s *ReconcilerSuite) TestSkipsFailedConversion() {
	s.Require().NoError(s.store.WriteConversion(domain.Failed(domain.OBS, domain.LanguageRepo{Name: "d43-xx"}, "", "boom")))

	out, err := s.reconciler(true).Reconcile(context.Background(), s.lang, domain.OBS)
	s.Require().NoError(err)
	s.Equal(StateSkip, out.State)
	s.Equal("conversion not successful", out.Reason)
	s.Nil(s.upload())
}

func (s *ReconcilerSuite) TestCreatesAndPushesNewRepository() {
	s.host.On("RepositoryExists", "DokuWiki", "xx_obs").Return(false, nil)
	s.host.On("CreateRepository", "DokuWiki", "xx_obs").Return(nil)

	out, err := s.reconciler(false).Reconcile(context.Background(), s.lang, domain.OBS)
	s.Require().NoError(err)
	s.Equal(StateSuccess, out.State)
	s.Equal("xx_obs", out.Dest)

	s.Equal([]string{
		"init",
		"symbolic-ref HEAD refs/heads/master",
		"add -A .",
		"status --porcelain",
		"commit -m Initial commit",
		"remote",
		"remote add origin https://git.example.org/DokuWiki/xx_obs.git",
		"push -u origin master",
	}, s.git.calls)

	u := s.upload()
	s.Require().NotNil(u)
	s.True(u.Success)
	s.Nil(u.Error)
	s.host.AssertExpectations(s.T())
}

func (s *ReconcilerSuite) TestExistingRemoteWithLocalChanges() {
	s.markPushed()
	s.git.status = " M content/01.md\n"
	s.host.On("RepositoryExists", "DokuWiki", "xx_obs").Return(true, nil)

	out, err := s.reconciler(false).Reconcile(context.Background(), s.lang, domain.OBS)
	s.Require().NoError(err)
	s.Equal(StateSuccess, out.State)
	s.Equal("pushed local changes", out.Reason)

	s.Equal([]string{
		"status --porcelain",
		"remote",
		"add -A .",
		"commit -m clean up",
		"ls-remote --heads origin master",
		"pull --no-rebase --no-edit origin master",
		"push -u origin master",
	}, s.git.calls)
	s.host.AssertNotCalled(s.T(), "CreateRepository", mock.Anything, mock.Anything)
	s.True(s.upload().Success)
}

func (s *ReconcilerSuite) TestPriorSuccessSettled() {
	s.markPushed()
	s.Require().NoError(s.store.WriteUpload(domain.OBS, domain.UploadSucceeded("xx_obs")))
	s.host.On("RepositoryExists", "DokuWiki", "xx_obs").Return(true, nil)

	out, err := s.reconciler(false).Reconcile(context.Background(), s.lang, domain.OBS)
	s.Require().NoError(err)
	s.Equal(StateSkip, out.State)
	s.Equal("already uploaded", out.Reason)
	s.Equal([]string{"status --porcelain"}, s.git.calls)
}

func (s *ReconcilerSuite) TestPriorSuccessWithLocalChanges() {
	s.markPushed()
	s.git.status = "?? content/02.md\n"
	s.Require().NoError(s.store.WriteUpload(domain.OBS, domain.UploadSucceeded("xx_obs")))
	s.host.On("RepositoryExists", "DokuWiki", "xx_obs").Return(true, nil)

	out, err := s.reconciler(false).Reconcile(context.Background(), s.lang, domain.OBS)
	s.Require().NoError(err)
	s.Equal(StateSuccess, out.State)
	s.Equal("pushed local changes", out.Reason)
	s.Contains(s.git.calls, "pull --no-rebase --no-edit origin master")
	s.Contains(s.git.calls, "push origin master")
}

func (s *ReconcilerSuite) TestPriorSuccessRemoteMissing() {
	s.Require().NoError(s.store.WriteUpload(domain.OBS, domain.UploadSucceeded("xx_obs")))
	s.host.On("RepositoryExists", "DokuWiki", "xx_obs").Return(false, nil)
	s.host.On("CreateRepository", "DokuWiki", "xx_obs").Return(nil)

	out, err := s.reconciler(false).Reconcile(context.Background(), s.lang, domain.OBS)
	s.Require().NoError(err)
	s.Equal(StateSuccess, out.State)
	s.host.AssertCalled(s.T(), "CreateRepository", "DokuWiki", "xx_obs")
}

func (s *ReconcilerSuite) TestPriorFailureWithoutRetry() {
	s.Require().NoError(s.store.WriteUpload(domain.OBS, domain.UploadFailed("xx_obs", "git push failed: rejected")))

	out, err := s.reconciler(false).Reconcile(context.Background(), s.lang, domain.OBS)
	s.Require().NoError(err)
	s.Equal(StateSkip, out.State)
	s.Equal("prior upload failed", out.Reason)
	s.Empty(s.git.calls)
	s.host.AssertNotCalled(s.T(), "RepositoryExists", mock.Anything, mock.Anything)
}

func (s *ReconcilerSuite) TestRetryAfterFailedPush() {
	s.git.fail = map[string]string{"push": "connection reset"}
	s.host.On("RepositoryExists", "DokuWiki", "xx_obs").Return(false, nil).Once()
	s.host.On("CreateRepository", "DokuWiki", "xx_obs").Return(nil).Once()

	out, err := s.reconciler(true).Reconcile(context.Background(), s.lang, domain.OBS)
	s.Require().NoError(err)
	s.Equal(StateFailed, out.State)
	s.Equal("git push failed: connection reset", s.upload().ErrorMessage())

	s.git.fail = nil
	s.git.calls = nil
	s.host.On("RepositoryExists", "DokuWiki", "xx_obs").Return(true, nil)

	out, err = s.reconciler(true).Reconcile(context.Background(), s.lang, domain.OBS)
	s.Require().NoError(err)
	s.Equal(StateSuccess, out.State)
	s.Equal("pushed to existing remote", out.Reason)
	s.Equal([]string{
		"status --porcelain",
		"remote",
		"push -u origin master",
	}, s.git.calls, "committed content still reaches the remote")
	s.Equal(1, s.git.pushes)
	s.True(s.upload().Success)
	s.host.AssertNumberOfCalls(s.T(), "CreateRepository", 1)
}

func (s *ReconcilerSuite) TestRetryAfterFailedRemoteSetup() {
	s.git.fail = map[string]string{"remote": "could not lock config file"}
	s.host.On("RepositoryExists", "DokuWiki", "xx_obs").Return(false, nil).Once()
	s.host.On("CreateRepository", "DokuWiki", "xx_obs").Return(nil).Once()

	out, err := s.reconciler(true).Reconcile(context.Background(), s.lang, domain.OBS)
	s.Require().NoError(err)
	s.Equal(StateFailed, out.State)
	s.Zero(s.git.pushes)

	s.git.fail = nil
	s.git.calls = nil
	s.host.On("RepositoryExists", "DokuWiki", "xx_obs").Return(true, nil)

	out, err = s.reconciler(true).Reconcile(context.Background(), s.lang, domain.OBS)
	s.Require().NoError(err)
	s.Equal(StateSuccess, out.State)
	s.Equal([]string{
		"status --porcelain",
		"remote",
		"remote add origin https://git.example.org/DokuWiki/xx_obs.git",
		"push -u origin master",
	}, s.git.calls)
	s.True(s.upload().Success)
}

func (s *ReconcilerSuite) TestRetryAfterStopBeforeFirstCommit() {
	s.host.On("RepositoryExists", "DokuWiki", "xx_obs").Return(true, nil)

	out, err := s.reconciler(false).Reconcile(context.Background(), s.lang, domain.OBS)
	s.Require().NoError(err)
	s.Equal(StateSuccess, out.State)
	s.Equal("pushed to existing remote", out.Reason)
	s.Equal([]string{
		"init",
		"symbolic-ref HEAD refs/heads/master",
		"add -A .",
		"status --porcelain",
		"commit -m Initial commit",
		"remote",
		"remote add origin https://git.example.org/DokuWiki/xx_obs.git",
		"push -u origin master",
	}, s.git.calls)
	s.host.AssertNotCalled(s.T(), "CreateRepository", mock.Anything, mock.Anything)
}

func (s *ReconcilerSuite) TestPriorSuccessWithoutGitDir() {
	s.Require().NoError(s.store.WriteUpload(domain.OBS, domain.UploadSucceeded("xx_obs")))
	s.host.On("RepositoryExists", "DokuWiki", "xx_obs").Return(true, nil)

	out, err := s.reconciler(false).Reconcile(context.Background(), s.lang, domain.OBS)
	s.Require().NoError(err)
	s.Equal(StateSkip, out.State)
	s.Equal("already uploaded", out.Reason)
	s.Empty(s.git.calls)
}

func (s *ReconcilerSuite) TestCreateFailureIsPersisted() {
	s.host.On("RepositoryExists", "DokuWiki", "xx_obs").Return(false, nil)
	s.host.On("CreateRepository", "DokuWiki", "xx_obs").
		Return(&remote.APIError{Op: "create repository DokuWiki/xx_obs", StatusCode: 422, Body: "exists"})

	out, err := s.reconciler(false).Reconcile(context.Background(), s.lang, domain.OBS)
	s.Require().NoError(err)
	s.Equal(StateFailed, out.State)
	s.Empty(s.git.calls)
	s.Equal("create repository DokuWiki/xx_obs failed: HTTP 422: exists", s.upload().ErrorMessage())
}

func (s *ReconcilerSuite) TestGitFailureNamesSubcommand() {
	s.git.fail = map[string]string{"push": "rejected: non-fast-forward"}
	s.host.On("RepositoryExists", "DokuWiki", "xx_obs").Return(false, nil)
	s.host.On("CreateRepository", "DokuWiki", "xx_obs").Return(nil)

	out, err := s.reconciler(false).Reconcile(context.Background(), s.lang, domain.OBS)
	s.Require().NoError(err)
	s.Equal(StateFailed, out.State)
	s.Equal("git push failed: rejected: non-fast-forward", s.upload().ErrorMessage())
}

func (s *ReconcilerSuite) TestExistenceCheckFailure() {
	s.host.On("RepositoryExists", "DokuWiki", "xx_obs").
		Return(false, &remote.APIError{Op: "check repository DokuWiki/xx_obs", StatusCode: 500})

	out, err := s.reconciler(false).Reconcile(context.Background(), s.lang, domain.OBS)
	s.Require().NoError(err)
	s.Equal(StateFailed, out.State)
	s.Equal("check repository DokuWiki/xx_obs failed: HTTP 500", s.upload().ErrorMessage())
}

func (s *ReconcilerSuite) TestManifestRepairIsCommitted() {
	s.markPushed()
	manifest := filepath.Join(s.lang, "obs", ManifestFile)
	s.Require().NoError(os.WriteFile(manifest, []byte("dublin_core:\n  language:\n    identifier: en\n    title: Xish\n"), 0o644))
	s.git.status = " M manifest.yaml\n"
	s.host.On("RepositoryExists", "DokuWiki", "xx_obs").Return(true, nil)

	out, err := s.reconciler(false).Reconcile(context.Background(), s.lang, domain.OBS)
	s.Require().NoError(err)
	s.Equal(StateSuccess, out.State)

	data, err := os.ReadFile(manifest)
	s.Require().NoError(err)
	s.Contains(string(data), "identifier: xx")
}

func (s *ReconcilerSuite) TestRunCountsLanguages() {
	s.Require().NoError(os.MkdirAll(filepath.Join(s.root, "yy"), 0o755))
	s.Require().NoError(os.WriteFile(filepath.Join(s.root, "results.json"), []byte("{}"), 0o644))
	s.host.On("RepositoryExists", "DokuWiki", "xx_obs").Return(false, nil)
	s.host.On("CreateRepository", "DokuWiki", "xx_obs").Return(nil)

	stats, err := s.reconciler(false).Run(context.Background(), s.root)
	s.Require().NoError(err)
	s.Equal(2, stats.Languages)
	s.Equal(1, stats.Uploaded)
	s.Equal(1, stats.Skipped)
	s.Equal(0, stats.Failed)
}
