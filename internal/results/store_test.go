package results

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dw2rc/internal/domain"
)

func testRepo(dir string) domain.LanguageRepo {
	return domain.LanguageRepo{
		Name:         "d43-xx",
		FullName:     "Door43/d43-xx",
		LanguageCode: "xx",
		RepoURL:      "https://github.com/Door43/d43-xx",
		LangFolder:   dir,
	}
}

func TestConversionFileFormat(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	require.NoError(t, store.WriteConversion(domain.Failed(domain.OBS, testRepo(dir), domain.FailureTitleNotTranslated, "OBS title not translated")))

	data, err := os.ReadFile(filepath.Join(dir, "obs_results.json"))
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, false, raw["obs_success"])
	assert.Equal(t, "OBS title not translated", raw["obs_error"])
	assert.Equal(t, "title_not_translated", raw["obs_failure"])
	assert.Equal(t, "xx", raw["lc"])
	assert.Equal(t, "d43-xx", raw["name"])

	got, err := store.ReadConversion(domain.OBS)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Success)
	assert.Equal(t, domain.FailureTitleNotTranslated, got.Failure)
	assert.Equal(t, testRepo(dir), got.Repo)

	require.NoError(t, store.WriteConversion(domain.Succeeded(domain.OBS, testRepo(dir))))
	m, err := store.ReadConversionMap(domain.OBS)
	require.NoError(t, err)
	assert.Equal(t, true, m["obs_success"])
	assert.Contains(t, m, "obs_error")
	assert.Nil(t, m["obs_error"])
	assert.NotContains(t, m, "obs_failure")

	_, err = os.Stat(filepath.Join(dir, "obs_results.json.tmp"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadMissingOrEmpty(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	r, err := store.ReadConversion(domain.TranslationNotes)
	require.NoError(t, err)
	assert.Nil(t, r)

	require.NoError(t, os.WriteFile(store.ResultsPath(domain.TranslationNotes), nil, 0o644))
	ok, err := store.LastSuccess(domain.TranslationNotes)
	require.NoError(t, err)
	assert.False(t, ok)

	u, err := store.ReadUpload(domain.TranslationNotes)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestReadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	require.NoError(t, os.WriteFile(store.ResultsPath(domain.OBS), []byte("{not json"), 0o644))

	_, err := store.ReadConversion(domain.OBS)
	assert.ErrorContains(t, err, "failed to parse")

	ok, err := store.LastSuccess(domain.OBS)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestResultForAnotherType(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	require.NoError(t, os.WriteFile(store.ResultsPath(domain.TranslationQuestions), []byte(`{"name":"d43-xx","obs_success":true}`), 0o644))

	r, err := store.ReadConversion(domain.TranslationQuestions)
	require.NoError(t, err)
	assert.Nil(t, r, "a record without tq_success holds no tq result")
}

func TestInvalidate(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	require.NoError(t, store.WriteConversion(domain.Succeeded(domain.TranslationQuestions, testRepo(dir))))

	ok, err := store.LastSuccess(domain.TranslationQuestions)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Invalidate(domain.TranslationQuestions))
	require.NoError(t, store.Invalidate(domain.TranslationQuestions), "missing file is not an error")

	ok, err = store.LastSuccess(domain.TranslationQuestions)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUploadFile(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	require.NoError(t, store.WriteUpload(domain.TranslationNotes, domain.UploadFailed("xx_obs-tn", "git push failed")))
	data, err := os.ReadFile(filepath.Join(dir, "tn_upload.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"success": false`)
	assert.Contains(t, string(data), `"error": "git push failed"`)

	require.NoError(t, store.WriteUpload(domain.TranslationNotes, domain.UploadSucceeded("xx_obs-tn")))
	u, err := store.ReadUpload(domain.TranslationNotes)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.True(t, u.Success)
	assert.Nil(t, u.Error)
	assert.Empty(t, u.ErrorMessage())
	assert.Equal(t, "xx_obs-tn", u.Repo)
}
