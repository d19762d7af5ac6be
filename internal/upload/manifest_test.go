package upload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestRepairManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestFile)
	src := `dublin_core:
  conformsto: rc0.2
  language:
    identifier: en
    title: Kiswahili
    direction: ltr
  subject: Open Bible Stories
projects:
  - identifier: obs
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	changed, err := RepairManifest(dir, "sw")
	require.NoError(t, err)
	assert.True(t, changed)

	var m struct {
		DublinCore struct {
			ConformsTo string `yaml:"conformsto"`
			Language   struct {
				Identifier string `yaml:"identifier"`
				Title      string `yaml:"title"`
			} `yaml:"language"`
		} `yaml:"dublin_core"`
		Projects []map[string]string `yaml:"projects"`
	}
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, &m))
	assert.Equal(t, "sw", m.DublinCore.Language.Identifier)
	assert.Equal(t, "Kiswahili", m.DublinCore.Language.Title)
	assert.Equal(t, "rc0.2", m.DublinCore.ConformsTo)
	assert.Equal(t, "obs", m.Projects[0]["identifier"])

	changed, err = RepairManifest(dir, "sw")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRepairManifestNoop(t *testing.T) {
	dir := t.TempDir()
	changed, err := RepairManifest(dir, "sw")
	require.NoError(t, err)
	assert.False(t, changed, "missing manifest")

	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("dublin_core:\n  title: x\n"), 0o644))
	changed, err = RepairManifest(dir, "sw")
	require.NoError(t, err)
	assert.False(t, changed, "no language block")

	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("dublin_core: [\n"), 0o644))
	_, err = RepairManifest(dir, "sw")
	assert.Error(t, err)
}
