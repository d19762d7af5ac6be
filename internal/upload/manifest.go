package upload

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the resource container manifest name
const ManifestFile = "manifest.yaml"

// RepairManifest makes dublin_core.language.identifier match lang. It
// reports whether the file was rewritten; a missing manifest or a manifest
// without that key is left alone.
func RepairManifest(repoDir, lang string) (bool, error) {
	path := filepath.Join(repoDir, ManifestFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read manifest: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("parse manifest: %w", err)
	}
	if len(doc.Content) == 0 {
		return false, nil
	}

	node := lookup(doc.Content[0], "dublin_core", "language", "identifier")
	if node == nil || node.Kind != yaml.ScalarNode || node.Value == lang {
		return false, nil
	}
	node.Value = lang
	node.Tag = "!!str"
	node.Style = 0

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return false, fmt.Errorf("encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return false, fmt.Errorf("encode manifest: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return false, fmt.Errorf("write manifest: %w", err)
	}
	return true, nil
}

// lookup walks mapping keys from n and returns the value node, or nil
func lookup(n *yaml.Node, keys ...string) *yaml.Node {
	for _, key := range keys {
		if n == nil || n.Kind != yaml.MappingNode {
			return nil
		}
		var next *yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == key {
				next = n.Content[i+1]
				break
			}
		}
		n = next
	}
	return n
}
