package guardrail

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// LoadFromDirectory reads every {id}.json file in dir and registers it into
// reg. Grounded on pkg/txrepo/guardrail_loader.go's repository-walk shape,
// simplified from that file's {repo}/{category}/{id}.json layout to a flat
// {repo_dir}/{id}.json layout. A missing directory is not an error — it
// means no dynamic guardrails have been persisted yet.
func LoadFromDirectory(reg *Registry, dir string) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		log.WithField("dir", dir).Warn("guardrail repository directory not found, skipping")
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	loaded, failed := 0, 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := loadFile(reg, path); err != nil {
			log.WithError(err).WithField("path", path).Error("failed to load guardrail file")
			failed++
			continue
		}
		loaded++
	}

	log.WithFields(log.Fields{"loaded": loaded, "failed": failed, "dir": dir}).Info("guardrail repository load complete")
	return nil
}

func loadFile(reg *Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var g Guardrail
	if err := json.Unmarshal(data, &g); err != nil {
		return err
	}
	g.Origin = OriginDynamic
	return reg.Register(&g)
}

// SaveToDirectory writes g as {dir}/{id}.json, creating dir if necessary.
func SaveToDirectory(g *Guardrail, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, g.ID+".json")
	return os.WriteFile(path, data, 0o644)
}

// DeleteFromDirectory removes the persisted file for id, if present.
func DeleteFromDirectory(id, dir string) error {
	path := filepath.Join(dir, id+".json")
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
