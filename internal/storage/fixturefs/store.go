// Package fixturefs loads analysis input from a directory of JSON documents:
// per-source transaction batches, current-holdings snapshots, and
// broker-reported ground-truth figures used as regression fixtures. Nothing
// here persists beyond a request; the store is read-only.
package fixturefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bobmcallan/keel/internal/common"
	"github.com/bobmcallan/keel/internal/models"
)

// Store reads fixtures from a directory tree:
//
//	<root>/batches/*.json    one models.SourceBatch per file
//	<root>/holdings/*.json   one models.HoldingsSnapshot per file
//	<root>/truth/*.json      one GroundTruth per file
type Store struct {
	root   string
	logger *common.Logger
}

// GroundTruth is a broker-reported performance snapshot for one account,
// captured from statements and used to pin regression expectations.
type GroundTruth struct {
	Account             string  `json:"account"`
	StartNAV            float64 `json:"start_nav"`
	EndNAV              float64 `json:"end_nav"`
	NetExternalFlow     float64 `json:"net_external_flow"`
	CumulativeReturnPct float64 `json:"cumulative_return_pct"`
}

// NewStore creates a fixture store rooted at dir.
func NewStore(dir string, logger *common.Logger) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("fixture directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fixture path %s is not a directory", dir)
	}
	return &Store{root: dir, logger: logger}, nil
}

// Batches loads every per-source transaction batch.
func (s *Store) Batches() ([]models.SourceBatch, error) {
	var batches []models.SourceBatch
	err := s.eachJSON("batches", func(path string, data []byte) error {
		var batch models.SourceBatch
		if err := json.Unmarshal(data, &batch); err != nil {
			return fmt.Errorf("parse batch %s: %w", path, err)
		}
		batches = append(batches, batch)
		return nil
	})
	return batches, err
}

// Holdings loads every current-holdings snapshot.
func (s *Store) Holdings() ([]models.HoldingsSnapshot, error) {
	var holdings []models.HoldingsSnapshot
	err := s.eachJSON("holdings", func(path string, data []byte) error {
		var h models.HoldingsSnapshot
		if err := json.Unmarshal(data, &h); err != nil {
			return fmt.Errorf("parse holdings %s: %w", path, err)
		}
		holdings = append(holdings, h)
		return nil
	})
	return holdings, err
}

// GroundTruths loads broker-reported regression fixtures, if any.
func (s *Store) GroundTruths() ([]GroundTruth, error) {
	var truths []GroundTruth
	err := s.eachJSON("truth", func(path string, data []byte) error {
		var gt GroundTruth
		if err := json.Unmarshal(data, &gt); err != nil {
			return fmt.Errorf("parse ground truth %s: %w", path, err)
		}
		truths = append(truths, gt)
		return nil
	})
	return truths, err
}

// eachJSON visits *.json files under a subdirectory in sorted order. A
// missing subdirectory is an empty set, not an error.
func (s *Store) eachJSON(sub string, visit func(path string, data []byte) error) error {
	dir := filepath.Join(s.root, sub)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read fixture directory %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read fixture %s: %w", path, err)
		}
		if err := visit(path, data); err != nil {
			return err
		}
		s.logger.Debug().Str("file", path).Msg("Fixture loaded")
	}
	return nil
}
