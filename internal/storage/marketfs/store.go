// Package marketfs implements file-based storage for per-symbol market data.
//
// Every data family lives in its own directory under the base path, one file
// per symbol, optionally zstd-compressed, plus _metadata.json and _index.json
// sidecars:
//
//	prices/AAPL.json.zst
//	indicators/rsi/AAPL.json.zst
//	news/AAPL.json.zst
//	fundamentals/income/AAPL.json.zst
package marketfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/marketcache/internal/common"
	"github.com/bobmcallan/marketcache/internal/models"
)

// Data family directories.
const (
	FamilyPrices       = "prices"
	FamilyNews         = "news"
	familyIndicators   = "indicators"
	familyFundamentals = "fundamentals"

	metadataFile = "_metadata.json"
	indexFile    = "_index.json"
	jsonExt      = ".json"
	zstdExt      = ".json.zst"
)

// IndicatorFamily returns the family directory of an indicator set.
func IndicatorFamily(name string) string {
	return familyIndicators + "/" + name
}

// FundamentalsFamily returns the family directory of a statement type.
func FundamentalsFamily(statement string) string {
	return familyFundamentals + "/" + statement
}

// Options configures a Store.
type Options struct {
	Compression bool
	Indexing    bool
}

// Store provides file-based storage for price series and derived families.
type Store struct {
	basePath    string
	compression bool
	indexing    bool
	logger      *common.Logger
	now         func() time.Time

	files     *common.KeyedMutex // per family/symbol file writes
	sidecarMu sync.Mutex         // sidecar read-modify-write
}

// NewMarketStore creates a new market file store rooted at path.
func NewMarketStore(logger *common.Logger, path string, opts Options) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create market store path %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Join(path, FamilyPrices), 0755); err != nil {
		return nil, fmt.Errorf("failed to create prices directory: %w", err)
	}

	logger.Info().
		Str("path", path).
		Bool("compression", opts.Compression).
		Bool("indexing", opts.Indexing).
		Msg("MarketFS store opened")

	return &Store{
		basePath:    path,
		compression: opts.Compression,
		indexing:    opts.Indexing,
		logger:      logger.WithComponent("store"),
		now:         time.Now,
		files:       common.NewKeyedMutex(),
	}, nil
}

// SetClock overrides the store's clock. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// DataPath returns the base data path.
func (s *Store) DataPath() string {
	return s.basePath
}

// Compression reports the active compression policy.
func (s *Store) Compression() bool {
	return s.compression
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// --- file helpers ---

func sanitizeKey(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return strings.ToUpper(r.Replace(strings.TrimSpace(key)))
}

func (s *Store) familyDir(family string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(family))
}

func (s *Store) targetPath(family, symbol string, compressed bool) string {
	ext := jsonExt
	if compressed {
		ext = zstdExt
	}
	return filepath.Join(s.familyDir(family), sanitizeKey(symbol)+ext)
}

// locate returns the existing file for a symbol, preferring the variant that
// matches the current compression policy.
func (s *Store) locate(family, symbol string) (string, bool) {
	preferred := s.targetPath(family, symbol, s.compression)
	if _, err := os.Stat(preferred); err == nil {
		return preferred, true
	}
	other := s.targetPath(family, symbol, !s.compression)
	if _, err := os.Stat(other); err == nil {
		return other, true
	}
	return "", false
}

// readDocument loads and decodes a symbol file into dest.
func (s *Store) readDocument(family, symbol string, dest interface{}) (string, error) {
	path, ok := s.locate(family, symbol)
	if !ok {
		return "", common.ErrNotFound
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", common.ErrNotFound
		}
		return "", &common.StoreError{Op: "read", Family: family, Symbol: symbol, Err: err}
	}
	data, err := decode(path, raw)
	if err != nil {
		return "", &common.StoreError{Op: "decode", Family: family, Symbol: symbol, Err: err}
	}
	if len(data) == 0 {
		return "", &common.StoreError{Op: "decode", Family: family, Symbol: symbol, Err: errors.New("empty file")}
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return "", &common.StoreError{Op: "unmarshal", Family: family, Symbol: symbol, Err: err}
	}
	return path, nil
}

// writeDocument encodes doc under the current compression policy, writes it
// atomically, removes any stale variant and updates both sidecars.
func (s *Store) writeDocument(family, symbol string, doc interface{}, rows int, source string) error {
	unlock := s.files.Lock(family + "|" + sanitizeKey(symbol))
	defer unlock()

	data, err := json.Marshal(doc)
	if err != nil {
		return &common.StoreError{Op: "marshal", Family: family, Symbol: symbol, Err: err}
	}
	size, err := s.writeEncoded(family, symbol, data, s.compression)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	return s.updateSidecars(family, symbol, &models.MetadataEntry{
		LastUpdated: now,
		Rows:        rows,
		Source:      source,
		FileSize:    size,
	}, &models.IndexEntry{
		LastUpdated:   now,
		DaysAvailable: rows,
		Compressed:    s.compression,
	})
}

// writeEncoded writes JSON bytes with the given compression and removes the
// other variant. Callers hold the symbol's file lock.
func (s *Store) writeEncoded(family, symbol string, data []byte, compressed bool) (int64, error) {
	if compressed {
		data = compress(data)
	}
	target := s.targetPath(family, symbol, compressed)
	if err := writeAtomic(filepath.Dir(target), target, data); err != nil {
		return 0, &common.StoreError{Op: "write", Family: family, Symbol: symbol, Err: err}
	}
	if err := os.Remove(s.targetPath(family, symbol, !compressed)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Str("family", family).Str("symbol", symbol).Msg("Failed to remove stale variant")
	}
	return int64(len(data)), nil
}

// removeDocument deletes a symbol's files and sidecar entries.
func (s *Store) removeDocument(family, symbol string) error {
	for _, compressed := range []bool{true, false} {
		if err := os.Remove(s.targetPath(family, symbol, compressed)); err != nil && !os.IsNotExist(err) {
			return &common.StoreError{Op: "remove", Family: family, Symbol: symbol, Err: err}
		}
	}
	return s.updateSidecars(family, symbol, nil, nil)
}

func writeAtomic(dir, target string, data []byte) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func writeJSON(dir, name string, data interface{}) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	jsonData = append(jsonData, '\n')
	return writeAtomic(dir, filepath.Join(dir, name), jsonData)
}

func readJSON(path string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}

// listSymbols returns the symbols stored in a family directory.
func listSymbols(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	seen := make(map[string]bool)
	var symbols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".tmp-") || strings.HasPrefix(name, "_") {
			continue
		}
		var sym string
		switch {
		case strings.HasSuffix(name, zstdExt):
			sym = strings.TrimSuffix(name, zstdExt)
		case strings.HasSuffix(name, jsonExt):
			sym = strings.TrimSuffix(name, jsonExt)
		default:
			continue
		}
		if !seen[sym] {
			seen[sym] = true
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// families returns every family directory that currently exists.
func (s *Store) families() []string {
	out := []string{}
	for _, flat := range []string{FamilyPrices, FamilyNews} {
		if isDir(s.familyDir(flat)) {
			out = append(out, flat)
		}
	}
	for _, parent := range []string{familyIndicators, familyFundamentals} {
		entries, err := os.ReadDir(s.familyDir(parent))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				out = append(out, parent+"/"+e.Name())
			}
		}
	}
	return out
}

// isTableFamily reports whether a family holds dated rows subject to retention.
func isTableFamily(family string) bool {
	return family == FamilyPrices || strings.HasPrefix(family, familyIndicators+"/")
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// --- sidecars ---

// updateSidecars sets (or, for nil entries, removes) a symbol's metadata and
// index records.
func (s *Store) updateSidecars(family, symbol string, meta *models.MetadataEntry, idx *models.IndexEntry) error {
	s.sidecarMu.Lock()
	defer s.sidecarMu.Unlock()

	dir := s.familyDir(family)
	key := sanitizeKey(symbol)

	metadata := make(map[string]models.MetadataEntry)
	if err := readJSON(filepath.Join(dir, metadataFile), &metadata); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Str("family", family).Msg("Metadata sidecar unreadable, rewriting")
		metadata = make(map[string]models.MetadataEntry)
	}
	if meta != nil {
		metadata[key] = *meta
	} else {
		delete(metadata, key)
	}
	if err := writeJSON(dir, metadataFile, metadata); err != nil {
		return &common.StoreError{Op: "metadata", Family: family, Symbol: symbol, Err: err}
	}

	if !s.indexing && idx != nil {
		return nil
	}
	index := make(map[string]models.IndexEntry)
	if err := readJSON(filepath.Join(dir, indexFile), &index); err != nil && !os.IsNotExist(err) {
		index = make(map[string]models.IndexEntry)
	}
	if idx != nil {
		index[key] = *idx
	} else {
		delete(index, key)
	}
	if err := writeJSON(dir, indexFile, index); err != nil {
		return &common.StoreError{Op: "index", Family: family, Symbol: symbol, Err: err}
	}
	return nil
}

// Metadata returns a symbol's metadata entry in a family.
func (s *Store) Metadata(_ context.Context, family, symbol string) (models.MetadataEntry, bool, error) {
	s.sidecarMu.Lock()
	defer s.sidecarMu.Unlock()

	metadata := make(map[string]models.MetadataEntry)
	if err := readJSON(filepath.Join(s.familyDir(family), metadataFile), &metadata); err != nil {
		if os.IsNotExist(err) {
			return models.MetadataEntry{}, false, nil
		}
		return models.MetadataEntry{}, false, &common.StoreError{Op: "metadata", Family: family, Symbol: symbol, Err: err}
	}
	entry, ok := metadata[sanitizeKey(symbol)]
	return entry, ok, nil
}

// Index returns a family's index sidecar.
func (s *Store) Index(_ context.Context, family string) (map[string]models.IndexEntry, error) {
	s.sidecarMu.Lock()
	defer s.sidecarMu.Unlock()

	index := make(map[string]models.IndexEntry)
	if err := readJSON(filepath.Join(s.familyDir(family), indexFile), &index); err != nil && !os.IsNotExist(err) {
		return nil, &common.StoreError{Op: "index", Family: family, Err: err}
	}
	return index, nil
}
