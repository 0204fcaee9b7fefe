package marketfs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/marketcache/internal/common"
	"github.com/bobmcallan/marketcache/internal/models"
)

// countDoc counts rows for any family's document shape.
type countDoc struct {
	Rows     []json.RawMessage `json:"rows"`
	Articles []json.RawMessage `json:"articles"`
	Periods  []json.RawMessage `json:"periods"`
}

func countRows(data []byte) (int, error) {
	var bare []json.RawMessage
	if err := json.Unmarshal(data, &bare); err == nil {
		return len(bare), nil
	}
	var doc countDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, err
	}
	return len(doc.Rows) + len(doc.Articles) + len(doc.Periods), nil
}

// RebuildIndex re-derives every family's _index.json from the files on disk
// and returns the number of entries written. Unreadable files are skipped.
func (s *Store) RebuildIndex(ctx context.Context) (int, error) {
	total := 0
	for _, family := range s.families() {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		dir := s.familyDir(family)
		symbols, err := listSymbols(dir)
		if err != nil {
			return total, &common.StoreError{Op: "reindex", Family: family, Err: err}
		}

		index := make(map[string]models.IndexEntry, len(symbols))
		for _, sym := range symbols {
			path, ok := s.locate(family, sym)
			if !ok {
				continue
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				s.logger.Warn().Err(err).Str("family", family).Str("symbol", sym).Msg("Reindex: unreadable file skipped")
				continue
			}
			data, err := decode(path, raw)
			if err != nil {
				s.logger.Warn().Err(err).Str("family", family).Str("symbol", sym).Msg("Reindex: undecodable file skipped")
				continue
			}
			rows, err := countRows(data)
			if err != nil {
				s.logger.Warn().Err(err).Str("family", family).Str("symbol", sym).Msg("Reindex: corrupt file skipped")
				continue
			}
			var modTime time.Time
			if fi, err := os.Stat(path); err == nil {
				modTime = fi.ModTime().UTC()
			}
			index[sym] = models.IndexEntry{
				LastUpdated:   modTime,
				DaysAvailable: rows,
				Compressed:    isCompressed(path, raw),
			}
		}

		s.sidecarMu.Lock()
		err = writeJSON(dir, indexFile, index)
		s.sidecarMu.Unlock()
		if err != nil {
			return total, &common.StoreError{Op: "reindex", Family: family, Err: err}
		}
		total += len(index)
	}

	s.logger.Info().Int("entries", total).Msg("Index rebuilt")
	return total, nil
}

// RetentionCleanup drops rows older than maxAgeDays from every price and
// indicator series. Files with nothing to drop are not rewritten; a series
// left empty is removed together with its sidecar entries.
func (s *Store) RetentionCleanup(ctx context.Context, maxAgeDays int) (*models.MaintenanceResult, error) {
	if maxAgeDays <= 0 {
		return nil, fmt.Errorf("%w: retention days must be positive, got %d", common.ErrInvalidRequest, maxAgeDays)
	}
	start := time.Now()
	cutoff := truncateDay(s.now()).AddDate(0, 0, -maxAgeDays)
	result := &models.MaintenanceResult{Operation: "retention"}

	for _, family := range s.families() {
		if !isTableFamily(family) {
			continue
		}
		symbols, err := listSymbols(s.familyDir(family))
		if err != nil {
			return result, &common.StoreError{Op: "retention", Family: family, Err: err}
		}
		for _, sym := range symbols {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			rewritten, removed, err := s.pruneSymbol(family, sym, cutoff)
			if err != nil {
				s.logger.Warn().Err(err).Str("family", family).Str("symbol", sym).Msg("Retention skipped file")
				continue
			}
			if rewritten {
				result.Files++
			}
			if removed {
				result.Removed++
			}
		}
	}

	result.Duration = time.Since(start)
	s.logger.Info().
		Int("max_age_days", maxAgeDays).
		Int("rewritten", result.Files).
		Int("removed", result.Removed).
		Dur("duration", result.Duration).
		Msg("Retention cleanup complete")
	return result, nil
}

func (s *Store) pruneSymbol(family, symbol string, cutoff time.Time) (rewritten, removed bool, err error) {
	unlock := s.files.Lock(family + "|" + sanitizeKey(symbol))
	defer unlock()

	var file tableFile
	path, err := s.readDocument(family, symbol, &file)
	if err != nil {
		return false, false, err
	}
	col, err := dateColumn(file.Rows)
	if err != nil {
		return false, false, &common.StoreError{Op: "retention", Family: family, Symbol: symbol, Err: err}
	}

	kept := make([]map[string]interface{}, 0, len(file.Rows))
	for _, row := range file.Rows {
		date, err := parseDate(row[col])
		if err != nil {
			return false, false, &common.StoreError{Op: "retention", Family: family, Symbol: symbol, Err: err}
		}
		if !date.Before(cutoff) {
			kept = append(kept, row)
		}
	}
	if len(kept) == len(file.Rows) {
		return false, false, nil
	}
	if len(kept) == 0 {
		for _, compressed := range []bool{true, false} {
			if err := os.Remove(s.targetPath(family, symbol, compressed)); err != nil && !os.IsNotExist(err) {
				return false, false, err
			}
		}
		return false, true, s.updateSidecars(family, symbol, nil, nil)
	}

	file.Rows = kept
	file.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(file)
	if err != nil {
		return false, false, err
	}
	compressed := isCompressedPath(path)
	size, err := s.writeEncoded(family, symbol, data, compressed)
	if err != nil {
		return false, false, err
	}
	now := s.now().UTC()
	err = s.updateSidecars(family, symbol,
		&models.MetadataEntry{LastUpdated: now, Rows: len(kept), Source: "retention", FileSize: size},
		&models.IndexEntry{LastUpdated: now, DaysAvailable: len(kept), Compressed: compressed},
	)
	return true, false, err
}

func isCompressedPath(path string) bool {
	return filepath.Ext(path) == ".zst"
}

// OptimizeStorage re-encodes every file that does not match the current
// compression policy and returns the number of files converted.
func (s *Store) OptimizeStorage(ctx context.Context) (int, error) {
	converted := 0
	for _, family := range s.families() {
		symbols, err := listSymbols(s.familyDir(family))
		if err != nil {
			return converted, &common.StoreError{Op: "optimize", Family: family, Err: err}
		}
		for _, sym := range symbols {
			if err := ctx.Err(); err != nil {
				return converted, err
			}
			ok, err := s.reencode(family, sym)
			if err != nil {
				s.logger.Warn().Err(err).Str("family", family).Str("symbol", sym).Msg("Optimize skipped file")
				continue
			}
			if ok {
				converted++
			}
		}
	}
	s.logger.Info().Bool("compression", s.compression).Int("converted", converted).Msg("Storage optimized")
	return converted, nil
}

func (s *Store) reencode(family, symbol string) (bool, error) {
	unlock := s.files.Lock(family + "|" + sanitizeKey(symbol))
	defer unlock()

	path, ok := s.locate(family, symbol)
	if !ok {
		return false, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	if isCompressed(path, raw) == s.compression && isCompressedPath(path) == s.compression {
		return false, nil
	}
	data, err := decode(path, raw)
	if err != nil {
		return false, err
	}
	rows, err := countRows(data)
	if err != nil {
		return false, err
	}
	size, err := s.writeEncoded(family, symbol, data, s.compression)
	if err != nil {
		return false, err
	}

	meta, found, err := s.Metadata(context.Background(), family, symbol)
	if err != nil || !found {
		meta = models.MetadataEntry{Rows: rows, Source: "optimize"}
	}
	meta.FileSize = size
	if meta.LastUpdated.IsZero() {
		meta.LastUpdated = s.now().UTC()
	}
	return true, s.updateSidecars(family, symbol, &meta, &models.IndexEntry{
		LastUpdated:   meta.LastUpdated,
		DaysAvailable: rows,
		Compressed:    s.compression,
	})
}

// Stats summarises files, rows and bytes per family.
func (s *Store) Stats(ctx context.Context) (*models.StorageStats, error) {
	stats := &models.StorageStats{
		Path:     s.basePath,
		Families: make(map[string]models.FamilyStats),
	}
	for _, family := range s.families() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := s.familyDir(family)
		symbols, err := listSymbols(dir)
		if err != nil {
			return nil, &common.StoreError{Op: "stats", Family: family, Err: err}
		}

		metadata := make(map[string]models.MetadataEntry)
		s.sidecarMu.Lock()
		if err := readJSON(filepath.Join(dir, metadataFile), &metadata); err != nil && !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("family", family).Msg("Metadata sidecar unreadable, row counts omitted")
			metadata = make(map[string]models.MetadataEntry)
		}
		s.sidecarMu.Unlock()

		var fs models.FamilyStats
		for _, sym := range symbols {
			path, ok := s.locate(family, sym)
			if !ok {
				continue
			}
			fi, err := os.Stat(path)
			if err != nil {
				continue
			}
			fs.Files++
			fs.Bytes += fi.Size()
			if isCompressedPath(path) {
				fs.Compressed++
			}
			fs.Rows += metadata[sym].Rows
		}
		stats.Families[family] = fs
		stats.Files += fs.Files
		stats.Bytes += fs.Bytes
	}
	return stats, nil
}
