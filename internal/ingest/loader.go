package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/helixcare/casematch/internal/domain"
)

// Store is the record-store surface the loader writes to.
type Store interface {
	UpsertPatient(ctx context.Context, p domain.Patient) error
	UpsertObservation(ctx context.Context, o domain.Observation) error
	UpsertCondition(ctx context.Context, c domain.Condition) error
}

// Stats counts what a load run touched.
type Stats struct {
	Files        int
	FailedFiles  int
	Patients     int
	Observations int
	Conditions   int
}

// Loader turns FHIR bundle files into stored, embedded records.
type Loader struct {
	store    Store
	embedder domain.Embedder
	log      *zap.Logger
}

// NewLoader creates a bundle loader.
func NewLoader(store Store, embedder domain.Embedder, log *zap.Logger) *Loader {
	return &Loader{store: store, embedder: embedder, log: log}
}

// LoadDirectory processes every *.json file in dir in lexical order. A file
// that fails is logged and skipped; the run continues. maxFiles <= 0 means all.
func (l *Loader) LoadDirectory(ctx context.Context, dir string, maxFiles int) (Stats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Stats{}, fmt.Errorf("read directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	if maxFiles > 0 && len(files) > maxFiles {
		files = files[:maxFiles]
	}

	var total Stats
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		stats, err := l.LoadFile(ctx, file)
		total.Files++
		if err != nil {
			total.FailedFiles++
			l.log.Error("bundle load failed", zap.String("file", file), zap.Error(err))
			continue
		}
		total.Patients += stats.Patients
		total.Observations += stats.Observations
		total.Conditions += stats.Conditions
	}

	l.log.Info("ingest run complete",
		zap.Int("files", total.Files),
		zap.Int("failed_files", total.FailedFiles),
		zap.Int("patients", total.Patients),
		zap.Int("observations", total.Observations),
		zap.Int("conditions", total.Conditions))
	return total, nil
}

// LoadFile ingests one bundle. Patients are committed first so that
// observation and condition rows never reference a missing patient.
func (l *Loader) LoadFile(ctx context.Context, path string) (Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Stats{}, fmt.Errorf("read %s: %w", path, err)
	}

	patients, observations, conditions, err := parseBundle(data)
	if err != nil {
		return Stats{}, fmt.Errorf("parse %s: %w", path, err)
	}

	var stats Stats
	stats.Files = 1

	for _, res := range patients {
		p := res.toDomain()
		p.Embedding = l.embedText(ctx, patientEmbeddingText(p, res.demographicExtras()))
		if err := l.store.UpsertPatient(ctx, p); err != nil {
			return stats, err
		}
		stats.Patients++
	}

	for _, res := range observations {
		o := res.toDomain()
		o.Embedding = l.embedText(ctx, o.EmbeddingText())
		if err := l.store.UpsertObservation(ctx, o); err != nil {
			return stats, err
		}
		stats.Observations++
	}

	for _, res := range conditions {
		if err := l.store.UpsertCondition(ctx, res.toDomain()); err != nil {
			return stats, err
		}
		stats.Conditions++
	}

	return stats, nil
}

// patientEmbeddingText extends the base demographic rendering with extension
// derived labels (race, ethnicity, birth sex).
func patientEmbeddingText(p domain.Patient, extras []string) string {
	text := p.EmbeddingText()
	if len(extras) == 0 {
		return text
	}
	return text + " | " + strings.Join(extras, " | ")
}

// embedText embeds the rendering, degrading to no embedding on provider
// failure. Rows without embeddings are invisible to similarity search but
// still queryable by id.
func (l *Loader) embedText(ctx context.Context, text string) []float32 {
	result, err := l.embedder.Embed(ctx, text)
	if err != nil {
		l.log.Warn("embedding failed, storing without vector",
			zap.String("text", text), zap.Error(err))
		return nil
	}
	return result.Embedding
}
