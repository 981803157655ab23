package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	readability "codeberg.org/readeck/go-readability/v2"
)

// FileKB is a directory-backed knowledge base. Curated playbook entries live
// in .json files; .html documents are reduced to readable text on load; .md
// and .txt files are taken as-is.
type FileKB struct {
	mu      sync.RWMutex
	entries []Entry
	byKey   map[string]int // normalized title/alias -> entries index
	logger  *slog.Logger
}

// NewFileKB loads every document under dir. Files that fail to parse are
// skipped with a log line; an empty directory yields an empty (but usable)
// knowledge base.
func NewFileKB(dir string, logger *slog.Logger) (*FileKB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	kb := &FileKB{logger: logger}
	if err := kb.Reload(dir); err != nil {
		return nil, err
	}
	return kb, nil
}

// Reload re-reads the directory, replacing the in-memory index atomically.
func (kb *FileKB) Reload(dir string) error {
	names, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("knowledge: read dir: %w", err)
	}

	var entries []Entry
	for _, de := range names {
		if de.IsDir() {
			continue
		}
		path := filepath.Join(dir, de.Name())
		loaded, err := loadFile(path)
		if err != nil {
			kb.logger.Warn("knowledge: skipping document", "file", de.Name(), "error", err)
			continue
		}
		entries = append(entries, loaded...)
	}

	byKey := make(map[string]int, len(entries))
	for i, e := range entries {
		byKey[normalize(e.Title)] = i
		for _, a := range e.Aliases {
			byKey[normalize(a)] = i
		}
	}

	kb.mu.Lock()
	kb.entries = entries
	kb.byKey = byKey
	kb.mu.Unlock()

	kb.logger.Info("knowledge base loaded", "entries", len(entries))
	return nil
}

func loadFile(path string) ([]Entry, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		// A file holds either one entry or a list of them.
		var list []Entry
		if err := json.Unmarshal(data, &list); err == nil {
			return list, nil
		}
		var one Entry
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		return []Entry{one}, nil
	case ".html", ".htm":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		article, err := readability.FromReader(f, &url.URL{Scheme: "file", Path: path})
		if err != nil {
			return nil, fmt.Errorf("readability: %w", err)
		}
		var buf strings.Builder
		if err := article.RenderText(&buf); err != nil {
			return nil, fmt.Errorf("render: %w", err)
		}
		title := article.Title()
		if title == "" {
			title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		return []Entry{{Title: title, Body: buf.String()}}, nil
	case ".md", ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		body := string(data)
		title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if line, _, ok := strings.Cut(body, "\n"); ok {
			if t := strings.TrimSpace(strings.TrimPrefix(line, "#")); t != "" && strings.HasPrefix(line, "#") {
				title = t
			}
		}
		return []Entry{{Title: title, Body: body}}, nil
	default:
		return nil, nil
	}
}

// ExactMatch implements Service.
func (kb *FileKB) ExactMatch(_ context.Context, text string) (*Entry, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	if i, ok := kb.byKey[normalize(text)]; ok {
		e := kb.entries[i]
		return &e, nil
	}
	return nil, nil
}

// SemanticSearch implements Service with token-overlap scoring: the score of
// an entry is the share of query tokens present in its title or body.
func (kb *FileKB) SemanticSearch(_ context.Context, text string, topK int) ([]Entry, float64, error) {
	query := tokenize(text)
	if len(query) == 0 {
		return nil, 0, nil
	}

	kb.mu.RLock()
	defer kb.mu.RUnlock()

	type scored struct {
		entry Entry
		score float64
	}
	var hits []scored
	for _, e := range kb.entries {
		doc := tokenSet(e.Title + " " + e.Body + " " + strings.Join(e.Aliases, " "))
		matched := 0
		for _, tok := range query {
			if doc[tok] {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, scored{entry: e, score: float64(matched) / float64(len(query))})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}

	out := make([]Entry, len(hits))
	for i, h := range hits {
		out[i] = h.entry
	}
	confidence := 0.0
	if len(hits) > 0 {
		confidence = hits[0].score
	}
	return out, confidence, nil
}

func normalize(s string) string {
	return strings.Join(tokenize(s), " ")
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r < 0x80
	})
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range tokenize(s) {
		set[tok] = true
	}
	return set
}
