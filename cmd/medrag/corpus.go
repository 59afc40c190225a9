package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/9046balaji/Heart-sub001/rag"
)

// corpusRecord is one line of a JSONL corpus file.
type corpusRecord struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Title    string         `json:"title"`
	Source   string         `json:"source"`
	URL      string         `json:"url"`
	Metadata map[string]any `json:"metadata"`
}

// readCorpus parses a JSONL file. Blank lines are skipped; records without
// an id get a random one.
func readCorpus(path string) ([]rag.RetrievedDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()

	var docs []rag.RetrievedDocument
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec corpusRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if strings.TrimSpace(rec.Content) == "" {
			return nil, fmt.Errorf("%s:%d: empty content", path, line)
		}
		docs = append(docs, rec.document())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	return docs, nil
}

func (r corpusRecord) document() rag.RetrievedDocument {
	meta := make(map[string]any, len(r.Metadata)+4)
	for k, v := range r.Metadata {
		meta[k] = v
	}
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	meta[rag.MetaID] = id
	for key, v := range map[string]string{rag.MetaTitle: r.Title, rag.MetaSource: r.Source, rag.MetaURL: r.URL} {
		if v != "" {
			meta[key] = v
		}
	}
	return rag.RetrievedDocument{ID: id, Content: r.Content, Metadata: meta}
}
