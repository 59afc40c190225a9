package rag

import (
	"sort"
	"strings"
)

// DefaultRRFK is the standard reciprocal rank fusion damping constant.
const DefaultRRFK = 60

// RankFuser merges ranked lists with reciprocal rank fusion. A document at
// 0-indexed rank r in a list contributes 1/(K+r+1); contributions are summed
// across lists.
type RankFuser struct {
	K int
}

// NewRankFuser returns a fuser using k, or DefaultRRFK when k <= 0.
func NewRankFuser(k int) *RankFuser {
	if k <= 0 {
		k = DefaultRRFK
	}
	return &RankFuser{K: k}
}

type fusedEntry struct {
	doc   RetrievedDocument
	score float64
	order int
}

// Fuse combines the lists and returns one document per dedup key, sorted by
// summed RRF score. Ties keep first-insertion order. The fused score is
// written to CombinedScore.
func (f *RankFuser) Fuse(lists ...[]RetrievedDocument) []RetrievedDocument {
	k := f.K
	if k <= 0 {
		k = DefaultRRFK
	}

	entries := make(map[string]*fusedEntry)
	order := 0
	for _, list := range lists {
		seenInList := make(map[string]struct{}, len(list))
		for rank, doc := range list {
			key := fusionKey(doc)
			// A repeated document within one list only counts at its best rank.
			if _, dup := seenInList[key]; dup {
				continue
			}
			seenInList[key] = struct{}{}

			contribution := 1.0 / float64(k+rank+1)
			if e, ok := entries[key]; ok {
				e.score += contribution
				if len(doc.Content) > len(e.doc.Content) {
					e.doc.Content = doc.Content
				}
				continue
			}
			entries[key] = &fusedEntry{doc: doc.clone(), score: contribution, order: order}
			order++
		}
	}

	fused := make([]*fusedEntry, 0, len(entries))
	for _, e := range entries {
		fused = append(fused, e)
	}
	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].order < fused[j].order
	})

	out := make([]RetrievedDocument, len(fused))
	for i, e := range fused {
		e.doc.CombinedScore = e.score
		out[i] = e.doc
	}
	return out
}

// FuseResults fuses pre-fusion search results grouped by search leg and
// records the contributing legs in metadata under "fusion_origins".
func (f *RankFuser) FuseResults(results ...[]SearchResult) []RetrievedDocument {
	lists := make([][]RetrievedDocument, len(results))
	origins := make(map[string][]string)
	for i, rs := range results {
		docs := make([]RetrievedDocument, len(rs))
		for j, r := range rs {
			docs[j] = r.Document
			key := fusionKey(r.Document)
			if !containsString(origins[key], string(r.Origin)) {
				origins[key] = append(origins[key], string(r.Origin))
			}
		}
		lists[i] = docs
	}

	fused := f.Fuse(lists...)
	for i := range fused {
		if o := origins[fusionKey(fused[i])]; len(o) > 0 {
			fused[i].setMeta("fusion_origins", strings.Join(o, ","))
		}
	}
	return fused
}

// fusionKey prefers metadata["id"], then the document ID, then raw content.
func fusionKey(doc RetrievedDocument) string {
	if id := doc.MetaString(MetaID); id != "" {
		return "id:" + id
	}
	if doc.ID != "" {
		return "id:" + doc.ID
	}
	return "content:" + doc.Content
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
