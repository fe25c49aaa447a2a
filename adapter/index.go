package adapter

import (
	"sync"
	"time"

	"github.com/runbookops/runbookd/core"
)

// indexedCorpus is the in-memory document and runbook index shared by
// the variants that own their corpus locally (file, git-host,
// database). Refresh swaps the maps wholesale; readers always see a
// complete generation.
type indexedCorpus struct {
	mu       sync.RWMutex
	docs     map[string]*core.Document
	runbooks map[string]*core.Runbook
}

// replace installs a new index generation. Nil maps clear the index.
func (c *indexedCorpus) replace(docs map[string]*core.Document, runbooks map[string]*core.Runbook) {
	if docs == nil {
		docs = make(map[string]*core.Document)
	}
	if runbooks == nil {
		runbooks = make(map[string]*core.Runbook)
	}
	c.mu.Lock()
	c.docs = docs
	c.runbooks = runbooks
	c.mu.Unlock()
}

func (c *indexedCorpus) document(localID string) (*core.Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[localID]
	return doc, ok
}

func (c *indexedCorpus) runbook(id string) (*core.Runbook, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rb, ok := c.runbooks[id]
	return rb, ok
}

func (c *indexedCorpus) listRunbooks() []*core.Runbook {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*core.Runbook, 0, len(c.runbooks))
	for _, rb := range c.runbooks {
		out = append(out, rb)
	}
	return out
}

func (c *indexedCorpus) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// search scores every indexed document against the query. Filters are
// the caller's concern.
func (c *indexedCorpus) search(query, source string, sourceType core.SourceType, start time.Time) []core.SearchResult {
	queryTokens := tokenize(query)

	c.mu.RLock()
	defer c.mu.RUnlock()

	results := make([]core.SearchResult, 0, 16)
	for _, doc := range c.docs {
		confidence, reasons := ScoreDocument(doc, queryTokens)
		if confidence == 0 {
			continue
		}
		results = append(results, core.SearchResult{
			ID:              doc.ID(),
			Title:           doc.Title,
			Excerpt:         Excerpt(doc.Content, 240),
			Source:          source,
			SourceType:      sourceType,
			Category:        doc.Category,
			Confidence:      confidence,
			MatchReasons:    reasons,
			RetrievalTimeMS: time.Since(start).Milliseconds(),
			LastUpdated:     doc.LastUpdated,
			URL:             doc.URL,
			Metadata:        doc.Metadata,
		})
	}
	return results
}

// searchRunbooks scores every indexed runbook against the signature and
// returns sorted matches.
func (c *indexedCorpus) searchRunbooks(sig core.AlertSignature) []core.RunbookMatch {
	c.mu.RLock()
	defer c.mu.RUnlock()

	matches := make([]core.RunbookMatch, 0, 8)
	for _, rb := range c.runbooks {
		confidence, reasons := ScoreRunbook(rb, sig)
		if confidence == 0 {
			continue
		}
		matches = append(matches, core.RunbookMatch{
			Runbook:      rb,
			Confidence:   confidence,
			MatchReasons: reasons,
		})
	}
	SortRunbookMatches(matches)
	return matches
}
