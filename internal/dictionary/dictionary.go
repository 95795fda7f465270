// Package dictionary loads the static word list used to classify words as
// dictionary or non-dictionary the first time they are seen.
package dictionary

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
)

// Bloom sizing: the filter only short-circuits negative lookups, the set
// remains authoritative.
const (
	bloomFalsePositiveRate = 0.01
	minBloomCapacity       = 1024
)

// Oracle is an immutable set of known-language words. A nil or empty Oracle
// classifies every word as non-dictionary.
type Oracle struct {
	words  map[string]struct{}
	filter *bloom.BloomFilter
}

// New builds an oracle from an in-memory word list. Words are trimmed and
// lowercased; empty entries are ignored.
func New(words []string) *Oracle {
	o := &Oracle{words: make(map[string]struct{}, len(words))}
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			o.words[w] = struct{}{}
		}
	}
	o.buildFilter()
	return o
}

// Load reads one word per line from path. Blank lines and lines starting
// with # are skipped. A missing file yields an empty oracle and no error.
func Load(path string) (*Oracle, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(nil), nil
		}
		return nil, fmt.Errorf("open dictionary %s: %w", path, err)
	}
	defer file.Close()

	var words []string
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dictionary %s at line %d: %w", path, lineNum, err)
	}

	return New(words), nil
}

func (o *Oracle) buildFilter() {
	n := uint(len(o.words))
	if n < minBloomCapacity {
		n = minBloomCapacity
	}
	o.filter = bloom.NewWithEstimates(n, bloomFalsePositiveRate)
	for w := range o.words {
		o.filter.AddString(w)
	}
}

// Contains reports whether word is in the dictionary. The lookup is exact;
// callers pass normalized words.
func (o *Oracle) Contains(word string) bool {
	if o == nil || len(o.words) == 0 {
		return false
	}
	if !o.filter.TestString(word) {
		return false
	}
	_, ok := o.words[word]
	return ok
}

// Len returns the number of distinct words.
func (o *Oracle) Len() int {
	if o == nil {
		return 0
	}
	return len(o.words)
}
