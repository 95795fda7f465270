package query

import (
	"fmt"
	"sync"
)

// Page is one fixed-size chunk of a listing. Index is zero-based; Number and
// Label are one-based for display.
type Page[T any] struct {
	Index int
	Total int
	Items []T
}

// Number is the one-based page number.
func (p Page[T]) Number() int { return p.Index + 1 }

// Label renders "n/total".
func (p Page[T]) Label() string { return fmt.Sprintf("%d/%d", p.Number(), p.Total) }

// Paginate splits items into pages of size. The last page may be short.
// No items means no pages.
func Paginate[T any](items []T, size int) []Page[T] {
	if size <= 0 {
		size = PageSize
	}
	total := (len(items) + size - 1) / size
	pages := make([]Page[T], 0, total)
	for i := 0; i < total; i++ {
		end := min((i+1)*size, len(items))
		pages = append(pages, Page[T]{Index: i, Total: total, Items: items[i*size : end]})
	}
	return pages
}

// Pager walks a page list with wraparound: Next from the last page returns
// to the first, Prev from the first goes to the last. Safe for concurrent use.
type Pager[T any] struct {
	mu      sync.Mutex
	pages   []Page[T]
	current int
}

func NewPager[T any](pages []Page[T]) *Pager[T] {
	return &Pager[T]{pages: pages}
}

// Len returns the number of pages.
func (p *Pager[T]) Len() int { return len(p.pages) }

// Current returns the page in view. ok is false when there are no pages.
func (p *Pager[T]) Current() (Page[T], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.at(p.current)
}

// Next advances one page, wrapping to the first.
func (p *Pager[T]) Next() (Page[T], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pages) == 0 {
		return Page[T]{}, false
	}
	p.current = (p.current + 1) % len(p.pages)
	return p.at(p.current)
}

// Prev steps back one page, wrapping to the last.
func (p *Pager[T]) Prev() (Page[T], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pages) == 0 {
		return Page[T]{}, false
	}
	p.current = (p.current - 1 + len(p.pages)) % len(p.pages)
	return p.at(p.current)
}

// Goto jumps to a zero-based page index, clamped to the valid range.
func (p *Pager[T]) Goto(index int) (Page[T], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pages) == 0 {
		return Page[T]{}, false
	}
	p.current = max(0, min(index, len(p.pages)-1))
	return p.at(p.current)
}

func (p *Pager[T]) at(i int) (Page[T], bool) {
	if i < 0 || i >= len(p.pages) {
		return Page[T]{}, false
	}
	return p.pages[i], true
}
