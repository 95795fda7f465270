package query

import (
	"testing"
)

func TestPaginate(t *testing.T) {
	tests := []struct {
		n     int
		sizes []int
	}{
		{0, nil},
		{1, []int{1}},
		{10, []int{10}},
		{11, []int{10, 1}},
		{25, []int{10, 10, 5}},
	}
	for _, tt := range tests {
		items := make([]int, tt.n)
		for i := range items {
			items[i] = i
		}
		pages := Paginate(items, 10)
		if len(pages) != len(tt.sizes) {
			t.Errorf("n=%d: pages = %d, want %d", tt.n, len(pages), len(tt.sizes))
			continue
		}
		for i, size := range tt.sizes {
			if len(pages[i].Items) != size {
				t.Errorf("n=%d page %d: size = %d, want %d", tt.n, i, len(pages[i].Items), size)
			}
			if pages[i].Total != len(tt.sizes) || pages[i].Number() != i+1 {
				t.Errorf("n=%d page %d: label = %s", tt.n, i, pages[i].Label())
			}
		}
	}
}

func TestPaginate_DefaultSize(t *testing.T) {
	pages := Paginate(make([]int, 15), 0)
	if len(pages) != 2 {
		t.Errorf("pages = %d, want 2", len(pages))
	}
}

func TestPager_Wraparound(t *testing.T) {
	p := NewPager(Paginate(make([]int, 25), 10))

	cur, ok := p.Current()
	if !ok || cur.Label() != "1/3" {
		t.Fatalf("current = %s, %v", cur.Label(), ok)
	}

	wantNext := []string{"2/3", "3/3", "1/3"}
	for _, want := range wantNext {
		page, _ := p.Next()
		if page.Label() != want {
			t.Errorf("Next() = %s, want %s", page.Label(), want)
		}
	}

	page, _ := p.Prev()
	if page.Label() != "3/3" {
		t.Errorf("Prev() from first = %s, want 3/3", page.Label())
	}
	if len(page.Items) != 5 {
		t.Errorf("last page size = %d, want 5", len(page.Items))
	}
}

func TestPager_Goto(t *testing.T) {
	p := NewPager(Paginate(make([]int, 25), 10))
	if page, _ := p.Goto(99); page.Number() != 3 {
		t.Errorf("Goto(99) = %d, want 3", page.Number())
	}
	if page, _ := p.Goto(-1); page.Number() != 1 {
		t.Errorf("Goto(-1) = %d, want 1", page.Number())
	}
}

func TestPager_Empty(t *testing.T) {
	p := NewPager[int](nil)
	if _, ok := p.Current(); ok {
		t.Error("Current() on empty pager should report !ok")
	}
	if _, ok := p.Next(); ok {
		t.Error("Next() on empty pager should report !ok")
	}
	if _, ok := p.Prev(); ok {
		t.Error("Prev() on empty pager should report !ok")
	}
}
