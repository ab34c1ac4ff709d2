package browse

// Page describes one slice of a paginated list. Start and End index into the
// full list; End is exclusive.
type Page struct {
	Number  int
	Total   int
	Start   int
	End     int
	HasPrev bool
	HasNext bool
}

// Paginate clamps page into [0, total-1] and computes its bounds. An empty
// list has zero pages and yields an empty page 0.
func Paginate(count, size, page int) Page {
	if size <= 0 {
		size = 1
	}
	if count <= 0 {
		return Page{}
	}
	total := (count + size - 1) / size
	if page < 0 {
		page = 0
	}
	if page > total-1 {
		page = total - 1
	}
	start := page * size
	end := start + size
	if end > count {
		end = count
	}
	return Page{
		Number:  page,
		Total:   total,
		Start:   start,
		End:     end,
		HasPrev: page > 0,
		HasNext: (page+1)*size < count,
	}
}

// Slice returns the items on page p.
func Slice[T any](items []T, p Page) []T {
	if p.Start >= len(items) || p.End > len(items) || p.Start >= p.End {
		return nil
	}
	return items[p.Start:p.End]
}

// Cursor points at one record of a non-empty list. Movement clamps at both
// ends; it never wraps.
type Cursor struct {
	Index int
	Len   int
}

func NewCursor(length int) Cursor {
	return Cursor{Len: length}
}

func (c Cursor) HasPrev() bool { return c.Index > 0 }

func (c Cursor) HasNext() bool { return c.Index < c.Len-1 }

func (c Cursor) Next() Cursor {
	if c.HasNext() {
		c.Index++
	}
	return c
}

func (c Cursor) Prev() Cursor {
	if c.HasPrev() {
		c.Index--
	}
	return c
}

// Resize adapts the cursor to a list whose length changed since it was built.
func (c Cursor) Resize(length int) Cursor {
	c.Len = length
	if c.Index > length-1 {
		c.Index = length - 1
	}
	if c.Index < 0 {
		c.Index = 0
	}
	return c
}
