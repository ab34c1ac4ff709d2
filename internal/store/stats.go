package store

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/stellarlinkco/ndsborki/internal/catalog"
)

// Stats summarizes the catalog for admin status output.
type Stats struct {
	Total      int
	ByAuthor   []Count
	ByCategory []Count
	// SizeBytes is the size of the backing file, or 0 when it does not exist.
	SizeBytes int64
}

// Count is one row of a grouped tally.
type Count struct {
	Key string
	N   int
}

// CollectStats reads the whole store once. Authors are ordered by count,
// categories by the fixed category order with unknown values last.
func CollectStats(ctx context.Context, s Store) (Stats, error) {
	builds, err := s.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list builds: %w", err)
	}

	authors := make(map[string]int)
	categories := make(map[string]int)
	for _, b := range builds {
		author := b.Author
		if author == "" {
			author = "—"
		}
		authors[author]++
		categories[string(b.Category)]++
	}

	st := Stats{Total: len(builds)}
	for k, n := range authors {
		st.ByAuthor = append(st.ByAuthor, Count{Key: k, N: n})
	}
	sort.Slice(st.ByAuthor, func(i, j int) bool {
		if st.ByAuthor[i].N != st.ByAuthor[j].N {
			return st.ByAuthor[i].N > st.ByAuthor[j].N
		}
		return st.ByAuthor[i].Key < st.ByAuthor[j].Key
	})

	for _, c := range catalog.Categories {
		if n, ok := categories[string(c)]; ok {
			st.ByCategory = append(st.ByCategory, Count{Key: string(c), N: n})
			delete(categories, string(c))
		}
	}
	var rest []string
	for k := range categories {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	for _, k := range rest {
		st.ByCategory = append(st.ByCategory, Count{Key: k, N: categories[k]})
	}

	if fi, err := os.Stat(s.Location()); err == nil {
		st.SizeBytes = fi.Size()
	}
	return st, nil
}
