package store

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stellarlinkco/ndsborki/internal/catalog"
	"github.com/stretchr/testify/require"
)

func TestCollectStats(t *testing.T) {
	s, _ := newJSONStore(t)
	ctx := context.Background()

	st, err := CollectStats(ctx, s)
	require.NoError(t, err)
	require.Zero(t, st.Total)
	require.Zero(t, st.SizeBytes)

	add := func(name, author string, cat catalog.Category) {
		b := sampleBuild(name, 5)
		b.Author = author
		b.Category = cat
		_, err := s.Append(ctx, b)
		require.NoError(t, err)
	}
	add("AK-74", "Олег", catalog.CategoryNew)
	add("M4", "Олег", catalog.CategoryTopMeta)
	add("MP5", "", catalog.CategoryTopMeta)
	add("Kar98", "Анна", catalog.Category("legacy"))

	st, err = CollectStats(ctx, s)
	require.NoError(t, err)
	require.Equal(t, 4, st.Total)
	require.Positive(t, st.SizeBytes)

	wantAuthors := []Count{{"Олег", 2}, {"Анна", 1}, {"—", 1}}
	if diff := cmp.Diff(wantAuthors, st.ByAuthor); diff != "" {
		t.Errorf("authors mismatch (-want +got):\n%s", diff)
	}
	wantCategories := []Count{{"top-meta", 2}, {"new", 1}, {"legacy", 1}}
	if diff := cmp.Diff(wantCategories, st.ByCategory); diff != "" {
		t.Errorf("categories mismatch (-want +got):\n%s", diff)
	}
}
