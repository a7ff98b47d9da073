package synchronizer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainauction/internal/domain"
	"github.com/alanyoungcy/chainauction/internal/synchronizer"
)

func ids(auctions []domain.Auction) []uint64 {
	out := make([]uint64, len(auctions))
	for i, a := range auctions {
		out[i] = a.ID
	}
	return out
}

func viewCollection() domain.Collection {
	ended := auction(3, "Old clock", 25, epoch.Add(3*time.Hour))
	ended.Ended = true
	return domain.Collection{Auctions: append(threeAuctions(), ended)}
}

func TestViewStatus(t *testing.T) {
	col := viewCollection()

	active := synchronizer.View(col, synchronizer.Query{Status: synchronizer.StatusActive}, epoch)
	require.Equal(t, []uint64{1, 0}, ids(active))

	ended := synchronizer.View(col, synchronizer.Query{Status: synchronizer.StatusEnded}, epoch)
	require.Equal(t, []uint64{3, 2}, ids(ended))

	all := synchronizer.View(col, synchronizer.Query{Status: synchronizer.StatusAll}, epoch)
	require.Equal(t, []uint64{3, 2, 1, 0}, ids(all))
}

func TestViewSearch(t *testing.T) {
	col := viewCollection()

	got := synchronizer.View(col, synchronizer.Query{Search: "LAMP"}, epoch)
	require.Equal(t, []uint64{1}, ids(got))

	got = synchronizer.View(col, synchronizer.Query{Search: "description of c"}, epoch)
	require.Equal(t, []uint64{2}, ids(got))

	got = synchronizer.View(col, synchronizer.Query{Search: "nothing like it"}, epoch)
	require.Empty(t, got)
}

func TestViewSort(t *testing.T) {
	col := viewCollection()
	tests := []struct {
		sort synchronizer.SortKey
		want []uint64
	}{
		{synchronizer.SortNewest, []uint64{3, 2, 1, 0}},
		{synchronizer.SortEndingSoon, []uint64{2, 0, 1, 3}},
		{synchronizer.SortHighestBid, []uint64{2, 1, 3, 0}},
		{synchronizer.SortLowestBid, []uint64{0, 3, 1, 2}},
	}
	for _, tt := range tests {
		t.Run(string(tt.sort), func(t *testing.T) {
			got := synchronizer.View(col, synchronizer.Query{Sort: tt.sort}, epoch)
			require.Equal(t, tt.want, ids(got))
		})
	}
}

func TestViewDoesNotMutateSnapshot(t *testing.T) {
	col := viewCollection()
	got := synchronizer.View(col, synchronizer.Query{Sort: synchronizer.SortHighestBid}, epoch)
	got[0].CurrentHighestBid.SetInt64(1)

	require.Equal(t, []uint64{0, 1, 2, 3}, ids(col.Auctions))
	require.EqualValues(t, 40, col.Auctions[2].CurrentHighestBid.Int64())
}

func TestFeatured(t *testing.T) {
	require.Equal(t, []uint64{3, 2, 1}, ids(synchronizer.Featured(viewCollection())))
	require.Equal(t, []uint64{1, 0}, ids(synchronizer.Featured(domain.Collection{Auctions: threeAuctions()[:2]})))
	require.Empty(t, synchronizer.Featured(domain.Collection{}))
}

func TestFeaturedSkipsMissingIDs(t *testing.T) {
	newestMissing := domain.Collection{Auctions: threeAuctions(), Missing: []uint64{3}}
	require.EqualValues(t, 4, newestMissing.Count())
	require.Equal(t, []uint64{2, 1}, ids(synchronizer.Featured(newestMissing)))

	col := viewCollection()
	col.Auctions = append(col.Auctions[:2:2], col.Auctions[3])
	col.Missing = []uint64{2}
	require.Equal(t, []uint64{3, 1}, ids(synchronizer.Featured(col)))

	allMissing := domain.Collection{Missing: []uint64{0, 1}}
	require.Empty(t, synchronizer.Featured(allMissing))
}

func TestParseQuery(t *testing.T) {
	s, err := synchronizer.ParseStatus("")
	require.NoError(t, err)
	require.Equal(t, synchronizer.StatusAll, s)

	s, err = synchronizer.ParseStatus("Active")
	require.NoError(t, err)
	require.Equal(t, synchronizer.StatusActive, s)

	_, err = synchronizer.ParseStatus("pending")
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	k, err := synchronizer.ParseSort("")
	require.NoError(t, err)
	require.Equal(t, synchronizer.SortNewest, k)

	_, err = synchronizer.ParseSort("random")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}
