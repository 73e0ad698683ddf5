package auction

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBidRecordTotalRewardMatchesWinningBids(t *testing.T) {
	var r BidRecord
	rounds := []struct {
		winner int
		bids   []int64
	}{
		{0, []int64{120, 150}},
		{1, []int64{200, 90}},
		{0, []int64{80, 95}},
		{1, []int64{NoBid, 60}},
		{0, []int64{40, NoBid}},
	}
	var want0, want1 int64
	for _, rd := range rounds {
		r.Record(rd.winner, rd.bids)
		if rd.winner == 0 {
			want0 += rd.bids[0]
		} else {
			want1 += rd.bids[1]
		}
	}
	require.Equal(t, want0, r.TotalReward(0))
	require.Equal(t, want1, r.TotalReward(1))
	require.Equal(t, int64(0), r.TotalReward(7))
	require.Equal(t, []int{0, 1, 0, 1, 0}, r.Winners())
	require.Equal(t, []int64{120, 200, 80, NoBid, 40}, r.Bids(0))
	require.Equal(t, int64((120+200+80+40)/5), r.AverageBid(0))
	require.Equal(t, 5, r.Len())
}

func TestBidRecordCopiesInput(t *testing.T) {
	var r BidRecord
	bids := []int64{1, 2}
	r.Record(0, bids)
	bids[0] = 100
	require.Equal(t, int64(1), r.Bids(0)[0])
	require.Equal(t, int64(0), (&BidRecord{}).AverageBid(0))
}

func TestBestRival(t *testing.T) {
	require.Equal(t, int64(60), bestRival([]int64{10, 80, 60}, 0))
	require.Equal(t, NoBid, bestRival([]int64{10, NoBid}, 0))
	require.Equal(t, NoBid, bestRival(nil, 0))
}
