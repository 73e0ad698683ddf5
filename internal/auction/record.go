package auction

// NoBid marks an agent that did not bid in a round.
const NoBid int64 = -1

type round struct {
	winner int
	bids   []int64
}

// BidRecord is the append-only history of auction rounds. Bids are indexed by
// agent ID.
type BidRecord struct {
	rounds []round
}

// Record appends one round; bids is copied.
func (r *BidRecord) Record(winner int, bids []int64) {
	r.rounds = append(r.rounds, round{winner: winner, bids: append([]int64(nil), bids...)})
}

func (r *BidRecord) Len() int { return len(r.rounds) }

// Winners lists the winner of each round in order.
func (r *BidRecord) Winners() []int {
	out := make([]int, len(r.rounds))
	for i, rd := range r.rounds {
		out[i] = rd.winner
	}
	return out
}

// Bids lists agent's bid per round, NoBid where it did not bid.
func (r *BidRecord) Bids(agent int) []int64 {
	out := make([]int64, len(r.rounds))
	for i, rd := range r.rounds {
		out[i] = bidOf(rd.bids, agent)
	}
	return out
}

// AverageBid sums the agent's bids and divides by the number of rounds, so
// abstentions count as zero. 0 before the first round.
func (r *BidRecord) AverageBid(agent int) int64 {
	if len(r.rounds) == 0 {
		return 0
	}
	var sum int64
	for _, b := range r.Bids(agent) {
		if b > 0 {
			sum += b
		}
	}
	return sum / int64(len(r.rounds))
}

// TotalReward is the sum of the agent's bids over the rounds it won.
func (r *BidRecord) TotalReward(agent int) int64 {
	var total int64
	for _, rd := range r.rounds {
		if rd.winner == agent {
			if b := bidOf(rd.bids, agent); b > 0 {
				total += b
			}
		}
	}
	return total
}

func bidOf(bids []int64, agent int) int64 {
	if agent < 0 || agent >= len(bids) || bids[agent] < 0 {
		return NoBid
	}
	return bids[agent]
}

// bestRival is the lowest bid placed by any agent other than self, NoBid if
// nobody else bid.
func bestRival(bids []int64, self int) int64 {
	best := NoBid
	for i, b := range bids {
		if i == self || b < 0 {
			continue
		}
		if best == NoBid || b < best {
			best = b
		}
	}
	return best
}
