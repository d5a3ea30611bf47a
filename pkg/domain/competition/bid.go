package competition

// DriverName identifies one of the configured solver drivers competing in
// a round, used for logging, metrics and the ban tracker.
type DriverName string

// BidUnscored is a solution as submitted by a driver, before it has been
// assigned a score. NewBidUnscored is its constructor, and the Score and
// Rank methods are the only conversions from one state to the next. The
// three state types are exported structs with exported fields, so a
// composite literal can still build a BidScored or BidRanked directly; the
// compiler does not stop a caller from skipping a state that way.
type BidUnscored struct {
	Driver   DriverName
	Solution Solution
}

// NewBidUnscored wraps a driver's raw submission. Validation of the
// solution's shape happens separately, in the competition runner, since it
// needs the auction to validate against.
func NewBidUnscored(driver DriverName, solution Solution) BidUnscored {
	return BidUnscored{Driver: driver, Solution: solution}
}

// BidScored is a bid once a score has been computed for it. The only
// method that produces one is BidUnscored.Score.
type BidScored struct {
	Driver   DriverName
	Solution Solution
	Score    Score
}

// Score attaches a computed score to an unscored bid, producing the next
// state in the progression.
func (b BidUnscored) Score(score Score) BidScored {
	return BidScored{Driver: b.Driver, Solution: b.Solution, Score: score}
}

// BidRanked is a scored bid once its position in the final ranking is
// known. The only method that produces one is BidScored.Rank.
type BidRanked struct {
	Driver   DriverName
	Solution Solution
	Score    Score
	Rank     int
}

// Rank attaches a bid's position (0 = winner) in the final ordering.
func (b BidScored) Rank(rank int) BidRanked {
	return BidRanked{Driver: b.Driver, Solution: b.Solution, Score: b.Score, Rank: rank}
}

func (b BidRanked) IsWinner() bool { return b.Rank == 0 }
