package competition

import (
	"context"

	"github.com/cowmesh/autopilot/pkg/driverclient"
)

// Publish tells every driver the outcome of the round: the winner receives
// no notification here (the run loop proceeds straight to reveal/settle for
// it); every other ranked driver that participated receives a categorized
// Settlement::Fail notification; every driver whose bid was rejected during
// ingestion receives the specific NotificationKind it was rejected for.
// Notify calls are fire-and-forget: a failure to deliver one is logged by
// the caller, never fatal to the round.
func Publish(ctx context.Context, result *Result, drivers map[string]*driverclient.Driver, auctionID int64) []error {
	var errs []error
	for _, bid := range result.Ranked {
		if bid.IsWinner() {
			continue
		}
		d, ok := drivers[string(bid.Driver)]
		if !ok {
			continue
		}
		err := d.Notify(ctx, driverclient.Notification{
			AuctionID:  auctionID,
			SolutionID: uint64(bid.Solution.Id),
			Kind:       driverclient.NotifySettlementFail,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	for _, rej := range result.Rejected {
		d, ok := drivers[string(rej.Driver)]
		if !ok {
			continue
		}
		if err := d.Notify(ctx, driverclient.Notification{AuctionID: auctionID, Kind: rej.Reason}); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
