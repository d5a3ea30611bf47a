// Package driverclient is the HTTP client the autopilot uses to talk to
// each external solver driver: solve, reveal, settle and notify, all JSON
// over HTTP with a hard timeout and response-size cap.
package driverclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	requestTimeout     = 60 * time.Second
	maxResponseBytes   = 10 << 20 // 10 MB
)

// Driver is a stateless HTTP client bound to one solver's base URL.
type Driver struct {
	Name    string
	BaseURL string
	client  *resty.Client
}

// New builds a Driver with a fixed 60s timeout and a response-size cap
// enforced by an after-response middleware.
func New(name, baseURL string) *Driver {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout).
		SetHeader("Content-Type", "application/json")
	c.OnAfterResponse(limitResponseBodyMiddleware)
	return &Driver{Name: name, BaseURL: baseURL, client: c}
}

// limitResponseBodyMiddleware rejects any response whose body exceeds
// maxResponseBytes, measuring the body resty has already read in full
// rather than trusting Content-Length (which a malicious or buggy driver
// could misreport). The body is not read through a limiting reader, so an
// oversized body is held in memory before it is rejected.
func limitResponseBodyMiddleware(_ *resty.Client, resp *resty.Response) error {
	if len(resp.Body()) > maxResponseBytes {
		return fmt.Errorf("driverclient: response body exceeds %d bytes", maxResponseBytes)
	}
	return nil
}

// SolveRequest is the JSON body posted to a driver's /solve endpoint,
// mirroring the auction fields the driver HTTP API exchanges.
type SolveRequest struct {
	ID                        int64                    `json:"id"`
	Block                     uint64                   `json:"block"`
	LatestSettlementBlock     uint64                   `json:"latestSettlementBlock"`
	Orders                    []OrderJSON              `json:"orders"`
	Prices                    map[string]string        `json:"prices"`
	SurplusCapturingJitOwners []string                 `json:"surplusCapturingJitOrderOwners"`
	TrustedTokens             []string                 `json:"trustedInternalizationTokens"`
	Deadline                  time.Time                `json:"deadline"`
}

// OrderJSON is the wire representation of an order within a solve request.
type OrderJSON struct {
	UID        string `json:"uid"`
	SellToken  string `json:"sellToken"`
	BuyToken   string `json:"buyToken"`
	SellAmount string `json:"sellAmount"`
	BuyAmount  string `json:"buyAmount"`
	Kind       string `json:"kind"`
}

// SolveResponse is what a driver returns from /solve: zero or more
// candidate solutions.
type SolveResponse struct {
	Solutions []SolutionJSON `json:"solutions"`
}

// SolutionJSON is one solution as reported by a driver.
type SolutionJSON struct {
	ID      uint64                       `json:"id"`
	Account string                       `json:"account"`
	Score   string                       `json:"score"`
	Orders  map[string]TradedAmountsJSON `json:"orders"`
	Prices  map[string]string            `json:"prices"`
}

// TradedAmountsJSON is the sell/buy amounts a solution proposes to execute
// for one order, keyed externally by the order's uid.
type TradedAmountsJSON struct {
	Sell string `json:"sell"`
	Buy  string `json:"buy"`
}

// RevealRequest identifies a solution a driver should reveal calldata for.
type RevealRequest struct {
	AuctionID  int64  `json:"auctionId"`
	SolutionID uint64 `json:"solutionId"`
}

// RevealResponse carries the calldata the driver intends to submit,
// internalized and uninternalized, as hex strings.
type RevealResponse struct {
	InternalizedCalldata   string `json:"internalizedCalldata"`
	UninternalizedCalldata string `json:"uninternalizedCalldata"`
}

// SettleRequest tells the winning driver to submit its solution on-chain.
type SettleRequest struct {
	AuctionID                     int64  `json:"auctionId"`
	SolutionID                    uint64 `json:"solutionId"`
	SubmissionDeadlineLatestBlock uint64 `json:"submissionDeadlineLatestBlock"`
}

// NotificationKind enumerates the categorized outcomes a losing or failing
// driver is told about, per the competition runner's publication phase.
type NotificationKind string

const (
	NotifyTimeout                          NotificationKind = "Timeout"
	NotifyEmptySolution                     NotificationKind = "EmptySolution"
	NotifyDuplicatedSolutionId              NotificationKind = "DuplicatedSolutionId"
	NotifySimulationFailed                  NotificationKind = "SimulationFailed"
	NotifyInvalidClearingPrices             NotificationKind = "InvalidClearingPrices"
	NotifyNonBufferableTokensUsed           NotificationKind = "NonBufferableTokensUsed"
	NotifySolverAccountInsufficientBalance  NotificationKind = "SolverAccountInsufficientBalance"
	NotifyPostprocessingTimedOut            NotificationKind = "PostprocessingTimedOut"
	NotifyBannedUnsettledConsecutiveAuctions NotificationKind = "Banned::UnsettledConsecutiveAuctions"
	NotifySettlementFail                    NotificationKind = "Settlement::Fail"
)

// Notification is the fire-and-forget body posted to /notify.
type Notification struct {
	AuctionID  int64            `json:"auctionId"`
	SolutionID uint64           `json:"solutionId,omitempty"`
	Kind       NotificationKind `json:"kind"`
}

// Solve asks the driver to propose solutions for an auction.
func (d *Driver) Solve(ctx context.Context, req SolveRequest) (SolveResponse, error) {
	var out SolveResponse
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/solve")
	if err != nil {
		return SolveResponse{}, fmt.Errorf("driverclient[%s]: solve: %w", d.Name, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return SolveResponse{}, fmt.Errorf("driverclient[%s]: solve: status %d", d.Name, resp.StatusCode())
	}
	return out, nil
}

// Reveal asks the winning driver for the calldata it intends to submit.
func (d *Driver) Reveal(ctx context.Context, req RevealRequest) (RevealResponse, error) {
	var out RevealResponse
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/reveal")
	if err != nil {
		return RevealResponse{}, fmt.Errorf("driverclient[%s]: reveal: %w", d.Name, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return RevealResponse{}, fmt.Errorf("driverclient[%s]: reveal: status %d", d.Name, resp.StatusCode())
	}
	return out, nil
}

// Settle tells the winning driver to submit its solution on-chain. There is
// no response body on success, only a status code to check.
func (d *Driver) Settle(ctx context.Context, req SettleRequest) error {
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(req).
		Post("/settle")
	if err != nil {
		return fmt.Errorf("driverclient[%s]: settle: %w", d.Name, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("driverclient[%s]: settle: status %d", d.Name, resp.StatusCode())
	}
	return nil
}

// Notify fire-and-forgets a categorized outcome notification; the response
// is not awaited for correctness, only logged on error.
func (d *Driver) Notify(ctx context.Context, n Notification) error {
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(n).
		Post("/notify")
	if err != nil {
		return fmt.Errorf("driverclient[%s]: notify: %w", d.Name, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("driverclient[%s]: notify: status %d", d.Name, resp.StatusCode())
	}
	return nil
}
