package engine

import (
	"time"

	"ad-selection-engine/internal/errortypes"
	"ad-selection-engine/internal/throttle"
)

// Stage names a timed step of an auction.
type Stage string

const (
	StageInventory   Stage = "inventory"
	StageBidding     Stage = "bidding"
	StageScoring     Stage = "scoring"
	StagePersistence Stage = "persistence"
	StageRemote      Stage = "remote_auction"
	StageReporting   Stage = "reporting"
)

// Telemetry receives stage latencies and the final status of every entry call.
// ObserveResult is called exactly once per call, failures included.
type Telemetry interface {
	ObserveStage(stage Stage, d time.Duration)
	ObserveResult(api throttle.API, status errortypes.Status, d time.Duration)
	ObserveCandidates(audiences, bids int)
}

type NoopTelemetry struct{}

func (NoopTelemetry) ObserveStage(Stage, time.Duration)                            {}
func (NoopTelemetry) ObserveResult(throttle.API, errortypes.Status, time.Duration) {}
func (NoopTelemetry) ObserveCandidates(int, int)                                   {}
