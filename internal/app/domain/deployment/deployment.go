// Package deployment defines the Deployment entity: one rollout attempt of
// a target model under a strategy's traffic schedule.
package deployment

import "time"

// Strategy selects one of the three rollout state machines.
type Strategy string

const (
	StrategyBlueGreen Strategy = "blue_green"
	StrategyCanary    Strategy = "canary"
	StrategyAllAtOnce Strategy = "all_at_once"
	StrategyRollback  Strategy = "rollback"
)

// Status is the lifecycle state of a Deployment.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Deployment is one rollout record, described in spec §3/§4.8.
type Deployment struct {
	ID               string
	ModelID          string
	Strategy         Strategy
	Status           Status
	TrafficPercent   int
	StartTime        time.Time
	CompleteTime     *time.Time
	RollbackReason   string
}

// Step describes one traffic-shift step of a rollout schedule.
type Step struct {
	Percent        int
	ObserveSeconds int
}

// Schedule returns the fixed traffic-shift schedule for a strategy, per
// spec §4.8.
func Schedule(strategy Strategy) []Step {
	switch strategy {
	case StrategyBlueGreen:
		return []Step{
			{Percent: 10, ObserveSeconds: 300},
			{Percent: 25, ObserveSeconds: 300},
			{Percent: 50, ObserveSeconds: 300},
			{Percent: 75, ObserveSeconds: 300},
			{Percent: 100, ObserveSeconds: 300},
		}
	case StrategyCanary:
		return []Step{
			{Percent: 5, ObserveSeconds: 900},
			{Percent: 25, ObserveSeconds: 300},
			{Percent: 50, ObserveSeconds: 300},
			{Percent: 100, ObserveSeconds: 300},
		}
	case StrategyAllAtOnce:
		return []Step{
			{Percent: 100, ObserveSeconds: 60},
		}
	default:
		return nil
	}
}
