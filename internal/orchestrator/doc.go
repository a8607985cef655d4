// Package orchestrator drives the session state machine.
//
// The orchestrator package provides functionality for:
//   - Decision making: choosing the next session type, target items, and
//     branch from the current status, last session, and last review
//   - Verdict resolution: applying the verification gate and the retry
//     ceiling to proposed review verdicts
//   - The run loop: invoking the session runner sequentially and recording
//     every outcome in the coordination store
//
// DecideNext is a pure function of its inputs. All durable effects go
// through the state package's named operations, so an interrupted run can
// always resume from the stored status and last session.
package orchestrator
