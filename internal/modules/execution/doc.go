// Package execution implements the rebalancing engine: it reconciles current
// holdings with target positions, slices the difference into lot-sized limit
// orders over a time window (linear TWAP), and finishes with an aggressive
// closing pass at the window deadline.
//
// The engine talks to the brokerage only through domain.BrokerAdapter and
// reports every decision to an Observer, so persistence, events and metrics
// stay outside this package.
//
// Lifecycle of a run (see Controller.Run):
//
//	INIT        resolve window, validate targets, read positions, reconcile
//	RUNNING     one tick per interval until the window end (TWAPScheduler)
//	FINALIZING  one closing pass per instrument (ActiveCloser)
//	DONE
package execution
