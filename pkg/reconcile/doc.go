// Package reconcile repairs drift between the single-valued profile role and
// the role assignment store.
//
// A profile whose primary role has no matching assignment row resolves
// differently depending on which store answers first. The Reconciler inserts
// the missing rows in batches, either once or on a cron schedule:
//
//	r := reconcile.New(assignments, reconcile.Config{Schedule: "@every 10m", BatchSize: 500}, logger, metrics)
//	if err := r.Start(); err != nil { ... }
//	defer r.Stop()
package reconcile
