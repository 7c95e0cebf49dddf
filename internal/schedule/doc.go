// Package schedule provides cron field matching and tick helpers.
//
// A schedule is three standalone cron fields (minute, hour, day of month);
// month and day of week are implicitly "*". ParseSpec validates the fields,
// Spec.Matches decides whether a minute fires, and Spec.DueInstant finds the
// most recent firing minute for duplicate-run suppression.
// Every drives a callback on aligned interval boundaries.
package schedule
