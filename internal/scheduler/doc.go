// Package scheduler runs the periodic jobs of the bot (reconcile, firing tick,
// cleanup) on a robfig/cron runner.
//
// Interval jobs get a random startup spread so jobs registered together do not
// all fire on the same second after boot.
package scheduler
