// Package cron parses 5-field cron expressions and computes next-occurrence
// instants against a named time zone.
//
// Expressions use the standard form "minute hour day-of-month month
// day-of-week" with ranges, lists, steps, and wildcards. Descriptor
// shortcuts (@daily, @every) and embedded CRON_TZ prefixes are rejected:
// the zone a schedule evaluates in is always supplied by the caller.
//
// # Evaluation
//
// [Expression.NextAfter] returns the smallest UTC instant strictly after the
// input whose wall-clock projection in the given zone matches the
// expression. Daylight-saving transitions are handled explicitly:
//
//   - A wall time that does not exist (spring forward) resolves to the first
//     instant after the gap.
//   - A wall time that occurs twice (fall back) resolves to the earlier
//     occurrence, so a daily schedule inside the repeated hour fires once.
//
// Parsing is delegated to robfig/cron's standard parser; this package adds
// the zone projection and DST resolution on top of its field bitmasks.
package cron
