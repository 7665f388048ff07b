// Package schedule computes subscription renewal dates.
//
// Everything here is pure: given a billing Cycle, an anchor date and a
// reference date, the result is fully determined. Month-based cycles clamp
// to the month's last day but always recompute from the nominal day, so a
// subscription billed on the 31st renews Jan 31, Feb 28, Mar 31 and never
// drifts to the 28th.
package schedule
