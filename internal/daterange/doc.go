// Package daterange expands a calendar date range into the month pages and days it covers.
//
// Dates are naive calendar dates in YYYY-MM-DD form. Expand steps day by day from the
// start to the end date, so month membership always follows real calendar transitions,
// leap years included.
package daterange
