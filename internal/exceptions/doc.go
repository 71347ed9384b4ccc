// Package exceptions evaluates the configured exception rules (URL
// patterns, cookie substrings, user-agent regexes and allow-listed page
// type predicates) against a request.
package exceptions
