// Package commands implements the control-surface operations shared by the
// admin API and the CLI: saving settings, full and single-URL purges, cache
// status and content-change event dispatch. Every operation returns a
// structured result; failures that the operator must act on are reported as
// *Error values carrying a stable code and optional remediation text.
package commands
