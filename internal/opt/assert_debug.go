//go:build slsdebug

package opt

// Built with -tags slsdebug, every candidate is re-checked for precedence and capacity.
const debugChecks = true
