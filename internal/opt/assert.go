//go:build !slsdebug

package opt

const debugChecks = false
