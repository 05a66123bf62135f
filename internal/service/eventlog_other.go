//go:build !windows

package service

// ReportStartupError is a no-op on non-Windows platforms; startup errors go
// to WriteStartupErrorFile and stderr there.
func ReportStartupError(serviceName string, err error) {}
