// Package logging is documented in logger.go.
package logging
