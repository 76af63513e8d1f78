// Package outagewatch provides core application constants used throughout
// the service.
package outagewatch

const (
	// Version is the current version of the application.
	Version = "0.1.0"
	// AppName is the name of the application.
	AppName = "outagewatch"
)
