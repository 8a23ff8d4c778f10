// Package ports defines the interfaces (ports) that external adapters must implement.
// Services depend on these instead of concrete adapters so they can be tested with
// in-memory fakes.
package ports
