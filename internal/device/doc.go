// Package device provides the device registry for Hearth (Core).
//
// A device is anything the engine can observe or command: lights, blinds,
// thermostats, locks, sensors. Each device carries a capability set that
// gates which commands it accepts; the dispatcher consults the registry
// before any command leaves the system.
//
// The package follows the repository pattern:
//
//	Repository       - persistence interface (SQLite implementation provided)
//	Registry         - thread-safe cached access layer on top of a Repository
//
// The Registry caches devices in memory and returns deep copies so callers
// can never mutate cached state. Retired devices stay in the database for
// execution history but are rejected at dispatch time.
package device
