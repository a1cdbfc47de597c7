// Package model implements the VISS signal tree.
//
// # Tree Hierarchy
//
// Signals are organized in a VSS-style hierarchy of branches and leaves:
//
//	Vehicle                         (branch)
//	├── Speed                       (sensor, float, km/h)
//	├── Cabin                       (branch)
//	│   └── Door.Row1.Left.IsOpen   (actuator, boolean)
//	└── VehicleIdentification.VIN   (attribute, string)
//
// Branches group children; leaves carry a value. A leaf is one of:
//   - Sensor: written by the vehicle data source, read-only for clients
//   - Actuator: writable by authorized clients
//   - Attribute: static vehicle property, read-only for clients
//
// # Arena Layout
//
// A Tree stores its nodes in a flat slice and links them by Handle, not by
// pointer. Handles are stable for the lifetime of the tree and double as
// cheap map keys for the value store and the subscription index.
//
// The tree shape is fixed once Builder.Build returns. There is no API to
// add or remove nodes from a built Tree.
//
// # Addressing
//
// Paths are dot separated ("Vehicle.Cabin.Door.Row1.Left.IsOpen"). A slash
// is accepted as an alternate separator in expressions. Expressions may
// contain wildcards:
//
//	Vehicle.Speed              exact match
//	Vehicle.Cabin.Door.*.Left  '*' matches exactly one segment
//	Vehicle.Cabin.**           '**' matches zero or more segments
//
// Resolve returns the matched nodes; ResolveLeaves expands matched branches
// to every leaf below them.
//
// # Access Control
//
// Leaves have access flags derived from their kind:
//   - Read: Can be read
//   - Write: Can be written by clients
//   - Subscribe: Can be subscribed for changes
//
// Authorization of a particular client is decided outside this package.
package model
