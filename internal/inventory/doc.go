// Package inventory stores the stock location tree.
//
// A location is a shelf, drawer or bin. Locations nest through ParentID and
// carry a free-form JSON metadata object. The LED locator keeps its binding
// in that metadata under LEDMetadataKey, so the table itself knows nothing
// about LEDs; MetadataRegistry is the adapter between the two.
//
// Deleting a location cascades to its children and drops their bindings
// with them.
package inventory
