// Package backend defines the interface request engine backends implement,
// along with the types exchanged between an engine runner and a backend.
// Each backend serves one engine type.
package backend
