// Package integration holds end-to-end scenarios that run the controller
// stack against an in-process fake attendance backend.
package integration
