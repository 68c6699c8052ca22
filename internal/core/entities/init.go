// Package entities registers the built-in entity kinds with the core registry.
// Import this package for its side effects to make the kinds available.
package entities

// Each file registers its kinds from init().
