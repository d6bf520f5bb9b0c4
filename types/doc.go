// Package types provides unified type definitions for the MemFlow engine.
package types
