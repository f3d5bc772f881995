// Package harvest defines the core types and collaborator contracts shared by
// the extraction workers, the coordinator and their backends.
package harvest
