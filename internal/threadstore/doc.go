// Package threadstore persists thread records as a single JSON file on
// disk. Records map stable thread ids to the agent session owning them.
package threadstore
