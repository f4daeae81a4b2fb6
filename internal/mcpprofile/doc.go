// Package mcpprofile composes named bundles of MCP server configurations
// into the flat alias map handed to an agent session, expanding
// environment references along the way.
package mcpprofile
