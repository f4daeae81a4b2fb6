// Package memory implements the built-in memory MCP server: a SQLite
// store of saved facts exposed to agents through save/search/recent
// tools over stdio.
package memory
