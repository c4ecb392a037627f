// Command coderun runs snippets in sandboxed interpreters from the command
// line, over HTTP and as an MCP tool server.
package main

func main() {
	Execute()
}
