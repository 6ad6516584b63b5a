// Command gopgscope serves read-only PostgreSQL exploration tools over MCP.
package main

func main() {
	Execute()
}
