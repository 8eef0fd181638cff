// Command statebot runs the command-routing bot engine with the bundled
// plugins.
package main

func main() {
	Execute()
}
