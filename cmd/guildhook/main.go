// Package main provides the guildhook CLI for running chat-bot extensions in
// isolated sandboxes.
package main

func main() {
	Execute()
}
