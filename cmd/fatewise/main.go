// Package main is the entry point for the Fatewise membership engine.
package main

func main() {
	Execute()
}
