// Package main implements the loomgen command line interface, a batch
// engine that drives LLM generation pipelines with caching, retry, and
// resumable checkpointing.
package main

func main() {
	Execute()
}
