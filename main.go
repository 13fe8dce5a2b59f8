package main

import "github.com/dame-data/epc-ingest/cmd"

func main() {
	cmd.Execute()
}
