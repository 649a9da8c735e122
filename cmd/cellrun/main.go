// cellrun loads a cellgraph workbook, drives its cells to completion and
// prints their state.
package main

import "os"

func main() {
	os.Exit(execute())
}
