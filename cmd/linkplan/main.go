// Command linkplan connects waypoints on a remote authority and inspects the
// attempt history it recorded.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "linkplan:", err)
		os.Exit(1)
	}
}
