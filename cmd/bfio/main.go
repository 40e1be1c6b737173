// Command bfio inspects, sums and creates OME-TIFF and OME-Zarr images.
package main

import (
	"fmt"
	"os"

	"github.com/janelia-flyem/bfio/bio"
	"github.com/janelia-flyem/bfio/cmd/bfio/commands"
)

func main() {
	err := commands.Execute()
	bio.Shutdown()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
