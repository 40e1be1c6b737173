package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/janelia-flyem/bfio"
	"github.com/janelia-flyem/bfio/bio"
)

var (
	createShape []int64
	createChunk []int64
	createDType string
	createAxes  string
)

var createCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "Create an empty image",
	Long: `Create an empty image.  Shape and chunk sizes are listed in the order given by --axes.
Creating a zarr image replaces any zarr array already at the path.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ft, err := bio.ParseFileType(fileType)
		if err != nil {
			return err
		}
		chunk := createChunk
		if len(chunk) == 0 {
			chunk = defaultChunk(createShape)
		}
		w, err := bfio.CreateWriter(cmd.Context(), args[0], createShape, chunk, createDType, createAxes, ft, options()...)
		if err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", w)
		return nil
	},
}

// defaultChunk uses 1024 x 1024 planes, clipped to the image, and size 1 on other axes.
func defaultChunk(shape []int64) []int64 {
	chunk := make([]int64, len(shape))
	for i, s := range shape {
		chunk[i] = 1
		if i >= len(shape)-2 {
			chunk[i] = 1024
			if s < chunk[i] {
				chunk[i] = s
			}
		}
	}
	return chunk
}

func init() {
	createCmd.Flags().Int64SliceVar(&createShape, "shape", nil, "Image shape in --axes order, e.g. 1,3,1,2702,2700")
	createCmd.Flags().Int64SliceVar(&createChunk, "chunks", nil, "Chunk shape in --axes order (default 1024 x 1024 planes)")
	createCmd.Flags().StringVar(&createDType, "dtype", "uint8", "Element type, e.g. uint16 or float32")
	createCmd.Flags().StringVar(&createAxes, "axes", "TCZYX", "Dimension order")
	createCmd.MarkFlagRequired("shape")
}
