package commands

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/janelia-flyem/bfio"
	"github.com/janelia-flyem/bfio/bio"
)

var infoAxes string

var infoCmd = &cobra.Command{
	Use:   "info <path>",
	Short: "Show the dimensions, type and chunking of an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ft, err := bio.ParseFileType(fileType)
		if err != nil {
			return err
		}
		r, err := bfio.OpenReader(cmd.Context(), args[0], ft, infoAxes, options()...)
		if err != nil {
			return err
		}
		defer r.Close()

		d := r.Descriptor()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Path:        %s\n", args[0])
		fmt.Fprintf(out, "Format:      %s\n", d.Kind)
		fmt.Fprintf(out, "Axes:        %s\n", d.Order)
		fmt.Fprintf(out, "Shape:       %s\n", joinInts(d.ArrayShape))
		fmt.Fprintf(out, "Chunks:      %s (%s each, %s chunks)\n", joinInts(d.ChunkShape),
			humanize.IBytes(uint64(d.ChunkBytes())), humanize.Comma(d.NumChunks()))
		fmt.Fprintf(out, "Size (XYZCT): %d x %d x %d x %d x %d\n", r.Width(), r.Height(), r.Depth(), r.Channels(), r.Tsteps())
		fmt.Fprintf(out, "Tile:        %d x %d\n", r.TileWidth(), r.TileHeight())
		fmt.Fprintf(out, "Data type:   %s\n", r.DataType())
		fmt.Fprintf(out, "Fill value:  %g\n", d.FillValue)
		fmt.Fprintf(out, "Compressor:  %s\n", d.Compressor)
		fmt.Fprintf(out, "Data size:   %s\n", humanize.IBytes(uint64(d.Extents.Prod()*int64(d.DType.Bytes()))))
		return nil
	},
}

func init() {
	infoCmd.Flags().StringVar(&infoAxes, "axes", "", "Dimension order of a zarr array, e.g. CZYX")
}

func joinInts(vals []int64) string {
	s := make([]string, len(vals))
	for i, v := range vals {
		s[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(s, " x ")
}
