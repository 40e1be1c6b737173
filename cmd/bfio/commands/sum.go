package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/janelia-flyem/bfio"
	"github.com/janelia-flyem/bfio/bio"
)

var (
	sumAxes  string
	sumTiles int64
	sumFlags = map[bio.Axis]*string{}
)

var sumCmd = &cobra.Command{
	Use:   "sum <path>",
	Short: "Sum the elements of an image or a region of it",
	Long: `Sum the elements of an image region.  Ranges are inclusive and written start:end or
start:end:stride; omitted axes cover the whole image.  With --tile the region is read as
prefetched tiles of the given size instead of in one request.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ft, err := bio.ParseFileType(fileType)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		r, err := bfio.OpenReader(ctx, args[0], ft, sumAxes, options()...)
		if err != nil {
			return err
		}
		defer r.Close()

		timer := bio.NewTimeLog()
		var sum float64
		if sumTiles > 0 {
			tiles, err := r.ScheduleTiledReads(sumTiles, sumTiles, 0, 0)
			if err != nil {
				return err
			}
			for i := range tiles {
				a, err := r.ReadTile(ctx, i)
				if err != nil {
					return err
				}
				sum += a.Sum()
			}
		} else {
			req := bio.FullRegion(r.Descriptor().Extents)
			for a, flag := range sumFlags {
				if *flag == "" {
					continue
				}
				if req[a], err = bio.ParseRange(*flag); err != nil {
					return err
				}
			}
			a, err := r.ReadRegion(ctx, req)
			if err != nil {
				return err
			}
			sum = a.Sum()
		}
		timer.Debugf("Summed %s", args[0])
		fmt.Fprintf(cmd.OutOrStdout(), "%.17g\n", sum)
		return nil
	},
}

func init() {
	sumCmd.Flags().StringVar(&sumAxes, "axes", "", "Dimension order of a zarr array, e.g. CZYX")
	sumCmd.Flags().Int64Var(&sumTiles, "tile", 0, "Sum the whole image tile by tile with this tile size")
	for _, a := range bio.CanonicalAxes {
		sumFlags[a] = sumCmd.Flags().String(a.Name(), "", fmt.Sprintf("Range of %s (%s axis)", a.Name(), a))
	}
}
