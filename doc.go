/*
Package bfio reads and writes large multi-dimensional microscopy images stored as
OME-TIFF, OME-Zarr v2 or OME-Zarr v3.  Images have up to five axes, T, C, Z, Y and X,
declared in any order; requests and results are always expressed in the canonical
(T, C, Z, Y, X) order, with undeclared axes having extent 1.

Readers and writers work in whole chunks.  A region request is mapped onto the image's
chunk grid, the covering chunks are read or read-modify-written concurrently, and the
result is assembled into a dense array:

	r, err := bfio.OpenReader(ctx, "/data/image.zarr", bio.Auto, "")
	...
	defer r.Close()
	tile, err := r.Read(ctx, bio.NewRange(0, 1023), bio.NewRange(0, 1023))

Writers create a new image, replacing any image of the same Zarr layout at the path, and
validate the dimension order, shape and chunk shape before anything is written:

	w, err := bfio.CreateWriter(ctx, "/data/out.zarr", []int64{2, 2700, 2702},
		[]int64{1, 1024, 1024}, "uint16", "CYX", bio.OmeZarrV2)

Locations may be local paths, "file://" URLs, "gs://" or "s3://" buckets, or "mem://"
in-process buckets.
*/
package bfio
