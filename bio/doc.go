/*
	Package bio provides types, constants, and functions that have no other dependencies
	and can be used by all packages within bfio.  This includes the axis order and range
	types used to address 5d bioimages, the element data types, the immutable image
	descriptor, dense arrays, the error taxonomy and package-level logging.

	Images are addressed in the canonical (T, C, Z, Y, X) space.  An image's on-disk axis
	order may be any permutation of a subset of these axes that includes Y and X; axes not
	declared by an image have extent 1.
*/
package bio
