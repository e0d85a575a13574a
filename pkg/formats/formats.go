// Package formats provides readers and writers for the on-disk artifacts of
// the mesh reconstruction pipeline: the precomputed topology (P2MT), model
// checkpoints (P2MC), OBJ templates and XYZ ground-truth point clouds.
package formats
