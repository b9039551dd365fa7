// Package main provides the ablate command, which removes a direction from the
// residual-stream writers of a transformer checkpoint. It loads a safetensors
// model and a direction vector, orthogonalizes the embedding and every block's
// attention and MLP output weights on the chosen device, and writes the edited
// checkpoint back in its original dtypes.
package main
