// Package op defines the operator contract shared by every kernel: the
// (kind, element type) registry, the configure/init/run lifecycle, the
// parameter records and the error taxonomy.
//
// Kernels live in sub-packages (see op/cpu) and are installed into a
// Registry by an explicit startup call rather than by package init side
// effects:
//
//	reg := op.NewRegistry()
//	if err := cpu.Register(reg); err != nil {
//	    return err
//	}
//	conv, err := reg.Create(op.Conv2D, tensor.Float32)
package op
