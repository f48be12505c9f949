package graph

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nlpodyssey/safetensors"

	"github.com/mai-ml/mai/internal/op"
	"github.com/mai-ml/mai/internal/tensor"
)

// ErrNotDumpable is returned for tensors without a safetensors representation.
var ErrNotDumpable = errors.New("tensor type cannot be dumped")

// tensorView exposes a tensor's buffer as a safetensors.View. Unlike
// safetensors.NewTensorView it accepts rank-0 shapes.
type tensorView struct {
	dtype safetensors.DType
	shape []uint64
	data  []byte
}

func (v tensorView) DType() safetensors.DType { return v.dtype }
func (v tensorView) Shape() []uint64         { return v.shape }
func (v tensorView) Data() []byte            { return v.data }
func (v tensorView) DataLen() uint64         { return uint64(len(v.data)) }

func safetensorsDType(dt tensor.DataType) (safetensors.DType, error) {
	switch dt {
	case tensor.Float32:
		return safetensors.F32, nil
	case tensor.Int32:
		return safetensors.I32, nil
	case tensor.Int64:
		return safetensors.I64, nil
	case tensor.Uint8:
		return safetensors.U8, nil
	case tensor.Int8:
		return safetensors.I8, nil
	case tensor.Uint16:
		return safetensors.U16, nil
	case tensor.Int16:
		return safetensors.I16, nil
	case tensor.Bool:
		return safetensors.BOOL, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrNotDumpable, dt)
	}
}

func viewOf(t *tensor.Tensor) (tensorView, error) {
	dt, err := safetensorsDType(t.DataType())
	if err != nil {
		return tensorView{}, err
	}
	if t.ByteSize() != t.ElementCount()*t.DataType().Size() {
		return tensorView{}, fmt.Errorf("%w: %q has no buffer", ErrNotDumpable, t.Name())
	}
	shape := make([]uint64, t.Rank())
	for i, d := range t.Shape() {
		shape[i] = uint64(d)
	}
	return tensorView{dtype: dt, shape: shape, data: t.Bytes()}, nil
}

// DumpFileName returns the file DumpTensors writes a tensor to. Path
// separators in the tensor name are replaced.
func DumpFileName(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(name) + ".safetensors"
}

// DumpTensors writes each named tensor, or every tensor when no names are
// given, to its own safetensors file in dir. String tensors are skipped when
// dumping everything and rejected when named explicitly.
func (g *Graph) DumpTensors(dir string, names ...string) error {
	explicit := len(names) > 0
	if !explicit {
		names = g.TensorNames()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating dump directory: %w", err)
	}

	log := g.cfg.Logger
	for _, name := range names {
		t := g.tensors[name]
		if t == nil {
			return fmt.Errorf("dump %q: %w", name, op.ErrMissingTensor)
		}
		view, err := viewOf(t)
		if errors.Is(err, ErrNotDumpable) && !explicit {
			log.V(2).Info("skipping tensor dump", "name", name, "type", t.DataType())
			continue
		}
		if err != nil {
			return fmt.Errorf("dump %q: %w", name, err)
		}
		if err := writeDump(filepath.Join(dir, DumpFileName(name)), name, t, view); err != nil {
			return err
		}
	}
	log.V(1).Info("dumped tensors", "dir", dir, "count", len(names))
	return nil
}

func writeDump(path, name string, t *tensor.Tensor, view tensorView) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating dump file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing dump file: %w", cerr)
		}
	}()

	meta := map[string]string{"format": t.DataFormat().String()}
	if err := safetensors.SerializeToWriter(map[string]tensorView{name: view}, meta, f); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
