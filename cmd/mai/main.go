// Command mai imports an ONNX model and runs it on the CPU kernels.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"k8s.io/klog/v2"

	"github.com/mai-ml/mai/internal/graph"
	"github.com/mai-ml/mai/internal/modelsource"
	"github.com/mai-ml/mai/internal/onnx"
	"github.com/mai-ml/mai/internal/op/cpu"
	"github.com/mai-ml/mai/internal/parallel"
	"github.com/mai-ml/mai/internal/profiling"
	"github.com/mai-ml/mai/internal/tensor"
)

const version = "v0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx)
	stop()
	klog.Flush()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		return errors.New("no command given")
	}
	switch args[0] {
	case "version":
		fmt.Printf("mai %s\n", version)
		return nil
	case "inspect":
		return inspect(ctx, os.Stdout, args[1:])
	case "run":
		return runModel(ctx, os.Stdout, args[1:])
	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [klog flags] <command> [flags]\n\n", os.Args[0])
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  version    Show version")
	fmt.Fprintln(out, "  inspect    List a model's inputs, outputs and nodes")
	fmt.Fprintln(out, "  run        Import a model and run inference")
}

type runOptions struct {
	model      string
	runs       int
	workers    int
	profile    bool
	dumpDir    string
	inputValue float64
	show       int
}

func (o *runOptions) bind(fs *flag.FlagSet) {
	fs.StringVar(&o.model, "model", "", "model path or gs://bucket/object URI")
	fs.IntVar(&o.runs, "runs", 1, "number of inference runs")
	fs.IntVar(&o.workers, "workers", 0, "worker goroutines for kernels (0 = one per CPU, 1 = sequential)")
	fs.BoolVar(&o.profile, "profile", false, "print per-operator timings")
	fs.StringVar(&o.dumpDir, "dump", "", "write every tensor to this directory as safetensors after the last run")
	fs.Float64Var(&o.inputValue, "input-value", 1, "value every model input element is set to")
	fs.IntVar(&o.show, "show", 8, "leading output values to print")
}

func runModel(ctx context.Context, out io.Writer, args []string) error {
	log := klog.FromContext(ctx)

	var opts runOptions
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	opts.bind(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if opts.model == "" {
		return errors.New("run: -model is required")
	}
	if opts.runs < 1 {
		return fmt.Errorf("run: -runs must be at least 1, got %d", opts.runs)
	}

	data, err := modelsource.Open(ctx, opts.model)
	if err != nil {
		return err
	}

	reg, err := cpu.NewRegistry()
	if err != nil {
		return fmt.Errorf("building operator registry: %w", err)
	}

	cfg := graph.DefaultConfig()
	cfg.Logger = log
	switch {
	case opts.workers == 1:
		cfg.Parallel = parallel.Sequential()
	case opts.workers > 1:
		cfg.Parallel.Enabled = true
		cfg.Parallel.NumWorkers = opts.workers
	}
	prof := profiling.NewProfiler()
	if opts.profile {
		prof.Start()
	}
	cfg.Profiler = prof

	g, err := onnx.Load(data, reg, cfg)
	if err != nil {
		return fmt.Errorf("importing %s: %w", opts.model, err)
	}
	defer g.Release()

	for _, name := range g.ModelInputs() {
		if err := fillTensor(g.Tensor(name), opts.inputValue); err != nil {
			return err
		}
	}
	if err := g.Init(); err != nil {
		return err
	}

	for i := range opts.runs {
		if err := ctx.Err(); err != nil {
			return err
		}
		startedAt := time.Now()
		if err := g.Run(); err != nil {
			return fmt.Errorf("run %d: %w", i+1, err)
		}
		log.Info("inference finished", "run", i+1, "duration", time.Since(startedAt))
	}

	for _, name := range g.ModelOutputs() {
		t := g.Tensor(name)
		fmt.Fprintf(out, "%s %s %v: %s\n", name, t.DataType(), []int(t.Shape()), leading(t, opts.show))
	}
	if opts.profile {
		printProfile(out, prof.Summary())
	}
	if opts.dumpDir != "" {
		if err := g.DumpTensors(opts.dumpDir); err != nil {
			return err
		}
	}
	return nil
}

func inspect(ctx context.Context, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	model := fs.String("model", "", "model path or gs://bucket/object URI")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *model == "" {
		return errors.New("inspect: -model is required")
	}

	data, err := modelsource.Open(ctx, *model)
	if err != nil {
		return err
	}
	m, err := onnx.Parse(data)
	if err != nil {
		return err
	}
	if m.Graph == nil {
		return fmt.Errorf("%s has no graph", *model)
	}

	fmt.Fprintf(out, "producer: %s %s\nopset: %d\n", m.ProducerName, m.ProducerVersion, m.OpsetVersion(""))
	for _, in := range m.Graph.Inputs {
		fmt.Fprintf(out, "input  %s type=%d dims=%v\n", in.Name, in.ElemType, in.Shape)
	}
	for _, o := range m.Graph.Outputs {
		fmt.Fprintf(out, "output %s\n", o.Name)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tOP\tINPUTS\tOUTPUTS")
	for i, n := range m.Graph.Nodes {
		name := n.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%v\n", name, n.OpType, n.Inputs, n.Outputs)
	}
	return w.Flush()
}

func printProfile(out io.Writer, stats []profiling.OpStat) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OPERATOR\tKIND\tCALLS\tTOTAL\tAVERAGE")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.Name, s.Kind, s.Count, s.Total, s.Average())
	}
	_ = w.Flush()
}

func fillTensor(t *tensor.Tensor, v float64) error {
	switch t.DataType() {
	case tensor.Float32:
		fill(tensor.Data[float32](t), float32(v))
	case tensor.Int32:
		fill(tensor.Data[int32](t), int32(v))
	case tensor.Int64:
		fill(tensor.Data[int64](t), int64(v))
	case tensor.Uint8:
		fill(tensor.Data[uint8](t), uint8(v))
	case tensor.Int8:
		fill(tensor.Data[int8](t), int8(v))
	case tensor.Uint16:
		fill(tensor.Data[uint16](t), uint16(v))
	case tensor.Int16:
		fill(tensor.Data[int16](t), int16(v))
	case tensor.Bool:
		fill(tensor.Data[bool](t), v != 0)
	default:
		return fmt.Errorf("input %q: cannot fill %s tensor", t.Name(), t.DataType())
	}
	return nil
}

func fill[T tensor.Element](dst []T, v T) {
	for i := range dst {
		dst[i] = v
	}
}

func leading(t *tensor.Tensor, n int) string {
	switch t.DataType() {
	case tensor.Float32:
		return head(tensor.Data[float32](t), n)
	case tensor.Int32:
		return head(tensor.Data[int32](t), n)
	case tensor.Int64:
		return head(tensor.Data[int64](t), n)
	case tensor.Uint8:
		return head(tensor.Data[uint8](t), n)
	case tensor.Int8:
		return head(tensor.Data[int8](t), n)
	case tensor.Uint16:
		return head(tensor.Data[uint16](t), n)
	case tensor.Int16:
		return head(tensor.Data[int16](t), n)
	case tensor.Bool:
		return head(tensor.Data[bool](t), n)
	default:
		return "<" + t.DataType().String() + ">"
	}
}

func head[T tensor.Element](values []T, n int) string {
	if len(values) <= n {
		return fmt.Sprint(values)
	}
	s := fmt.Sprint(values[:n])
	return s[:len(s)-1] + " ...]"
}
