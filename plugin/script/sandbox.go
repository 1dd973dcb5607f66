// Package script runs operator-supplied JavaScript hooks in a pool of goja
// VMs.
package script

import (
	"context"
	"errors"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// ErrTimeout is returned when a script exceeds the execution time limit.
var ErrTimeout = errors.New("script: execution timed out")

// ErrPanic is returned when a script panics the VM.
var ErrPanic = errors.New("script: uncaught exception")

// Globals are values bound into the VM for one run.
type Globals map[string]any

// VMPool is a thread-safe pool of pre-initialised goja runtimes.
type VMPool struct {
	pool    chan *goja.Runtime
	timeout time.Duration
	size    int
}

// NewVMPool creates a VMPool with the given concurrency size and per-script timeout.
func NewVMPool(size int, timeout time.Duration) *VMPool {
	if size <= 0 {
		size = 4
	}
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	p := &VMPool{
		pool:    make(chan *goja.Runtime, size),
		timeout: timeout,
		size:    size,
	}
	for i := 0; i < size; i++ {
		p.pool <- newSafeVM()
	}
	return p
}

// Size is the number of VMs in the pool.
func (p *VMPool) Size() int { return p.size }

// Run executes prog inside a pooled VM with globals bound. It returns the
// value of the last expression evaluated.
func (p *VMPool) Run(ctx context.Context, prog *goja.Program, globals Globals) (goja.Value, *goja.Runtime, func(), error) {
	select {
	case vm := <-p.pool:
		v, keep, err := p.runVM(vm, prog, globals)
		release := func() {
			if keep {
				p.pool <- vm
			} else {
				// Tainted by an interrupt; replace it.
				p.pool <- newSafeVM()
			}
		}
		if err != nil {
			release()
			return nil, nil, func() {}, err
		}
		return v, vm, release, nil
	case <-ctx.Done():
		return nil, nil, func() {}, ctx.Err()
	}
}

func (p *VMPool) runVM(vm *goja.Runtime, prog *goja.Program, globals Globals) (result goja.Value, keep bool, err error) {
	for k, v := range globals {
		_ = vm.Set(k, v)
	}
	defer func() {
		for k := range globals {
			_ = vm.Set(k, goja.Undefined())
		}
	}()

	timer := time.AfterFunc(p.timeout, func() {
		vm.Interrupt(ErrTimeout)
	})

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = ErrPanic
			}
		}()
		result, err = vm.RunProgram(prog)
	}()
	timer.Stop()
	vm.ClearInterrupt()

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, false, ErrTimeout
		}
		var ex *goja.Exception
		if errors.As(err, &ex) {
			return nil, true, errors.New(ex.Error())
		}
		return nil, !errors.Is(err, ErrPanic), err
	}
	return result, true, nil
}

// newSafeVM creates a goja Runtime with dangerous globals removed.
func newSafeVM() *goja.Runtime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	for _, name := range []string{"require", "process", "fetch", "XMLHttpRequest", "eval", "Function"} {
		_ = vm.Set(name, goja.Undefined())
	}
	return vm
}

// Sandbox wraps a VMPool with compile and export helpers.
type Sandbox struct {
	pool   *VMPool
	logger *zap.Logger
}

// NewSandbox creates a Sandbox backed by a VMPool.
func NewSandbox(size int, timeout time.Duration, logger *zap.Logger) *Sandbox {
	return &Sandbox{
		pool:   NewVMPool(size, timeout),
		logger: logger,
	}
}

// Compile parses src once so it can run on any VM in the pool.
func Compile(name, src string) (*goja.Program, error) {
	return goja.Compile(name, src, true)
}

// Eval compiles and runs src, returning the exported result.
func (sb *Sandbox) Eval(ctx context.Context, src string, globals Globals) (any, error) {
	prog, err := Compile("eval", src)
	if err != nil {
		return nil, err
	}
	return sb.Run(ctx, prog, globals)
}

// Run executes a compiled program and exports its result. null and
// undefined export as nil.
func (sb *Sandbox) Run(ctx context.Context, prog *goja.Program, globals Globals) (any, error) {
	v, _, release, err := sb.pool.Run(ctx, prog, globals)
	defer release()
	if err != nil {
		sb.logger.Warn("script execution error", zap.Error(err))
		return nil, err
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	return v.Export(), nil
}
