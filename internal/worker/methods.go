package worker

import (
	"errors"
	"fmt"
	"net"

	"github.com/nerrad567/gridd/internal/grid"
	"github.com/nerrad567/gridd/internal/osc"
)

// Row and column messages carry an offset, a coordinate and one to 32
// bytes of LED bits.
const (
	minSpanArgs = 3
	maxSpanArgs = 34
)

var gridMethods = []struct {
	path  string
	types string
}{
	{"/grid/led/set", "iii"},
	{"/grid/led/all", "i"},
	{"/grid/led/map", "iiiiiiiiii"},
	{"/grid/led/row", osc.AnyTypes},
	{"/grid/led/col", osc.AnyTypes},
	{"/grid/led/intensity", "i"},
}

// registerGridMethods installs the LED methods under prefix.
func (w *Worker) registerGridMethods(prefix string) {
	handlers := map[string]osc.HandlerFunc{
		"/grid/led/set":       w.ledSet,
		"/grid/led/all":       w.ledAll,
		"/grid/led/map":       w.ledMap,
		"/grid/led/row":       w.ledRow,
		"/grid/led/col":       w.ledCol,
		"/grid/led/intensity": w.ledIntensity,
	}
	for _, m := range gridMethods {
		w.server.Handle(prefix+m.path, m.types, handlers[m.path])
	}
}

func (w *Worker) unregisterGridMethods(prefix string) {
	for _, m := range gridMethods {
		w.server.Unhandle(prefix + m.path)
	}
}

// checkWrite ends the worker when err is a failed device write. Rejected
// requests stay local to the sender.
func (w *Worker) checkWrite(err error) error {
	if errors.Is(err, grid.ErrWrite) {
		w.logger.Warn("device write failed", "devnode", w.opts.Devnode, "error", err)
		w.fail(fmt.Errorf("%w: %w", ErrDeviceIO, err))
	}
	return err
}

// ints returns every argument as an int, rejecting anything that is not
// an integer.
func ints(msg *osc.Message) ([]int, error) {
	out := make([]int, len(msg.Args))
	for i, a := range msg.Args {
		v, ok := a.(int32)
		if !ok {
			return nil, fmt.Errorf("argument %d is %T, want int", i, a)
		}
		out[i] = int(v)
	}
	return out, nil
}

func (w *Worker) ledSet(msg *osc.Message, _ net.Addr) error {
	a, err := ints(msg)
	if err != nil {
		return err
	}
	return w.checkWrite(w.dev.SetLED(a[0], a[1], a[2] != 0))
}

func (w *Worker) ledAll(msg *osc.Message, _ net.Addr) error {
	a, err := ints(msg)
	if err != nil {
		return err
	}
	return w.checkWrite(w.dev.All(a[0] != 0))
}

func (w *Worker) ledMap(msg *osc.Message, _ net.Addr) error {
	a, err := ints(msg)
	if err != nil {
		return err
	}
	var rows [8]byte
	for i := range rows {
		rows[i] = byte(a[2+i])
	}
	return w.checkWrite(w.dev.Map(a[0], a[1], rows))
}

func spanArgs(msg *osc.Message) ([]int, []byte, error) {
	if n := len(msg.Args); n < minSpanArgs || n > maxSpanArgs {
		return nil, nil, fmt.Errorf("%d arguments, want %d to %d", n, minSpanArgs, maxSpanArgs)
	}
	a, err := ints(msg)
	if err != nil {
		return nil, nil, err
	}
	data := make([]byte, len(a)-2)
	for i := range data {
		data[i] = byte(a[2+i])
	}
	return a[:2], data, nil
}

// ledRow handles "x_off y d...".
func (w *Worker) ledRow(msg *osc.Message, _ net.Addr) error {
	pos, data, err := spanArgs(msg)
	if err != nil {
		return err
	}
	return w.checkWrite(w.dev.Row(pos[0], pos[1], data))
}

// ledCol handles "x y_off d...".
func (w *Worker) ledCol(msg *osc.Message, _ net.Addr) error {
	pos, data, err := spanArgs(msg)
	if err != nil {
		return err
	}
	return w.checkWrite(w.dev.Col(pos[0], pos[1], data))
}

func (w *Worker) ledIntensity(msg *osc.Message, _ net.Addr) error {
	a, err := ints(msg)
	if err != nil {
		return err
	}
	return w.checkWrite(w.dev.Intensity(a[0]))
}
