package worker

import (
	"fmt"
	"net"

	"github.com/nerrad567/gridd/internal/devicestate"
	"github.com/nerrad567/gridd/internal/grid"
	"github.com/nerrad567/gridd/internal/osc"
)

// infoReply sends one /sys property to an address.
type infoReply func(to net.Addr)

// registerSysMethods installs the /sys namespace. Every /sys/info method
// accepts three forms: no arguments replies to the application, "i"
// replies to the application host on the given port, and "si" replies to
// the given host and port.
func (w *Worker) registerSysMethods() {
	props := map[string]infoReply{
		"id":       w.replyID,
		"size":     w.replySize,
		"host":     w.replyHost,
		"port":     w.replyPort,
		"prefix":   w.replyPrefix,
		"rotation": w.replyRotation,
	}
	for name, reply := range props {
		w.handleInfo("/sys/info/"+name, reply)
	}
	w.handleInfo("/sys/info", w.replyAll)

	w.server.Handle("/sys/port", "i", w.setPort)
	w.server.Handle("/sys/host", "s", w.setHost)
	w.server.Handle("/sys/prefix", "s", w.setPrefix)
	w.server.Handle("/sys/rotation", "i", w.setRotation)
	w.server.Handle("/sys/cable", "s", w.setCable)
}

func (w *Worker) handleInfo(address string, reply infoReply) {
	w.server.Handle(address, "", func(_ *osc.Message, _ net.Addr) error {
		if w.app == nil {
			return fmt.Errorf("no application address")
		}
		reply(w.app)
		return nil
	})
	w.server.Handle(address, "i", func(msg *osc.Message, _ net.Addr) error {
		port, _ := msg.Int(0) //nolint:errcheck // Type tags already checked
		to, err := osc.ResolveAddr(w.settings.AppHost, port)
		if err != nil {
			return err
		}
		reply(to)
		return nil
	})
	w.server.Handle(address, "si", func(msg *osc.Message, _ net.Addr) error {
		host, _ := msg.String(0) //nolint:errcheck // Type tags already checked
		port, _ := msg.Int(1)    //nolint:errcheck // Type tags already checked
		to, err := osc.ResolveAddr(host, port)
		if err != nil {
			return err
		}
		reply(to)
		return nil
	})
}

func (w *Worker) send(to net.Addr, address string, args ...any) {
	if err := w.server.Send(to, osc.NewMessage(address, args...)); err != nil {
		w.logger.Debug("reply not delivered", "address", address, "to", to, "error", err)
	}
}

func (w *Worker) replyID(to net.Addr) {
	w.send(to, "/sys/id", w.serial)
}

func (w *Worker) replySize(to net.Addr) {
	cols, rows := w.dev.Size()
	w.send(to, "/sys/size", cols, rows)
}

func (w *Worker) replyHost(to net.Addr) {
	w.send(to, "/sys/host", w.settings.AppHost)
}

func (w *Worker) replyPort(to net.Addr) {
	w.send(to, "/sys/port", w.settings.AppPort)
}

func (w *Worker) replyPrefix(to net.Addr) {
	w.send(to, "/sys/prefix", w.settings.Prefix)
}

// replyRotation also reports the size on non-square grids, whose
// dimensions swap when rotated.
func (w *Worker) replyRotation(to net.Addr) {
	if cols, rows := w.dev.Size(); cols != rows {
		w.replySize(to)
	}
	w.send(to, "/sys/rotation", w.dev.Rotation().Degrees())
}

func (w *Worker) replyAll(to net.Addr) {
	w.replyID(to)
	w.replySize(to)
	w.replyHost(to)
	w.replyPort(to)
	w.replyPrefix(to)
	w.replyRotation(to)
}

// setPort points key output at a new port on the same host and tells both
// the old and the new address.
func (w *Worker) setPort(msg *osc.Message, _ net.Addr) error {
	port, _ := msg.Int(0) //nolint:errcheck // Type tags already checked
	return w.retarget(w.settings.AppHost, port, w.replyPort)
}

// setHost points key output at a new host on the same port.
func (w *Worker) setHost(msg *osc.Message, _ net.Addr) error {
	host, _ := msg.String(0) //nolint:errcheck // Type tags already checked
	return w.retarget(host, w.settings.AppPort, w.replyHost)
}

func (w *Worker) retarget(host string, port int, reply infoReply) error {
	addr, err := osc.ResolveAddr(host, port)
	if err != nil {
		return err
	}

	old := w.app
	w.app = addr
	w.settings.AppHost = host
	w.settings.AppPort = port

	if old != nil {
		reply(old)
	}
	reply(addr)

	w.logger.Info("application address changed", "serial", w.serial, "to", addr.String())
	w.saveSettings()
	return nil
}

func (w *Worker) setPrefix(msg *osc.Message, _ net.Addr) error {
	prefix, _ := msg.String(0) //nolint:errcheck // Type tags already checked
	prefix = devicestate.NormalizePrefix(prefix)
	if prefix == "/" {
		return fmt.Errorf("empty prefix")
	}

	w.unregisterGridMethods(w.settings.Prefix)
	w.settings.Prefix = prefix
	w.registerGridMethods(prefix)

	if w.app != nil {
		w.replyPrefix(w.app)
	}
	w.saveSettings()
	return nil
}

func (w *Worker) setRotation(msg *osc.Message, _ net.Addr) error {
	deg, _ := msg.Int(0) //nolint:errcheck // Type tags already checked
	r, err := grid.RotationFromDegrees(deg)
	if err != nil {
		return err
	}
	return w.rotate(r)
}

// setCable accepts the pre-rotation "cable side" letters some older
// applications still send.
func (w *Worker) setCable(msg *osc.Message, _ net.Addr) error {
	side, _ := msg.String(0) //nolint:errcheck // Type tags already checked
	if side == "" {
		return fmt.Errorf("empty cable side")
	}

	var r grid.Rotation
	switch side[0] {
	case 'L', 'l', '0':
		r = grid.Rotate0
	case 'T', 't', '9':
		r = grid.Rotate90
	case 'R', 'r', '1':
		r = grid.Rotate180
	case 'B', 'b', '2':
		r = grid.Rotate270
	default:
		return fmt.Errorf("unknown cable side %q", side)
	}
	return w.rotate(r)
}

func (w *Worker) rotate(r grid.Rotation) error {
	if r == w.dev.Rotation() {
		return nil
	}
	w.dev.SetRotation(r)
	w.settings.Rotation = r.Degrees()

	if w.app != nil {
		w.replyRotation(w.app)
	}
	w.saveSettings()
	return nil
}
