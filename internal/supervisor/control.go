package supervisor

import (
	"net"

	"github.com/nerrad567/gridd/internal/osc"
)

// registerControlMethods installs the /serialosc namespace. Requests that
// carry "si" reply to that host and port, not to the sender.
func (s *Supervisor) registerControlMethods() {
	s.control.Handle("/serialosc/list", "si", s.handleList)
	s.control.Handle("/serialosc/notify", "si", s.handleNotify)
	s.control.Handle("/serialosc/status", "si", s.handleStatus)
	s.control.Handle("/serialosc/version", "si", s.handleVersion)
	s.control.Handle("/serialosc/enable", "", s.handleEnable)
	s.control.Handle("/serialosc/disable", "", s.handleDisable)
}

func replyTo(msg *osc.Message) (Endpoint, error) {
	host, err := msg.String(0)
	if err != nil {
		return Endpoint{}, err
	}
	port, err := msg.Int(1)
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Host: host, Port: port}, nil
}

// handleList sends one /serialosc/device per ready device. Devices that
// have not reported Ready yet are never listed.
func (s *Supervisor) handleList(msg *osc.Message, _ net.Addr) error {
	ep, err := replyTo(msg)
	if err != nil {
		return err
	}
	to, err := osc.ResolveAddr(ep.Host, ep.Port)
	if err != nil {
		return err
	}
	for _, d := range s.registry.ready() {
		if err := s.out.Send(to, osc.NewMessage("/serialosc/device", d.Serial, d.FriendlyName, d.Port)); err != nil {
			s.logger.Warn("failed to send device to lister", "to", ep.String(), "serial", d.Serial, "error", err)
		}
	}
	return nil
}

// handleNotify queues a one-shot subscription for the next add or remove.
func (s *Supervisor) handleNotify(msg *osc.Message, _ net.Addr) error {
	ep, err := replyTo(msg)
	if err != nil {
		return err
	}
	if err := s.subs.subscribe(ep); err != nil {
		s.logger.Warn("dropping notify request", "from", ep.String(), "error", err)
		return err
	}
	return nil
}

func (s *Supervisor) handleStatus(msg *osc.Message, _ net.Addr) error {
	ep, err := replyTo(msg)
	if err != nil {
		return err
	}
	enabled := 0
	if s.state == Enabled {
		enabled = 1
	}
	return s.sendTo(ep, osc.NewMessage("/serialosc/status", enabled))
}

func (s *Supervisor) handleVersion(msg *osc.Message, _ net.Addr) error {
	ep, err := replyTo(msg)
	if err != nil {
		return err
	}
	return s.sendTo(ep, osc.NewMessage("/serialosc/version", s.opts.Version, s.opts.Commit))
}

func (s *Supervisor) handleEnable(_ *osc.Message, from net.Addr) error {
	if err := s.enable(); err != nil {
		s.logger.Info("enable request not applied", "from", from, "error", err)
		return err
	}
	return nil
}

func (s *Supervisor) handleDisable(_ *osc.Message, from net.Addr) error {
	if err := s.disable(); err != nil {
		s.logger.Info("disable request not applied", "from", from, "error", err)
		return err
	}
	return nil
}
