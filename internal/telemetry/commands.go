package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gridd/internal/infrastructure/mqtt"
	"github.com/nerrad567/gridd/internal/supervisor"
)

// commandTimeout bounds one enable or disable request.
const commandTimeout = 5 * time.Second

// Subscriber registers MQTT handlers. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Controller changes the supervisor's run state. *supervisor.Supervisor
// satisfies it.
type Controller interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
}

// Commands turns messages on <prefix>/command/enable and
// <prefix>/command/disable into run-state changes. Payloads are ignored.
type Commands struct {
	ctrl   Controller
	topics mqtt.Topics
	logger Logger
}

// NewCommands returns a command handler for ctrl.
func NewCommands(ctrl Controller, topics mqtt.Topics, logger Logger) *Commands {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Commands{ctrl: ctrl, topics: topics, logger: logger}
}

// Subscribe installs the handler on every command topic.
func (c *Commands) Subscribe(sub Subscriber, qos byte) error {
	return sub.Subscribe(c.topics.AllCommands(), qos, c.Handle)
}

// Handle runs one command. A request that does not apply in the current
// state is logged and not treated as an error.
func (c *Commands) Handle(topic string, _ []byte) error {
	name := c.topics.CommandName(topic)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch name {
	case "enable":
		err = c.ctrl.Enable(ctx)
	case "disable":
		err = c.ctrl.Disable(ctx)
	default:
		return fmt.Errorf("unknown command %q", name)
	}

	if errors.Is(err, supervisor.ErrNotApplicable) {
		c.logger.Info("mqtt command not applied", "command", name, "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	c.logger.Info("mqtt command applied", "command", name)
	return nil
}
