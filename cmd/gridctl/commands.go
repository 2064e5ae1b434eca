package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gridd/internal/osc"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	host      string
	port      int
	replyHost string
	timeout   time.Duration
	json      bool
}

// device is one /serialosc/device, /serialosc/add or /serialosc/remove
// reply.
type device struct {
	Event        string `json:"event,omitempty"`
	Serial       string `json:"serial"`
	FriendlyName string `json:"friendly_name"`
	Port         int    `json:"port"`
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "gridctl",
		Short:         "Query and control a running gridd",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.host, "host", "127.0.0.1", "gridd control host")
	root.PersistentFlags().IntVarP(&flags.port, "port", "p", 12002, "gridd control port")
	root.PersistentFlags().StringVar(&flags.replyHost, "reply-host", "", "host gridd should reply to (default the local socket address)")
	root.PersistentFlags().DurationVarP(&flags.timeout, "timeout", "t", 500*time.Millisecond, "how long to wait for replies")
	root.PersistentFlags().BoolVar(&flags.json, "json", false, "print JSON instead of text")

	root.AddCommand(
		newListCmd(flags),
		newStatusCmd(flags),
		newVersionCmd(flags),
		newRunStateCmd(flags, "enable", "Start device detection"),
		newRunStateCmd(flags, "disable", "Stop device detection and every worker"),
		newWatchCmd(flags),
	)
	return root
}

// session is one control-port conversation.
type session struct {
	client    *osc.Client
	replyHost string
	replyPort int
	timeout   time.Duration
}

func (f *globalFlags) dial() (*session, error) {
	client, err := osc.Dial(f.host, f.port)
	if err != nil {
		return nil, err
	}
	local := client.LocalAddr()
	host := f.replyHost
	if host == "" {
		host = "127.0.0.1"
		if local.IP != nil && !local.IP.IsUnspecified() {
			host = local.IP.String()
		}
	}
	return &session{client: client, replyHost: host, replyPort: local.Port, timeout: f.timeout}, nil
}

func (s *session) Close() error {
	return s.client.Close()
}

// request sends address with our reply endpoint as its "si" arguments.
func (s *session) request(address string) error {
	return s.client.Send(osc.NewMessage(address, s.replyHost, s.replyPort))
}

// await returns the next reply sent to address, skipping anything else.
// It returns nil when the timeout passes first.
func (s *session) await(address string, timeout time.Duration) (*osc.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return nil, nil
		}
		msg, err := s.client.Receive(left)
		if err != nil || msg == nil {
			return nil, err
		}
		if msg.Address == address {
			return msg, nil
		}
	}
}

func parseDevice(event string, msg *osc.Message) (device, error) {
	serial, err := msg.String(0)
	if err != nil {
		return device{}, err
	}
	name, err := msg.String(1)
	if err != nil {
		return device{}, err
	}
	port, err := msg.Int(2)
	if err != nil {
		return device{}, err
	}
	return device{Event: event, Serial: serial, FriendlyName: name, Port: port}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List ready devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := flags.dial()
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck // Exiting

			if err := s.request("/serialosc/list"); err != nil {
				return err
			}

			// Replies stop arriving once every device is listed; there is
			// no terminator.
			devices := []device{}
			for {
				msg, err := s.await("/serialosc/device", s.timeout)
				if err != nil {
					return err
				}
				if msg == nil {
					break
				}
				d, err := parseDevice("", msg)
				if err != nil {
					return fmt.Errorf("malformed device reply: %w", err)
				}
				devices = append(devices, d)
			}

			out := cmd.OutOrStdout()
			if flags.json {
				return printJSON(out, devices)
			}
			if len(devices) == 0 {
				fmt.Fprintln(out, "no devices")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SERIAL\tNAME\tPORT")
			for _, d := range devices {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", d.Serial, d.FriendlyName, d.Port)
			}
			return tw.Flush()
		},
	}
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether device detection is enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := flags.dial()
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck // Exiting

			if err := s.request("/serialosc/status"); err != nil {
				return err
			}
			msg, err := s.await("/serialosc/status", s.timeout)
			if err != nil {
				return err
			}
			if msg == nil {
				return errNoReply(flags)
			}
			enabled, err := msg.Int(0)
			if err != nil {
				return fmt.Errorf("malformed status reply: %w", err)
			}

			state := "disabled"
			if enabled != 0 {
				state = "enabled"
			}
			if flags.json {
				return printJSON(cmd.OutOrStdout(), map[string]string{"state": state})
			}
			fmt.Fprintln(cmd.OutOrStdout(), state)
			return nil
		},
	}
}

func newVersionCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the gridd version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := flags.dial()
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck // Exiting

			if err := s.request("/serialosc/version"); err != nil {
				return err
			}
			msg, err := s.await("/serialosc/version", s.timeout)
			if err != nil {
				return err
			}
			if msg == nil {
				return errNoReply(flags)
			}
			ver, err := msg.String(0)
			if err != nil {
				return fmt.Errorf("malformed version reply: %w", err)
			}
			rev, _ := msg.String(1) //nolint:errcheck // Older daemons send only the version

			if flags.json {
				return printJSON(cmd.OutOrStdout(), map[string]string{"version": ver, "commit": rev})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "gridd %s %s\n", ver, rev)
			return nil
		},
	}
}

// newRunStateCmd builds enable and disable. Neither request has a reply.
func newRunStateCmd(flags *globalFlags, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := flags.dial()
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck // Exiting

			if err := s.client.Send(osc.NewMessage("/serialosc/" + name)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s requested\n", name)
			return nil
		},
	}
}

func newWatchCmd(flags *globalFlags) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print devices as they are added and removed",
		Long: `Watch registers for the next add or remove notification, prints it,
and registers again. Notifications are one-shot, so a change that happens
between two registrations is not reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := flags.dial()
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck // Exiting

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			seen := 0
			for count <= 0 || seen < count {
				if err := s.request("/serialosc/notify"); err != nil {
					return err
				}
				d, err := s.nextNotification(ctx.Done())
				if err != nil {
					return err
				}
				if d == nil {
					return nil
				}
				seen++
				if flags.json {
					if err := json.NewEncoder(out).Encode(d); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(out, "%s\t%s\t%s\t%d\n", d.Event, d.Serial, d.FriendlyName, d.Port)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many notifications (0 means never)")
	return cmd
}

// nextNotification waits for an add or remove until done is closed, in
// which case it returns nil.
func (s *session) nextNotification(done <-chan struct{}) (*device, error) {
	for {
		select {
		case <-done:
			return nil, nil
		default:
		}

		msg, err := s.client.Receive(s.timeout)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil, nil
			}
			return nil, err
		}
		if msg == nil {
			continue
		}

		var event string
		switch msg.Address {
		case "/serialosc/add":
			event = "add"
		case "/serialosc/remove":
			event = "remove"
		default:
			continue
		}
		d, err := parseDevice(event, msg)
		if err != nil {
			return nil, fmt.Errorf("malformed %s notification: %w", event, err)
		}
		return &d, nil
	}
}

func errNoReply(flags *globalFlags) error {
	return fmt.Errorf("no reply from %s within %s", net.JoinHostPort(flags.host, fmt.Sprint(flags.port)), flags.timeout)
}
