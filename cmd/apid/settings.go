package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/vango-dev/apid/pkg/client"
	"github.com/vango-dev/apid/pkg/protocol"
	"github.com/vango-dev/apid/pkg/services/settings"
)

// connFlags selects and authenticates the daemon a subcommand talks to.
type connFlags struct {
	url     string
	socket  string
	token   string
	timeout time.Duration
}

func (f *connFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.url, "url", "ws://localhost:7443/", "Daemon WebSocket URL")
	cmd.PersistentFlags().StringVar(&f.socket, "socket", "", "Connect through this unix socket instead of TCP")
	cmd.PersistentFlags().StringVar(&f.token, "token", os.Getenv("APID_TOKEN"), "Bearer token (default $APID_TOKEN)")
	cmd.PersistentFlags().DurationVar(&f.timeout, "timeout", 10*time.Second, "Request timeout")
}

func (f *connFlags) dial(ctx context.Context) (*client.Client, error) {
	opts := &client.Options{Token: f.token}
	if f.socket != "" {
		socket := f.socket
		opts.Dialer = &websocket.Dialer{
			HandshakeTimeout: f.timeout,
			NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		}
	}
	return client.Dial(ctx, f.url, opts)
}

// settingsSession is a connected client with the settings service looked up.
type settingsSession struct {
	c  *client.Client
	id uint32
}

func (f *connFlags) settings(ctx context.Context) (*settingsSession, error) {
	c, err := f.dial(ctx)
	if err != nil {
		return nil, err
	}
	id, err := c.GetService(ctx, settings.ServiceName, settings.Fingerprint)
	if err != nil {
		c.Close()
		return nil, err
	}
	return &settingsSession{c: c, id: id}, nil
}

func (s *settingsSession) call(ctx context.Context, req settings.Request) (uint32, *protocol.Decoder, error) {
	msg, err := s.c.Call(ctx, s.id, 0, req)
	if err != nil {
		return 0, nil, err
	}
	d := protocol.NewDecoder(msg.Content)
	tag, err := d.ReadTag()
	if err != nil {
		return 0, nil, err
	}
	if tag == protocol.TagPermissionDenied {
		var perr protocol.PermissionError
		if err := perr.DecodeFrom(d); err != nil {
			return 0, nil, err
		}
		return 0, nil, &perr
	}
	return tag, d, nil
}

func settingsCmd() *cobra.Command {
	var flags connFlags

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and write settings on a running daemon",
		Long: `Read and write settings on a running daemon.

Values are JSON documents.

Examples:
  apid settings get language
  apid settings set language '"en-US"'
  apid settings clear --socket /run/apid.sock`,
	}
	flags.register(cmd)

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <name>",
			Short: "Print a setting's value",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSettings(cmd.Context(), &flags, func(ctx context.Context, s *settingsSession) error {
					tag, d, err := s.call(ctx, &settings.GetRequest{Name: args[0]})
					if err != nil {
						return err
					}
					if tag == settings.TagGetError {
						var gerr settings.GetError
						if err := gerr.DecodeFrom(d); err != nil {
							return err
						}
						return fmt.Errorf("get %s: %s", gerr.Name, gerr.Reason)
					}
					var info settings.SettingInfo
					if err := info.DecodeFrom(d); err != nil {
						return err
					}
					fmt.Println(info.Value)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set <name> <json>",
			Short: "Write a setting",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				value := protocol.JSONValue(args[1])
				if !value.Valid() {
					return fmt.Errorf("value for %s is not valid JSON: %s", args[0], args[1])
				}
				return withSettings(cmd.Context(), &flags, func(ctx context.Context, s *settingsSession) error {
					req := &settings.SetRequest{Settings: settings.SettingList{{Name: args[0], Value: value}}}
					tag, _, err := s.call(ctx, req)
					if err != nil {
						return err
					}
					if tag != settings.TagSetSuccess {
						return fmt.Errorf("set %s failed", args[0])
					}
					success("%s = %s", args[0], value)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every setting",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSettings(cmd.Context(), &flags, func(ctx context.Context, s *settingsSession) error {
					tag, _, err := s.call(ctx, &settings.ClearRequest{})
					if err != nil {
						return err
					}
					if tag != settings.TagClearSuccess {
						return fmt.Errorf("clear failed")
					}
					success("settings cleared")
					return nil
				})
			},
		},
	)

	return cmd
}

func withSettings(ctx context.Context, flags *connFlags, fn func(ctx context.Context, s *settingsSession) error) error {
	ctx, cancel := context.WithTimeout(ctx, flags.timeout)
	defer cancel()

	s, err := flags.settings(ctx)
	if err != nil {
		errorMsg("cannot reach apid at %s", flags.url)
		return err
	}
	defer s.c.Close()
	return fn(ctx, s)
}
