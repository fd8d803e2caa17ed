// Command snekrpc-cli is a metadata-driven caller: it dials a server,
// fetches _meta.services(), and can list or invoke any registered
// command without being compiled against its Go types, matching the
// dynamic reconstruction spec §4.6 describes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snekrpc/snekrpc/internal/cliui"
	"github.com/snekrpc/snekrpc/internal/logging"
	"github.com/snekrpc/snekrpc/pkg/client"
	"github.com/snekrpc/snekrpc/pkg/registry"
	"github.com/snekrpc/snekrpc/pkg/stream"
	"github.com/snekrpc/snekrpc/pkg/transport"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

func main() {
	logging.Setup()

	var url string

	root := &cobra.Command{
		Use:     "snekrpc-cli",
		Short:   "Call commands on a snekrpc server",
		Version: Version,
	}
	root.PersistentFlags().StringVarP(&url, "url", "u", transport.DefaultURL, "server URL")

	root.AddCommand(newServicesCmd(&url), newCallCmd(&url))

	if err := root.Execute(); err != nil {
		cliui.Error(err.Error())
		os.Exit(1)
	}
}

func newServicesCmd(url *string) *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List services and commands exposed by the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			c, err := client.Dial(ctx, *url)
			if err != nil {
				return err
			}
			defer c.Close()

			proxy := c.Proxy()
			for _, name := range proxy.ServiceNames() {
				svc, _ := proxy.Service(name)
				cliui.Header(svc.Name())
				for _, cname := range svc.CommandNames() {
					cp, _ := svc.Command(cname)
					info := cp.Info()
					kind := "unary"
					if info.OutputStreaming {
						kind = "stream"
					}
					cliui.KV(info.Name, fmt.Sprintf("(%s) -> %s [%s]", paramsOf(info.Params), info.Returns, kind))
				}
			}
			return nil
		},
	}
}

func paramsOf(params []registry.ParamInfo) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		b.WriteString(" ")
		b.WriteString(p.Type)
	}
	return b.String()
}

func newCallCmd(url *string) *cobra.Command {
	var inputStreamValues []string

	cmd := &cobra.Command{
		Use:   "call <service> <command> [json-args...]",
		Short: "Invoke one command, printing its result as JSON",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			c, err := client.Dial(ctx, *url)
			if err != nil {
				return err
			}
			defer c.Close()

			service, command := args[0], args[1]
			proxy := c.Proxy()
			svc, ok := proxy.Service(service)
			if !ok {
				return fmt.Errorf("unknown service %q", service)
			}
			cp, ok := svc.Command(command)
			if !ok {
				return fmt.Errorf("unknown command %q.%q", service, command)
			}

			callArgs, err := parseJSONArgs(args[2:])
			if err != nil {
				return err
			}

			info := cp.Info()
			switch {
			case info.OutputStreaming:
				return printStream(ctx, c, service, command, callArgs)
			case len(inputStreamValues) > 0:
				in := stream.FromSlice(jsonLinesToAny(inputStreamValues))
				v, err := c.CallWithInputStream(ctx, service, command, in, callArgs...)
				if err != nil {
					return err
				}
				return printJSON(v)
			default:
				v, err := c.Call(ctx, service, command, callArgs...)
				if err != nil {
					return err
				}
				return printJSON(v)
			}
		},
	}
	cmd.Flags().StringArrayVar(&inputStreamValues, "input-chunk", nil, "JSON value to feed as one input-stream chunk (repeatable)")
	return cmd
}

func printStream(ctx context.Context, c *client.Client, service, command string, args []any) error {
	seq, err := c.CallStream(ctx, service, command, args...)
	if err != nil {
		return err
	}
	for {
		v, err := seq.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := printJSON(v); err != nil {
			return err
		}
	}
}

func parseJSONArgs(raw []string) ([]any, error) {
	out := make([]any, len(raw))
	for i, r := range raw {
		var v any
		if err := json.Unmarshal([]byte(r), &v); err != nil {
			return nil, fmt.Errorf("arg %d %q: %w", i, r, err)
		}
		out[i] = v
	}
	return out, nil
}

func jsonLinesToAny(raw []string) []any {
	out := make([]any, 0, len(raw))
	for _, r := range raw {
		var v any
		if err := json.Unmarshal([]byte(r), &v); err == nil {
			out = append(out, v)
		} else {
			out = append(out, r)
		}
	}
	return out
}

func printJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
