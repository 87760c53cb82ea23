/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ipop-project/tincan/std/utils/toolutils"
	"github.com/ipop-project/tincan/tincan/mgmt"
	"github.com/spf13/cobra"
)

// Ctl talks to a running daemon over its control channel.
type Ctl struct {
	Addr    string
	Timeout time.Duration
	Out     io.Writer

	client *mgmt.Client
}

func (t *Ctl) String() string {
	return "tincan-ctl"
}

// CmdCtl returns the control command tree.
func CmdCtl() *cobra.Command {
	t := &Ctl{Out: os.Stdout}

	cmd := &cobra.Command{
		Use:     "ctl",
		Short:   "Tincan control",
		GroupID: "ctl",
	}
	cmd.PersistentFlags().StringVar(&t.Addr, "addr", "127.0.0.1:5800", "Control channel address")
	cmd.PersistentFlags().DurationVar(&t.Timeout, "timeout", 5*time.Second, "Request timeout")

	exec := func(build func(args []string) (*mgmt.Request, error)) func(*cobra.Command, []string) {
		return func(_ *cobra.Command, args []string) {
			req, err := build(args)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Invalid arguments: %+v\n", err)
				os.Exit(9)
			}
			if !t.Exec(req) {
				os.Exit(1)
			}
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "echo MESSAGE",
		Short: "Check that the daemon answers",
		Args:  cobra.ExactArgs(1),
		Run: exec(func(args []string) (*mgmt.Request, error) {
			return &mgmt.Request{Command: mgmt.CmdEcho, Message: args[0]}, nil
		}),
	}, &cobra.Command{
		Use:   "log-level LEVEL",
		Short: "Change the daemon log level",
		Args:  cobra.ExactArgs(1),
		Run: exec(func(args []string) (*mgmt.Request, error) {
			return &mgmt.Request{Command: mgmt.CmdConfigureLogging, Level: args[0]}, nil
		}),
	}, &cobra.Command{
		Use:   "overlay-create OVERLAY-ID [key=value]...",
		Short: "Create an overlay",
		Long: `Create an overlay.

Arguments:
  type=VNET|TUNNEL tap=NAME ip4=ADDR prefix=LEN mtu=MTU node=UID`,
		Args: cobra.MinimumNArgs(1),
		Run:  exec(overlayRequest),
	}, &cobra.Command{
		Use:   "overlay-remove OVERLAY-ID",
		Short: "Remove an overlay",
		Args:  cobra.ExactArgs(1),
		Run: exec(func(args []string) (*mgmt.Request, error) {
			return &mgmt.Request{Command: mgmt.CmdRemoveOverlay, OverlayId: args[0]}, nil
		}),
	}, &cobra.Command{
		Use:   "overlay-info OVERLAY-ID",
		Short: "Print overlay info",
		Args:  cobra.ExactArgs(1),
		Run: exec(func(args []string) (*mgmt.Request, error) {
			return &mgmt.Request{Command: mgmt.CmdQueryOverlayInfo, OverlayId: args[0]}, nil
		}),
	}, &cobra.Command{
		Use:   "link-stats OVERLAY-ID LINK-ID",
		Short: "Print link status and connectivity statistics",
		Args:  cobra.ExactArgs(2),
		Run: exec(func(args []string) (*mgmt.Request, error) {
			return &mgmt.Request{Command: mgmt.CmdQueryLinkStats, OverlayId: args[0], LinkId: args[1]}, nil
		}),
	}, &cobra.Command{
		Use:   "link-remove OVERLAY-ID LINK-ID",
		Short: "Remove a link",
		Args:  cobra.ExactArgs(2),
		Run: exec(func(args []string) (*mgmt.Request, error) {
			return &mgmt.Request{Command: mgmt.CmdRemoveLink, OverlayId: args[0], LinkId: args[1]}, nil
		}),
	}, &cobra.Command{
		Use:   "route-add OVERLAY-ID DEST=NEXTHOP...",
		Short: "Add routes through adjacent peers",
		Args:  cobra.MinimumNArgs(2),
		Run:   exec(routeRequest),
	})

	return cmd
}

func overlayRequest(args []string) (*mgmt.Request, error) {
	req := &mgmt.Request{Command: mgmt.CmdCreateOverlay, OverlayId: args[0]}
	for _, arg := range args[1:] {
		key, val, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("%s (should be key=value)", arg)
		}
		var err error
		switch key {
		case "type":
			req.Type = strings.ToUpper(val)
		case "tap":
			req.TapName = val
		case "ip4":
			req.IP4 = val
		case "prefix":
			req.PrefixLen4, err = strconv.Atoi(val)
		case "mtu":
			req.MTU4, err = strconv.Atoi(val)
		case "node":
			req.NodeId = val
		default:
			return nil, fmt.Errorf("unknown key %s", key)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
	}
	return req, nil
}

func routeRequest(args []string) (*mgmt.Request, error) {
	req := &mgmt.Request{Command: mgmt.CmdUpdateRoute, OverlayId: args[0]}
	for _, arg := range args[1:] {
		dest, next, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("%s (should be DEST=NEXTHOP)", arg)
		}
		req.Routes = append(req.Routes, mgmt.Route{Dest: dest, NextHop: next})
	}
	return req, nil
}

// Exec sends req to the daemon and prints the response.
// It returns whether the request succeeded.
func (t *Ctl) Exec(req *mgmt.Request) bool {
	client, err := mgmt.Dial(t.Addr, t.Timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to tincan: %+v\n", err)
		return false
	}
	defer client.Close()

	resp, err := client.Call(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing %s: %+v\n", req.Command, err)
		return false
	}
	t.printResponse(resp)
	return resp.Success
}

func (t *Ctl) printResponse(resp *mgmt.Response) {
	p := toolutils.StatusPrinter{File: t.Out, Padding: 14}
	p.Print("success", resp.Success)

	obj, ok := resp.Message.(map[string]any)
	if !ok {
		p.Print("message", resp.Message)
		return
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := obj[k].(type) {
		case map[string]any, []any:
			b, _ := json.Marshal(v)
			p.Print(k, string(b))
		default:
			p.Print(k, v)
		}
	}
}
