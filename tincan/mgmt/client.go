/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package mgmt

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client issues requests on the control channel of a running daemon.
// Notifications received while waiting for a response are discarded.
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration
}

// Dial connects to the control channel at addr (host:port).
func Dial(addr string, timeout time.Duration) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: ControlPath}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

func (c *Client) String() string {
	return fmt.Sprintf("mgmt-client (remote=%s)", c.conn.RemoteAddr())
}

// Call sends a request and waits for its response.
func (c *Client) Call(req *Request) (*Response, error) {
	msg := newRequest(uuid.NewString(), req)
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.timeout)
	for {
		c.conn.SetReadDeadline(deadline)
		in := &Control{}
		if err := c.conn.ReadJSON(in); err != nil {
			return nil, err
		}
		if in.ControlType != TypeResponse || in.TransactionId != msg.TransactionId {
			continue
		}
		if in.Response == nil {
			return nil, fmt.Errorf("response to %s has no body", req.Command)
		}
		return in.Response, nil
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
