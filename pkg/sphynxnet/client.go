package sphynxnet

import (
	"context"
	"fmt"
	"net"
	"time"

	"sphynx/internal/handshake"
	"sphynx/internal/logging"
	"sphynx/internal/transport"
	"sphynx/internal/wire"
)

// Client is an established connection to a Sphynx server.
type Client struct {
	conn *net.UDPConn
	tc   *transport.Connexion
	recv chan Message
	done chan struct{}
}

// Message is one delivered application payload.
type Message struct {
	Stream wire.StreamMode
	Data   []byte
}

// Dial performs the five-message handshake against addr, authenticating
// the server's identity against serverPublicKey, then returns a connected
// Client. It retries the Hello/Challenge steps on wire.HandshakeTickRate
// until ctx is done.
func Dial(ctx context.Context, addr string, serverPublicKey [wire.PublicKeyBytes]byte, sessionKeyLabel string) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("sphynxnet: resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("sphynxnet: dial %s: %w", addr, err)
	}

	hc := handshake.NewClient(serverPublicKey)
	buf := make([]byte, wire.MaximumMTU)

	cookieMsg, err := roundTrip(ctx, conn, buf, hc.BuildHello())
	if err != nil {
		conn.Close()
		return nil, err
	}
	challenge, err := hc.OnCookie(cookieMsg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sphynxnet: cookie: %w", err)
	}

	reply, err := roundTrip(ctx, conn, buf, challenge)
	if err != nil {
		conn.Close()
		return nil, err
	}
	keyHash, err := hc.OnReply(reply)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sphynxnet: handshake rejected: %w", err)
	}

	enc, err := hc.KeyEncryption(keyHash, []byte(sessionKeyLabel))
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &Client{
		conn: conn,
		tc:   transport.NewConnexion(enc),
		recv: make(chan Message, 256),
		done: make(chan struct{}),
	}
	c.tc.OnDeliver = func(stream wire.StreamMode, data []byte) {
		select {
		case c.recv <- Message{Stream: stream, Data: append([]byte(nil), data...)}:
		default:
			logging.Warn("sphynxnet: client receive queue full, dropping message")
		}
	}
	go c.readLoop()
	go c.tickLoop()
	return c, nil
}

// roundTrip sends msg and waits for exactly one reply, retrying on
// wire.HandshakeTickRate until ctx is done or ConnectTimeout elapses.
func roundTrip(ctx context.Context, conn *net.UDPConn, buf, msg []byte) ([]byte, error) {
	deadline := time.Now().Add(time.Duration(wire.ConnectTimeout) * time.Millisecond)
	tick := time.NewTicker(time.Duration(wire.HandshakeTickRate) * time.Millisecond)
	defer tick.Stop()

	if _, err := conn.Write(msg); err != nil {
		return nil, fmt.Errorf("sphynxnet: send: %w", err)
	}
	for {
		conn.SetReadDeadline(time.Now().Add(time.Duration(wire.HandshakeTickRate) * time.Millisecond))
		n, err := conn.Read(buf)
		if err == nil {
			out := make([]byte, n)
			copy(out, buf[:n])
			return out, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("sphynxnet: handshake timed out")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tick.C:
			conn.Write(msg)
		}
	}
}

func (c *Client) readLoop() {
	buf := make([]byte, wire.MaximumMTU)
	for {
		select {
		case <-c.done:
			return
		default:
		}
		c.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, err := c.conn.Read(buf)
		if err != nil {
			continue
		}
		plain, err := c.tc.Decrypt(buf[:n])
		if err != nil {
			logging.Warn("sphynxnet: client decrypt failed: %v", err)
			continue
		}
		for _, reply := range c.tc.HandleDatagram(plain) {
			sealed, err := c.tc.Encrypt(reply)
			if err != nil {
				continue
			}
			c.conn.Write(sealed)
		}
	}
}

func (c *Client) tickLoop() {
	ticker := time.NewTicker(time.Duration(wire.TickInterval) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			for _, dgram := range c.tc.Tick(now) {
				sealed, err := c.tc.Encrypt(dgram)
				if err != nil {
					continue
				}
				c.conn.Write(sealed)
			}
			if ack := c.tc.BuildAckDatagram(); ack != nil {
				if sealed, err := c.tc.Encrypt(ack); err == nil {
					c.conn.Write(sealed)
				}
			}
			if ping := c.tc.MaybeBuildPing(now); ping != nil {
				if sealed, err := c.tc.Encrypt(ping); err == nil {
					c.conn.Write(sealed)
				}
			}
		}
	}
}

// Send transmits data on stream, fragmenting a reliable message that does
// not fit wire.MediumMTU; unreliable data always goes in one datagram.
func (c *Client) Send(stream wire.StreamMode, data []byte, reliable bool) error {
	for _, dgram := range c.tc.Send(stream, data, reliable, wire.MediumMTU) {
		sealed, err := c.tc.Encrypt(dgram)
		if err != nil {
			return err
		}
		if _, err := c.conn.Write(sealed); err != nil {
			return err
		}
	}
	return nil
}

// Receive returns the channel of delivered application messages.
func (c *Client) Receive() <-chan Message {
	return c.recv
}

// Close ends the connection.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}
