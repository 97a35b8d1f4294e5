// ABOUTME: WebSocket client for the relay service
// ABOUTME: Opens decode or encode sessions, streams audio in and collects the results
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/Resonate-Protocol/flacrelay/internal/protocol"
	"github.com/Resonate-Protocol/flacrelay/pkg/audio"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const handshakeTimeout = 5 * time.Second

// Config holds client configuration
type Config struct {
	ServerAddr string
	Mode       string
	// Format of the PCM sent in encode sessions
	Format audio.Format
}

// Handler receives session output. Either callback may be nil.
type Handler struct {
	OnFormat func(protocol.AudioFormat) error
	OnChunk  func([]byte) error
}

// Client is a relay service session
type Client struct {
	config  Config
	conn    *websocket.Conn
	log     zerolog.Logger
	session protocol.SessionStart

	mu        sync.Mutex
	connected bool
}

// NewClient creates a new WebSocket client
func NewClient(config Config) *Client {
	return &Client{
		config: config,
		log:    log.With().Str("component", "client").Str("mode", config.Mode).Logger(),
	}
}

// URL returns the session endpoint
func (c *Client) URL() (*url.URL, error) {
	u := &url.URL{Scheme: "ws", Host: c.config.ServerAddr}
	switch c.config.Mode {
	case protocol.ModeDecode:
		u.Path = "/decode"
	case protocol.ModeEncode:
		u.Path = "/encode"
		q := url.Values{}
		q.Set("sample_rate", strconv.Itoa(c.config.Format.SampleRate))
		q.Set("channels", strconv.Itoa(c.config.Format.Channels))
		q.Set("bit_depth", strconv.Itoa(c.config.Format.BitDepth))
		u.RawQuery = q.Encode()
	default:
		return nil, fmt.Errorf("unknown session mode %q", c.config.Mode)
	}
	return u, nil
}

// Connect dials the server and waits for session/start
func (c *Client) Connect(ctx context.Context) error {
	u, err := c.URL()
	if err != nil {
		return err
	}
	c.log.Debug().Str("url", u.String()).Msg("connecting")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial failed: %s: %w", resp.Status, err)
		}
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}
	return nil
}

func (c *Client) handshake() error {
	c.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer c.conn.SetReadDeadline(time.Time{})

	env, err := c.readEnvelope()
	if err != nil {
		return err
	}
	if env.Type == protocol.TypeServerError {
		return decodeServerError(env)
	}
	if env.Type != protocol.TypeSessionStart {
		return fmt.Errorf("expected %s, got %s", protocol.TypeSessionStart, env.Type)
	}
	if err := env.Decode(&c.session); err != nil {
		return err
	}

	c.log = c.log.With().Str("session_id", c.session.SessionID).Logger()
	c.log.Debug().Str("server", c.session.Server).Msg("session started")
	return nil
}

func (c *Client) readEnvelope() (*protocol.Envelope, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage {
			return protocol.Parse(data)
		}
	}
}

// Session returns the session/start payload
func (c *Client) Session() protocol.SessionStart {
	return c.session
}

// Send sends one binary audio message
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// End tells the server no more audio follows
func (c *Client) End() error {
	data, err := json.Marshal(protocol.Message{Type: protocol.TypeStreamEnd})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// SendAll sends r in chunkSize messages and then ends the stream
func (c *Client) SendAll(ctx context.Context, r io.Reader, chunkSize int) error {
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			if serr := c.Send(buf[:n]); serr != nil {
				return serr
			}
		}
		if errors.Is(err, io.EOF) {
			return c.End()
		}
		if err != nil {
			return err
		}
	}
}

// Receive reads session output until stream/finished. A session that
// finished with an error returns the summary together with that error.
func (c *Client) Receive(h Handler) (*protocol.StreamFinished, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read failed: %w", err)
		}

		if msgType == websocket.BinaryMessage {
			if h.OnChunk != nil {
				if err := h.OnChunk(data); err != nil {
					return nil, err
				}
			}
			continue
		}

		env, err := protocol.Parse(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("failed to parse message")
			continue
		}

		switch env.Type {
		case protocol.TypeStreamFormat:
			var f protocol.AudioFormat
			if err := env.Decode(&f); err != nil {
				return nil, err
			}
			if h.OnFormat != nil {
				if err := h.OnFormat(f); err != nil {
					return nil, err
				}
			}

		case protocol.TypeStreamFinished:
			var fin protocol.StreamFinished
			if err := env.Decode(&fin); err != nil {
				return nil, err
			}
			if fin.Error != "" {
				return &fin, errors.New(fin.Error)
			}
			return &fin, nil

		case protocol.TypeServerError:
			return nil, decodeServerError(env)

		default:
			c.log.Debug().Str("type", env.Type).Msg("unknown message type")
		}
	}
}

func decodeServerError(env *protocol.Envelope) error {
	var serr protocol.ServerError
	if err := env.Decode(&serr); err != nil {
		return err
	}
	return &serr
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.conn.Close()
		c.log.Debug().Msg("connection closed")
	}
}
