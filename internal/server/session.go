// ABOUTME: Websocket session handling for the relay service
// ABOUTME: Decode sessions feed a background decoder, encode sessions a synchronous encoder
package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Resonate-Protocol/flacrelay/internal/protocol"
	"github.com/Resonate-Protocol/flacrelay/pkg/audio"
	"github.com/Resonate-Protocol/flacrelay/pkg/audio/decode"
	"github.com/Resonate-Protocol/flacrelay/pkg/audio/encode"
	"github.com/Resonate-Protocol/flacrelay/pkg/relay"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// errStreamEnd stops the read loop when the client ends the stream
var errStreamEnd = errors.New("stream end")

type session struct {
	id   string
	mode string
	conn *websocket.Conn
	log  zerolog.Logger
	send chan interface{}
}

// handleDecode runs a session turning FLAC bytes into PCM
func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, protocol.ModeDecode, nil, s.runDecode)
}

// handleEncode runs a session turning PCM into FLAC bytes
func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	format, err := parseFormat(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.serve(w, r, protocol.ModeEncode, &format, func(ctx context.Context, sess *session) (*protocol.StreamFinished, error) {
		return s.runEncode(ctx, sess, format)
	})
}

func parseFormat(r *http.Request) (audio.Format, error) {
	q := r.URL.Query()
	format := audio.Format{Codec: audio.CodecPCM, SampleRate: 44100, Channels: 2, BitDepth: 16}

	for _, p := range []struct {
		key string
		dst *int
	}{
		{"sample_rate", &format.SampleRate},
		{"channels", &format.Channels},
		{"bit_depth", &format.BitDepth},
	} {
		val := q.Get(p.key)
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return format, fmt.Errorf("invalid %s: %q", p.key, val)
		}
		*p.dst = n
	}
	return format, format.Validate()
}

type runFunc func(ctx context.Context, sess *session) (*protocol.StreamFinished, error)

func (s *Server) serve(w http.ResponseWriter, r *http.Request, mode string, format *audio.Format, run runFunc) {
	if !s.accepting() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade error")
		return
	}
	defer conn.Close()

	sess := &session{
		id:   uuid.New().String(),
		mode: mode,
		conn: conn,
		send: make(chan interface{}, sendBuffer),
	}
	sess.log = s.log.With().Str("session_id", sess.id).Str("mode", mode).Logger()

	s.register(&SessionInfo{ID: sess.id, Mode: mode, Remote: r.RemoteAddr, Started: time.Now()})
	defer s.unregister(sess.id)

	sess.log.Info().Str("remote", r.RemoteAddr).Msg("session started")

	g, ctx := errgroup.WithContext(r.Context())
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	g.Go(func() error {
		return sess.writer(ctx)
	})
	g.Go(func() error {
		defer close(sess.send)

		if err := sess.enqueue(ctx, protocol.TypeSessionStart, protocol.SessionStart{
			SessionID: sess.id,
			Mode:      mode,
			Server:    s.config.Name,
			Version:   protocol.Version,
		}); err != nil {
			return err
		}
		if format != nil {
			if err := sess.enqueue(ctx, protocol.TypeStreamFormat, wireFormat(*format)); err != nil {
				return err
			}
		}

		fin, err := run(ctx, sess)
		if fin == nil {
			return err
		}
		fin.SessionID = sess.id
		if err != nil {
			fin.Error = err.Error()
		}
		sess.log.Info().
			Int64("bytes_in", fin.BytesIn).
			Int64("bytes_out", fin.BytesOut).
			Int64("chunks", fin.Chunks).
			Str("error", fin.Error).
			Msg("session finished")
		return sess.enqueue(ctx, protocol.TypeStreamFinished, fin)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		sess.log.Warn().Err(err).Msg("session ended with error")
	}
}

func (s *Server) relayFinishTimeout() time.Duration {
	if s.config.FinishTimeout > 0 {
		return s.config.FinishTimeout
	}
	return relay.DefaultFinishTimeout
}

// runDecode feeds binary messages to a background decoder. Decoded PCM is
// pushed from the decoder worker.
func (s *Server) runDecode(ctx context.Context, sess *session) (*protocol.StreamFinished, error) {
	formatSent := false
	dec, err := decode.NewStream(decode.StreamConfig{
		Push: relay.PushFunc(func(buf []byte, info relay.ChunkInfo) error {
			if !formatSent {
				formatSent = true
				if err := sess.enqueue(ctx, protocol.TypeStreamFormat, protocol.AudioFormat{
					Codec:      audio.CodecPCM,
					SampleRate: info.SampleRate,
					Channels:   info.Channels,
					BitDepth:   info.BitDepth,
				}); err != nil {
					return err
				}
			}
			return sess.enqueueBinary(ctx, buf)
		}),
		FinishTimeout: s.relayFinishTimeout(),
		Logger:        &sess.log,
	})
	if err != nil {
		return nil, err
	}

	var bytesIn int64
	readErr := sess.readLoop(func(data []byte) error {
		bytesIn += int64(len(data))
		// Input is rejected once decoding failed; Finish reports the error
		_ = dec.Process(data)
		return nil
	})
	if readErr != nil {
		dec.Abort(readErr)
	}
	finishErr := dec.Finish()

	st := dec.Stats()
	fin := &protocol.StreamFinished{
		BytesIn:  bytesIn,
		BytesOut: st.BytesPushed,
		Chunks:   st.ChunksPushed,
		Samples:  st.SamplesPushed,
	}
	if readErr != nil {
		return nil, readErr
	}
	return fin, finishErr
}

// runEncode encodes binary PCM messages on the session goroutine
func (s *Server) runEncode(ctx context.Context, sess *session, format audio.Format) (*protocol.StreamFinished, error) {
	pcm, err := decode.NewPCM(format)
	if err != nil {
		return nil, err
	}

	enc, err := encode.NewStream(encode.Config{
		SampleRate:       format.SampleRate,
		Channels:         format.Channels,
		BitDepth:         format.BitDepth,
		BlockSize:        s.config.BlockSize,
		CompressionLevel: s.config.CompressionLevel,
		Verify:           s.config.Verify,
		Push: relay.PushFunc(func(buf []byte, info relay.ChunkInfo) error {
			return sess.enqueueBinary(ctx, buf)
		}),
		FinishTimeout: s.relayFinishTimeout(),
		Logger:        &sess.log,
	})
	if err != nil {
		var initErr *relay.InitError
		if errors.As(err, &initErr) {
			if err := sess.enqueue(ctx, protocol.TypeServerError, protocol.ServerError{Code: "invalid_format", Message: err.Error()}); err != nil {
				sess.log.Warn().Err(err).Msg("failed to report invalid format")
			}
			return nil, nil
		}
		return nil, err
	}

	var bytesIn int64
	var streamErr error
	readErr := sess.readLoop(func(data []byte) error {
		bytesIn += int64(len(data))
		if streamErr != nil {
			return nil
		}
		samples, err := pcm.Decode(data)
		if err == nil {
			err = enc.Process(samples)
		}
		streamErr = err
		return nil
	})
	if readErr != nil {
		if err := enc.Finish(); err != nil {
			sess.log.Warn().Err(err).Msg("encoder finish after read error")
		}
		return nil, readErr
	}

	err = errors.Join(streamErr, pcm.Close(), enc.Finish())
	st := enc.Stats()
	fin := &protocol.StreamFinished{
		BytesIn:  bytesIn,
		BytesOut: st.BytesPushed,
		Chunks:   st.ChunksPushed,
		Samples:  st.SamplesPushed,
		Header:   enc.Header(),
	}
	if info := enc.StreamInfo(); info != nil {
		fin.MD5 = hex.EncodeToString(info.MD5sum[:])
	}
	return fin, err
}

func wireFormat(f audio.Format) protocol.AudioFormat {
	return protocol.AudioFormat{
		Codec:      f.Codec,
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		BitDepth:   f.BitDepth,
	}
}

// readLoop passes binary messages to handle until the client sends
// stream/end or closes the connection
func (sess *session) readLoop(handle func([]byte) error) error {
	for {
		msgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := handle(data); err != nil {
				return err
			}
		case websocket.TextMessage:
			if err := sess.handleText(data); err != nil {
				if errors.Is(err, errStreamEnd) {
					return nil
				}
				sess.log.Warn().Err(err).Msg("ignoring message")
			}
		}
	}
}

func (sess *session) handleText(data []byte) error {
	env, err := protocol.Parse(data)
	if err != nil {
		return err
	}
	if env.Type == protocol.TypeStreamEnd {
		return errStreamEnd
	}
	return fmt.Errorf("unexpected message type %s", env.Type)
}

func (sess *session) enqueue(ctx context.Context, msgType string, payload interface{}) error {
	return sess.push(ctx, protocol.Message{Type: msgType, Payload: payload})
}

// enqueueBinary copies buf; relay chunks are only valid during the push
func (sess *session) enqueueBinary(ctx context.Context, buf []byte) error {
	return sess.push(ctx, append([]byte(nil), buf...))
}

func (sess *session) push(ctx context.Context, msg interface{}) error {
	select {
	case sess.send <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writer sends queued messages until the queue is closed
func (sess *session) writer(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sess.send:
			if !ok {
				sess.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				return sess.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}

			sess.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			switch v := msg.(type) {
			case []byte:
				if err := sess.conn.WriteMessage(websocket.BinaryMessage, v); err != nil {
					return fmt.Errorf("error writing binary message: %w", err)
				}
			default:
				data, err := json.Marshal(v)
				if err != nil {
					sess.log.Error().Err(err).Msg("error marshaling message")
					continue
				}
				if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return fmt.Errorf("error writing text message: %w", err)
				}
			}

		case <-ticker.C:
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return err
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
