package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/kajovic/liora-core/core/audio"
	"github.com/kajovic/liora-core/core/texttospeech"
)

// segment is a run of text closed off by a mark. Deepgram sometimes
// drops text sent right after a flush, so segments past the first are
// held back until the previous flush is confirmed.
type segment struct {
	text  string
	label string
	open  bool
}

type streamingRequest struct {
	ws *websocket.Conn
	mu sync.Mutex

	segments   []segment
	segmentsMu sync.Mutex

	options texttospeech.TextToSpeechOptions

	// Flipped from the caller's goroutine and read by the websocket
	// reader, so they cannot sit behind either mutex.
	textComplete atomic.Bool
	cancelled    atomic.Bool
	closed       atomic.Bool

	report texttospeech.SpeechEndedReport // guarded by segmentsMu
}

// NewSpeechGenerator opens one synthesis session. The session lives
// until EndOfText drains, or Cancel/Close.
func (c *TextToSpeechClient) NewSpeechGenerator(ctx context.Context, opts ...texttospeech.TextToSpeechOption) (texttospeech.SpeechGenerator, error) {
	req := &streamingRequest{
		options: texttospeech.TextToSpeechOptions{
			SpeechAudioCallback: func([]byte) {},
			SpeechMarkCallback:  func(string) {},
			SpeechEndedCallback: func(texttospeech.SpeechEndedReport) {},
			ErrorCallback:       func(error) {},
			EncodingInfo:        c.encoding,
		},
	}

	for _, opt := range opts {
		opt(&req.options)
	}

	var err error
	if req.ws, err = connectWebsocket(ctx, c.apiKey, c.voice, req.options.EncodingInfo); err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	go req.processIncomingMessages(ctx)

	return req, nil
}

func connectWebsocket(ctx context.Context, apiKey string, voice deepgramVoice, encodingInfo audio.EncodingInfo) (*websocket.Conn, error) {
	urlValues := url.Values{}
	urlValues.Set("encoding", encodingInfo.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(encodingInfo.SampleRate))
	urlValues.Set("model", string(voice))
	urlValues.Set("container", "none")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx,
		(&url.URL{
			Scheme: "wss",
			Host:   "api.deepgram.com", Path: "/v1/speak",
			RawQuery: urlValues.Encode(),
		}).String(),
		http.Header{"Authorization": {"token " + apiKey}})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", texttospeech.ErrServiceUnreachable, err)
	}

	return conn, nil
}

func (r *streamingRequest) processIncomingMessages(ctx context.Context) {
	for {
		msgType, msg, err := r.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !r.closed.Load() && !r.cancelled.Load() {
				logger.ErrorContext(ctx, "websocket read error", "error", err)
				r.options.ErrorCallback(fmt.Errorf("%w: %w", texttospeech.ErrServiceUnreachable, err))
			}
			if err := r.Cancel(); err != nil {
				_ = r.Close() // Ignored on purpose
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			r.options.SpeechAudioCallback(msg)
		case websocket.TextMessage:
			var parsedMsg struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				logger.WarnContext(ctx, "failed to unmarshal message", "error", err)
				continue
			}

			switch parsedMsg.Type {
			case "Flushed":
				r.onFlushed(ctx)
			case "Warning":
				logger.WarnContext(ctx, "warning from synthesis service", "message", string(msg))
			}
		}
	}
}

// onFlushed confirms the oldest segment was fully generated: fire its
// mark, then push the next held-back segment onto the wire.
func (r *streamingRequest) onFlushed(ctx context.Context) {
	r.segmentsMu.Lock()
	defer r.segmentsMu.Unlock()

	if len(r.segments) > 0 {
		r.options.SpeechMarkCallback(r.segments[0].label)
		r.segments = r.segments[1:]
	}

	if len(r.segments) == 0 && r.textComplete.Load() {
		r.options.SpeechEndedCallback(r.report)
		_ = r.Close()
		return
	}

	if len(r.segments) > 0 {
		if err := r.sendWebsocketMessage(speakMsg(r.segments[0].text)); err != nil {
			logger.ErrorContext(ctx, "failed to send held-back text", "error", err)
		}
		if !r.segments[0].open {
			if err := r.sendWebsocketMessage(flushMsg); err != nil {
				logger.ErrorContext(ctx, "failed to flush", "error", err)
			}
		}
	}
}

func (r *streamingRequest) SendText(text string) error {
	if r.closed.Load() {
		return fmt.Errorf("streaming request closed")
	} else if r.cancelled.Load() {
		return fmt.Errorf("streaming request cancelled")
	} else if r.textComplete.Load() {
		return fmt.Errorf("streaming request text already completed")
	}

	r.segmentsMu.Lock()
	defer r.segmentsMu.Unlock()

	if len(r.segments) == 0 || !r.segments[len(r.segments)-1].open {
		r.segments = append(r.segments, segment{open: true})
	}

	// Only the head segment goes straight to the wire; held-back
	// segments are sent as flushes confirm.
	if len(r.segments) == 1 {
		if err := r.sendWebsocketMessage(speakMsg(text)); err != nil {
			return fmt.Errorf("failed to send websocket speak message: %w", err)
		}
	}
	r.segments[len(r.segments)-1].text += text
	return nil
}

func (r *streamingRequest) Mark(label string) error {
	if r.closed.Load() {
		return fmt.Errorf("streaming request closed")
	} else if r.cancelled.Load() {
		return fmt.Errorf("streaming request cancelled")
	} else if r.textComplete.Load() {
		return fmt.Errorf("streaming request text already completed")
	}

	r.segmentsMu.Lock()
	defer r.segmentsMu.Unlock()

	if len(r.segments) == 0 {
		r.segments = append(r.segments, segment{open: true})
	}

	r.segments[len(r.segments)-1].label = label
	r.segments[len(r.segments)-1].open = false

	if len(r.segments) == 1 {
		if err := r.sendWebsocketMessage(flushMsg); err != nil {
			return fmt.Errorf("failed to send websocket flush message: %w", err)
		}
	}

	return nil
}

func (r *streamingRequest) EndOfText() error {
	if r.closed.Load() {
		return fmt.Errorf("streaming request closed")
	} else if r.cancelled.Load() {
		return fmt.Errorf("streaming request cancelled")
	}

	r.segmentsMu.Lock()
	defer r.segmentsMu.Unlock()

	if !r.textComplete.CompareAndSwap(false, true) {
		return nil
	}

	if len(r.segments) == 0 {
		r.options.SpeechEndedCallback(r.report)
		return r.Close()
	}

	// An open trailing segment still needs its closing flush.
	if r.segments[len(r.segments)-1].open {
		r.segments[len(r.segments)-1].open = false
		if len(r.segments) == 1 {
			if err := r.sendWebsocketMessage(flushMsg); err != nil {
				return fmt.Errorf("failed to send websocket flush message: %w", err)
			}
		}
	}

	return nil
}

func (r *streamingRequest) Cancel() error {
	if r.closed.Load() {
		return fmt.Errorf("streaming request closed")
	}
	if !r.cancelled.CompareAndSwap(false, true) {
		return nil
	}

	r.segmentsMu.Lock()
	r.report.Cancelled = true
	r.segmentsMu.Unlock()
	if err := r.sendWebsocketMessage(clearMsg); err != nil {
		_ = r.Close()
		return fmt.Errorf("failed to send websocket clear message: %w", err)
	}

	return r.Close()
}

func (r *streamingRequest) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := r.sendCloseMessage(); err != nil {
		if r.ws == nil {
			return nil
		}
		if aggressiveCloseErr := r.ws.Close(); aggressiveCloseErr != nil {
			return fmt.Errorf("failed to close websocket: %w", errors.Join(err, aggressiveCloseErr))
		}
	}
	return nil
}

type websocketMessage struct {
	Type string `json:"type"`
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func speakMsg(text string) speakMessage {
	return speakMessage{Type: "Speak", Text: text}
}

var (
	flushMsg = websocketMessage{Type: "Flush"}
	clearMsg = websocketMessage{Type: "Clear"}
	closeMsg = websocketMessage{Type: "Close"}
)

func (r *streamingRequest) sendWebsocketMessage(msg any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() || r.ws == nil {
		return fmt.Errorf("websocket connection closed")
	}

	if err := r.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to websocket: %w", err)
	}
	return nil
}

func (r *streamingRequest) sendCloseMessage() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ws == nil {
		return fmt.Errorf("websocket connection closed")
	}
	if err := r.ws.WriteJSON(closeMsg); err != nil {
		return fmt.Errorf("failed to write to websocket: %w", err)
	}
	return nil
}
