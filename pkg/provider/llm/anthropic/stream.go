package anthropic

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// maxSSELine bounds a single server-sent event line.
const maxSSELine = 1 << 20

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, prompt, systemPrompt string, opts llm.GenerationOptions) (<-chan llm.Chunk, error) {
	req := p.buildRequest(systemPrompt, []message{textMessage("user", prompt)}, opts)
	req.Stream = true

	// The stream outlives this call, so it gets its own cancel func that the
	// reader goroutine owns.
	ctx, cancel := context.WithCancel(ctx)
	resp, err := p.do(ctx, req, opts)
	if err != nil {
		cancel()
		return nil, err
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer cancel()
		defer resp.Body.Close()
		readStream(ctx, resp.Body, ch)
	}()
	return ch, nil
}

// readStream parses SSE data lines from r and forwards text deltas to ch.
// It returns on message_stop, on an error event, at EOF or when ctx is done.
func readStream(ctx context.Context, r io.Reader, ch chan<- llm.Chunk) {
	emit := func(c llm.Chunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxSSELine)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			emit(llm.Chunk{Err: llm.DecodingError("decode stream event", data, err)})
			return
		}

		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type != "text_delta" || ev.Delta.Text == "" {
				continue
			}
			if !emit(llm.Chunk{Text: ev.Delta.Text}) {
				return
			}
		case "message_delta":
			if ev.Delta.StopReason == "" {
				continue
			}
			if !emit(llm.Chunk{FinishReason: ev.Delta.StopReason}) {
				return
			}
		case "message_stop":
			return
		case "error":
			msg := "stream error"
			code := ""
			if ev.Error != nil {
				msg = ev.Error.Message
				code = ev.Error.Type
			}
			emit(llm.Chunk{Err: llm.ProviderError(msg, code)})
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		emit(llm.Chunk{Err: llm.NetworkError(err)})
	}
}
