package lsp

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/fhs/lspc/internal/lsp/protocol"
)

// ProgressPart relays one work done progress stream to the host's
// progress sink until the stream ends or the part is finished locally.
type ProgressPart struct {
	token  protocol.ProgressToken
	sink   ProgressSink
	logger *log.Logger

	mu       sync.Mutex
	release  func()
	finished bool
}

func newProgressPart(token protocol.ProgressToken, sink ProgressSink, logger *log.Logger) *ProgressPart {
	return &ProgressPart{
		token:  token,
		sink:   sink,
		logger: logger,
	}
}

// TrackProgress relays the work done progress reported with token.
func (c *Client) TrackProgress(token protocol.ProgressToken) *ProgressPart {
	p := newProgressPart(token, c.opts.Host.Progress, c.logger)
	d := c.OnProgress(WorkDoneProgress, token, p.handle)
	p.mu.Lock()
	p.release = d.Dispose
	p.mu.Unlock()
	return p
}

func (p *ProgressPart) Token() protocol.ProgressToken { return p.token }

func (p *ProgressPart) handle(value json.RawMessage) {
	var v protocol.WorkDoneProgress
	if err := json.Unmarshal(value, &v); err != nil {
		p.logger.Printf("progress %v: invalid value: %v", p.token, err)
		return
	}
	p.report(&v)
	if v.Kind == protocol.ProgressEnd {
		p.finish()
	}
}

func (p *ProgressPart) report(v *protocol.WorkDoneProgress) {
	p.mu.Lock()
	finished := p.finished
	p.mu.Unlock()
	if finished {
		return
	}
	if p.sink != nil {
		p.sink.Progress(p.token, v)
	}
}

// Done ends the stream.
func (p *ProgressPart) Done() {
	p.report(&protocol.WorkDoneProgress{Kind: protocol.ProgressEnd})
	p.finish()
}

// Cancel ends the stream, marking it cancelled.
func (p *ProgressPart) Cancel() {
	p.report(&protocol.WorkDoneProgress{Kind: protocol.ProgressEnd, Message: "cancelled"})
	p.finish()
}

// Finished reports whether the stream has ended.
func (p *ProgressPart) Finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

func (p *ProgressPart) finish() {
	p.mu.Lock()
	release := p.release
	p.release = nil
	p.finished = true
	p.mu.Unlock()
	if release != nil {
		release()
	}
}
