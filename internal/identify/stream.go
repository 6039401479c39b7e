package identify

import (
	"context"
	"time"

	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/routing"
	"github.com/sells-group/wine-identify/internal/stream"
)

// emitterObserver relays pipeline progress as stream events.
type emitterObserver struct {
	em *stream.Emitter
}

func (o emitterObserver) OnResult(r model.IdentificationResult) { o.em.Fields(r) }

func (o emitterObserver) OnEscalate(from, to routing.TierName, confidence float64) {
	o.em.Escalating(string(from), string(to), confidence)
}

// Stream runs Identify and writes its progress to sink. The stream ends with
// the response as its result event, or with an error event; done always
// follows.
func (s *Service) Stream(ctx context.Context, sink stream.Sink, req model.IdentificationRequest, opts Options, timeout time.Duration) error {
	return stream.Serve(ctx, sink, req.ID(), timeout, func(ctx context.Context, em *stream.Emitter) (*stream.Final, error) {
		opts.Observer = emitterObserver{em: em}
		resp, err := s.Identify(ctx, req, opts)
		if err != nil {
			return nil, err
		}
		return &stream.Final{Confidence: resp.Confidence, Payload: resp}, nil
	})
}
