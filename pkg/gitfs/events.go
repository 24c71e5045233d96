package gitfs

import (
	"log/slog"

	"github.com/tidwall/sjson"
)

// eventTag is the fixed event name fired on every update cycle that has
// the fire-events option enabled, regardless of whether anything changed.
const eventTag = "fileserver/gitfs/update"

// Emitter publishes the fileserver/gitfs/update event to whatever event
// bus the host process is wired to. The wire format beyond the payload
// bytes is an external contract; gitfs only owns building the payload.
type Emitter interface {
	Emit(tag string, payload []byte) error
}

// logEmitter is the default Emitter: it logs the event instead of
// publishing it anywhere, so the module is runnable standalone without a
// real event bus wired in.
type logEmitter struct {
	log *slog.Logger
}

// NewLogEmitter returns an Emitter that logs events at info level.
func NewLogEmitter(log *slog.Logger) Emitter {
	return &logEmitter{log: log}
}

func (e *logEmitter) Emit(tag string, payload []byte) error {
	e.log.Info("event", "tag", tag, "payload", string(payload))
	return nil
}

// buildUpdatePayload constructs the {changed, backend} JSON payload
// without committing to a rigid wire-format struct, since the event bus
// format itself is an external contract this package doesn't design.
func buildUpdatePayload(changed bool) ([]byte, error) {
	payload, err := sjson.Set("{}", "changed", changed)
	if err != nil {
		return nil, err
	}
	payload, err = sjson.Set(payload, "backend", "gitfs")
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

func (rp *RepoPool) fireUpdateEvent(changed bool) {
	if !rp.cfg.FileserverEvents {
		return
	}
	payload, err := buildUpdatePayload(changed)
	if err != nil {
		rp.log.Error("unable to build update event payload", "err", err)
		return
	}
	if err := rp.emitter.Emit(eventTag, payload); err != nil {
		rp.log.Error("unable to emit update event", "err", err)
	}
}
