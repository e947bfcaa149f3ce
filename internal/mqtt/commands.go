package mqtt

import (
	"go.uber.org/zap"
)

// Stats receives counters for rejected commands. status.Tracker implements it.
type Stats interface {
	IncMalformed()
	IncDropped()
}

// commandHandler forwards broker commands into the inbox.
type commandHandler struct {
	base  string
	sink  Sink
	stats Stats
	log   *zap.SugaredLogger
}

func (h *commandHandler) handle(topic string, payload []byte) {
	msg, err := ParseCommand(h.base, topic, payload)
	if err != nil {
		if h.stats != nil {
			h.stats.IncMalformed()
		}
		h.log.Warnw("recv error", "topic", topic, "error", err)
		return
	}

	h.log.Debugw("recv", "address", msg.Address, "args", msg.Args, "topic", topic)
	if !h.sink.Post(msg) {
		if h.stats != nil {
			h.stats.IncDropped()
		}
		h.log.Warnw("inbox full, dropping message", "address", msg.Address, "topic", topic)
	}
}
