package session

import (
	"call-assistant/internal/voicecall/debounce"
	"fmt"
)

// QueuePolicy decides which queued utterances get a reply
type QueuePolicy string

const (
	// QueueLatest answers only the newest queued utterance
	QueueLatest QueuePolicy = "latest"
	// QueueAll answers every queued utterance in arrival order
	QueueAll QueuePolicy = "all"
)

func ParseQueuePolicy(s string) (QueuePolicy, error) {
	switch QueuePolicy(s) {
	case QueueLatest, "":
		return QueueLatest, nil
	case QueueAll:
		return QueueAll, nil
	default:
		return "", fmt.Errorf("unknown queue policy %q", s)
	}
}

// serializer keeps at most one reply in flight per call. It is owned by
// the session actor and has no locking of its own.
type serializer struct {
	policy   QueuePolicy
	queue    []debounce.Utterance
	inFlight bool
	paused   bool
}

func newSerializer(policy QueuePolicy) *serializer {
	if policy == "" {
		policy = QueueLatest
	}
	return &serializer{policy: policy, paused: true}
}

// submit queues u and returns the utterance to process now, if any
func (s *serializer) submit(u debounce.Utterance) *debounce.Utterance {
	s.queue = append(s.queue, u)
	return s.take()
}

// resume lets queued utterances through, used once the greeting is done
func (s *serializer) resume() *debounce.Utterance {
	s.paused = false
	return s.take()
}

// done ends the in-flight reply after its cool-down and returns the next utterance, if any
func (s *serializer) done() *debounce.Utterance {
	s.inFlight = false
	return s.take()
}

func (s *serializer) clear() {
	s.queue = nil
	s.inFlight = false
	s.paused = true
}

func (s *serializer) take() *debounce.Utterance {
	if s.inFlight || s.paused || len(s.queue) == 0 {
		return nil
	}

	var next debounce.Utterance
	switch s.policy {
	case QueueAll:
		next = s.queue[0]
		s.queue = s.queue[1:]
	default:
		next = s.queue[len(s.queue)-1]
		s.queue = nil
	}
	s.inFlight = true
	return &next
}
