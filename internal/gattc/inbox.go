package gattc

import (
	"fmt"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/navble/internal/radio"
)

// DefaultInboxSize is the number of radio events buffered between two poll points.
const DefaultInboxSize = 256

// inbox buffers radio events until the client's goroutine drains them.
// put is safe from any goroutine; drain must only be called by the owner.
// When full, the oldest events are overwritten.
type inbox struct {
	buffer mpmc.RichOverlappedRingBuffer[radio.Event]
	logger *logrus.Logger
}

func newInbox(size uint32, logger *logrus.Logger) *inbox {
	if size == 0 {
		size = DefaultInboxSize
	}
	return &inbox{
		buffer: mpmc.NewOverlappedRingBuffer[radio.Event](size),
		logger: logger,
	}
}

func (in *inbox) put(e radio.Event) {
	overwrites, err := in.buffer.EnqueueM(e)
	if err != nil {
		in.logger.WithFields(logrus.Fields{
			"event": radio.EventName(e),
			"error": err,
		}).Error("Failed to queue radio event")
		return
	}
	if overwrites > 0 {
		in.logger.WithFields(logrus.Fields{
			"event":      radio.EventName(e),
			"overwrites": overwrites,
		}).Warn("Inbox overflow, oldest radio events dropped")
	}
}

// drain hands queued events to fn in arrival order. It stops at the first
// error; events after the failing one stay queued.
func (in *inbox) drain(fn func(radio.Event) error) error {
	for !in.buffer.IsEmpty() {
		e, err := in.buffer.Dequeue()
		if err != nil {
			return fmt.Errorf("inbox dequeue error: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}
