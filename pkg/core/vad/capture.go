package vad

// capture is the segmentation state machine shared by both detector
// strategies. It consumes one boolean speech decision per frame together with
// the frame's samples and reports utterance boundaries. Pure logic; no audio
// backend, no callbacks.
type capture struct {
	startFrames  int // consecutive speech frames required to confirm an utterance
	endFrames    int // consecutive non-speech frames required to finish one (redemption)
	minUtterance int // minimum speech frames for a finished utterance; fewer is a misfire
	preFrames    int // frames of lead-in audio kept before the trigger

	preBuffer [][]float32
	preIdx    int
	preCount  int

	active      bool
	speechRun   int
	silenceRun  int
	speechTotal int
	segment     []float32
}

type captureEvent struct {
	Started bool
	Ended   bool
	Misfire bool
	Samples []float32
}

func newCapture(startFrames, endFrames, minUtterance, preFrames int) *capture {
	if startFrames < 1 {
		startFrames = 1
	}
	if endFrames < 1 {
		endFrames = 1
	}
	if preFrames < 0 {
		preFrames = 0
	}
	c := &capture{
		startFrames:  startFrames,
		endFrames:    endFrames,
		minUtterance: minUtterance,
		preFrames:    preFrames,
	}
	if preFrames > 0 {
		c.preBuffer = make([][]float32, preFrames)
	}
	return c
}

// processFrame advances the state machine by one frame. Started is reported
// once per utterance, after startFrames consecutive speech frames. Ended
// carries the accumulated samples (lead-in included). Misfire replaces Ended
// when the candidate held fewer than minUtterance speech frames.
func (c *capture) processFrame(isSpeech bool, frame []float32) captureEvent {
	var ev captureEvent

	if !c.active {
		c.bufferPre(frame)
		if !isSpeech {
			c.speechRun = 0
			return ev
		}
		c.speechRun++
		if c.speechRun < c.startFrames {
			return ev
		}
		// Trigger confirmed: the candidate starts here and includes the
		// buffered lead-in (which also covers the debounce frames).
		c.active = true
		c.speechTotal = c.speechRun
		c.silenceRun = 0
		c.segment = c.drainPre()
		ev.Started = true
		return ev
	}

	c.segment = append(c.segment, frame...)
	if isSpeech {
		c.speechTotal++
		c.silenceRun = 0
		return ev
	}

	c.silenceRun++
	if c.silenceRun < c.endFrames {
		return ev
	}

	if c.speechTotal < c.minUtterance {
		ev.Misfire = true
	} else {
		ev.Ended = true
		ev.Samples = c.segment
	}
	c.reset()
	return ev
}

// isActive reports whether an utterance is currently being captured.
func (c *capture) isActive() bool { return c.active }

func (c *capture) bufferPre(frame []float32) {
	if c.preFrames == 0 {
		return
	}
	cp := make([]float32, len(frame))
	copy(cp, frame)
	c.preBuffer[c.preIdx] = cp
	c.preIdx = (c.preIdx + 1) % c.preFrames
	if c.preCount < c.preFrames {
		c.preCount++
	}
}

func (c *capture) drainPre() []float32 {
	seg := make([]float32, 0, (c.preCount+1)*FrameSize)
	start := (c.preIdx - c.preCount + c.preFrames) % max(c.preFrames, 1)
	for i := 0; i < c.preCount; i++ {
		idx := (start + i) % c.preFrames
		if c.preBuffer[idx] != nil {
			seg = append(seg, c.preBuffer[idx]...)
		}
	}
	return seg
}

func (c *capture) reset() {
	c.active = false
	c.speechRun = 0
	c.silenceRun = 0
	c.speechTotal = 0
	c.segment = nil
	c.preIdx = 0
	c.preCount = 0
	for i := range c.preBuffer {
		c.preBuffer[i] = nil
	}
}
