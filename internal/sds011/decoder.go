package sds011

import (
	"time"

	"github.com/VishwanathaRgitgit/DeepAir/internal/timeutil"
)

// DefaultMaxQuiet is how long a partially received frame is kept while no
// bytes arrive before the decoder gives up on it.
const DefaultMaxQuiet = 2 * time.Second

// State is the position of the decoder within a frame.
type State int

const (
	SeekingStart State = iota
	ConfirmingType
	CollectingBody
)

func (s State) String() string {
	switch s {
	case SeekingStart:
		return "seeking_start"
	case ConfirmingType:
		return "confirming_type"
	case CollectingBody:
		return "collecting_body"
	default:
		return "unknown"
	}
}

// Policy selects how frames with a bad tail marker or checksum are treated.
type Policy int

const (
	// Permissive emits every complete frame and flags a bad tail as suspect.
	Permissive Policy = iota
	// Strict discards frames with a bad tail marker or checksum.
	Strict
)

// EmissionKind classifies the result of feeding one byte.
type EmissionKind int

const (
	// Pending means the byte was consumed and a frame may still complete.
	Pending EmissionKind = iota
	// Emitted means the byte completed a frame; Emission.Measurement is set.
	Emitted
	// Discarded means one or more bytes were dropped as noise or a frame was
	// rejected by the Strict policy.
	Discarded
)

func (k EmissionKind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Emitted:
		return "measurement"
	case Discarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Emission is the outcome of Decoder.Feed.
type Emission struct {
	Kind        EmissionKind
	Measurement Measurement
	DeviceID    uint16
	// Suspect is set when the tail marker was not 0xAB.
	Suspect bool
	// ChecksumOK reports whether the checksum byte matched the data bytes.
	ChecksumOK bool
}

// Stats are cumulative decoder counters.
type Stats struct {
	Frames           uint64 `json:"frames"`
	SuspectFrames    uint64 `json:"suspect_frames"`
	ChecksumFailures uint64 `json:"checksum_failures"`
	RejectedFrames   uint64 `json:"rejected_frames"`
	DiscardedBytes   uint64 `json:"discarded_bytes"`
	Resyncs          uint64 `json:"resyncs"`
	QuietExpiries    uint64 `json:"quiet_expiries"`
}

// DecoderOptions configures a Decoder. Zero values select defaults.
type DecoderOptions struct {
	Policy   Policy
	MaxQuiet time.Duration
	Clock    timeutil.Clock
}

// Decoder is a byte-at-a-time SDS011 frame parser. It performs no I/O and
// never blocks; it is not safe for concurrent use.
type Decoder struct {
	policy   Policy
	maxQuiet time.Duration
	clock    timeutil.Clock

	state    State
	body     [BodyLen]byte
	n        int
	lastByte time.Time
	stats    Stats
}

// NewDecoder returns a decoder in the SeekingStart state.
func NewDecoder(opts DecoderOptions) *Decoder {
	if opts.MaxQuiet <= 0 {
		opts.MaxQuiet = DefaultMaxQuiet
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Decoder{
		policy:   opts.Policy,
		maxQuiet: opts.MaxQuiet,
		clock:    opts.Clock,
	}
}

// State returns the current parse state.
func (d *Decoder) State() State { return d.state }

// Stats returns a copy of the decoder counters.
func (d *Decoder) Stats() Stats { return d.stats }

// Feed consumes one byte.
func (d *Decoder) Feed(b byte) Emission {
	now := d.clock.Now()
	d.expireAt(now)
	d.lastByte = now

	switch d.state {
	case SeekingStart:
		if b == StartMarker {
			d.state = ConfirmingType
			return Emission{Kind: Pending}
		}
		d.stats.DiscardedBytes++
		return Emission{Kind: Discarded}

	case ConfirmingType:
		if b == DataType {
			d.state = CollectingBody
			d.n = 0
			return Emission{Kind: Pending}
		}
		// The start marker we held was noise. The current byte is examined
		// again as a start candidate rather than skipped.
		d.stats.Resyncs++
		d.stats.DiscardedBytes++
		if b == StartMarker {
			d.state = ConfirmingType
		} else {
			d.state = SeekingStart
			d.stats.DiscardedBytes++
		}
		return Emission{Kind: Discarded}

	default:
		d.body[d.n] = b
		d.n++
		if d.n < BodyLen {
			return Emission{Kind: Pending}
		}
		d.reset()
		return d.complete(now)
	}
}

// Expire drops a partial frame if no byte has arrived for longer than the
// configured quiet period. It reports whether partial state was discarded.
// The ingestion loop calls it on reads that return nothing.
func (d *Decoder) Expire() bool {
	return d.expireAt(d.clock.Now())
}

func (d *Decoder) expireAt(now time.Time) bool {
	if d.state == SeekingStart || now.Sub(d.lastByte) <= d.maxQuiet {
		return false
	}
	// start + type markers plus whatever body bytes we held
	dropped := 1 + d.n
	if d.state == CollectingBody {
		dropped++
	}
	d.stats.DiscardedBytes += uint64(dropped)
	d.stats.QuietExpiries++
	d.reset()
	return true
}

func (d *Decoder) reset() {
	d.state = SeekingStart
	d.n = 0
}

func (d *Decoder) complete(now time.Time) Emission {
	body := d.body
	e := Emission{
		Kind: Emitted,
		Measurement: Measurement{
			PM25:       float64(int(body[0])+int(body[1])*256) / 10.0,
			PM10:       float64(int(body[2])+int(body[3])*256) / 10.0,
			ObservedAt: now,
		},
		DeviceID:   uint16(body[4]) | uint16(body[5])<<8,
		Suspect:    body[7] != TailMarker,
		ChecksumOK: body[6] == Checksum(body[0:6]),
	}

	d.stats.Frames++
	if e.Suspect {
		d.stats.SuspectFrames++
	}
	if !e.ChecksumOK {
		d.stats.ChecksumFailures++
	}
	if d.policy == Strict && (e.Suspect || !e.ChecksumOK) {
		d.stats.RejectedFrames++
		e.Kind = Discarded
		e.Measurement = Measurement{}
	}
	return e
}

// FeedAll feeds every byte of p and returns the measurements that completed.
func (d *Decoder) FeedAll(p []byte) []Emission {
	var out []Emission
	for _, b := range p {
		if e := d.Feed(b); e.Kind == Emitted {
			out = append(out, e)
		}
	}
	return out
}
