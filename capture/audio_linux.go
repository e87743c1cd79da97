//go:build linux

package capture

import (
	"encoding/binary"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

// pulseContext talks to PulseAudio or the PipeWire pulse server.
type pulseContext struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("storybooth"))
	if err != nil {
		return nil, classify("pulse", err)
	}
	return &pulseContext{client: c}, nil
}

// Devices lists input sources. Monitors of output sinks are left out since
// they record what the speakers play, not the contributor.
func (p *pulseContext) Devices() ([]DeviceInfo, error) {
	sources, err := p.client.ListSources()
	if err != nil {
		return nil, classify("pulse list sources", err)
	}
	devices := make([]DeviceInfo, 0, len(sources))
	for _, s := range sources {
		if strings.HasSuffix(s.ID(), ".monitor") {
			continue
		}
		devices = append(devices, DeviceInfo{ID: s.ID(), Name: s.Name()})
	}
	return devices, nil
}

func (p *pulseContext) NewCapture(device *DeviceInfo, config Config) (Device, error) {
	pc := &pulseCapture{client: p.client, rate: int(config.SampleRate)}
	if device != nil {
		source, err := p.client.SourceByID(device.ID)
		if err != nil {
			return nil, classify("pulse source "+device.Name, err)
		}
		pc.source = source
	}
	return pc, nil
}

func (p *pulseContext) Close() {
	p.client.Close()
}

type pulseCapture struct {
	client   *pulse.Client
	source   *pulse.Source // nil records from the server default
	rate     int
	callback atomic.Pointer[DataCallback]

	mu     sync.Mutex
	stream *pulse.RecordStream
}

func (c *pulseCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return nil
	}

	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(c.rate),
		pulse.RecordLatency(0.05),
		pulse.RecordRawOption(func(r *proto.CreateRecordStream) {
			r.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm)}
		}),
	}
	if c.source != nil {
		opts = append(opts, pulse.RecordSource(c.source))
	}

	stream, err := c.client.NewRecord(pulse.Int16Writer(c.deliver), opts...)
	if err != nil {
		return classify("pulse record", err)
	}
	stream.Start()
	c.stream = stream
	return nil
}

// deliver hands samples to the callback as S16LE bytes.
func (c *pulseCapture) deliver(buf []int16) (int, error) {
	cb := c.callback.Load()
	if cb == nil || len(buf) == 0 {
		return len(buf), nil
	}
	(*cb)(s16le(buf), uint32(len(buf)))
	return len(buf), nil
}

func s16le(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func (c *pulseCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return
	}
	c.stream.Stop()
	c.stream.Close()
	c.stream = nil
}

func (c *pulseCapture) Close() { c.Stop() }

func (c *pulseCapture) SetCallback(cb DataCallback) { c.callback.Store(&cb) }

func (c *pulseCapture) ClearCallback() { c.callback.Store(nil) }
