package frame

import (
	"fmt"
	"math"

	"github.com/visiona/framecore/internal/membuf"
	"github.com/visiona/framecore/internal/propval"
)

// Kind discriminates a Frame's content.
type Kind int

const (
	KindVideo Kind = iota
	KindAudio
)

// AudioFrameSamples is the fixed sample-count granularity of every
// audio frame except the last one in a clip, matching the reference
// runtime's VS_AUDIO_FRAME_SAMPLES.
const AudioFrameSamples = 3072

// MaxAudioSamples is the largest total sample count an audio clip may
// declare, matching the original's INT_MAX * VS_AUDIO_FRAME_SAMPLES
// bound (framed here as the product of the largest possible 32-bit
// frame count and the per-frame sample granularity).
const MaxAudioSamples = int64(math.MaxInt32) * AudioFrameSamples

// VideoFormat describes a video clip's pixel layout.
type VideoFormat struct {
	ColorFamily   int
	SampleType    int
	BitsPerSample int
	SubSamplingW  int
	SubSamplingH  int
	NumPlanes     int
}

// ID packs the format into the bit layout used by the reference
// runtime for stable format identifiers: colorFamily:4, sampleType:4,
// bitsPerSample:8, subSamplingW:8, subSamplingH:8.
func (f VideoFormat) ID() uint32 {
	return uint32(f.ColorFamily&0xF)<<28 |
		uint32(f.SampleType&0xF)<<24 |
		uint32(f.BitsPerSample&0xFF)<<16 |
		uint32(f.SubSamplingW&0xFF)<<8 |
		uint32(f.SubSamplingH&0xFF)
}

// AudioFormat describes an audio clip's sample layout.
type AudioFormat struct {
	SampleType    int
	BitsPerSample int
	ChannelLayout uint64
	NumPlanes     int
}

// Frame is a reference-counted, copy-on-write video or audio frame.
type Frame struct {
	kind   Kind
	pool   *membuf.Pool
	planes []*PlaneData
	stride []int

	videoFormat VideoFormat
	width       int
	height      int

	audioFormat AudioFormat
	numSamples  int

	props *propval.Map
}

// NewVideoFrame allocates a video frame with the given format and
// dimensions. Stride is computed per-plane from width, subsampling and
// the pool's alignment, rounded up to a multiple of that alignment.
func NewVideoFrame(pool *membuf.Pool, vf VideoFormat, width, height int, guarded bool) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("frame: invalid video dimensions %dx%d", width, height)
	}
	if vf.NumPlanes <= 0 {
		return nil, fmt.Errorf("frame: video format must declare at least one plane")
	}

	f := &Frame{kind: KindVideo, pool: pool, videoFormat: vf, width: width, height: height, props: propval.New()}
	f.planes = make([]*PlaneData, vf.NumPlanes)
	f.stride = make([]int, vf.NumPlanes)

	align := pool.Alignment()
	bytesPerSample := (vf.BitsPerSample + 7) / 8

	for p := 0; p < vf.NumPlanes; p++ {
		pw, ph := width, height
		if p > 0 {
			if vf.SubSamplingW > 0 {
				pw = (pw + (1 << vf.SubSamplingW) - 1) >> vf.SubSamplingW
			}
			if vf.SubSamplingH > 0 {
				ph = (ph + (1 << vf.SubSamplingH) - 1) >> vf.SubSamplingH
			}
		}
		rowBytes := pw * bytesPerSample
		stride := ((rowBytes + align - 1) / align) * align
		f.stride[p] = stride
		f.planes[p] = newPlaneData(pool, stride*ph, guarded)
	}
	return f, nil
}

// NewAudioFrame allocates an audio frame of numSamples samples. Only
// numSamples > 0 is checked; neither this function nor the scheduler
// checks numSamples against AudioFrameSamples.
func NewAudioFrame(pool *membuf.Pool, af AudioFormat, numSamples int, guarded bool) (*Frame, error) {
	if numSamples <= 0 {
		return nil, fmt.Errorf("frame: invalid audio sample count %d", numSamples)
	}
	if af.NumPlanes <= 0 {
		return nil, fmt.Errorf("frame: audio format must declare at least one plane")
	}

	f := &Frame{kind: KindAudio, pool: pool, audioFormat: af, numSamples: numSamples, props: propval.New()}
	f.planes = make([]*PlaneData, af.NumPlanes)
	f.stride = make([]int, af.NumPlanes)

	bytesPerSample := (af.BitsPerSample + 7) / 8
	stride := bytesPerSample * AudioFrameSamples
	for p := 0; p < af.NumPlanes; p++ {
		f.stride[p] = stride
		f.planes[p] = newPlaneData(pool, bytesPerSample*numSamples, guarded)
	}
	return f, nil
}

// Kind reports whether this is a video or audio frame.
func (f *Frame) Kind() Kind { return f.kind }

// VideoFormat returns the frame's video format. Only meaningful when
// Kind() == KindVideo.
func (f *Frame) VideoFormat() VideoFormat { return f.videoFormat }

// AudioFormat returns the frame's audio format. Only meaningful when
// Kind() == KindAudio.
func (f *Frame) AudioFormat() AudioFormat { return f.audioFormat }

// Width returns the video frame's width in luma samples.
func (f *Frame) Width() int { return f.width }

// Height returns the video frame's height in luma samples.
func (f *Frame) Height() int { return f.height }

// NumSamples returns the audio frame's sample count.
func (f *Frame) NumSamples() int { return f.numSamples }

// NumPlanes returns the number of planes backing this frame.
func (f *Frame) NumPlanes() int { return len(f.planes) }

// Stride returns the row stride, in bytes, of the given plane.
func (f *Frame) Stride(plane int) int { return f.stride[plane] }

// Properties returns the frame's property map.
func (f *Frame) Properties() *propval.Map { return f.props }

// ReadPtr returns a read-only view of a plane's usable bytes. The
// returned slice must not be retained past the next WritePtr call on
// the same plane from any owner of this frame's data.
func (f *Frame) ReadPtr(plane int) []byte {
	return f.planes[plane].usable()
}

// WritePtr returns a writable view of a plane's usable bytes,
// performing copy-on-write if the plane is shared with another Frame
// (e.g. one produced by Clone).
func (f *Frame) WritePtr(plane int) []byte {
	p := f.planes[plane]
	if !p.unique() {
		clone := p.clone()
		p.release()
		f.planes[plane] = clone
		p = clone
	}
	return p.usable()
}

// VerifyGuardPattern checks every plane's guard bands, returning false
// at the first corrupted plane found. Always true for frames allocated
// without guard bands.
func (f *Frame) VerifyGuardPattern() bool {
	for _, p := range f.planes {
		if !p.verifyGuardPattern() {
			return false
		}
	}
	return true
}

// DebugSmashGuard corrupts plane's trailing guard band, for tests
// that exercise VerifyGuardPattern's failure path without reaching
// past the package boundary. A no-op on frames allocated without
// guard bands.
func (f *Frame) DebugSmashGuard(plane int) {
	f.planes[plane].smashGuard()
}

// Clone returns a new Frame sharing this frame's planes (refcount
// bumped) and a copy-on-write clone of its property map. Mutating a
// plane via WritePtr on either frame triggers that plane's private
// copy without affecting the other frame.
func (f *Frame) Clone() *Frame {
	c := &Frame{
		kind:        f.kind,
		pool:        f.pool,
		stride:      append([]int(nil), f.stride...),
		videoFormat: f.videoFormat,
		width:       f.width,
		height:      f.height,
		audioFormat: f.audioFormat,
		numSamples:  f.numSamples,
		props:       f.props.Clone(),
	}
	c.planes = make([]*PlaneData, len(f.planes))
	for i, p := range f.planes {
		c.planes[i] = p.addRef()
	}
	return c
}

// Release decrements every plane's refcount, freeing any plane whose
// count reaches zero back to its pool.
func (f *Frame) Release() {
	for _, p := range f.planes {
		p.release()
	}
}

func (f *Frame) IsVideoFrame() {}
func (f *Frame) IsAudioFrame() {}
