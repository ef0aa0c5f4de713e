package propval

// array holds the homogeneous values bound to one key. Exactly one of
// the typed slices is non-nil, selected by kind.
type array struct {
	kind        ValueKind
	ints        []int64
	floats      []float64
	data        [][]byte
	videoFrames []VideoFrame
	audioFrames []AudioFrame
	videoNodes  []VideoNode
	audioNodes  []AudioNode
	functions   []Function
}

func (a *array) len() int {
	switch a.kind {
	case KindInt:
		return len(a.ints)
	case KindFloat:
		return len(a.floats)
	case KindData:
		return len(a.data)
	case KindVideoFrame:
		return len(a.videoFrames)
	case KindAudioFrame:
		return len(a.audioFrames)
	case KindVideoNode:
		return len(a.videoNodes)
	case KindAudioNode:
		return len(a.audioNodes)
	case KindFunction:
		return len(a.functions)
	default:
		return 0
	}
}

func (a *array) clone() *array {
	c := &array{kind: a.kind}
	c.ints = append([]int64(nil), a.ints...)
	c.floats = append([]float64(nil), a.floats...)
	c.data = append([][]byte(nil), a.data...)
	c.videoFrames = append([]VideoFrame(nil), a.videoFrames...)
	c.audioFrames = append([]AudioFrame(nil), a.audioFrames...)
	c.videoNodes = append([]VideoNode(nil), a.videoNodes...)
	c.audioNodes = append([]AudioNode(nil), a.audioNodes...)
	c.functions = append([]Function(nil), a.functions...)
	return c
}

type mapData struct {
	keys     []string
	values   map[string]*array
	hasError bool
	errMsg   string
}

// Map is an ordered, typed, copy-on-write property map.
//
// Thread-safety: a Map is not safe for concurrent mutation from more
// than one goroutine. It is safe to Clone a Map in one goroutine and
// hand the clone to another — the two copies share no mutable state
// once either is written to.
type Map struct {
	data   *mapData
	shared bool
}

// New returns an empty map.
func New() *Map {
	return &Map{data: &mapData{values: make(map[string]*array)}}
}

// Clone returns a copy-on-write copy of m. The returned Map shares
// storage with m until either is mutated.
func (m *Map) Clone() *Map {
	m.shared = true
	return &Map{data: m.data, shared: true}
}

func (m *Map) ensureOwned() {
	if !m.shared {
		return
	}
	nd := &mapData{
		keys:     append([]string(nil), m.data.keys...),
		values:   make(map[string]*array, len(m.data.values)),
		hasError: m.data.hasError,
		errMsg:   m.data.errMsg,
	}
	for k, v := range m.data.values {
		nd.values[k] = v.clone()
	}
	m.data = nd
	m.shared = false
}

// Keys returns the map's keys in insertion order.
func (m *Map) Keys() []string {
	out := make([]string, len(m.data.keys))
	copy(out, m.data.keys)
	return out
}

// HasKey reports whether key is present.
func (m *Map) HasKey(key string) bool {
	_, ok := m.data.values[key]
	return ok
}

// KindOf returns the stored kind for key, or KindUnset if absent.
func (m *Map) KindOf(key string) ValueKind {
	if a, ok := m.data.values[key]; ok {
		return a.kind
	}
	return KindUnset
}

// NumElements returns the number of elements stored under key, or -1
// if the key is absent.
func (m *Map) NumElements(key string) int {
	a, ok := m.data.values[key]
	if !ok {
		return -1
	}
	return a.len()
}

// DeleteKey removes key, reporting whether it was present.
func (m *Map) DeleteKey(key string) bool {
	if _, ok := m.data.values[key]; !ok {
		return false
	}
	m.ensureOwned()
	delete(m.data.values, key)
	for i, k := range m.data.keys {
		if k == key {
			m.data.keys = append(m.data.keys[:i], m.data.keys[i+1:]...)
			break
		}
	}
	return true
}

// SetError discards every key and sets a sticky error. All getters
// return ErrMapHasError until Clear is called.
func (m *Map) SetError(msg string) {
	m.ensureOwned()
	m.data.keys = nil
	m.data.values = make(map[string]*array)
	m.data.hasError = true
	m.data.errMsg = msg
}

// Error returns the sticky error message and whether one is set.
func (m *Map) Error() (string, bool) {
	return m.data.errMsg, m.data.hasError
}

// Clear removes every key and the sticky error flag, resetting m to
// the state New() would produce.
func (m *Map) Clear() {
	m.ensureOwned()
	m.data.keys = nil
	m.data.values = make(map[string]*array)
	m.data.hasError = false
	m.data.errMsg = ""
}

func (m *Map) setArray(key string, a *array) {
	m.ensureOwned()
	if _, exists := m.data.values[key]; !exists {
		m.data.keys = append(m.data.keys, key)
	}
	m.data.values[key] = a
}

// touch replaces key's entire value with an empty array of the given
// kind, matching the reference maTouch/replace semantics; callers
// append the new value(s) to the returned array.
func (m *Map) touch(key string, kind ValueKind) *array {
	a := &array{kind: kind}
	m.setArray(key, a)
	return a
}

// TouchEmpty replaces key with a zero-length array of kind. Every
// SetX/AppendX method leaves at least one element behind, so this is
// the only way to construct the empty array a "allow-empty-array"
// declared argument is permitted to carry.
func (m *Map) TouchEmpty(key string, kind ValueKind) {
	m.touch(key, kind)
}

func (m *Map) appendTarget(key string, kind ValueKind) (*array, error) {
	if existing, ok := m.data.values[key]; ok {
		if existing.kind != kind {
			return nil, ErrAppendTypeMismatch
		}
		m.ensureOwned()
		return m.data.values[key], nil
	}
	return m.touch(key, kind), nil
}

// --- Int ---

// SetInt replaces key with a single int64 value.
func (m *Map) SetInt(key string, v int64) {
	a := m.touch(key, KindInt)
	a.ints = []int64{v}
}

// AppendInt appends v to key's int array, creating it if absent.
func (m *Map) AppendInt(key string, v int64) error {
	a, err := m.appendTarget(key, KindInt)
	if err != nil {
		return err
	}
	a.ints = append(a.ints, v)
	return nil
}

// GetInt returns the int64 at index within key's array.
func (m *Map) GetInt(key string, index int) (int64, error) {
	if m.data.hasError {
		return 0, ErrMapHasError
	}
	a, ok := m.data.values[key]
	if !ok {
		return 0, ErrKeyNotFound
	}
	if a.kind != KindInt {
		return 0, ErrWrongType
	}
	if index < 0 || index >= len(a.ints) {
		return 0, ErrIndexOutOfRange
	}
	return a.ints[index], nil
}

// --- Float ---

// SetFloat replaces key with a single float64 value.
func (m *Map) SetFloat(key string, v float64) {
	a := m.touch(key, KindFloat)
	a.floats = []float64{v}
}

// AppendFloat appends v to key's float array, creating it if absent.
func (m *Map) AppendFloat(key string, v float64) error {
	a, err := m.appendTarget(key, KindFloat)
	if err != nil {
		return err
	}
	a.floats = append(a.floats, v)
	return nil
}

// GetFloat returns the float64 at index within key's array.
func (m *Map) GetFloat(key string, index int) (float64, error) {
	if m.data.hasError {
		return 0, ErrMapHasError
	}
	a, ok := m.data.values[key]
	if !ok {
		return 0, ErrKeyNotFound
	}
	if a.kind != KindFloat {
		return 0, ErrWrongType
	}
	if index < 0 || index >= len(a.floats) {
		return 0, ErrIndexOutOfRange
	}
	return a.floats[index], nil
}

// --- Data ---

// SetData replaces key with a single opaque byte-string value.
func (m *Map) SetData(key string, v []byte) {
	a := m.touch(key, KindData)
	a.data = [][]byte{append([]byte(nil), v...)}
}

// GetData returns the byte string at index within key's array.
func (m *Map) GetData(key string, index int) ([]byte, error) {
	if m.data.hasError {
		return nil, ErrMapHasError
	}
	a, ok := m.data.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if a.kind != KindData {
		return nil, ErrWrongType
	}
	if index < 0 || index >= len(a.data) {
		return nil, ErrIndexOutOfRange
	}
	return a.data[index], nil
}

// --- VideoFrame ---

// SetVideoFrame replaces key with a single video frame handle.
func (m *Map) SetVideoFrame(key string, v VideoFrame) {
	a := m.touch(key, KindVideoFrame)
	a.videoFrames = []VideoFrame{v}
}

// GetVideoFrame returns the video frame handle at index within key's array.
func (m *Map) GetVideoFrame(key string, index int) (VideoFrame, error) {
	if m.data.hasError {
		return nil, ErrMapHasError
	}
	a, ok := m.data.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if a.kind != KindVideoFrame {
		return nil, ErrWrongType
	}
	if index < 0 || index >= len(a.videoFrames) {
		return nil, ErrIndexOutOfRange
	}
	return a.videoFrames[index], nil
}

// --- AudioFrame ---

// SetAudioFrame replaces key with a single audio frame handle.
func (m *Map) SetAudioFrame(key string, v AudioFrame) {
	a := m.touch(key, KindAudioFrame)
	a.audioFrames = []AudioFrame{v}
}

// GetAudioFrame returns the audio frame handle at index within key's array.
func (m *Map) GetAudioFrame(key string, index int) (AudioFrame, error) {
	if m.data.hasError {
		return nil, ErrMapHasError
	}
	a, ok := m.data.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if a.kind != KindAudioFrame {
		return nil, ErrWrongType
	}
	if index < 0 || index >= len(a.audioFrames) {
		return nil, ErrIndexOutOfRange
	}
	return a.audioFrames[index], nil
}

// --- VideoNode ---

// SetVideoNode replaces key with a single video node handle.
func (m *Map) SetVideoNode(key string, v VideoNode) {
	a := m.touch(key, KindVideoNode)
	a.videoNodes = []VideoNode{v}
}

// GetVideoNode returns the video node handle at index within key's array.
func (m *Map) GetVideoNode(key string, index int) (VideoNode, error) {
	if m.data.hasError {
		return nil, ErrMapHasError
	}
	a, ok := m.data.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if a.kind != KindVideoNode {
		return nil, ErrWrongType
	}
	if index < 0 || index >= len(a.videoNodes) {
		return nil, ErrIndexOutOfRange
	}
	return a.videoNodes[index], nil
}

// --- AudioNode ---

// SetAudioNode replaces key with a single audio node handle.
func (m *Map) SetAudioNode(key string, v AudioNode) {
	a := m.touch(key, KindAudioNode)
	a.audioNodes = []AudioNode{v}
}

// GetAudioNode returns the audio node handle at index within key's array.
func (m *Map) GetAudioNode(key string, index int) (AudioNode, error) {
	if m.data.hasError {
		return nil, ErrMapHasError
	}
	a, ok := m.data.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if a.kind != KindAudioNode {
		return nil, ErrWrongType
	}
	if index < 0 || index >= len(a.audioNodes) {
		return nil, ErrIndexOutOfRange
	}
	return a.audioNodes[index], nil
}

// --- Function ---

// SetFunction replaces key with a single bound-function handle.
func (m *Map) SetFunction(key string, v Function) {
	a := m.touch(key, KindFunction)
	a.functions = []Function{v}
}

// GetFunction returns the function handle at index within key's array.
func (m *Map) GetFunction(key string, index int) (Function, error) {
	if m.data.hasError {
		return nil, ErrMapHasError
	}
	a, ok := m.data.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if a.kind != KindFunction {
		return nil, ErrWrongType
	}
	if index < 0 || index >= len(a.functions) {
		return nil, ErrIndexOutOfRange
	}
	return a.functions[index], nil
}
