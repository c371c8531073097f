package ioport

// Access is one register access seen by a Recorder.
type Access struct {
	Write bool
	Port  uint16
	Width int
	Value uint32
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		Registers: make(map[uint16]uint32),
	}
}

// Recorder is an in-memory Port. Writes are stored in Registers and
// reads return the stored value. Every access is appended to Accesses.
// OnWrite, when set, is called after each write and may modify
// Registers to emulate device side effects.
type Recorder struct {
	Registers map[uint16]uint32
	Accesses  []Access
	OnWrite   func(Access)
}

// Writes returns the recorded writes to port.
func (o *Recorder) Writes(port uint16) []uint32 {
	var values []uint32
	for _, a := range o.Accesses {
		if a.Write && a.Port == port {
			values = append(values, a.Value)
		}
	}
	return values
}

func (o *Recorder) read(port uint16, width int) uint32 {
	value := o.Registers[port]
	switch width {
	case 8:
		value &= 0xff
	case 16:
		value &= 0xffff
	}

	o.Accesses = append(o.Accesses, Access{Port: port, Width: width, Value: value})

	return value
}

func (o *Recorder) write(port uint16, width int, value uint32) {
	access := Access{Write: true, Port: port, Width: width, Value: value}

	o.Registers[port] = value
	o.Accesses = append(o.Accesses, access)

	if o.OnWrite != nil {
		o.OnWrite(access)
	}
}

func (o *Recorder) In8(port uint16) uint8 { return uint8(o.read(port, 8)) }
func (o *Recorder) In16(port uint16) uint16 { return uint16(o.read(port, 16)) }
func (o *Recorder) In32(port uint16) uint32 { return o.read(port, 32) }
func (o *Recorder) Out8(port uint16, value uint8) { o.write(port, 8, uint32(value)) }
func (o *Recorder) Out16(port uint16, value uint16) { o.write(port, 16, uint32(value)) }
func (o *Recorder) Out32(port uint16, value uint32) { o.write(port, 32, value) }
