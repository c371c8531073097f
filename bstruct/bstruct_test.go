package bstruct

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

type beWord uint32

func (o beWord) ToBytes(binary.ByteOrder) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(o))
}

func TestStructToBytes(t *testing.T) {
	type example struct {
		Counter uint16
		Flags   uint8
		MAC     [3]byte
		Addr    uint32
		Wide    uint64
		Custom  beWord
	}

	var names []string
	b, err := StructToBytes(&example{
		Counter: 666,
		Flags:   0x80,
		MAC:     [3]byte{0xaa, 0xbb, 0xcc},
		Addr:    0xc0ded00d,
		Wide:    1,
		Custom:  0x01020304,
	}, binary.LittleEndian, func(info FieldInfo) error {
		names = append(names, info.Name)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []byte{
		0x9a, 0x02,
		0x80,
		0xaa, 0xbb, 0xcc,
		0x0d, 0xd0, 0xde, 0xc0,
		1, 0, 0, 0, 0, 0, 0, 0,
		1, 2, 3, 4,
	}, b)
	require.Equal(t, []string{"Counter", "Flags", "MAC", "Addr", "Wide", "Custom"}, names)
}

func TestStructToBytes_Unsupported(t *testing.T) {
	_, err := StructToBytes(struct{ Name string }{"x"}, binary.LittleEndian, nil)
	require.Error(t, err)

	_, err = StructToBytes(struct{ hidden uint8 }{}, binary.LittleEndian, nil)
	require.Error(t, err)

	_, err = StructToBytes(7, binary.LittleEndian, nil)
	require.Error(t, err)

	_, err = StructToBytes(nil, binary.LittleEndian, nil)
	require.Error(t, err)
}

func TestPutStruct(t *testing.T) {
	type desc struct {
		A uint32
		B uint32
	}

	dst := make([]byte, 10)
	require.NoError(t, PutStruct(dst, desc{A: 1, B: 2}, binary.LittleEndian, LogFields("test")))
	require.Equal(t, []byte{1, 0, 0, 0, 2, 0, 0, 0, 0, 0}, dst)

	require.Error(t, PutStruct(make([]byte, 4), desc{}, binary.LittleEndian, nil))
}
