package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meander-Cloud/go-netevent/neterror"
)

type codecSample struct {
	ID    uint64            `json:"id" msgpack:"id"`
	Name  string            `json:"name" msgpack:"name"`
	Tags  []string          `json:"tags" msgpack:"tags"`
	Attrs map[string]string `json:"attrs" msgpack:"attrs"`
}

func TestCodecs(t *testing.T) {
	sample := codecSample{
		ID:    11,
		Name:  "ping",
		Tags:  []string{"a", "b"},
		Attrs: map[string]string{"k": "v"},
	}

	for _, codec := range []Codec{MsgpackCodec{}, JSONCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			data, err := codec.Marshal(&sample)
			require.NoError(t, err)

			var decoded codecSample
			require.NoError(t, codec.Unmarshal(data, &decoded))
			assert.Equal(t, sample, decoded)
		})
	}
}

func TestCodecRejectsGarbage(t *testing.T) {
	var decoded codecSample
	assert.Error(t, JSONCodec{}.Unmarshal([]byte("{not json"), &decoded))
	assert.Error(t, MsgpackCodec{}.Unmarshal([]byte{0xC1}, &decoded))
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, CodecMsgpack, c.Name())

	c, err = CodecByName(CodecJSON)
	require.NoError(t, err)
	assert.Equal(t, CodecJSON, c.Name())

	_, err = CodecByName("xml")
	assert.ErrorIs(t, err, neterror.ErrInvalidConfig)
}
