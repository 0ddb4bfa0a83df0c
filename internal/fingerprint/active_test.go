package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyLoginError(t *testing.T) {
	cases := []struct {
		name string
		data string
		want Tag
	}{
		{
			"paper",
			`{"text":"java.io.IOException: Packet 0/0 (PacketLoginInStart) was larger than I expected"}`,
			TagPaper,
		},
		{
			"forge mappings",
			`java.io.IOException: Packet 0/0 (ServerboundHelloPacket) was larger than I expected`,
			TagForge,
		},
		{
			"fabric intermediary",
			`java.io.IOException: Packet 0/0 (class_2915) was larger than I expected`,
			TagFabric,
		},
		{
			"vanilla obfuscated",
			`java.io.IOException: Packet 0/0 (aem) was larger than I expected`,
			TagVanilla,
		},
		{
			"unrecognized mappings",
			`java.io.IOException: Packet 0/0 (SomethingElseEntirely) was larger than I expected`,
			TagUnknown,
		},
		{
			"forge mod list kick",
			`This server has mods that require Forge to be installed on the client. Contact your server admin for more details.`,
			TagForge,
		},
		{"empty", "", TagEmpty},
		{"garbage", "\x01\x02\x03", TagUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyLoginError([]byte(tc.data)))
		})
	}
}

func TestClassifyLoginErrorNodeProtocol(t *testing.T) {
	data := append([]byte{0x03, 0x03, 0x80, 0x02}, []byte("rest")...)
	assert.Equal(t, TagNodeMinecraftProtocol, ClassifyLoginError(data))
}
