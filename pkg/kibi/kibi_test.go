package kibi

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestFormat(t *testing.T) {
	require.Equal(t, "0 bytes", FormatBytes(0))
	require.Equal(t, "1023 bytes", FormatBytes(1023))
	require.Equal(t, "1 KB", FormatBytes(1536))
	require.Equal(t, "35 MB", FormatBytes(35*1024*1024))
	require.Equal(t, "1 PB", FormatBytes(1<<50))
	require.Equal(t, "2048 PB", FormatBytes(1<<61))
}

func TestParse(t *testing.T) {
	good := func(expected int64, s string) {
		val, err := Parse(s)
		require.NoError(t, err, s)
		require.Equal(t, expected, val, s)
	}
	good(0, "0")
	good(12345, "12345")
	good(50, "50 bytes")
	good(50*1024, "50 K")
	good(50*1024*1024, "50mb")
	good(3*1024*1024*1024/2, "1.5 GB")
	good(50<<40, "50 tb")

	for _, s := range []string{"", "mb", "50 pbz", "-5", "1.2.3 kb"} {
		_, err := Parse(s)
		require.ErrorIs(t, err, ErrInvalidByteSizeString, s)
	}
}

func TestYAML(t *testing.T) {
	var cfg struct {
		Cache ByteSize `yaml:"cache"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("cache: 256 MB\n"), &cfg))
	require.Equal(t, ByteSize(256<<20), cfg.Cache)

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	require.Equal(t, "cache: 256 MB\n", string(out))

	require.Error(t, yaml.Unmarshal([]byte("cache: lots\n"), &cfg))
}
