package linkfix

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	n := NewNormalizer(DefaultTable())

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "instagram", in: "https://instagram.com/user", want: "https://ddinstagram.com/user"},
		{name: "twitter", in: "https://twitter.com/user", want: "https://fixupx.com/user"},
		{name: "x", in: "https://x.com/user", want: "https://fixupx.com/user"},
		{name: "tiktok", in: "https://tiktok.com/user", want: "https://vxtiktok.com/user"},
		{name: "subdomain kept", in: "https://vm.tiktok.com/x", want: "https://vm.vxtiktok.com/x"},
		{name: "www kept", in: "https://www.instagram.com/p/Cx1/", want: "https://www.ddinstagram.com/p/Cx1/"},
		{name: "no mapping", in: "https://google.com", want: "https://google.com"},
		{name: "not a url", in: "not a url", want: "not a url"},
		{name: "suffix without boundary", in: "https://dominiox.com/x", want: "https://dominiox.com/x"},
		{name: "mapped domain inside host", in: "https://x.com.example.org/a", want: "https://x.com.example.org/a"},
		{name: "already normalized", in: "https://ddinstagram.com/user", want: "https://ddinstagram.com/user"},
		{name: "already normalized subdomain", in: "https://vm.vxtiktok.com/x", want: "https://vm.vxtiktok.com/x"},
		{name: "credentials and port", in: "https://bob:pw@mobile.twitter.com:8443/a?b=C#Frag", want: "https://bob:pw@mobile.fixupx.com:8443/a?b=C#Frag"},
		{name: "host case folded path case kept", in: "HTTPS://VM.TikTok.COM/ZMabc?Q=Upper", want: "HTTPS://vm.vxtiktok.com/ZMabc?Q=Upper"},
		{name: "query only", in: "http://x.com?s=20", want: "http://fixupx.com?s=20"},
		{name: "fragment only", in: "http://x.com#top", want: "http://fixupx.com#top"},
		{name: "no scheme", in: "tiktok.com/@user", want: "tiktok.com/@user"},
		{name: "no host", in: "https:///path", want: "https:///path"},
		{name: "bad port", in: "https://x.com:port/a", want: "https://x.com:port/a"},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, n.Normalize(tt.in))
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := NewNormalizer(DefaultTable())

	inputs := []string{
		"https://x.com/a",
		"https://twitter.com/a/status/1",
		"https://vm.tiktok.com/x",
		"https://a.b.instagram.com/reel/1?igsh=abc",
		"https://fixupx.com/a",
		"https://dominiox.com/x",
		"https://google.com",
		"not a url",
		"https://user@x.com:444/p",
	}

	for _, in := range inputs {
		once := n.Normalize(in)
		require.Equal(t, once, n.Normalize(once), "input %q", in)
	}
}

func TestNormalizeFirstMatchingMappingWins(t *testing.T) {
	table, err := NewTable([]Mapping{
		{Original: "b.example.com", Replacement: "first.test"},
		{Original: "example.com", Replacement: "second.test"},
	})
	require.NoError(t, err)

	n := NewNormalizer(table)
	require.Equal(t, "https://a.first.test/", n.Normalize("https://a.b.example.com/"))
	require.Equal(t, "https://c.second.test/", n.Normalize("https://c.example.com/"))
}

func TestNormalizeNilAndEmptyTable(t *testing.T) {
	var nilNormalizer *Normalizer
	require.Equal(t, "https://x.com/a", nilNormalizer.Normalize("https://x.com/a"))

	require.Equal(t, "https://x.com/a", NewNormalizer(Table{}).Normalize("https://x.com/a"))
}

func TestScan(t *testing.T) {
	n := NewNormalizer(DefaultTable())

	links := n.Scan("look https://twitter.com/a and http://google.com/b\nagain https://twitter.com/a ok")
	require.Equal(t, []Link{
		{Original: "https://twitter.com/a", Normalized: "https://fixupx.com/a"},
		{Original: "http://google.com/b", Normalized: "http://google.com/b"},
	}, links)
	require.True(t, links[0].Changed())
	require.False(t, links[1].Changed())

	require.Nil(t, n.Scan("no links here, just x.com"))
	require.Nil(t, n.Scan(""))
}
