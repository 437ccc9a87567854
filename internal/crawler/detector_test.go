package crawler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func padTo(body string, size int) []byte {
	return []byte(body + strings.Repeat("x", size-len(body)))
}

func TestBlockDetectorBodyThreshold(t *testing.T) {
	d := NewBlockDetector(0, nil)

	small := padTo("<html>please complete the captcha</html>", 4000)
	reason, blocked := d.Detect(small, 200)
	require.True(t, blocked)
	require.Contains(t, reason, "captcha")

	large := padTo("<html>please complete the captcha</html>", 6000)
	_, blocked = d.Detect(large, 200)
	require.False(t, blocked, "large pages may mention captcha in passing")
}

func TestBlockDetectorForbiddenAlwaysBlocks(t *testing.T) {
	d := NewBlockDetector(0, nil)
	for _, body := range [][]byte{nil, []byte("<html>fine</html>"), padTo("article", 20000)} {
		reason, blocked := d.Detect(body, 403)
		require.True(t, blocked)
		require.Equal(t, "403 Forbidden", reason)
	}
}

func TestBlockDetectorMarkers(t *testing.T) {
	d := NewBlockDetector(0, nil)
	tests := []struct {
		name   string
		body   string
		marker string
	}{
		{name: "case insensitive", body: "<div class='G-RECAPTCHA'></div>", marker: "captcha"},
		{name: "localized restriction", body: "<h1>Доступ ограничен</h1>", marker: "доступ ограничен"},
		{name: "localized robot check", body: "Подтвердите, что вы не робот", marker: "подтвердите, что вы не робот"},
		{name: "security check", body: "Security Check in progress", marker: "security check"},
		{name: "waf", body: "blocked by WAF", marker: "waf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, blocked := d.Detect([]byte(tt.body), 200)
			require.True(t, blocked)
			require.Equal(t, "captcha marker found: '"+tt.marker+"'", reason)
		})
	}

	_, blocked := d.Detect([]byte("<html>ordinary article</html>"), 200)
	require.False(t, blocked)
	_, blocked = d.Detect(nil, 500)
	require.False(t, blocked)
}

func TestBlockDetectorCustomConfig(t *testing.T) {
	d := NewBlockDetector(10, []string{"  Cloudflare ", ""})
	_, blocked := d.Detect([]byte("cloudflare"), 200)
	require.False(t, blocked, "bodies at the limit are not scanned")
	_, blocked = d.Detect([]byte("CLOUDFLAR"), 200)
	require.False(t, blocked)

	d = NewBlockDetector(100, []string{"Cloudflare"})
	reason, blocked := d.Detect([]byte("by CLOUDFLARE"), 200)
	require.True(t, blocked)
	require.Equal(t, "captcha marker found: 'cloudflare'", reason)
}
