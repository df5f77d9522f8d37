package sdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterCandidates(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		allow       string
		want        string
		wantDropped int
	}{
		{
			name:  "no filter",
			text:  testOffer,
			allow: "",
			want:  testOffer,
		},
		{
			name:        "drops non matching candidates",
			text:        "v=0\r\nm=audio 9 RTP/AVPF 111\r\na=candidate:1 1 udp 5 10.0.0.1 4000 typ host\r\na=candidate:2 1 udp 5 172.16.21.51 4000 typ host\r\na=mid:0\r\n",
			allow:       "10.0.0.1",
			want:        "v=0\r\nm=audio 9 RTP/AVPF 111\r\na=candidate:1 1 udp 5 10.0.0.1 4000 typ host\r\na=mid:0\r\n",
			wantDropped: 1,
		},
		{
			name:        "non candidate lines pass even if they do not match",
			text:        testOffer,
			allow:       "192.168.0.1",
			wantDropped: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dropped := FilterCandidates(tt.text, tt.allow)
			assert.Len(t, dropped, tt.wantDropped)
			if tt.want != "" {
				assert.Equal(t, tt.want, got)
			}
			assert.Equal(t, CountCandidates(tt.text)-tt.wantDropped, CountCandidates(got))
			assert.Equal(t, len(Parse(tt.text).Lines())-tt.wantDropped, len(Parse(got).Lines()))
		})
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(testOffer))
	require.NoError(t, Validate(Parse(testOffer).String()))

	assert.Error(t, Validate("hello"))
	assert.Error(t, Validate("v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"))
}
