package lights

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMirekKelvinRoundTrip(t *testing.T) {
	for _, kelvin := range []int{2700, 4000, 6500} {
		t.Run(fmt.Sprintf("%dK", kelvin), func(t *testing.T) {
			mirek := kelvinToMirek(kelvin)
			back := mirekToKelvin(mirek)

			// One cycle through the reciprocal scale loses at most the
			// rounding error of the mirek step (~0.4% at 6500K).
			assert.InDelta(t, kelvin, back, float64(kelvin)*0.005)

			// After one cycle the pair is a fixed point: converting the
			// recovered Kelvin again yields the same mirek and Kelvin.
			assert.Equal(t, mirek, kelvinToMirek(back))
			assert.Equal(t, back, mirekToKelvin(kelvinToMirek(back)))
		})
	}
}

func TestKelvinToMirekClamps(t *testing.T) {
	assert.Equal(t, kelvinToMirek(2000), kelvinToMirek(1000), "below range clamps to 2000K")
	assert.Equal(t, kelvinToMirek(6535), kelvinToMirek(9000), "above range clamps to 6535K")
}

func TestMirekToKelvinZeroFallsBack(t *testing.T) {
	assert.Equal(t, DefaultKelvin, mirekToKelvin(0))
	assert.Equal(t, DefaultKelvin, mirekToKelvin(-5))
}

func TestHSBToXY(t *testing.T) {
	// White lands on the matrix's white point.
	xy := hsbToXY(0, 0, 1)
	assert.InDelta(t, 0.3227, xy[0], 0.002)
	assert.InDelta(t, 0.3290, xy[1], 0.002)

	// Saturated red pushes x toward the red primary.
	xy = hsbToXY(0, 1, 1)
	assert.Greater(t, xy[0], 0.6)

	// Black has no chromaticity; fall back to D65.
	xy = hsbToXY(0, 0, 0)
	assert.InDelta(t, 0.3127, xy[0], 1e-9)
	assert.InDelta(t, 0.3290, xy[1], 1e-9)
}

func TestParsePairResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		token   string
		wantErr error
	}{
		{
			name:  "success",
			body:  `[{"success":{"username":"secret-token"}}]`,
			token: "secret-token",
		},
		{
			name:    "link button not pressed",
			body:    `[{"error":{"type":101,"description":"link button not pressed"}}]`,
			wantErr: ErrLinkButtonNotPressed,
		},
		{
			name:    "other bridge error",
			body:    `[{"error":{"type":7,"description":"invalid value"}}]`,
			wantErr: ErrInvalidPairResponse,
		},
		{
			name:    "empty payload",
			body:    `[]`,
			wantErr: ErrInvalidPairResponse,
		},
		{
			name:    "malformed json",
			body:    `{nope`,
			wantErr: ErrInvalidPairResponse,
		},
		{
			name:    "success without username",
			body:    `[{"success":{}}]`,
			wantErr: ErrInvalidPairResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := parsePairResponse([]byte(tt.body))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.token, token)
		})
	}
}
