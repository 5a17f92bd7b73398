package dbpath

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		giveCollection string
		giveSub        string
		want           string
	}{
		{
			name:           "collection and sub",
			giveCollection: "cool_experiment",
			giveSub:        "my_sample",
			want:           "cool_experiment/my_sample",
		},
		{
			name:           "empty sub defaults to sentinel",
			giveCollection: "cool_experiment",
			giveSub:        "",
			want:           "cool_experiment/None",
		},
		{
			name:           "sub containing slashes",
			giveCollection: "proj",
			giveSub:        "wafer/die/device",
			want:           "proj/wafer/die/device",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tt.want, EncodeIdentity(tt.giveCollection, tt.giveSub))
		})
	}
}

func TestDecodeIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		givePath       string
		wantCollection string
		wantSub        string
		wantErr        error
	}{
		{
			name:           "collection and sub",
			givePath:       "cool_experiment/my_sample",
			wantCollection: "cool_experiment",
			wantSub:        "my_sample",
		},
		{
			name:           "bare collection yields sentinel sub",
			givePath:       "cool_experiment",
			wantCollection: "cool_experiment",
			wantSub:        "None",
		},
		{
			name:           "multi segment sub is rejoined",
			givePath:       "proj/wafer/die/device",
			wantCollection: "proj",
			wantSub:        "wafer/die/device",
		},
		{
			name:     "empty path",
			givePath: "",
			wantErr:  ErrEmptyPath,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			collection, sub, err := DecodeIdentity(tt.givePath)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantCollection, collection)
			require.Equal(t, tt.wantSub, sub)
		})
	}
}

func TestDecodeLocator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		givePath       string
		wantCollection string
		wantSub        string
		wantCounter    int
		wantErr        error
	}{
		{
			name:           "full locator",
			givePath:       "cool_experiment/my_sample/3",
			wantCollection: "cool_experiment",
			wantSub:        "my_sample",
			wantCounter:    3,
		},
		{
			name:           "multi segment sub",
			givePath:       "proj/wafer/die/device/0",
			wantCollection: "proj",
			wantSub:        "wafer/die/device",
			wantCounter:    0,
		},
		{
			name:           "missing sub yields sentinel",
			givePath:       "cool_experiment/7",
			wantCollection: "cool_experiment",
			wantSub:        "None",
			wantCounter:    7,
		},
		{
			name:     "non numeric counter",
			givePath: "cool_experiment/my_sample/latest",
			wantErr:  ErrBadCounter,
		},
		{
			name:     "negative counter",
			givePath: "cool_experiment/my_sample/-1",
			wantErr:  ErrBadCounter,
		},
		{
			name:     "empty path",
			givePath: "",
			wantErr:  ErrEmptyPath,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			collection, sub, counter, err := DecodeLocator(tt.givePath)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantCollection, collection)
			require.Equal(t, tt.wantSub, sub)
			require.Equal(t, tt.wantCounter, counter)
		})
	}
}

func TestRoundTrips(t *testing.T) {
	t.Parallel()

	t.Run("identity round trip", func(t *testing.T) {
		t.Parallel()

		path := EncodeIdentity("expA", "sampleA")
		collection, sub, err := DecodeIdentity(path)
		require.NoError(t, err)
		require.Equal(t, "expA", collection)
		require.Equal(t, "sampleA", sub)
	})

	t.Run("locator round trip", func(t *testing.T) {
		t.Parallel()

		path := EncodeLocator("expA", "wafer/die", 12)
		collection, sub, counter, err := DecodeLocator(path)
		require.NoError(t, err)
		require.Equal(t, "expA", collection)
		require.Equal(t, "wafer/die", sub)
		require.Equal(t, 12, counter)
	})
}
