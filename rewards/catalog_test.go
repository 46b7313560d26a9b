package rewards

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"participation-points/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDefault(t *testing.T) *Catalog {
	t.Helper()
	c, err := Default()
	require.NoError(t, err)
	return c
}

func TestDefaultCatalog(t *testing.T) {
	c := mustDefault(t)

	assert.NotEmpty(t, c.Version())
	a, ok := c.Action("chat_participation")
	require.True(t, ok)
	assert.Equal(t, ActionFixed, a.Kind)
	assert.Equal(t, int64(10), a.Points)

	badges := c.Badges()
	require.NotEmpty(t, badges)
	for i := 1; i < len(badges); i++ {
		assert.LessOrEqual(t, badges[i-1].Threshold, badges[i].Threshold)
	}
	assert.Equal(t, "bronze-recruit", badges[0].ID)

	for _, tier := range c.NFTTiers() {
		assert.Contains(t, tier.ID, "nft-")
	}
}

func TestResolve(t *testing.T) {
	c := mustDefault(t)

	tests := []struct {
		name      string
		tag       string
		requested int64
		want      int64
		wantErr   error
	}{
		{"fixed uses configured value", "chat_participation", 10, 10, nil},
		{"fixed ignores caller value", "practice_test", 999, 15, nil},
		{"tag is normalized", "  Chat_Participation ", 10, 10, nil},
		{"variable within range", "tiktok_challenge", 120, 120, nil},
		{"variable zero allowed", "trivia_completion", 0, 0, nil},
		{"variable above max", "trivia_completion", 101, 0, ErrPointsOutOfRange},
		{"negative rejected", "chat_participation", -1, 0, ErrPointsOutOfRange},
		{"unknown action", "mystery", 5, 0, ErrUnknownAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := c.Resolve(tt.tag, tt.requested)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCrossed(t *testing.T) {
	c := mustDefault(t)

	t.Run("single badge across 1000", func(t *testing.T) {
		got := c.Crossed(models.UserTypeRecruit, 990, 1005)
		require.Len(t, got, 1)
		assert.Equal(t, "bronze-recruit", got[0].ID)
		assert.Equal(t, models.AwardKindBadge, got[0].Kind)
	})

	t.Run("threshold is inclusive on the upper bound only", func(t *testing.T) {
		assert.Len(t, c.Crossed(models.UserTypeRecruit, 990, 1000), 1)
		assert.Empty(t, c.Crossed(models.UserTypeRecruit, 1000, 1010))
	})

	t.Run("large jump awards ascending", func(t *testing.T) {
		got := c.Crossed(models.UserTypeRecruit, 0, 3000)
		ids := make([]string, 0, len(got))
		for i, m := range got {
			ids = append(ids, m.ID)
			if i > 0 {
				assert.LessOrEqual(t, got[i-1].Threshold.Threshold, m.Threshold.Threshold)
			}
		}
		assert.Equal(t, []string{"bronze-recruit", "nft-bronze", "silver-recruit", "nft-silver"}, ids)
	})

	t.Run("audience filter", func(t *testing.T) {
		got := c.Crossed(models.UserTypeVolunteer, 990, 1005)
		require.Len(t, got, 1)
		assert.Equal(t, "bronze-volunteer", got[0].ID)
		assert.Empty(t, c.Crossed(models.UserTypeAdmin, 990, 1005))
	})

	t.Run("no change no milestones", func(t *testing.T) {
		assert.Nil(t, c.Crossed(models.UserTypeRecruit, 1005, 1005))
	})
}

func TestParseRejectsBadCatalogs(t *testing.T) {
	cases := map[string]string{
		"duplicate action": `
actions:
  - {tag: a, kind: fixed, points: 1}
  - {tag: A, kind: fixed, points: 2}
`,
		"variable without max": `
actions:
  - {tag: a, kind: variable}
`,
		"unknown kind": `
actions:
  - {tag: a, kind: bonus, points: 1}
`,
		"zero threshold": `
badges:
  - {name: Zero, threshold: 0}
`,
		"unknown audience": `
badges:
  - {name: Odd, threshold: 10, audience: [martian]}
`,
		"duplicate badge id": `
badges:
  - {name: Same, threshold: 10}
  - {name: same, threshold: 20}
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	c, origin, err := Load(ctx, Source{})
	require.NoError(t, err)
	assert.Equal(t, "embedded", origin)
	assert.NotNil(t, c)

	path := filepath.Join(t.TempDir(), "rewards.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: file\nactions:\n  - {tag: x, kind: fixed, points: 3}\n"), 0o600))
	c, origin, err = Load(ctx, Source{File: path})
	require.NoError(t, err)
	assert.Equal(t, path, origin)
	assert.Equal(t, "file", c.Version())

	remote := func(context.Context) ([]byte, error) { return []byte("version: r2\n"), nil }
	c, origin, err = Load(ctx, Source{File: path, Remote: remote})
	require.NoError(t, err)
	assert.Equal(t, "remote", origin)
	assert.Equal(t, "r2", c.Version())

	failing := func(context.Context) ([]byte, error) { return nil, errors.New("boom") }
	_, _, err = Load(ctx, Source{Remote: failing})
	assert.Error(t, err)
}
