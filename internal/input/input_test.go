package input

import (
	"strings"
	"testing"

	"adlaunch/internal/model"

	"github.com/stretchr/testify/require"
)

const sampleTable = `Campaign Set,Desktop,iOS,Android,All Mobile,Keywords,Geo,Target CPA,Max Bid,Frequency Cap,Gender,Enabled
Milfs,yes,yes,yes,,milfs; [mature women],US;UK,45,8.50,3,female,yes
Teens,x,,,,teens,us,,,,,
Paused,yes,,,,old stuff,US,,,,,no
`

func TestParseSets(t *testing.T) {
	sets, err := ParseSets(strings.NewReader(sampleTable))
	require.NoError(t, err)
	require.Len(t, sets, 3)

	milfs := sets[0]
	require.Equal(t, "Milfs", milfs.Name)
	require.True(t, milfs.Enabled)
	require.Equal(t, []model.Variant{model.VariantDesktop, model.VariantIOS, model.VariantAndroid}, milfs.Variants)
	require.Equal(t, []model.Keyword{
		{Name: "milfs", MatchType: model.MatchBroad},
		{Name: "mature women", MatchType: model.MatchExact},
	}, milfs.Keywords)
	require.Equal(t, []string{"US", "UK"}, milfs.Geo)
	require.Equal(t, 45.0, milfs.Settings.TargetCPA)
	require.Equal(t, 8.5, milfs.Settings.MaxBid)
	require.Equal(t, 3, milfs.Settings.FrequencyCap)
	require.Equal(t, "female", milfs.Settings.Gender)

	// Blank cells fall back to platform defaults.
	teens := sets[1]
	require.Equal(t, []model.Variant{model.VariantDesktop}, teens.Variants)
	require.Equal(t, model.DefaultSettings(), teens.Settings)
	require.True(t, teens.Enabled)

	require.False(t, sets[2].Enabled)
}

func TestParseSetsRejectsBadNumbers(t *testing.T) {
	table := "Campaign Set,Desktop,Target CPA\nMilfs,yes,cheap\n"
	_, err := ParseSets(strings.NewReader(table))
	require.Error(t, err)
	require.Contains(t, err.Error(), "row 2")
	require.Contains(t, err.Error(), "target cpa")
}

func TestParseSetsMissingNameColumn(t *testing.T) {
	_, err := ParseSets(strings.NewReader("Desktop,iOS\nyes,yes\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "campaign set")
}

func TestParseCreatives(t *testing.T) {
	csv := "ID,Title,URL\n1013077001,Blue banner,https://cdn.example/1.jpg\n1013077002,,\n"
	creatives, err := ParseCreatives(strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, []model.Creative{
		{ID: "1013077001", Title: "Blue banner", URL: "https://cdn.example/1.jpg"},
		{ID: "1013077002"},
	}, creatives)
}

func TestParseCreativesRejectsEmptyID(t *testing.T) {
	_, err := ParseCreatives(strings.NewReader("id,title\n1,a\n,b\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty creative id")
}
