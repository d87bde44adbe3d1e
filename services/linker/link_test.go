package linker

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func TestCreateImplicitLinks(t *testing.T) {
	testCases := []struct {
		left  []string
		right []string
		// if ImplicitLink.Correlation == 0
		// the test will not assert the correlation to be equal
		expected []ImplicitLink
	}{
		{
			left:  []string{"a", "b", "c"},
			right: []string{"a", "b"},
			expected: []ImplicitLink{
				{Left: "a", Right: "a", Correlation: 1},
				{Left: "b", Right: "b", Correlation: 1},
			},
		},
		{
			left:  []string{"foo", "bar", "baz"},
			right: []string{"foob", "bar", "barr"},
			expected: []ImplicitLink{
				{Left: "bar", Right: "bar", Correlation: 1},
				{Left: "baz", Right: "barr"},
				{Left: "foo", Right: "foob"},
			},
		},
		{
			// full width brackets and spacing do not matter
			left:  []string{"【新客】19.9得50网费", "5小时包时"},
			right: []string{"5 小时包时", "[新客]19.9得50网费"},
			expected: []ImplicitLink{
				{Left: "5小时包时", Right: "5 小时包时", Correlation: 1},
				{Left: "【新客】19.9得50网费", Right: "[新客]19.9得50网费", Correlation: 1},
			},
		},
		{
			left:     []string{"foo", "bar", "baz"},
			right:    []string{},
			expected: nil,
		},
		{
			left:     []string{},
			right:    []string{},
			expected: nil,
		},
		{
			left:  []string{"foo", "bar", "baz"},
			right: []string{"baa"},
			expected: []ImplicitLink{
				{Left: "bar", Right: "baa"},
			},
		},
	}

	for _, test := range testCases {
		links := CreateImplicitLinks(test.left, test.right)
		diff := cmp.Diff(
			test.expected,
			links,
			cmpopts.SortSlices(func(a, b ImplicitLink) bool {
				return a.Left < b.Left
			}),
			cmp.Comparer(func(a, b ImplicitLink) bool {
				if a.Left != b.Left || a.Right != b.Right {
					return false
				}
				return a.Correlation == 0 || b.Correlation == 0 || a.Correlation == b.Correlation
			}),
		)
		if diff != "" {
			t.Fatal(diff)
		}
	}
}

func TestResolve(t *testing.T) {
	candidates := []string{"【开业新会员】9.9得60网费", "【新客】19.9得50网费", "5小时包时"}

	name, similarity, ok := Resolve("5小时包时", candidates, 0.9)
	require.True(t, ok)
	require.Equal(t, "5小时包时", name)
	require.Equal(t, float64(1), similarity)

	name, _, ok = Resolve("[新客] 19.9得50网费", candidates, 0.9)
	require.True(t, ok)
	require.Equal(t, "【新客】19.9得50网费", name)

	name, _, ok = Resolve("【开业新会员】9.9得60", candidates, 0.8)
	require.True(t, ok)
	require.Equal(t, "【开业新会员】9.9得60网费", name)

	_, _, ok = Resolve("通宵包房", candidates, 0.9)
	require.False(t, ok)

	_, _, ok = Resolve("anything", nil, 0)
	require.False(t, ok)
}
