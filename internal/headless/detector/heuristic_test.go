package detector

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/topicwatch/internal/fetcher"
)

// TestShouldPromote covers each promotion rule and its exclusions.
func TestShouldPromote(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		h    *Heuristic
		resp fetcher.Response
		want bool
	}{
		{"empty body", NewHeuristic(100), fetcher.Response{StatusCode: 200}, true},
		{"next.js shell", NewHeuristic(100), fetcher.Response{StatusCode: 200, Body: []byte(`<div id="__next"></div>`)}, true},
		{"vue app", NewHeuristic(100), fetcher.Response{StatusCode: 200, Body: []byte(`<div data-v-app></div>`)}, true},
		{"script heavy", NewHeuristic(1000), fetcher.Response{StatusCode: 200, Body: []byte(`<html><script>var a=1;</script><p>t</p></html>`)}, true},
		{"plain article list", NewHeuristic(10), fetcher.Response{StatusCode: 200, Body: []byte(`<article><h2>Rates</h2><p>text</p></article>`)}, false},
		{"non-200", NewHeuristic(100), fetcher.Response{StatusCode: 404, Body: []byte("not found")}, false},
		{"already rendered", NewHeuristic(100), fetcher.Response{StatusCode: 200, Rendered: true}, false},
		{"feed", NewHeuristic(100), fetcher.Response{
			StatusCode: 200,
			Headers:    http.Header{"Content-Type": {"application/rss+xml"}},
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, tc.h.ShouldPromote(tc.resp))
		})
	}
}

// TestScriptDensityUnclosedTag treats a dangling script as covering the rest.
func TestScriptDensityUnclosedTag(t *testing.T) {
	t.Parallel()

	require.True(t, scriptDensityHigh([]byte(`<p>x</p><script>for(;;){}`)))
	require.False(t, scriptDensityHigh([]byte(`<p>plenty of readable text here</p>`)))
}
