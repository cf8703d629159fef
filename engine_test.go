package abpfilter_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/AdguardTeam/abpfilter"
	"github.com/AdguardTeam/abpfilter/filterlist"
	"github.com/AdguardTeam/abpfilter/filters"
	"github.com/AdguardTeam/abpfilter/internal/vclock"
	"github.com/AdguardTeam/abpfilter/subscription"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStart is the time of the virtual clock in tests.
var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// newTestEngine returns an engine over a new storage with statistics enabled.
func newTestEngine(tb testing.TB) (e *abpfilter.Engine, s *filterlist.Storage) {
	tb.Helper()

	s = filterlist.New(&filterlist.Config{
		Logger:    slogutil.NewDiscardLogger(),
		Clock:     vclock.New(testStart),
		SaveStats: true,
	})

	e, err := abpfilter.NewEngine(&abpfilter.EngineConfig{
		Logger:  slogutil.NewDiscardLogger(),
		Storage: s,
	})
	require.NoError(tb, err)
	tb.Cleanup(e.Close)

	return e, s
}

// addList adds a subscription with the filters parsed from texts to s.
func addList(tb testing.TB, s *filterlist.Storage, u string, texts ...string) (sub *subscription.Subscription) {
	tb.Helper()

	sub = subscription.New(u)
	fs := make([]*filters.Filter, 0, len(texts))
	for _, text := range texts {
		fs = append(fs, s.Registry().FromText(text))
	}

	sub.SetFilters(fs)
	require.True(tb, s.AddSubscription(sub, false))

	return sub
}

// filterText returns the text of f or an empty string if f is nil.
func filterText(f *filters.Filter) (text string) {
	if f == nil {
		return ""
	}

	return f.Text()
}

func TestEngine_MatchRequest(t *testing.T) {
	t.Parallel()

	e, s := newTestEngine(t)
	addList(
		t,
		s,
		"http://list.example/",
		"||ads.example^",
		"@@||ads.example/allowed/",
		"@@||whitelisted.example^$document",
		"@@||genericblock.example^$genericblock",
		"||tracker.example^$domain=genericblock.example",
		"||cdn.example^$third-party",
		"/banner/*$image",
		"@@||signed.example^$document,sitekey=ABCDEF",
	)

	testCases := []struct {
		name             string
		url              string
		source           string
		sitekey          string
		wantFilter       string
		contentType      filters.ContentType
		wantBlocked      bool
		wantWhitelisted  bool
		wantSpecificOnly bool
	}{{
		name:        "no_match",
		url:         "http://example.org/",
		source:      "http://site.example/",
		contentType: filters.TypeScript,
		wantFilter:  "",
		wantBlocked: false,
	}, {
		name:        "blocked",
		url:         "http://ads.example/script.js",
		source:      "http://site.example/",
		contentType: filters.TypeScript,
		wantFilter:  "||ads.example^",
		wantBlocked: true,
	}, {
		name:        "blocked_no_source",
		url:         "http://ads.example/script.js",
		source:      "",
		contentType: filters.TypeScript,
		wantFilter:  "||ads.example^",
		wantBlocked: true,
	}, {
		name:        "exception",
		url:         "http://ads.example/allowed/script.js",
		source:      "http://site.example/",
		contentType: filters.TypeScript,
		wantFilter:  "@@||ads.example/allowed/",
		wantBlocked: false,
	}, {
		name:        "document_navigation",
		url:         "http://ads.example/",
		source:      "",
		contentType: filters.TypeDocument,
		wantFilter:  "",
		wantBlocked: false,
	}, {
		name:            "whitelisted_document",
		url:             "http://ads.example/script.js",
		source:          "http://whitelisted.example/page.html",
		contentType:     filters.TypeScript,
		wantFilter:      "@@||whitelisted.example^$document",
		wantBlocked:     false,
		wantWhitelisted: true,
	}, {
		name:             "genericblock_generic",
		url:              "http://ads.example/script.js",
		source:           "http://genericblock.example/",
		contentType:      filters.TypeScript,
		wantFilter:       "",
		wantBlocked:      false,
		wantSpecificOnly: true,
	}, {
		name:             "genericblock_specific",
		url:              "http://tracker.example/pixel.gif",
		source:           "http://genericblock.example/",
		contentType:      filters.TypeImage,
		wantFilter:       "||tracker.example^$domain=genericblock.example",
		wantBlocked:      true,
		wantSpecificOnly: true,
	}, {
		name:        "first_party",
		url:         "http://static.cdn.example/lib.js",
		source:      "http://www.cdn.example/",
		contentType: filters.TypeScript,
		wantFilter:  "",
		wantBlocked: false,
	}, {
		name:        "third_party",
		url:         "http://static.cdn.example/lib.js",
		source:      "http://site.example/",
		contentType: filters.TypeScript,
		wantFilter:  "||cdn.example^$third-party",
		wantBlocked: true,
	}, {
		name:        "type_mismatch",
		url:         "http://site.example/banner/top.js",
		source:      "http://site.example/",
		contentType: filters.TypeScript,
		wantFilter:  "",
		wantBlocked: false,
	}, {
		name:        "type_match",
		url:         "http://site.example/banner/top.png",
		source:      "http://site.example/",
		contentType: filters.TypeImage,
		wantFilter:  "/banner/*$image",
		wantBlocked: true,
	}, {
		name:        "sitekey_missing",
		url:         "http://ads.example/script.js",
		source:      "http://signed.example/",
		contentType: filters.TypeScript,
		wantFilter:  "||ads.example^",
		wantBlocked: true,
	}, {
		name:            "sitekey",
		url:             "http://ads.example/script.js",
		source:          "http://signed.example/",
		sitekey:         "abcdef",
		contentType:     filters.TypeScript,
		wantFilter:      "@@||signed.example^$document,sitekey=ABCDEF",
		wantBlocked:     false,
		wantWhitelisted: true,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := abpfilter.NewRequest(tc.url, tc.source, tc.contentType)
			req.Sitekey = tc.sitekey

			res := e.MatchRequest(req)
			require.NotNil(t, res)

			assert.Equal(t, tc.wantFilter, filterText(res.Filter))
			assert.Equal(t, tc.wantBlocked, res.Blocked())
			assert.Equal(t, tc.wantWhitelisted, res.DocumentWhitelisted)
			assert.Equal(t, tc.wantSpecificOnly, res.SpecificOnly)
		})
	}
}

func TestEngine_MatchRequest_hitCount(t *testing.T) {
	t.Parallel()

	e, s := newTestEngine(t)
	addList(t, s, "http://list.example/", "||ads.example^")

	f := s.Registry().FromText("||ads.example^")
	require.Zero(t, f.HitCount())

	for range 3 {
		res := e.MatchRequest(abpfilter.NewRequest("http://ads.example/", "http://site.example/", filters.TypeImage))
		require.True(t, res.Blocked())
	}

	assert.Equal(t, uint(3), f.HitCount())
	assert.Equal(t, testStart.UnixMilli(), f.LastHit().UnixMilli())
}

func TestEngine_listener(t *testing.T) {
	t.Parallel()

	const (
		blockText = "||ads.example^"
		hideText  = "##.ad"
	)

	e, s := newTestEngine(t)
	reg := s.Registry()
	block := reg.FromText(blockText)
	hide := reg.FromText(hideText)

	list1 := subscription.New("http://list1.example/")
	list1.SetFilters([]*filters.Filter{block, hide})
	list2 := subscription.New("http://list2.example/")
	list2.SetFilters([]*filters.Filter{block})

	blocked := func() (ok bool) {
		req := abpfilter.NewRequest("http://ads.example/x.js", "http://site.example/", filters.TypeScript)

		return e.MatchRequest(req).Blocked()
	}

	hidden := func() (ok bool) {
		return len(e.ElementHiding("http://site.example/", "").Selectors) > 0
	}

	testCases := []struct {
		do          func()
		name        string
		wantBlocked bool
		wantHidden  bool
	}{{
		do:          func() {},
		name:        "empty",
		wantBlocked: false,
		wantHidden:  false,
	}, {
		do:          func() { s.AddSubscription(list1, false) },
		name:        "add_list1",
		wantBlocked: true,
		wantHidden:  true,
	}, {
		do:          func() { s.SetSubscriptionDisabled(list1, true) },
		name:        "disable_list1",
		wantBlocked: false,
		wantHidden:  false,
	}, {
		do:          func() { s.AddSubscription(list2, false) },
		name:        "add_list2",
		wantBlocked: true,
		wantHidden:  false,
	}, {
		do:          func() { s.SetSubscriptionDisabled(list1, false) },
		name:        "enable_list1",
		wantBlocked: true,
		wantHidden:  true,
	}, {
		do:          func() { s.SetFilterDisabled(block, true) },
		name:        "disable_filter",
		wantBlocked: false,
		wantHidden:  true,
	}, {
		do:          func() { s.SetFilterDisabled(block, false) },
		name:        "enable_filter",
		wantBlocked: true,
		wantHidden:  true,
	}, {
		do:          func() { s.RemoveSubscription(list1, false) },
		name:        "remove_list1",
		wantBlocked: true,
		wantHidden:  false,
	}, {
		do:          func() { s.UpdateSubscriptionFilters(list2, []*filters.Filter{hide}) },
		name:        "update_list2",
		wantBlocked: false,
		wantHidden:  true,
	}, {
		do:          func() { s.AddFilter(block, nil, -1, false) },
		name:        "add_user_filter",
		wantBlocked: true,
		wantHidden:  true,
	}, {
		do:          func() { s.RemoveFilter(block, nil, -1) },
		name:        "remove_user_filter",
		wantBlocked: false,
		wantHidden:  true,
	}, {
		do:          func() { s.RemoveSubscription(list2, false) },
		name:        "remove_list2",
		wantBlocked: false,
		wantHidden:  false,
	}}

	for _, tc := range testCases {
		tc.do()

		assert.Equalf(t, tc.wantBlocked, blocked(), "blocked after %s", tc.name)
		assert.Equalf(t, tc.wantHidden, hidden(), "hidden after %s", tc.name)
	}
}

func TestEngine_listener_load(t *testing.T) {
	t.Parallel()

	src, srcStorage := newTestEngine(t)
	addList(t, srcStorage, "http://list.example/", "||ads.example^", "##.ad", "@@||ok.example^")
	disabled := addList(t, srcStorage, "http://disabled.example/", "||disabled.example^")
	srcStorage.SetSubscriptionDisabled(disabled, true)

	require.Equal(t, 2, src.RequestFilterCount())

	buf := &bytes.Buffer{}
	require.NoError(t, srcStorage.Save(buf))

	e, s := newTestEngine(t)
	addList(t, s, "http://old.example/", "||old.example^")
	require.Equal(t, 1, e.RequestFilterCount())

	require.NoError(t, s.Load(buf))

	assert.Equal(t, 2, e.RequestFilterCount())
	assert.Equal(t, 1, e.ElemHideFilterCount())

	req := abpfilter.NewRequest("http://old.example/", "", filters.TypeScript)
	assert.False(t, e.MatchRequest(req).Blocked())

	req = abpfilter.NewRequest("http://disabled.example/", "", filters.TypeScript)
	assert.False(t, e.MatchRequest(req).Blocked())

	req = abpfilter.NewRequest("http://ads.example/", "", filters.TypeScript)
	assert.True(t, e.MatchRequest(req).Blocked())
}

func TestEngine_Close(t *testing.T) {
	t.Parallel()

	e, s := newTestEngine(t)
	e.Close()

	addList(t, s, "http://list.example/", "||ads.example^")
	assert.Zero(t, e.RequestFilterCount())
}

func TestEngine_ElementHiding(t *testing.T) {
	t.Parallel()

	e, s := newTestEngine(t)
	addList(
		t,
		s,
		"http://list.example/",
		"##.ad",
		"site.example##.banner",
		"site.example#@#.ad",
		"site.example##[-abp-properties='width: 100px']",
		"@@||nohide.example^$elemhide",
		"@@||whitelisted.example^$document",
		"@@||specific.example^$generichide",
		"specific.example##.specific",
	)

	testCases := []struct {
		name             string
		url              string
		wantException    string
		wantSelectors    []string
		wantCSSRules     int
		wantSpecificOnly bool
	}{{
		name:          "generic",
		url:           "http://other.example/",
		wantSelectors: []string{".ad"},
	}, {
		name:          "specific",
		url:           "https://www.site.example/page",
		wantSelectors: []string{".banner"},
		wantCSSRules:  1,
	}, {
		name:          "elemhide_exception",
		url:           "http://nohide.example/",
		wantException: "@@||nohide.example^$elemhide",
	}, {
		name:          "document_exception",
		url:           "http://whitelisted.example/",
		wantException: "@@||whitelisted.example^$document",
	}, {
		name:             "generichide",
		url:              "http://specific.example/",
		wantSelectors:    []string{".specific"},
		wantSpecificOnly: true,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := e.ElementHiding(tc.url, "")
			require.NotNil(t, c)

			assert.Equal(t, tc.wantException, filterText(c.Exception))
			assert.Equal(t, tc.wantSelectors, c.Selectors)
			assert.Len(t, c.CSSRules, tc.wantCSSRules)
			assert.Equal(t, tc.wantSpecificOnly, c.SpecificOnly)
		})
	}
}

func TestCosmetic_StyleSheet(t *testing.T) {
	t.Parallel()

	c := &abpfilter.Cosmetic{}
	assert.Empty(t, c.StyleSheet())

	c.Selectors = []string{".ad", "#banner > div"}
	assert.Equal(t, ".ad, #banner > div {display: none !important;}\n", c.StyleSheet())
}

func TestNewEngine_panics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		_, _ = abpfilter.NewEngine(&abpfilter.EngineConfig{})
	})
}
