package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mutesky/api/internal/catalog"
	"mutesky/api/internal/mode"
	"mutesky/api/internal/weight"
)

func category(id string, w int, keywords map[string]int, order ...string) catalog.Category {
	c := catalog.Category{ID: id, Weight: w}
	for _, value := range order {
		c.Keywords = append(c.Keywords, catalog.Keyword{
			Value:          value,
			Weight:         keywords[value],
			Category:       id,
			CategoryWeight: w,
		})
	}
	return c
}

// At budget 100 Politics keeps Election Fraud and Senate, Sports keeps
// nothing and Crime keeps Burglary.
func testCatalog() *catalog.Catalog {
	politics := category("Politics", 10,
		map[string]int{"Election Fraud": 9, "Ballot": 7, "Senate": 8, "Filibuster": 4},
		"Election Fraud", "Ballot", "Senate", "Filibuster")
	sports := category("Sports", 5,
		map[string]int{"Playoffs": 6, "Referee": 2},
		"Playoffs", "Referee")
	crime := category("Crime", 8,
		map[string]int{"Burglary": 8, "Arson": 5},
		"Burglary", "Arson")
	contexts := []catalog.Context{
		{ID: "news", Title: "News", Categories: []string{"Politics", "Sports"}},
		{ID: "safety", Title: "Safety", Categories: []string{"Crime"}},
		{ID: "civics", Title: "Civics", Categories: []string{"Politics", "Crime"}},
	}
	display := catalog.DisplayConfig{
		DisplayNames: map[string]string{"Crime": "Crime & Safety"},
		Combined:     map[string][]string{"Civic": {"Politics", "Crime"}},
	}
	return catalog.New([]catalog.Category{politics, sports, crime}, contexts, display, "")
}

func newEngine(t *testing.T, budget weight.Budget, m mode.Mode) *Engine {
	t.Helper()
	state := NewState()
	state.Mode = m
	engine := NewEngine(testCatalog(), state)
	require.NoError(t, engine.ChangeBudget(budget))
	return engine
}

type observed struct {
	active     []string
	contexts   []string
	exceptions []string
}

func observe(e *Engine) observed {
	return observed{
		active:     e.State().ActiveKeywords.Values(),
		contexts:   e.State().SelectedContexts.Values(),
		exceptions: e.State().SelectedExceptions.Values(),
	}
}

func TestToggleContextTwiceRestoresState(t *testing.T) {
	cases := []struct {
		name  string
		setup func(e *Engine)
	}{
		{name: "empty selection", setup: func(e *Engine) {}},
		{name: "selected with exception", setup: func(e *Engine) {
			e.ToggleContext("news")
			e.ToggleException("Sports")
		}},
		{name: "overlapping context selected", setup: func(e *Engine) {
			e.ToggleContext("civics")
		}},
		{name: "overlapping context with shared exception", setup: func(e *Engine) {
			e.ToggleContext("civics")
			e.ToggleContext("news")
			e.ToggleException("Politics")
		}},
		{name: "remote keywords already active", setup: func(e *Engine) {
			e.InitializeFromRemote([]string{"ballot", "Referee", "mycustomword"})
		}},
	}

	for _, tc := range cases {
		for _, target := range []string{"news", "safety", "civics"} {
			t.Run(tc.name+"/"+target, func(t *testing.T) {
				e := newEngine(t, weight.BudgetComplete, mode.Advanced)
				tc.setup(e)
				before := observe(e)

				require.True(t, e.ToggleContext(target))
				require.True(t, e.ToggleContext(target))

				assert.Equal(t, before, observe(e))
			})
		}
	}
}

func TestSelectContextSkipsExceptedCategories(t *testing.T) {
	e := newEngine(t, weight.BudgetComplete, mode.Advanced)
	require.True(t, e.ToggleException("Sports"))
	require.True(t, e.ToggleContext("news"))

	assert.Equal(t, []string{"Ballot", "Election Fraud", "Filibuster", "Senate"}, e.State().ActiveKeywords.Values())
	assert.True(t, e.State().SelectedExceptions.Has("Sports"))
}

func TestSelectContextUsesBudget(t *testing.T) {
	e := newEngine(t, weight.BudgetMinimal, mode.Simple)
	require.True(t, e.ToggleContext("news"))
	assert.Equal(t, []string{"Election Fraud", "Senate"}, e.State().ActiveKeywords.Values())

	require.NoError(t, e.ChangeBudget(weight.BudgetModerate))
	assert.Equal(t, []string{"Ballot", "Election Fraud", "Senate"}, e.State().ActiveKeywords.Values())
	assert.Equal(t, 1, e.State().FilterLevel)
}

func TestDeselectKeepsKeywordsRequiredByOtherContexts(t *testing.T) {
	e := newEngine(t, weight.BudgetMinimal, mode.Simple)
	e.ToggleContext("news")
	e.ToggleContext("civics")
	e.ToggleContext("news")

	assert.Equal(t, []string{"Burglary", "Election Fraud", "Senate"}, e.State().ActiveKeywords.Values())
}

func TestUnknownIDsAreNoOps(t *testing.T) {
	e := newEngine(t, weight.BudgetMinimal, mode.Advanced)
	before := observe(e)

	assert.False(t, e.ToggleContext("missing"))
	assert.False(t, e.ToggleException("missing"))
	assert.False(t, e.ToggleCategory("missing", StateNone))
	assert.False(t, e.ToggleKeyword("mycustomword", true))
	assert.Equal(t, before, observe(e))
	assert.Error(t, e.ChangeBudget(weight.Budget(250)))
}

func TestManualOverrideSurvivesRederivation(t *testing.T) {
	e := newEngine(t, weight.BudgetMinimal, mode.Simple)
	require.True(t, e.ToggleKeyword("senate", false))

	steps := []func(){
		func() { e.ToggleContext("news") },
		func() { _ = e.ChangeBudget(weight.BudgetModerate) },
		func() { e.ToggleException("Politics") },
		func() { e.ToggleException("Politics") },
		func() { e.ToggleContext("civics") },
		func() { _ = e.ChangeBudget(weight.BudgetComplete) },
		func() { e.ToggleContext("news") },
	}
	for i, step := range steps {
		step()
		assert.False(t, e.State().ActiveKeywords.Has("Senate"), "step %d reactivated a manually unchecked keyword", i)
	}

	require.True(t, e.ToggleKeyword("SENATE", true))
	assert.True(t, e.State().ActiveKeywords.Has("senate"))
	assert.Equal(t, "Senate", e.State().ActiveKeywords["senate"])
	assert.False(t, e.State().ManuallyUnchecked.Has("Senate"))
}

func TestKeywordToggleIgnoresCase(t *testing.T) {
	e := newEngine(t, weight.BudgetComplete, mode.Advanced)
	require.True(t, e.ToggleKeyword("Election Fraud", true))
	require.True(t, e.ToggleKeyword("election fraud", false))

	assert.Empty(t, e.State().ActiveKeywords)
	assert.Equal(t, []string{"Election Fraud"}, e.State().ManuallyUnchecked.Values())
}

func TestToggleExceptionRemovesOriginalMutesOnlyInSimpleMode(t *testing.T) {
	for _, tc := range []struct {
		mode       mode.Mode
		keepBallot bool
	}{
		{mode: mode.Simple, keepBallot: false},
		{mode: mode.Advanced, keepBallot: true},
	} {
		t.Run(string(tc.mode), func(t *testing.T) {
			e := newEngine(t, weight.BudgetComplete, tc.mode)
			e.InitializeFromRemote([]string{"Ballot"})
			e.ToggleContext("news")
			require.True(t, e.ToggleException("Politics"))

			assert.Equal(t, tc.keepBallot, e.State().ActiveKeywords.Has("Ballot"))
			assert.False(t, e.State().ActiveKeywords.Has("Senate"))
			assert.True(t, e.State().ActiveKeywords.Has("Playoffs"))

			require.True(t, e.ToggleException("Politics"))
			assert.True(t, e.State().ActiveKeywords.Has("Senate"))
		})
	}
}

func TestToggleCategory(t *testing.T) {
	e := newEngine(t, weight.BudgetMinimal, mode.Advanced)
	require.Equal(t, StateNone, e.CategoryState("Politics"))

	require.True(t, e.ToggleCategory("Politics", e.CategoryState("Politics")))
	assert.Equal(t, []string{"Election Fraud", "Senate"}, e.State().ActiveKeywords.Values())
	assert.Equal(t, StatePartial, e.CategoryState("Politics"))

	e.ToggleKeyword("Ballot", true)
	e.ToggleKeyword("Filibuster", true)
	require.Equal(t, StateAll, e.CategoryState("Politics"))

	require.True(t, e.ToggleCategory("Politics", StateAll))
	assert.Empty(t, e.State().ActiveKeywords)
	assert.Len(t, e.State().ManuallyUnchecked, 4)

	require.True(t, e.ToggleCategory("Politics", StateNone))
	assert.Equal(t, []string{"Election Fraud", "Senate"}, e.State().ActiveKeywords.Values())
	assert.Equal(t, []string{"Ballot", "Filibuster"}, e.State().ManuallyUnchecked.Values())
}

func TestRederiveSimpleModeSelections(t *testing.T) {
	e := newEngine(t, weight.BudgetMinimal, mode.Advanced)
	e.ToggleKeyword("Election Fraud", true)
	e.ToggleKeyword("Senate", true)

	e.SetMode(mode.Simple)
	assert.Equal(t, []string{"news"}, e.State().SelectedContexts.Values())

	e.ToggleKeyword("Burglary", true)
	e.Rederive()
	assert.Equal(t, []string{"civics", "news", "safety"}, e.State().SelectedContexts.Values())

	e.ToggleKeyword("Senate", false)
	e.Rederive()
	assert.Equal(t, []string{"safety"}, e.State().SelectedContexts.Values())
}

func TestBulkActions(t *testing.T) {
	e := newEngine(t, weight.BudgetMinimal, mode.Simple)
	e.ToggleKeyword("Arson", false)

	e.EnableAll()
	assert.Equal(t, BulkEnabledAll, e.State().PendingBulk)
	assert.Empty(t, e.State().ManuallyUnchecked)
	assert.Len(t, e.State().ActiveKeywords, 8)
	assert.Len(t, e.State().SelectedContexts, 3)

	matches := e.Match("crime")
	assert.Equal(t, []string{"Arson", "Burglary"}, matches, "matches category display name")
	e.DisableMatching(matches)
	assert.False(t, e.State().ActiveKeywords.Has("Arson"))
	assert.Equal(t, []string{"news"}, e.State().SelectedContexts.Values())
	assert.Equal(t, BulkDisabledAll, e.State().ConsumeBulk())
	assert.Equal(t, BulkNone, e.State().PendingBulk)

	e.DisableAll()
	assert.Empty(t, e.State().ActiveKeywords)
	assert.Empty(t, e.State().SelectedContexts)
	assert.Empty(t, e.State().SelectedExceptions)

	e.EnableMatching([]string{"referee", "notakeyword"})
	assert.Equal(t, []string{"Referee"}, e.State().ActiveKeywords.Values())
}

func TestApplySyncedClearsExceptionsAfterBulk(t *testing.T) {
	e := newEngine(t, weight.BudgetMinimal, mode.Simple)
	require.True(t, e.ToggleContext("news"))
	require.True(t, e.ToggleException("Sports"))

	e.ApplySynced([]string{"election fraud", "Senate"})
	assert.Equal(t, []string{"Sports"}, e.State().SelectedExceptions.Values(), "no bulk action pending")
	assert.Equal(t, []string{"Election Fraud", "Senate"}, e.State().ActiveKeywords.Values())

	e.EnableMatching(e.Match("referee"))
	require.Equal(t, BulkEnabledAll, e.State().PendingBulk)

	e.ApplySynced([]string{"Election Fraud", "Senate", "Referee"})
	assert.Empty(t, e.State().SelectedExceptions.Values())
	assert.Equal(t, BulkNone, e.State().PendingBulk)
	assert.True(t, e.State().IsOriginallyMuted("referee"))
}

func TestCountsAndButtonText(t *testing.T) {
	foo := category("Misc", 10, map[string]int{"foo": 9, "bar": 9}, "foo", "bar")
	c := catalog.New([]catalog.Category{foo}, nil, catalog.DisplayConfig{}, "")
	state := NewState()
	state.Mode = mode.Advanced
	e := NewEngine(c, state)

	e.InitializeFromRemote([]string{"foo", "mycustomword"})
	toMute, toUnmute := e.Counts()
	assert.Equal(t, 0, toMute)
	assert.Equal(t, 0, toUnmute)
	assert.Equal(t, "No changes", e.ButtonText())
	assert.True(t, e.CanUnmute("FOO"))
	assert.False(t, e.CanUnmute("mycustomword"))

	e.ToggleKeyword("foo", false)
	toMute, toUnmute = e.Counts()
	assert.Equal(t, 0, toMute)
	assert.Equal(t, 1, toUnmute)
	assert.Equal(t, "Unmute 1 existing", e.ButtonText())

	e.ToggleKeyword("bar", true)
	assert.Equal(t, "Mute 1 new, Unmute 1 existing", e.ButtonText())
}

func TestSyncMessage(t *testing.T) {
	assert.Equal(t, "Successfully muted 3 and unmuted 2 keywords", SyncMessage(3, 2))
	assert.Equal(t, "Successfully muted 1 keyword", SyncMessage(1, 0))
	assert.Equal(t, "Successfully unmuted 4 keywords", SyncMessage(0, 4))
	assert.Equal(t, "No changes", SyncMessage(0, 0))
}

func TestInitializeFromRemoteUsesCatalogCasing(t *testing.T) {
	e := newEngine(t, weight.BudgetMinimal, mode.Advanced)
	e.ToggleKeyword("Senate", false)
	e.InitializeFromRemote([]string{"ELECTION FRAUD", "senate", "MyCustomWord"})

	assert.Equal(t, []string{"Election Fraud"}, e.State().ActiveKeywords.Values())
	assert.True(t, e.State().IsOriginallyMuted("mycustomword"))
	assert.True(t, e.State().IsOriginallyMuted("Senate"))
}

func TestObserveRemoteKeepsSelection(t *testing.T) {
	e := newEngine(t, weight.BudgetMinimal, mode.Advanced)
	e.ToggleKeyword("Burglary", true)
	e.ObserveRemote([]string{"Senate"})

	assert.Equal(t, []string{"Burglary"}, e.State().ActiveKeywords.Values())
	toMute, toUnmute := e.Counts()
	assert.Equal(t, 1, toMute)
	assert.Equal(t, 1, toUnmute)
}
