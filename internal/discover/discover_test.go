package discover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeEvaluator serves canned JSON per selector expression, the way a live
// page would answer elementQueryJS.
type fakeEvaluator struct {
	bySelector map[string]string
	errs       map[string]error
}

func (f *fakeEvaluator) Evaluate(_ context.Context, expr string, out any) error {
	for sel, err := range f.errs {
		if expr == elementQueryJS(sel) {
			return err
		}
	}
	for sel, body := range f.bySelector {
		if expr == elementQueryJS(sel) {
			return json.Unmarshal([]byte(body), out)
		}
	}
	return json.Unmarshal([]byte("[]"), out)
}

func TestDiscoverDeduplicatesAcrossSelectors(t *testing.T) {
	// The same card matches both the specific and the generic selector.
	card := `{"tag":"DIV","id":"c1","class":"pokemon-card","x":10,"y":20,"w":240,"h":330}`
	ev := &fakeEvaluator{bySelector: map[string]string{
		".pokemon-card":   "[" + card + "]",
		`[class*="card"]`: "[" + card + `,{"tag":"DIV","id":"c2","class":"card-item","x":300,"y":20,"w":240,"h":330}]`,
	}}

	d := New([]string{".pokemon-card", `[class*="card"]`}, 10)
	els, err := d.Discover(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, els, 2)
	require.Equal(t, "c1", els[0].ID)
	require.Equal(t, "c2", els[1].ID)
	require.Equal(t, []int{0, 1}, []int{els[0].Index, els[1].Index})
}

func TestDiscoverSkipsZeroSizedNodes(t *testing.T) {
	ev := &fakeEvaluator{bySelector: map[string]string{
		"img": `[
			{"tag":"IMG","id":"hidden","class":"card","x":0,"y":0,"w":0,"h":0},
			{"tag":"IMG","id":"shown","class":"card","x":10,"y":10,"w":100,"h":140}
		]`,
	}}

	els, err := New([]string{"img"}, 10).Discover(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, els, 1)
	require.Equal(t, "shown", els[0].ID)
}

func TestDiscoverHonorsLimit(t *testing.T) {
	var rows []string
	for i := 0; i < 8; i++ {
		rows = append(rows, fmt.Sprintf(`{"tag":"DIV","class":"card","x":%d,"y":0,"w":100,"h":140}`, i*300))
	}

	ev := &fakeEvaluator{bySelector: map[string]string{".card": "[" + strings.Join(rows, ",") + "]"}}
	els, err := New([]string{".card"}, 3).Discover(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, els, 3)
}

func TestDiscoverSkipsThrowingSelector(t *testing.T) {
	ev := &fakeEvaluator{
		errs: map[string]error{":::bad": errors.New("SyntaxError: invalid selector")},
		bySelector: map[string]string{
			".card": `[{"tag":"DIV","id":"ok","class":"card","x":0,"y":0,"w":100,"h":140}]`,
		},
	}

	// The broken selector is skipped; the cascade continues.
	els, err := New([]string{":::bad", ".card"}, 10).Discover(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, els, 1)
	require.Equal(t, "ok", els[0].ID)
}

func TestDiscoverZeroMatchesIsNotAnError(t *testing.T) {
	els, err := New([]string{".card", "img"}, 10).Discover(context.Background(), &fakeEvaluator{})
	require.NoError(t, err)
	require.Empty(t, els)
}

func TestDiscoverNormalizesDescriptor(t *testing.T) {
	ev := &fakeEvaluator{bySelector: map[string]string{
		".card": `[{"tag":"IMG","id":"a","class":"card shiny","text":"Charizard","x":1,"y":2,"w":3,"h":4}]`,
	}}

	els, err := New([]string{".card"}, 10).Discover(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, "img", els[0].Tag)
	require.Equal(t, ".card", els[0].Selector)
	require.Equal(t, 3.0, els[0].Box.W)
}

func TestDiscoverStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New([]string{".card"}, 10).Discover(ctx, &fakeEvaluator{})
	require.ErrorIs(t, err, context.Canceled)
}
