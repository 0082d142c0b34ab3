package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/rendis/stepcheck/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func previewData() map[string]any {
	return map[string]any{
		"payload": map[string]any{
			"name":  "Ada",
			"count": 3,
		},
		"steps": map[string]any{
			"digest": map[string]any{
				"events": []any{
					map[string]any{"payload": map[string]any{"name": "a"}},
					map[string]any{"payload": map[string]any{"name": "b"}},
				},
			},
		},
	}
}

func TestResolver_Field(t *testing.T) {
	r := NewResolver()
	out, err := r.ResolveString(context.Background(), "payload.name", previewData())
	require.NoError(t, err)
	assert.Equal(t, "Ada", out)
}

func TestResolver_NormalizesNumbers(t *testing.T) {
	r := NewResolver()
	out, err := r.ResolveString(context.Background(), "payload.count", previewData())
	require.NoError(t, err)
	assert.Equal(t, 3.0, out)
}

func TestResolver_Missing(t *testing.T) {
	r := NewResolver()
	out, err := r.ResolveString(context.Background(), "payload.nope.deeper", previewData())
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestResolver_Index(t *testing.T) {
	r := NewResolver()
	out, err := r.ResolveString(context.Background(), "steps.digest.events[1].payload.name", previewData())
	require.NoError(t, err)
	assert.Equal(t, "b", out)
}

func TestResolver_KeyOverArray(t *testing.T) {
	r := NewResolver()
	out, err := r.ResolveString(context.Background(), "steps.digest.events.payload.name", previewData())
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestResolver_InvalidPath(t *testing.T) {
	r := NewResolver()
	_, err := r.ResolveString(context.Background(), "a..b", previewData())
	require.Error(t, err)
	var ce *schema.CheckError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, schema.ErrCodeValidation, ce.Code)
}

func TestResolver_Query(t *testing.T) {
	r := NewResolver()
	out, err := r.Query(context.Background(), "[.steps.digest.events[].payload.name] | length", previewData())
	require.NoError(t, err)
	assert.Equal(t, 2, out)
}

func TestResolver_QueryMultipleOutputs(t *testing.T) {
	r := NewResolver()
	out, err := r.Query(context.Background(), ".steps.digest.events[].payload.name", previewData())
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestResolver_QueryErrors(t *testing.T) {
	r := NewResolver()
	_, err := r.Query(context.Background(), "", nil)
	require.Error(t, err)

	_, err = r.Query(context.Background(), ".[", nil)
	require.Error(t, err)

	_, err = r.Query(context.Background(), `error("boom")`, nil)
	require.Error(t, err)
}

func TestResolver_CacheConcurrent(t *testing.T) {
	r := NewResolver()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := r.ResolveString(context.Background(), "payload.name", previewData())
			assert.NoError(t, err)
			assert.Equal(t, "Ada", out)
		}()
	}
	wg.Wait()
	assert.Len(t, r.cache, 1)
}
